// internal/publisher/publisher.go

// Package publisher decouples request handlers from the event transport.
// Handlers enqueue into an in-process outbox and return immediately; a
// background dispatcher delivers to the broker with bounded retries. The
// dispatcher is not tied to any request context, so client cancellation never
// produces a committed mutation without its event.
package publisher

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"taskhub/internal/metrics"
	"taskhub/internal/model"
)

// Transport is the durable enqueue operation of the event bus.
type Transport interface {
	Publish(body []byte) error
}

type Publisher struct {
	transport   Transport
	logger      *zap.Logger
	maxAttempts uint64
	maxInterval time.Duration

	// mu serializes intake against Close: a send on outbox can never
	// interleave with the channel close.
	mu        sync.RWMutex
	closed    bool
	outbox    chan *model.DomainEvent
	done      chan struct{}
	closeOnce sync.Once
}

func New(transport Transport, logger *zap.Logger, buffer int, maxAttempts uint64, maxInterval time.Duration) *Publisher {
	p := &Publisher{
		transport:   transport,
		logger:      logger,
		maxAttempts: maxAttempts,
		maxInterval: maxInterval,
		outbox:      make(chan *model.DomainEvent, buffer),
		done:        make(chan struct{}),
	}
	go p.dispatch()
	return p
}

// Publish hands the event to the outbox and returns. It never blocks the
// caller: a full outbox counts the event as lost instead of stalling the
// response for an already-committed mutation.
func (p *Publisher) Publish(event *model.DomainEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.reportLost(event, "publisher closed")
		return
	}
	select {
	case p.outbox <- event:
		metrics.OutboxDepth.Inc()
	default:
		p.reportLost(event, "outbox full")
	}
}

// Close stops intake and drains the outbox before returning.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.outbox)
		p.mu.Unlock()
		<-p.done
	})
}

func (p *Publisher) dispatch() {
	defer close(p.done)
	for event := range p.outbox {
		metrics.OutboxDepth.Dec()
		p.deliver(event)
	}
}

func (p *Publisher) deliver(event *model.DomainEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		p.reportLost(event, "encode failed")
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = p.maxInterval
	err = backoff.Retry(func() error {
		return p.transport.Publish(body)
	}, backoff.WithMaxRetries(bo, p.maxAttempts))
	if err != nil {
		p.logger.Error("publish retries exhausted",
			zap.String("event_id", event.EventID),
			zap.String("event_type", string(event.EventType)),
			zap.Error(err),
		)
		metrics.EventsLost.WithLabelValues(string(event.EventType)).Inc()
		return
	}

	metrics.EventsPublished.WithLabelValues(string(event.EventType)).Inc()
	p.logger.Debug("event published",
		zap.String("event_id", event.EventID),
		zap.String("event_type", string(event.EventType)),
	)
}

func (p *Publisher) reportLost(event *model.DomainEvent, cause string) {
	metrics.EventsLost.WithLabelValues(string(event.EventType)).Inc()
	p.logger.Error("event lost, manual reconciliation required",
		zap.String("event_id", event.EventID),
		zap.String("event_type", string(event.EventType)),
		zap.String("tenant_id", event.TenantID),
		zap.String("cause", cause),
	)
}
