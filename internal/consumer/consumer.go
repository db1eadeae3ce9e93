// internal/consumer/consumer.go
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"taskhub/internal/messaging"
	"taskhub/internal/metrics"
	"taskhub/internal/model"
	"taskhub/internal/storage"
)

// Handler processes one domain event for a downstream concern. Handlers must
// tolerate at-least-once delivery; the consumer's event_id marker keeps their
// side effects from repeating.
type Handler interface {
	Name() string
	Handle(ctx context.Context, event *model.DomainEvent) error
}

// Consumer holds control channels and metadata for one running fan-out
// consumer. Each consumer owns its queue; workers share the delivery stream.
type Consumer struct {
	handler     Handler
	store       storage.Store
	channel     *amqp.Channel
	logger      *zap.Logger
	consumerTag string
	stopCh      chan struct{}
	doneCh      chan struct{}
	workers     int
}

// Start opens a dedicated channel and spawns the worker goroutines consuming
// the handler's queue.
func Start(conn *amqp.Connection, handler Handler, store storage.Store, workers int, logger *zap.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("consumer %s: failed to open channel: %w", handler.Name(), err)
	}
	if err := ch.Qos(workers, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("consumer %s: failed to set qos: %w", handler.Name(), err)
	}

	queueName := messaging.QueueName(handler.Name())
	consumerTag := fmt.Sprintf("consumer-%s", handler.Name())

	msgs, err := ch.Consume(
		queueName,
		consumerTag,
		false, // manual ack
		false, false, false, nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consumer %s: failed to start consuming: %w", handler.Name(), err)
	}

	c := &Consumer{
		handler:     handler,
		store:       store,
		channel:     ch,
		logger:      logger.With(zap.String("consumer", handler.Name())),
		consumerTag: consumerTag,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		workers:     workers,
	}

	go c.run(msgs)

	logger.Info("consumer started",
		zap.String("consumer", handler.Name()),
		zap.String("queue", queueName),
		zap.Int("workers", workers),
	)
	return c, nil
}

func (c *Consumer) run(msgs <-chan amqp.Delivery) {
	defer close(c.doneCh)

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					c.process(msg)
				case <-c.stopCh:
					return
				}
			}
		}()
	}
	wg.Wait()
}

func (c *Consumer) process(msg amqp.Delivery) {
	var event model.DomainEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.logger.Error("failed to parse event, rejecting to DLQ", zap.Error(err))
		_ = msg.Reject(false)
		return
	}

	ctx := context.Background()

	// Claim the idempotency marker first; exactly one delivery of a given
	// event_id wins the insert.
	dup, err := c.claim(ctx, &event)
	if err != nil {
		c.logger.Warn("failed to claim idempotency marker, requeueing",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		_ = msg.Nack(false, true)
		return
	}
	if dup {
		metrics.ConsumerDuplicates.WithLabelValues(c.handler.Name()).Inc()
		c.logger.Debug("duplicate delivery skipped", zap.String("event_id", event.EventID))
		_ = msg.Ack(false)
		return
	}

	if err := c.handler.Handle(ctx, &event); err != nil {
		// Release the marker so the DLQ redrive can reprocess the event. A
		// stuck marker makes the redrive look like a duplicate, so a failed
		// release needs manual reconciliation.
		if delErr := c.store.Delete(ctx, c.markerKey(&event)); delErr != nil {
			c.logger.Error("failed to release idempotency marker, redrive will be skipped without manual cleanup",
				zap.String("event_id", event.EventID),
				zap.String("tenant_id", event.TenantID),
				zap.Error(delErr),
			)
		}
		c.logger.Error("handler failed, rejecting to DLQ",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		_ = msg.Reject(false)
		return
	}

	_ = msg.Ack(false)
	metrics.ConsumerProcessed.WithLabelValues(c.handler.Name()).Inc()
}

// claim inserts the CONSUMED marker. Returns true when another delivery of
// the same event already holds it.
func (c *Consumer) claim(ctx context.Context, event *model.DomainEvent) (bool, error) {
	err := c.store.Put(ctx, storage.Record{
		Key:        c.markerKey(event),
		Attributes: []byte(`{}`),
		Version:    1,
	})
	if errors.Is(err, model.ErrConflict) {
		return true, nil
	}
	return false, err
}

func (c *Consumer) markerKey(event *model.DomainEvent) storage.Key {
	return storage.Key{
		Partition: storage.TenantPartition(event.TenantID),
		Sort:      fmt.Sprintf("%s%s#%s", storage.SortPrefixConsumed, c.handler.Name(), event.EventID),
	}
}

// Stop signals the workers to stop and waits for cleanup.
func (c *Consumer) Stop() {
	close(c.stopCh)
	_ = c.channel.Cancel(c.consumerTag, false)
	<-c.doneCh
	_ = c.channel.Close()
	c.logger.Info("consumer stopped")
}

func (c *Consumer) Name() string {
	return c.handler.Name()
}
