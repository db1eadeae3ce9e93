// internal/dispatcher/dispatcher.go
package dispatcher

import (
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"taskhub/internal/consumer"
	"taskhub/internal/messaging"
	"taskhub/internal/storage"
)

// Dispatcher owns the lifecycle of the downstream fan-out consumers: it binds
// each consumer's queue to the event exchange, starts its workers, and shuts
// everything down in order.
type Dispatcher struct {
	conn    *amqp.Connection
	rabbit  *messaging.RabbitClient
	store   storage.Store
	logger  *zap.Logger
	workers int

	mu        sync.Mutex
	consumers map[string]*consumer.Consumer
}

func New(conn *amqp.Connection, rabbit *messaging.RabbitClient, store storage.Store, workers int, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		conn:      conn,
		rabbit:    rabbit,
		store:     store,
		logger:    logger,
		workers:   workers,
		consumers: make(map[string]*consumer.Consumer),
	}
}

// Register binds the handler's queue and starts consuming.
func (d *Dispatcher) Register(h consumer.Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.consumers[h.Name()]; exists {
		return fmt.Errorf("consumer %s already registered", h.Name())
	}

	if err := d.rabbit.BindConsumerQueue(h.Name()); err != nil {
		return err
	}

	c, err := consumer.Start(d.conn, h, d.store, d.workers, d.logger)
	if err != nil {
		return err
	}
	d.consumers[h.Name()] = c
	return nil
}

// ConsumerNames returns the names of all registered consumers.
func (d *Dispatcher) ConsumerNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := make([]string, 0, len(d.consumers))
	for name := range d.consumers {
		names = append(names, name)
	}
	return names
}

// ShutdownAll stops every consumer and clears the registry.
func (d *Dispatcher) ShutdownAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for name, c := range d.consumers {
		c.Stop()
		d.logger.Info("stopped consumer", zap.String("consumer", name))
	}
	d.consumers = make(map[string]*consumer.Consumer)
}
