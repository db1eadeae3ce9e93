// internal/messaging/rabbit.go
package messaging

import (
	"fmt"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"taskhub/internal/metrics"
)

// RabbitClient wraps the broker connection and declares the fan-out topology:
// one durable fanout exchange, one durable queue per downstream consumer,
// each with its own dead-letter queue. Every bound queue sees every event.
type RabbitClient struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

func NewRabbitClient(url, exchange string, logger *zap.Logger) (*RabbitClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"fanout",
		true,  // durable
		false, // auto-delete
		false, false, nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &RabbitClient{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

func (r *RabbitClient) GetConnection() *amqp.Connection {
	return r.conn
}

func QueueName(consumer string) string {
	return fmt.Sprintf("task_events_%s", consumer)
}

// BindConsumerQueue declares the durable queue and DLQ for one consumer and
// binds the queue to the fan-out exchange.
func (r *RabbitClient) BindConsumerQueue(consumer string) error {
	queueName := QueueName(consumer)
	dlqName := queueName + "_dlq"

	// 1. DLQ
	_, err := r.channel.QueueDeclare(
		dlqName,
		true, false, false, false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare DLQ: %w", err)
	}

	// 2. Main queue with DLQ binding
	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlqName,
	}
	_, err = r.channel.QueueDeclare(
		queueName,
		true, false, false, false,
		args,
	)
	if err != nil {
		return fmt.Errorf("declare main queue: %w", err)
	}

	if err := r.channel.QueueBind(queueName, "", r.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	r.logger.Info("consumer queue bound",
		zap.String("consumer", consumer),
		zap.String("queue", queueName),
	)
	return nil
}

// Publish sends one event body to the fan-out exchange with persistent
// delivery, so it survives a broker restart once enqueued.
func (r *RabbitClient) Publish(body []byte) error {
	err := r.channel.Publish(
		r.exchange,
		"", // fanout ignores the routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to exchange %s: %w", r.exchange, err)
	}
	return nil
}

// Close cleans up connection and channel
func (r *RabbitClient) Close() error {
	if err := r.channel.Close(); err != nil {
		return err
	}
	if err := r.conn.Close(); err != nil {
		return err
	}
	return nil
}

func (r *RabbitClient) UpdateQueueDepth(consumer string) {
	q, err := r.channel.QueueInspect(QueueName(consumer))
	if err != nil {
		r.logger.Warn("failed to inspect queue",
			zap.String("consumer", consumer),
			zap.Error(err),
		)
		return
	}

	metrics.QueueDepth.WithLabelValues(consumer).Set(float64(q.Messages))
}
