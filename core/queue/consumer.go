package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrDeliveriesClosed is returned when the broker closes the delivery stream.
var ErrDeliveriesClosed = errors.New("delivery channel closed")

// Consumer reads the trigger queue with manual acknowledgement and keeps
// reconnecting until its context is cancelled.
type Consumer struct {
	cfg    Config
	logger *zap.Logger
	dial   func(url string) (*amqp.Connection, error)
}

// NewConsumer creates a consumer for the configured queue.
func NewConsumer(cfg Config, logger *zap.Logger) *Consumer {
	return &Consumer{cfg: cfg, logger: logger, dial: amqp.Dial}
}

// Consume delivers messages to out until ctx is cancelled. Connection losses
// are logged and followed by a reconnect after ReconnectDelay. Unacknowledged
// messages of a lost connection are redelivered by the broker.
func (c *Consumer) Consume(ctx context.Context, prefetch int, out chan<- Message) error {
	delay := c.cfg.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}

	for {
		err := c.consumeOnce(ctx, prefetch, out)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("RabbitMQ connection lost, reconnecting",
			zap.Error(err),
			zap.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (c *Consumer) consumeOnce(ctx context.Context, prefetch int, out chan<- Message) error {
	conn, err := c.dial(c.cfg.URL())
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.cfg.Redacted(), err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", c.cfg.Queue, err)
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming %s: %w", c.cfg.Queue, err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	c.logger.Info("Consuming from RabbitMQ",
		zap.String("url", c.cfg.Redacted()),
		zap.String("queue", c.cfg.Queue),
		zap.Int("prefetch", prefetch))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr, ok := <-closed:
			if !ok || amqpErr == nil {
				return ErrDeliveriesClosed
			}
			return amqpErr
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			select {
			case out <- newDelivery(d):
			case <-ctx.Done():
				// Never handed over; the broker requeues it when the channel closes.
				return ctx.Err()
			}
		}
	}
}
