package queue

import (
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/google/uuid"
)

// Message is one delivery from the queue. Exactly one of Ack or Nack must be
// called for every message.
type Message interface {
	// ID identifies the message in logs, the journal and dead-letter names.
	ID() string
	// Body returns the raw payload.
	Body() []byte
	// Ack confirms the message was handled.
	Ack() error
	// Nack rejects the message; with requeue it is delivered again later.
	Nack(requeue bool) error
	// Redelivered reports whether the broker delivered the message before.
	Redelivered() bool
}

type delivery struct {
	id string
	d  amqp.Delivery
}

// newDelivery wraps an AMQP delivery. Messages without a message-id get a
// generated one.
func newDelivery(d amqp.Delivery) *delivery {
	id := d.MessageId
	if id == "" {
		id = uuid.NewString()
	}
	return &delivery{id: id, d: d}
}

func (m *delivery) ID() string {
	return m.id
}

func (m *delivery) Body() []byte {
	return m.d.Body
}

func (m *delivery) Ack() error {
	return m.d.Ack(false)
}

func (m *delivery) Nack(requeue bool) error {
	return m.d.Nack(false, requeue)
}

func (m *delivery) Redelivered() bool {
	return m.d.Redelivered
}
