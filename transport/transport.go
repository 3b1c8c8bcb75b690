// Package transport defines the thin capability the outbox publisher and the
// projection applier need from a message broker: lazily connect, publish a tagged
// payload to an address and receive the next message with explicit settlement.
//
// Adapters live in sub-packages (amqp, kafka, nats) next to an in-memory
// implementation used by tests.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable is returned when the broker cannot be reached within the
	// connection timeout or the connection dropped. Callers retry on their next cycle.
	ErrUnavailable = errors.New("transport unavailable")
	// ErrPublish is returned when the broker rejects a message or the send fails.
	ErrPublish = errors.New("transport publish failed")
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport closed")
	// ErrSettled is returned when a delivery is accepted or rejected more than once.
	ErrSettled = errors.New("delivery already settled")
)

// Envelope is an outbound message.
type Envelope struct {
	// Key is the broker message id, used by brokers that support deduplication.
	Key string
	// Subject is the event-type tag.
	Subject string
	// Body is the serialized event payload.
	Body []byte
}

// Delivery is an inbound message awaiting settlement.
type Delivery interface {
	// MessageID returns the broker message id (the outbox entry id).
	MessageID() string
	// Subject returns the event-type tag.
	Subject() string
	// Body returns the serialized event payload.
	Body() []byte
	// Accept acknowledges the message so it is never delivered again.
	Accept(ctx context.Context) error
	// Reject returns the message to the broker for redelivery.
	Reject(ctx context.Context) error
}

// Sender publishes messages to an address.
type Sender interface {
	// Publish sends msg to address, connecting first if needed.
	// Errors wrap ErrUnavailable or ErrPublish.
	Publish(ctx context.Context, address string, msg Envelope) error
}

// Receiver receives messages from an address.
type Receiver interface {
	// Receive blocks until a message arrives on address or ctx is done.
	Receive(ctx context.Context, address string) (Delivery, error)
}

// Transport is the full broker capability.
type Transport interface {
	Sender
	Receiver
	// Connect establishes the broker connection. It is idempotent and bounded
	// by the adapter connection timeout.
	Connect(ctx context.Context) error
	// Close releases the connection.
	Close() error
}
