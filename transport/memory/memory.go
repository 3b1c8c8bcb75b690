// Package memory provides an in-process transport with broker-like settlement
// semantics: rejected messages go back to the head of their queue and are
// delivered again.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/oagudo/outboxsync/transport"
)

// PublishHook can veto a publish. A non-nil error is returned to the caller
// (wrapped in transport.ErrPublish) and the message is dropped.
type PublishHook func(address string, msg transport.Envelope) error

// Broker is an in-memory transport.Transport.
type Broker struct {
	mu         sync.Mutex
	queues     map[string]*queue
	connected  bool
	closed     bool
	connectErr error
	hook       PublishHook

	published int
	accepted  int
	rejected  int
}

var _ transport.Transport = (*Broker)(nil)

type queue struct {
	msgs   []transport.Envelope
	signal chan struct{}
}

// New returns an empty broker.
func New() *Broker {
	return &Broker{
		queues: make(map[string]*queue),
	}
}

// SetPublishHook installs a hook consulted on every publish. Pass nil to remove it.
func (b *Broker) SetPublishHook(hook PublishHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hook = hook
}

// SetConnectError makes Connect fail with err until called again with nil.
func (b *Broker) SetConnectError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectErr = err
	if err != nil {
		b.connected = false
	}
}

// Connect implements transport.Transport.
func (b *Broker) Connect(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connectLocked()
}

func (b *Broker) connectLocked() error {
	if b.closed {
		return transport.ErrClosed
	}
	if b.connected {
		return nil
	}
	if b.connectErr != nil {
		return fmt.Errorf("%w: %v", transport.ErrUnavailable, b.connectErr)
	}
	b.connected = true
	return nil
}

// Publish implements transport.Sender.
func (b *Broker) Publish(ctx context.Context, address string, msg transport.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.connectLocked(); err != nil {
		return err
	}
	if b.hook != nil {
		if err := b.hook(address, msg); err != nil {
			return fmt.Errorf("%w: %v", transport.ErrPublish, err)
		}
	}

	q := b.queueLocked(address)
	q.msgs = append(q.msgs, cloneEnvelope(msg))
	q.notify()
	b.published++

	return nil
}

// Receive implements transport.Receiver.
func (b *Broker) Receive(ctx context.Context, address string) (transport.Delivery, error) {
	for {
		b.mu.Lock()
		if err := b.connectLocked(); err != nil {
			b.mu.Unlock()
			return nil, err
		}
		q := b.queueLocked(address)
		if len(q.msgs) > 0 {
			msg := q.msgs[0]
			q.msgs = q.msgs[1:]
			b.mu.Unlock()
			return &delivery{broker: b, address: address, msg: msg}, nil
		}
		signal := q.signal
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-signal:
		}
	}
}

// Close implements transport.Transport. Blocked receivers observe their own contexts.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.connected = false
	for _, q := range b.queues {
		q.notify()
	}
	return nil
}

// Pending returns the number of queued, undelivered messages on address.
func (b *Broker) Pending(address string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[address]; ok {
		return len(q.msgs)
	}
	return 0
}

// Messages returns a copy of the queued messages on address.
func (b *Broker) Messages(address string) []transport.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[address]
	if !ok {
		return nil
	}
	out := make([]transport.Envelope, 0, len(q.msgs))
	for _, msg := range q.msgs {
		out = append(out, cloneEnvelope(msg))
	}
	return out
}

// Stats returns the number of published, accepted and rejected messages.
func (b *Broker) Stats() (published, accepted, rejected int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published, b.accepted, b.rejected
}

func (b *Broker) queueLocked(address string) *queue {
	q, ok := b.queues[address]
	if !ok {
		q = &queue{signal: make(chan struct{}, 1)}
		b.queues[address] = q
	}
	return q
}

func (q *queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func cloneEnvelope(msg transport.Envelope) transport.Envelope {
	msg.Body = append([]byte(nil), msg.Body...)
	return msg
}

type delivery struct {
	broker  *Broker
	address string
	msg     transport.Envelope

	mu      sync.Mutex
	settled bool
}

func (d *delivery) MessageID() string { return d.msg.Key }

func (d *delivery) Subject() string { return d.msg.Subject }

func (d *delivery) Body() []byte { return d.msg.Body }

func (d *delivery) Accept(_ context.Context) error {
	if err := d.settle(); err != nil {
		return err
	}

	d.broker.mu.Lock()
	defer d.broker.mu.Unlock()
	d.broker.accepted++
	return nil
}

func (d *delivery) Reject(_ context.Context) error {
	if err := d.settle(); err != nil {
		return err
	}

	d.broker.mu.Lock()
	defer d.broker.mu.Unlock()
	d.broker.rejected++
	q := d.broker.queueLocked(d.address)
	q.msgs = append([]transport.Envelope{d.msg}, q.msgs...)
	q.notify()
	return nil
}

func (d *delivery) settle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return transport.ErrSettled
	}
	d.settled = true
	return nil
}
