package projection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/oagudo/outboxsync/event"
	"github.com/oagudo/outboxsync/transport"
)

// ErrApplierRunning is returned by Run when the applier loop is already running.
var ErrApplierRunning = errors.New("projection applier already running")

// Upserter stores projection records.
type Upserter interface {
	Upsert(ctx context.Context, rec Record) error
}

// Applier consumes events from one broker address and applies them to the
// projection, one message at a time.
//
// A message is accepted only after its upsert is committed. When the upsert
// fails the message is rejected so that the broker delivers it again.
// Messages with an unknown subject or an undecodable body are accepted
// without touching the projection so they cannot block the queue.
type Applier struct {
	receiver transport.Receiver
	store    Upserter
	address  string

	logger       *slog.Logger
	now          func() time.Time
	failureDelay DelayFunc

	started int32
	closed  int32
	stopCtx context.Context
	stop    context.CancelFunc
	done    chan struct{}
}

// ApplierOption is a function that configures an Applier instance.
type ApplierOption func(*Applier)

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(logger *slog.Logger) ApplierOption {
	return func(a *Applier) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithNow sets the clock used for received_at. Default is time.Now in UTC.
func WithNow(now func() time.Time) ApplierOption {
	return func(a *Applier) {
		if now != nil {
			a.now = now
		}
	}
}

// WithFailureDelay sets the pause after a failed receive or apply.
// Default is Fixed(time.Second).
func WithFailureDelay(delayFunc DelayFunc) ApplierOption {
	return func(a *Applier) {
		if delayFunc != nil {
			a.failureDelay = delayFunc
		}
	}
}

// NewApplier creates an Applier that receives from address and writes to store.
func NewApplier(receiver transport.Receiver, store Upserter, address string, opts ...ApplierOption) *Applier {
	stopCtx, stop := context.WithCancel(context.Background())

	a := &Applier{
		receiver:     receiver,
		store:        store,
		address:      address,
		logger:       slog.New(slog.DiscardHandler),
		now:          func() time.Time { return time.Now().UTC() },
		failureDelay: Fixed(time.Second),
		stopCtx:      stopCtx,
		stop:         stop,
		done:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Run consumes messages until ctx is cancelled or Stop is called.
//
// Cancellation interrupts a blocked receive. A message already received is
// applied and settled before the loop observes cancellation.
// Failures never stop the loop; they are logged and followed by a pause.
func (a *Applier) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&a.started, 0, 1) {
		return ErrApplierRunning
	}
	defer close(a.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unregister := context.AfterFunc(a.stopCtx, cancel)
	defer unregister()

	a.logger.Info("projection applier started", "address", a.address)
	defer a.logger.Info("projection applier stopped", "address", a.address)

	var failures int
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		delivery, err := a.receiver.Receive(ctx, a.address)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.Error("receiving message failed", "address", a.address, "err", err)
		} else {
			err = a.Handle(context.WithoutCancel(ctx), delivery)
			if err != nil {
				a.logger.Error("applying message failed",
					"address", a.address,
					"message_id", delivery.MessageID(),
					"subject", delivery.Subject(),
					"err", err)
			}
		}

		if err == nil {
			failures = 0
			continue
		}

		pause := a.failureDelay(failures)
		failures++
		if sleepErr := sleep(ctx, pause); sleepErr != nil {
			return nil
		}
	}
}

// Start runs the applier loop in the background.
// If Start is called multiple times, only the first call has an effect.
func (a *Applier) Start() {
	if atomic.LoadInt32(&a.started) != 0 {
		return
	}

	go func() {
		_ = a.Run(a.stopCtx)
	}()
}

// Stop stops the applier loop and waits for the message in progress to be
// settled. The provided context controls how long to wait.
// Calling Stop multiple times is safe and only the first call has an effect.
func (a *Applier) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&a.closed, 0, 1) {
		return nil
	}

	a.stop()

	if atomic.CompareAndSwapInt32(&a.started, 0, 1) {
		close(a.done)
		return nil
	}

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle applies a single delivery and settles it.
//
// It returns an error only when the message could not be applied (it is then
// rejected for redelivery) or could not be settled. Discarded messages are
// not errors.
func (a *Applier) Handle(ctx context.Context, delivery transport.Delivery) error {
	ev, err := event.Decode(delivery.Subject(), delivery.Body())
	if err != nil {
		a.logger.Warn("discarding malformed message",
			"message_id", delivery.MessageID(),
			"subject", delivery.Subject(),
			"err", err)
		return a.accept(ctx, delivery)
	}

	switch e := ev.(type) {
	case event.EntityItemCreated:
		rec := Record{
			ID:         e.ID,
			Name:       e.Name,
			Value:      e.Value,
			CreatedAt:  e.CreatedAt,
			ReceivedAt: a.now(),
		}
		if err := a.store.Upsert(ctx, rec); err != nil {
			applyErr := fmt.Errorf("applying %s %s: %w", e.Type(), e.ID, err)
			if rejectErr := delivery.Reject(ctx); rejectErr != nil {
				return errors.Join(applyErr, fmt.Errorf("rejecting message %s: %w", delivery.MessageID(), rejectErr))
			}
			return applyErr
		}

		a.logger.Debug("projection updated",
			"message_id", delivery.MessageID(),
			"subject", delivery.Subject(),
			"aggregate_id", e.ID)

	default:
		a.logger.Warn("discarding message with unknown subject",
			"message_id", delivery.MessageID(),
			"subject", delivery.Subject())
	}

	return a.accept(ctx, delivery)
}

func (a *Applier) accept(ctx context.Context, delivery transport.Delivery) error {
	if err := delivery.Accept(ctx); err != nil {
		return fmt.Errorf("accepting message %s: %w", delivery.MessageID(), err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
