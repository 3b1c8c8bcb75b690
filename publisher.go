package outbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oagudo/outboxsync/transport"
)

// ErrPublisherRunning is returned by Run when the publisher loop is already running.
var ErrPublisherRunning = errors.New("outbox publisher already running")

// Publisher periodically reads pending entries from the outbox table and
// publishes them to a broker address.
//
// Each cycle publishes the oldest pending entries one by one and then records
// every outcome in a single transaction: published entries are marked processed,
// failed ones have their retry count incremented and are picked up again by the
// next cycle. There is no maximum number of attempts.
//
// Only one Publisher should run against a given outbox table. Concurrent
// publishers may send the same entry twice.
type Publisher struct {
	store   *Store
	sender  transport.Sender
	address string

	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	now       func() time.Time

	started int32
	closed  int32
	stopCtx context.Context
	stop    context.CancelFunc
	done    chan struct{}

	errMu     sync.Mutex
	errCh     chan error
	errClosed bool
}

// PublisherOption is a function that configures a Publisher instance.
type PublisherOption func(*Publisher)

// WithInterval sets the time between publish cycles.
// Default is 5 seconds.
func WithInterval(interval time.Duration) PublisherOption {
	return func(p *Publisher) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithBatchSize sets the maximum number of entries published per cycle.
// Default is 50. Must be positive.
func WithBatchSize(batchSize int) PublisherOption {
	return func(p *Publisher) {
		if batchSize > 0 {
			p.batchSize = batchSize
		}
	}
}

// WithLogger sets the logger used to report cycle activity and failures.
// By default nothing is logged.
func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithNow sets the clock used for processed_at. Default is time.Now in UTC.
func WithNow(now func() time.Time) PublisherOption {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

// WithErrorChannelSize sets the size of the error channel.
// Default is 128. Size must be positive.
func WithErrorChannelSize(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.errCh = make(chan error, size)
		}
	}
}

// NewPublisher creates a Publisher that drains the outbox read through store
// and publishes entries to address via sender.
func NewPublisher(store *Store, sender transport.Sender, address string, opts ...PublisherOption) *Publisher {
	stopCtx, stop := context.WithCancel(context.Background())

	p := &Publisher{
		store:     store,
		sender:    sender,
		address:   address,
		interval:  5 * time.Second,
		batchSize: 50,
		logger:    slog.New(slog.DiscardHandler),
		now:       func() time.Time { return time.Now().UTC() },
		stopCtx:   stopCtx,
		stop:      stop,
		done:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.errCh == nil {
		p.errCh = make(chan error, 128)
	}

	return p
}

// Run executes publish cycles until ctx is cancelled or Stop is called.
//
// Cancellation is checked before each cycle and interrupts the wait between
// cycles. A cycle that already started is not aborted: the publish attempt in
// progress completes and the outcomes gathered so far are saved.
//
// Failures never stop the loop. They are logged and reported on Errors.
// Run returns nil once stopped, or ErrPublisherRunning if the loop was already started.
func (p *Publisher) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.started, 0, 1) {
		return ErrPublisherRunning
	}
	defer close(p.done)
	defer p.closeErrors()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unregister := context.AfterFunc(p.stopCtx, cancel)
	defer unregister()

	p.logger.Info("outbox publisher started",
		"address", p.address,
		"interval", p.interval,
		"batch_size", p.batchSize)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox publisher stopped", "address", p.address)
			return nil
		default:
		}

		_, err := p.ProcessOnce(ctx)
		if err != nil {
			p.logger.Error("outbox publish cycle failed", "address", p.address, "err", err)
		}

		if err := sleep(ctx, p.interval); err != nil {
			p.logger.Info("outbox publisher stopped", "address", p.address)
			return nil
		}
	}
}

// Start runs the publisher loop in the background.
// If Start is called multiple times, only the first call has an effect.
func (p *Publisher) Start() {
	if atomic.LoadInt32(&p.started) != 0 {
		return
	}

	go func() {
		_ = p.Run(p.stopCtx)
	}()
}

// Stop gracefully shuts down the publisher loop. It prevents new cycles from
// starting and waits for the cycle in progress to finish. The provided context
// controls how long to wait before giving up.
//
// If the context expires first, Stop returns the context's error.
// Calling Stop multiple times is safe and only the first call has an effect.
func (p *Publisher) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return nil
	}

	p.stop()

	// Start may not have scheduled Run yet. Claim the loop so that a late Run
	// returns immediately instead of starting after Stop.
	if atomic.CompareAndSwapInt32(&p.started, 0, 1) {
		p.closeErrors()
		close(p.done)
		return nil
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Errors returns a channel that receives errors from the publisher loop.
// The channel is buffered to prevent blocking the loop. If the buffer becomes
// full, subsequent errors are dropped. The channel is closed when the loop exits.
//
// The returned error will be one of the following types:
//   - *ReadError:    Failed to read pending entries. The whole cycle was skipped.
//   - *PublishError: Failed to publish an entry. Its retry count is incremented.
//   - *UpdateError:  Failed to save the outcome of a cycle. The listed entries are
//     left untouched and published again by the next cycle.
//
// Example of error handling:
//
//	for err := range p.Errors() {
//		switch e := err.(type) {
//		case *outbox.PublishError:
//			log.Printf("Failed to publish entry | ID: %s | Error: %v", e.Entry.ID, e.Err)
//
//		case *outbox.UpdateError:
//			log.Printf("Failed to save cycle | Count: %d | Error: %v", len(e.Entries), e.Err)
//
//		case *outbox.ReadError:
//			log.Printf("Failed to read outbox entries | Error: %v", e.Err)
//		}
//	}
func (p *Publisher) Errors() <-chan error {
	return p.errCh
}

// ProcessOnce executes a single publish cycle and returns the number of entries
// marked processed. Per-entry publish failures do not fail the cycle; they are
// reported on Errors and counted as retries. The returned error is a *ReadError
// or an *UpdateError when the cycle as a whole could not be completed.
func (p *Publisher) ProcessOnce(ctx context.Context) (int, error) {
	entries, err := p.store.FetchPending(ctx, p.batchSize)
	if err != nil {
		readErr := &ReadError{Err: err}
		p.sendError(readErr)
		return 0, readErr
	}
	if len(entries) == 0 {
		return 0, nil
	}

	// Attempts in progress are allowed to finish after cancellation.
	attemptCtx := context.WithoutCancel(ctx)

	published := make([]*Entry, 0, len(entries))
	var failed []*Entry
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}

		err := p.publish(attemptCtx, entry)
		if err != nil {
			p.logger.Warn("publishing outbox entry failed",
				"entry_id", entry.ID,
				"aggregate_id", entry.AggregateID,
				"type", entry.Type,
				"retry_count", entry.RetryCount,
				"err", err)
			p.sendError(&PublishError{Entry: *entry, Err: err})
			failed = append(failed, entry)
			continue
		}

		published = append(published, entry)
	}

	err = p.store.SaveResults(attemptCtx, p.now(), published, failed)
	if err != nil {
		updateErr := &UpdateError{Entries: copyEntries(append(published, failed...)), Err: err}
		p.sendError(updateErr)
		return 0, updateErr
	}

	p.logger.Debug("outbox publish cycle completed",
		"address", p.address,
		"fetched", len(entries),
		"published", len(published),
		"failed", len(failed))
	p.logPending(attemptCtx)

	return len(published), nil
}

func (p *Publisher) publish(ctx context.Context, entry *Entry) error {
	return p.sender.Publish(ctx, p.address, transport.Envelope{
		Key:     entry.ID.String(),
		Subject: entry.Type,
		Body:    entry.Payload,
	})
}

func (p *Publisher) logPending(ctx context.Context) {
	if !p.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}

	pending, err := p.store.PendingCount(ctx)
	if err != nil {
		p.logger.Debug("counting pending outbox entries failed", "err", err)
		return
	}
	p.logger.Debug("outbox entries pending", "address", p.address, "pending", pending)
}

func (p *Publisher) sendError(err error) {
	p.errMu.Lock()
	defer p.errMu.Unlock()

	if p.errClosed {
		return
	}

	select {
	case p.errCh <- err:
	default:
		// Channel buffer full, drop the error to prevent blocking
	}
}

func (p *Publisher) closeErrors() {
	p.errMu.Lock()
	defer p.errMu.Unlock()

	p.errClosed = true
	close(p.errCh)
}

func copyEntries(entries []*Entry) []Entry {
	copied := make([]Entry, len(entries))
	for i, entry := range entries {
		copied[i] = *entry
	}
	return copied
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
