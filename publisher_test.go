package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oagudo/outboxsync/transport"
	"github.com/oagudo/outboxsync/transport/memory"
)

const testAddress = "entity-items"

func TestProcessOncePublishesOldestFirst(t *testing.T) {
	db, dbCtx := openTestDB(t)
	broker := memory.New()
	publisher := NewPublisher(NewStore(dbCtx), broker, testAddress, WithBatchSize(2))

	t1, t2, t3 := entryAt(time.Second), entryAt(2*time.Second), entryAt(3*time.Second)
	storeEntries(t, dbCtx, t2, t3, t1)

	n, err := publisher.ProcessOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	msgs := broker.Messages(testAddress)
	require.Len(t, msgs, 2)
	require.Equal(t, transport.Envelope{Key: t1.ID.String(), Subject: t1.Type, Body: t1.Payload}, msgs[0])
	require.Equal(t, t2.ID.String(), msgs[1].Key)

	n, err = publisher.ProcessOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, t3.ID.String(), broker.Messages(testAddress)[2].Key)

	require.Equal(t, 0, countRows(t, db, "SELECT COUNT(*) FROM outbox WHERE processed_at IS NULL"))
}

func TestProcessOnceIsolatesFailures(t *testing.T) {
	db, dbCtx := openTestDB(t)
	broker := memory.New()
	publisher := NewPublisher(NewStore(dbCtx), broker, testAddress)

	ok1, bad, ok2 := entryAt(time.Second), entryAt(2*time.Second), entryAt(3*time.Second)
	storeEntries(t, dbCtx, ok1, bad, ok2)

	broker.SetPublishHook(func(_ string, msg transport.Envelope) error {
		if msg.Key == bad.ID.String() {
			return errors.New("message too large")
		}
		return nil
	})

	n, err := publisher.ProcessOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 2, broker.Pending(testAddress))

	require.Equal(t, 1, countRows(t, db,
		"SELECT COUNT(*) FROM outbox WHERE id = ? AND processed_at IS NULL AND retry_count = 1", bad.ID.String()))
	require.Equal(t, 2, countRows(t, db,
		"SELECT COUNT(*) FROM outbox WHERE processed_at IS NOT NULL AND retry_count = 0"))

	select {
	case err := <-publisher.Errors():
		var publishErr *PublishError
		require.True(t, errors.As(err, &publishErr))
		require.Equal(t, bad.ID, publishErr.Entry.ID)
		require.ErrorIs(t, err, transport.ErrPublish)
	default:
		t.Fatal("expected a publish error to be reported")
	}
}

func TestProcessOnceRetriesUntilSuccess(t *testing.T) {
	db, dbCtx := openTestDB(t)
	broker := memory.New()
	publisher := NewPublisher(NewStore(dbCtx), broker, testAddress)
	ctx := context.Background()

	entry := entryAt(0)
	storeEntries(t, dbCtx, entry)

	broker.SetConnectError(errors.New("dial tcp: connection refused"))
	for range 4 {
		n, err := publisher.ProcessOnce(ctx)
		require.NoError(t, err)
		require.Zero(t, n)
	}
	require.Equal(t, 1, countRows(t, db,
		"SELECT COUNT(*) FROM outbox WHERE processed_at IS NULL AND retry_count = 4"))

	broker.SetConnectError(nil)
	n, err := publisher.ProcessOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Equal(t, 1, countRows(t, db,
		"SELECT COUNT(*) FROM outbox WHERE processed_at IS NOT NULL AND retry_count = 4"))
	require.Equal(t, 1, broker.Pending(testAddress))
}

func TestProcessOnceReportsReadError(t *testing.T) {
	db, dbCtx := openTestDB(t)
	publisher := NewPublisher(NewStore(dbCtx), memory.New(), testAddress)

	require.NoError(t, db.Close())

	_, err := publisher.ProcessOnce(context.Background())
	var readErr *ReadError
	require.True(t, errors.As(err, &readErr))

	reported := <-publisher.Errors()
	require.True(t, errors.As(reported, &readErr))
}

func TestProcessOnceFinishesAttemptInProgressOnCancel(t *testing.T) {
	db, dbCtx := openTestDB(t)
	broker := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, second := entryAt(time.Second), entryAt(2*time.Second)
	storeEntries(t, dbCtx, first, second)

	broker.SetPublishHook(func(_ string, _ transport.Envelope) error {
		cancel()
		return nil
	})
	publisher := NewPublisher(NewStore(dbCtx), broker, testAddress)

	n, err := publisher.ProcessOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Equal(t, 1, countRows(t, db,
		"SELECT COUNT(*) FROM outbox WHERE id = ? AND processed_at IS NOT NULL", first.ID.String()))
	require.Equal(t, 1, countRows(t, db,
		"SELECT COUNT(*) FROM outbox WHERE id = ? AND processed_at IS NULL AND retry_count = 0", second.ID.String()))
}

func TestPublisherRunDrainsOutbox(t *testing.T) {
	db, dbCtx := openTestDB(t)
	broker := memory.New()
	publisher := NewPublisher(NewStore(dbCtx), broker, testAddress,
		WithInterval(10*time.Millisecond), WithBatchSize(1))

	storeEntries(t, dbCtx, entryAt(0), entryAt(time.Second), entryAt(2*time.Second))

	publisher.Start()

	require.Eventually(t, func() bool {
		return broker.Pending(testAddress) == 3
	}, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, publisher.Stop(ctx))
	require.NoError(t, publisher.Stop(ctx))

	_, open := <-publisher.Errors()
	require.False(t, open)

	require.Equal(t, 0, countRows(t, db, "SELECT COUNT(*) FROM outbox WHERE processed_at IS NULL"))
}

func TestPublisherRunSurvivesCycleFailures(t *testing.T) {
	_, dbCtx := openTestDB(t)
	broker := memory.New()
	broker.SetConnectError(errors.New("broker down"))
	publisher := NewPublisher(NewStore(dbCtx), broker, testAddress, WithInterval(5*time.Millisecond))

	storeEntries(t, dbCtx, entryAt(0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- publisher.Run(ctx)
	}()

	// Several failed cycles, then the broker recovers.
	time.Sleep(30 * time.Millisecond)
	broker.SetConnectError(nil)

	require.Eventually(t, func() bool {
		return broker.Pending(testAddress) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop after cancellation")
	}

	require.ErrorIs(t, publisher.Run(context.Background()), ErrPublisherRunning)
}

func TestPublisherStopBeforeStart(t *testing.T) {
	_, dbCtx := openTestDB(t)
	publisher := NewPublisher(NewStore(dbCtx), memory.New(), testAddress)

	require.NoError(t, publisher.Stop(context.Background()))
	require.ErrorIs(t, publisher.Run(context.Background()), ErrPublisherRunning)
}

func TestPublisherStopTimesOutWhilePublishing(t *testing.T) {
	_, dbCtx := openTestDB(t)
	storeEntries(t, dbCtx, entryAt(time.Second))

	broker := memory.New()
	publishing := make(chan struct{})
	release := make(chan struct{})
	broker.SetPublishHook(func(string, transport.Envelope) error {
		close(publishing)
		<-release
		return nil
	})

	publisher := NewPublisher(NewStore(dbCtx), broker, testAddress, WithInterval(10*time.Millisecond))
	publisher.Start()
	<-publishing

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, publisher.Stop(ctx), context.DeadlineExceeded)

	// The attempt in progress still completes and is recorded.
	close(release)
	require.Eventually(t, func() bool {
		n, err := NewStore(dbCtx).PendingCount(context.Background())
		return err == nil && n == 0
	}, time.Second, 10*time.Millisecond)
}

func TestPublisherStartAndStopCalledMultipleTimes(t *testing.T) {
	_, dbCtx := openTestDB(t)
	publisher := NewPublisher(NewStore(dbCtx), memory.New(), testAddress)

	publisher.Start()
	publisher.Start()

	require.NoError(t, publisher.Stop(context.Background()))
	require.NoError(t, publisher.Stop(context.Background()))

	_, open := <-publisher.Errors()
	require.False(t, open)
}
