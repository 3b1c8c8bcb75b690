package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oagudo/outboxsync/transport"
)

const anyAddress = "entity-items"

func TestPublishThenReceiveInOrder(t *testing.T) {
	b := New()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, anyAddress, transport.Envelope{Key: "1", Subject: "A", Body: []byte("one")}))
	require.NoError(t, b.Publish(ctx, anyAddress, transport.Envelope{Key: "2", Subject: "B", Body: []byte("two")}))

	first, err := b.Receive(ctx, anyAddress)
	require.NoError(t, err)
	require.Equal(t, "1", first.MessageID())
	require.Equal(t, "A", first.Subject())
	require.Equal(t, []byte("one"), first.Body())
	require.NoError(t, first.Accept(ctx))

	second, err := b.Receive(ctx, anyAddress)
	require.NoError(t, err)
	require.Equal(t, "2", second.MessageID())
	require.NoError(t, second.Accept(ctx))

	published, accepted, rejected := b.Stats()
	require.Equal(t, 2, published)
	require.Equal(t, 2, accepted)
	require.Equal(t, 0, rejected)
}

func TestRejectRedeliversAtHead(t *testing.T) {
	b := New()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, anyAddress, transport.Envelope{Key: "1"}))
	require.NoError(t, b.Publish(ctx, anyAddress, transport.Envelope{Key: "2"}))

	d, err := b.Receive(ctx, anyAddress)
	require.NoError(t, err)
	require.NoError(t, d.Reject(ctx))

	again, err := b.Receive(ctx, anyAddress)
	require.NoError(t, err)
	require.Equal(t, "1", again.MessageID())
}

func TestSettleTwiceFails(t *testing.T) {
	b := New()
	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, anyAddress, transport.Envelope{Key: "1"}))

	d, err := b.Receive(ctx, anyAddress)
	require.NoError(t, err)
	require.NoError(t, d.Accept(ctx))
	require.ErrorIs(t, d.Accept(ctx), transport.ErrSettled)
	require.ErrorIs(t, d.Reject(ctx), transport.ErrSettled)
}

func TestReceiveBlocksUntilPublish(t *testing.T) {
	b := New()
	ctx := context.Background()

	got := make(chan transport.Delivery, 1)
	go func() {
		d, err := b.Receive(ctx, anyAddress)
		if err == nil {
			got <- d
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Publish(ctx, anyAddress, transport.Envelope{Key: "late"}))

	select {
	case d := <-got:
		require.Equal(t, "late", d.MessageID())
	case <-time.After(time.Second):
		t.Fatal("receive did not return after publish")
	}
}

func TestReceiveHonorsCancellation(t *testing.T) {
	b := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Receive(ctx, anyAddress)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPublishHookFailure(t *testing.T) {
	b := New()
	b.SetPublishHook(func(_ string, _ transport.Envelope) error {
		return errors.New("broker said no")
	})

	err := b.Publish(context.Background(), anyAddress, transport.Envelope{Key: "1"})
	require.ErrorIs(t, err, transport.ErrPublish)
	require.Equal(t, 0, b.Pending(anyAddress))
}

func TestConnectError(t *testing.T) {
	b := New()
	b.SetConnectError(errors.New("dial timeout"))

	err := b.Publish(context.Background(), anyAddress, transport.Envelope{Key: "1"})
	require.ErrorIs(t, err, transport.ErrUnavailable)

	b.SetConnectError(nil)
	require.NoError(t, b.Publish(context.Background(), anyAddress, transport.Envelope{Key: "1"}))
	require.Equal(t, 1, b.Pending(anyAddress))
}

func TestClosedBroker(t *testing.T) {
	b := New()
	require.NoError(t, b.Close())

	err := b.Publish(context.Background(), anyAddress, transport.Envelope{Key: "1"})
	require.ErrorIs(t, err, transport.ErrClosed)

	_, err = b.Receive(context.Background(), anyAddress)
	require.ErrorIs(t, err, transport.ErrClosed)
}
