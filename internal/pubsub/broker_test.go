package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToAllSubscribers(t *testing.T) {
	b := NewBroker[string]()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch1 := b.Subscribe(ctx)
	ch2 := b.Subscribe(ctx)
	require.Equal(t, 2, b.SubscriberCount())

	b.Publish(CreatedEvent, "hello")

	for _, ch := range []<-chan Event[string]{ch1, ch2} {
		select {
		case ev := <-ch:
			require.Equal(t, CreatedEvent, ev.Type)
			require.Equal(t, "hello", ev.Payload)
			require.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBrokerDropsWhenSubscriberFull(t *testing.T) {
	b := NewBrokerWithBuffer[int](1)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx)

	// First fills the buffer, second is dropped. Publish must not block.
	b.Publish(UpdatedEvent, 1)
	b.Publish(UpdatedEvent, 2)

	ev := <-ch
	require.Equal(t, 1, ev.Payload)

	select {
	case ev := <-ch:
		t.Fatalf("expected no second event, got %v", ev.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBrokerSubscribeCancelRemovesSubscriber(t *testing.T) {
	b := NewBroker[string]()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx)
	require.Equal(t, 1, b.SubscriberCount())

	cancel()

	// The cleanup goroutine closes the channel.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, 0, b.SubscriberCount())
}

func TestBrokerCloseIsIdempotent(t *testing.T) {
	b := NewBroker[string]()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx)

	b.Close()
	b.Close()

	_, ok := <-ch
	require.False(t, ok, "subscriber channel should be closed")

	// Publishing and subscribing after close are harmless.
	b.Publish(DeletedEvent, "ignored")
	closed := b.Subscribe(context.Background())
	_, ok = <-closed
	require.False(t, ok)
}
