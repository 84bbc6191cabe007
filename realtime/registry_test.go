package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"gotmail/models"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver map[string]*models.User

func (f fakeResolver) ResolveIdentity(ctx context.Context, token string) (*models.User, error) {
	if user, ok := f[token]; ok {
		return user, nil
	}
	return nil, errors.New("invalid token")
}

func newTestRegistry() (*Registry, *MemoryBus) {
	bus := NewMemoryBus()
	resolver := fakeResolver{
		"tok-a":  {ID: 1, Email: "a@example.com"},
		"tok-a2": {ID: 1, Email: "a@example.com"},
		"tok-b":  {ID: 2, Email: "b@example.com"},
	}
	return NewRegistry(bus, resolver), bus
}

func receive(t *testing.T, sub *QueueSubscriber) map[string]interface{} {
	t.Helper()
	select {
	case msg := <-sub.Messages():
		var event map[string]interface{}
		require.NoError(t, json.Unmarshal(msg, &event))
		return event
	default:
		t.Fatal("expected a queued message")
		return nil
	}
}

func assertEmpty(t *testing.T, sub *QueueSubscriber) {
	t.Helper()
	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected message %s", msg)
	default:
	}
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "user_42_emails", ChannelName(42))
}

func TestConnectRejected(t *testing.T) {
	registry, bus := newTestRegistry()
	sub := NewQueueSubscriber(4)

	handle, err := registry.Connect(context.Background(), "bogus", sub)
	assert.Nil(t, handle)
	assert.True(t, errors.Is(err, ErrRejected))
	assert.Empty(t, registry.Connections(1))
	assert.Equal(t, 0, bus.Members(ChannelName(1)))
}

func TestConnectAndPublish(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()
	sub := NewQueueSubscriber(4)

	handle, err := registry.Connect(ctx, "tok-a", sub)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, handle.State())
	assert.Equal(t, "user_1_emails", handle.Channel)

	require.NoError(t, registry.Publish(ctx, 1, map[string]string{"type": "email_notification"}))
	event := receive(t, sub)
	assert.Equal(t, "email_notification", event["type"])

	// other users and users without connections
	require.NoError(t, registry.Publish(ctx, 2, map[string]string{"type": "x"}))
	require.NoError(t, registry.Publish(ctx, 99, map[string]string{"type": "x"}))
	assertEmpty(t, sub)
}

func TestStaleEviction(t *testing.T) {
	registry, bus := newTestRegistry()
	ctx := context.Background()
	first := NewQueueSubscriber(4)
	second := NewQueueSubscriber(4)

	h1, err := registry.Connect(ctx, "tok-a", first)
	require.NoError(t, err)
	h2, err := registry.Connect(ctx, "tok-a2", second)
	require.NoError(t, err)

	assert.Equal(t, StateClosed, h1.State())
	assert.Equal(t, StateOpen, h2.State())
	assert.Equal(t, []string{h2.ID()}, registry.Connections(1))
	assert.Equal(t, 1, bus.Members(ChannelName(1)))

	require.NoError(t, registry.Publish(ctx, 1, map[string]int{"n": 1}))
	assertEmpty(t, first)
	receive(t, second)

	t.Run("evicted subscriber is closed", func(t *testing.T) {
		select {
		case <-first.Done():
		default:
			t.Fatal("evicted subscriber still open")
		}
		select {
		case <-second.Done():
			t.Fatal("current subscriber closed")
		default:
		}
		assert.False(t, first.Deliver([]byte("late")))
	})

	t.Run("disconnecting the evicted handle keeps the new one", func(t *testing.T) {
		registry.Disconnect(ctx, h1)
		assert.Equal(t, []string{h2.ID()}, registry.Connections(1))
		assert.Equal(t, 1, bus.Members(ChannelName(1)))
	})
}

func TestDisconnectIdempotent(t *testing.T) {
	registry, bus := newTestRegistry()
	ctx := context.Background()

	handle, err := registry.Connect(ctx, "tok-b", NewQueueSubscriber(1))
	require.NoError(t, err)

	registry.Disconnect(ctx, handle)
	registry.Disconnect(ctx, handle)
	registry.Disconnect(ctx, nil)

	assert.Equal(t, StateClosed, handle.State())
	assert.Empty(t, registry.Connections(2))
	assert.Equal(t, 0, bus.Members(ChannelName(2)))
	assert.Equal(t, 0, registry.locks.size())
}

func TestConcurrentConnectsKeepOneConnection(t *testing.T) {
	registry, bus := newTestRegistry()
	ctx := context.Background()

	var wg sync.WaitGroup
	handles := make([]*Handle, 50)
	for i := 0; i < len(handles); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := registry.Connect(ctx, "tok-a", NewQueueSubscriber(1))
			if err == nil {
				handles[i] = h
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, registry.Connections(1), 1)
	assert.Equal(t, 1, bus.Members(ChannelName(1)))
	assert.Equal(t, 0, registry.locks.size())

	open := 0
	for _, h := range handles {
		require.NotNil(t, h)
		if h.State() == StateOpen {
			open++
		}
	}
	assert.Equal(t, 1, open)

	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			registry.Disconnect(ctx, h)
		}(h)
	}
	wg.Wait()
	assert.Empty(t, registry.Connections(1))
	assert.Equal(t, 0, bus.Members(ChannelName(1)))
}

func TestQueueSubscriber(t *testing.T) {
	sub := NewQueueSubscriber(1)
	assert.NotEmpty(t, sub.ID())

	assert.True(t, sub.Deliver([]byte("one")))
	assert.False(t, sub.Deliver([]byte("two")), "full queue drops")

	sub.Close()
	sub.Close()
	<-sub.Done()
	<-sub.Messages()
	assert.False(t, sub.Deliver([]byte("three")), "closed subscriber drops")
}

func TestMemoryBusCanceledContext(t *testing.T) {
	bus := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, bus.GroupAdd(ctx, "g", NewQueueSubscriber(1)))
	assert.Error(t, bus.GroupSend(ctx, "g", []byte("x")))
	assert.NoError(t, bus.GroupDiscard(ctx, "g", "missing"))
}
