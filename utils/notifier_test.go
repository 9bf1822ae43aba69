package utils

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voltcrm/config"
)

func TestRelayEventsDecodesAndForwards(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan *redis.Message, 1)
	out := make(chan Event, 1)
	go relayEvents(ctx, in, out)

	payload, err := json.Marshal(Event{
		ID:   "evt-1",
		Type: "message.sent",
		At:   time.Now(),
	})
	require.NoError(t, err)
	in <- &redis.Message{Payload: string(payload)}

	select {
	case event := <-out:
		assert.Equal(t, "evt-1", event.ID)
		assert.Equal(t, "message.sent", event.Type)
	case <-time.After(time.Second):
		t.Fatal("event was not relayed")
	}

	// Garbage payloads are dropped, not fatal.
	in <- &redis.Message{Payload: "not json"}
	close(in)

	select {
	case _, ok := <-out:
		assert.False(t, ok, "out should close with no further events")
	case <-time.After(time.Second):
		t.Fatal("out did not close after input closed")
	}
}

func TestRelayEventsReleasesIdleSubscriberOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	// No messages ever arrive; cancellation alone must end the relay.
	in := make(chan *redis.Message)
	out := make(chan Event)
	go relayEvents(ctx, in, out)

	cancel()

	select {
	case _, ok := <-out:
		assert.False(t, ok, "out should close on cancel")
	case <-time.After(time.Second):
		t.Fatal("relay stayed parked after cancel on an idle channel")
	}
}

func TestDisabledNotifierSubscribeClosesImmediately(t *testing.T) {
	n := NewNotifier(config.RedisConfig{})
	events, unsubscribe := n.Subscribe(context.Background())
	defer unsubscribe()

	_, ok := <-events
	assert.False(t, ok)
}
