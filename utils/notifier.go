package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"voltcrm/config"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Event is one pipeline lifecycle notification published to the UI instead
// of letting it poll shared state.
type Event struct {
	ID      string                 `json:"id"`
	Type    string                 `json:"type"` // e.g. message.sent, backfill.completed
	At      time.Time              `json:"at"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Notifier publishes pipeline events on a redis channel and invalidates the
// UI's cached sequence views. With redis disabled every method is a no-op,
// so callers never have to nil-check.
type Notifier struct {
	client  *redis.Client
	channel string
}

func NewNotifier(cfg config.RedisConfig) *Notifier {
	if !cfg.Enabled {
		return &Notifier{}
	}
	return &Notifier{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		channel: cfg.EventChannel,
	}
}

// Publish emits one event. Publish failures are logged, not returned — an
// unreachable notification channel must never fail pipeline work.
func (n *Notifier) Publish(ctx context.Context, eventType string, payload map[string]interface{}) {
	if n.client == nil {
		return
	}
	event := Event{
		ID:      uuid.New().String(),
		Type:    eventType,
		At:      time.Now(),
		Payload: payload,
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("notifier: marshal event: %v", err)
		return
	}
	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		log.Printf("notifier: publish %s: %v", eventType, err)
	}
}

// Subscribe returns a channel of events and a cancel func. Used by the
// websocket bridge that relays events to the UI.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan Event, func()) {
	out := make(chan Event, 16)
	if n.client == nil {
		close(out)
		return out, func() {}
	}

	sub := n.client.Subscribe(ctx, n.channel)
	go relayEvents(ctx, sub.Channel(), out)
	return out, func() { _ = sub.Close() }
}

// relayEvents pumps raw pub/sub messages into typed events until the context
// is canceled or the subscription closes. The receive side selects on
// ctx.Done too, so a canceled subscriber is released even when the channel
// is idle.
func relayEvents(ctx context.Context, in <-chan *redis.Message, out chan<- Event) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}

// InvalidateSequenceCache drops the UI's cached views of a sequence after a
// backfill real run changes the record set underneath them.
func (n *Notifier) InvalidateSequenceCache(ctx context.Context, sequenceID uint) {
	if n.client == nil {
		return
	}
	keys := []string{
		fmt.Sprintf("voltcrm:cache:sequence:%d", sequenceID),
		fmt.Sprintf("voltcrm:cache:sequence:%d:messages", sequenceID),
		fmt.Sprintf("voltcrm:cache:sequence:%d:members", sequenceID),
	}
	if err := n.client.Del(ctx, keys...).Err(); err != nil {
		log.Printf("notifier: cache invalidation for sequence %d: %v", sequenceID, err)
	}
}

// Close releases the redis connection.
func (n *Notifier) Close() error {
	if n.client == nil {
		return nil
	}
	return n.client.Close()
}
