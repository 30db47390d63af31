// Package pubsub is the notification bus between writers and waiting
// pollers. Delivery is at-most-once with no replay: a subscriber that
// connects after a publish never sees it, so callers must re-check
// authoritative room state right after subscribing and after any wake.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

type Bus struct {
	client *redis.Client
}

func New(client *redis.Client) *Bus {
	return &Bus{
		client: client,
	}
}

func PlayTopic(roomID string) string {
	return "room:" + roomID + ":play"
}

func LobbyTopic(roomID string) string {
	return "room:" + roomID + ":lobby"
}

// Publish - JSON-encodes the payload and fans it out to current
// subscribers of the topic.
func (that *Bus) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("could not marshal payload: %w", err)
	}

	if err = that.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	return nil
}

// Subscribe - opens a subscription on the topic. The caller owns the
// subscription and must Close it on every exit path.
func (that *Bus) Subscribe(ctx context.Context, topic string) *Subscription {
	sub := &Subscription{
		pubsub:   that.client.Subscribe(ctx, topic),
		messages: make(chan []byte),
		done:     make(chan struct{}),
	}

	go sub.forward()

	return sub
}

type Subscription struct {
	pubsub   *redis.PubSub
	messages chan []byte
	done     chan struct{}
	once     sync.Once
}

// Messages - the stream of published payloads. Closed when the
// subscription is closed.
func (that *Subscription) Messages() <-chan []byte {
	return that.messages
}

// Close - unsubscribes. Safe to call more than once; the topic goes
// idle on the broker as soon as its last subscriber closes.
func (that *Subscription) Close() error {
	that.once.Do(func() {
		close(that.done)
	})

	return that.pubsub.Close()
}

func (that *Subscription) forward() {
	defer close(that.messages)

	in := that.pubsub.Channel()

	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return
			}

			select {
			case that.messages <- []byte(msg.Payload):
			case <-that.done:
				return
			}
		case <-that.done:
			return
		}
	}
}
