package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"tutorhub/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

// Redis fans envelopes out through Redis Pub/Sub so every hub instance
// subscribed to the channel delivers them to its own sessions.
type Redis struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
}

// NewRedis creates a broker publishing on channel.
func NewRedis(client *redis.Client, channel string) *Redis {
	if channel == "" {
		channel = DefaultTopic
	}
	return &Redis{
		client:  client,
		channel: channel,
		logger:  slog.Default().With("component", "broker", "driver", DriverRedis),
	}
}

func (b *Redis) Publish(ctx context.Context, env models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

func (b *Redis) Subscribe(ctx context.Context) (<-chan models.Envelope, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	// Wait for the subscription to be confirmed so nothing published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	b.mu.Lock()
	b.pubsub = pubsub
	b.mu.Unlock()

	out := make(chan models.Envelope, 256)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env models.Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					b.logger.Error("failed to decode event", "error", err)
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *Redis) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pubsub == nil {
		return nil
	}
	err := b.pubsub.Close()
	b.pubsub = nil
	return err
}
