package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRelayChannel is the broker channel/subject shared by all instances.
const DefaultRelayChannel = "carelink:relay"

// RedisBackplane relays frames over Redis pub/sub.
type RedisBackplane struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

// NewRedisBackplane parses url and returns a backplane on channel.
func NewRedisBackplane(url, channel string, logger zerolog.Logger) (*RedisBackplane, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisBackplane{
		client:  redis.NewClient(opts),
		channel: channel,
		logger:  logger.With().Str("component", "redis-backplane").Logger(),
	}, nil
}

func (b *RedisBackplane) Publish(ctx context.Context, f RelayFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

func (b *RedisBackplane) Subscribe(ctx context.Context, fn func(RelayFrame)) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return err
	}

	go func() {
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
				var f RelayFrame
				if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
					b.logger.Warn().Err(err).Msg("dropping malformed relay frame")
					continue
				}
				fn(f)
			}
		}
	}()
	return nil
}

func (b *RedisBackplane) Close() error {
	return b.client.Close()
}
