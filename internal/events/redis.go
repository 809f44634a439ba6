package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// publisher is the subset of the redis client used by RedisSink.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisSink publishes every event as JSON on a pub/sub channel.
type RedisSink struct {
	client  publisher
	channel string
}

// NewRedisSink connects to url and verifies the connection.
func NewRedisSink(ctx context.Context, url, channel string) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.MaxRetries = 3
	opts.MinRetryBackoff = 100 * time.Millisecond
	opts.MaxRetryBackoff = 1 * time.Second
	opts.DialTimeout = 5 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return newRedisSink(client, channel), nil
}

func newRedisSink(client publisher, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// Consume implements Sink. Every event is attempted; the first error is returned.
func (s *RedisSink) Consume(ctx context.Context, batch []Event) error {
	var firstErr error
	for _, evt := range batch {
		data, err := json.Marshal(evt)
		if err != nil {
			log.Debug().Err(err).Str("event", string(evt.Name)).Msg("Failed to encode event")
			continue
		}
		if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("publish %s: %w", evt.Name, err)
		}
	}
	return firstErr
}

// Close implements Sink.
func (s *RedisSink) Close(context.Context) error {
	return s.client.Close()
}
