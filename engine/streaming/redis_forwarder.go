package streaming

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultEventChannel = "gateway:events"

// RedisForwarder publishes events to a Redis pub/sub channel so other
// gateway instances and external consumers can follow executions.
type RedisForwarder struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisForwarder publishes to channel, or to the default channel when
// empty.
func NewRedisForwarder(client redis.UniversalClient, channel string) *RedisForwarder {
	if channel == "" {
		channel = defaultEventChannel
	}
	return &RedisForwarder{client: client, channel: channel}
}

func (f *RedisForwarder) Forward(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("streaming: marshal event: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel, payload).Err(); err != nil {
		return fmt.Errorf("streaming: publish to %s: %w", f.channel, err)
	}
	return nil
}
