// Package messaging carries host content events over Redis Streams.
package messaging

import (
	"context"
	"fmt"
	"time"

	"phishguard/core/port/out"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	StreamContentEvents  = "content:events"
	DefaultConsumerGroup = "phishguard"

	// approximate MAXLEN trim for the event stream
	defaultMaxLen = 100000
)

// RedisProducer implements out.ContentEventPublisher using Redis Streams.
type RedisProducer struct {
	client *redis.Client
	stream string
	maxLen int64
}

var _ out.ContentEventPublisher = (*RedisProducer)(nil)

// NewRedisProducer creates a producer for stream (StreamContentEvents when empty).
func NewRedisProducer(client *redis.Client, stream string) *RedisProducer {
	if stream == "" {
		stream = StreamContentEvents
	}
	return &RedisProducer{client: client, stream: stream, maxLen: defaultMaxLen}
}

// Stream returns the stream name events are written to.
func (p *RedisProducer) Stream() string {
	return p.stream
}

// PublishContentEvents appends events in one pipeline. Missing ids and
// timestamps are filled in.
func (p *RedisProducer) PublishContentEvents(ctx context.Context, events []*out.ContentEvent) error {
	if len(events) == 0 {
		return nil
	}

	pipe := p.client.Pipeline()
	for _, ev := range events {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", ev.ID, err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: p.stream,
			MaxLen: p.maxLen,
			Approx: true,
			Values: map[string]interface{}{"data": string(data)},
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", p.stream, err)
	}
	return nil
}
