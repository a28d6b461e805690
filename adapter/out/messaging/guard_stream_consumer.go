package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// EventHandler processes one raw event payload read from a stream.
type EventHandler interface {
	Handle(ctx context.Context, stream string, data []byte) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, stream string, data []byte) error

func (f EventHandlerFunc) Handle(ctx context.Context, stream string, data []byte) error {
	return f(ctx, stream, data)
}

// ErrMalformedEvent marks payloads that can never be processed. They are
// acknowledged and moved to the dead letter stream right away.
var ErrMalformedEvent = errors.New("malformed stream event")

// Consumer reads host content events from a Redis stream through a consumer group.
type Consumer struct {
	client   *redis.Client
	group    string
	consumer string
	stream   string
	handler  EventHandler
	log      zerolog.Logger

	readCount int64
	block     time.Duration

	// Pending 메시지 재처리
	pendingCheckInterval time.Duration
	pendingIdleTime      time.Duration
	maxRetries           int
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Group    string
	Consumer string
	Stream   string
	Handler  EventHandler
	Logger   zerolog.Logger

	ReadCount int64
	Block     time.Duration

	PendingCheckInterval time.Duration
	PendingIdleTime      time.Duration
	MaxRetries           int
}

// NewConsumer creates a new Consumer.
func NewConsumer(client *redis.Client, cfg *ConsumerConfig) *Consumer {
	c := &Consumer{
		client:               client,
		group:                cfg.Group,
		consumer:             cfg.Consumer,
		stream:               cfg.Stream,
		handler:              cfg.Handler,
		log:                  cfg.Logger.With().Str("component", "stream_consumer").Logger(),
		readCount:            cfg.ReadCount,
		block:                cfg.Block,
		pendingCheckInterval: cfg.PendingCheckInterval,
		pendingIdleTime:      cfg.PendingIdleTime,
		maxRetries:           cfg.MaxRetries,
	}
	if c.stream == "" {
		c.stream = StreamContentEvents
	}
	if c.group == "" {
		c.group = DefaultConsumerGroup
	}
	if c.readCount <= 0 {
		c.readCount = 10
	}
	if c.block <= 0 {
		c.block = 5 * time.Second
	}
	if c.pendingCheckInterval <= 0 {
		c.pendingCheckInterval = 30 * time.Second
	}
	if c.pendingIdleTime <= 0 {
		c.pendingIdleTime = 2 * time.Minute
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 3
	}
	return c
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info().
		Str("group", c.group).
		Str("consumer", c.consumer).
		Str("stream", c.stream).
		Msg("starting consumer")

	if err := c.EnsureGroup(ctx); err != nil {
		c.log.Warn().Err(err).Msg("error creating consumer group")
	}

	go c.processPendingMessages(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.stream, ">"},
			Count:    c.readCount,
			Block:    c.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error().Err(err).Msg("error reading from stream")
			time.Sleep(time.Second)
			continue
		}

		for _, s := range result {
			for _, msg := range s.Messages {
				c.handleMessage(ctx, msg)
			}
		}
	}
}

// EnsureGroup creates the consumer group (and stream) when missing.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// handleMessage processes and acks one message. Failed messages stay pending
// and are retried by the pending processor.
func (c *Consumer) handleMessage(ctx context.Context, msg redis.XMessage) {
	err := c.processMessage(ctx, msg)
	switch {
	case err == nil:
	case errors.Is(err, ErrMalformedEvent):
		c.log.Warn().Err(err).Str("id", msg.ID).Msg("dropping malformed event")
		if dlqErr := c.moveToDeadLetterQueue(ctx, msg); dlqErr != nil {
			c.log.Error().Err(dlqErr).Str("id", msg.ID).Msg("error moving message to DLQ")
		}
	default:
		c.log.Error().Err(err).Str("id", msg.ID).Msg("error processing message")
		return
	}

	if err := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
		c.log.Error().Err(err).Str("id", msg.ID).Msg("error acknowledging message")
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg redis.XMessage) error {
	data, ok := msg.Values["data"]
	if !ok {
		return fmt.Errorf("%w: missing data field", ErrMalformedEvent)
	}
	dataStr, ok := data.(string)
	if !ok {
		return fmt.Errorf("%w: data is not a string", ErrMalformedEvent)
	}
	return c.handler.Handle(ctx, c.stream, []byte(dataStr))
}

func (c *Consumer) processPendingMessages(ctx context.Context) {
	ticker := time.NewTicker(c.pendingCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.claimPending(ctx)
		}
	}
}

// claimPending reclaims messages idle past pendingIdleTime. Messages past
// maxRetries deliveries go to the dead letter stream.
func (c *Consumer) claimPending(ctx context.Context) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Error().Err(err).Msg("error getting pending messages")
		}
		return
	}

	for _, p := range pending {
		if p.Idle < c.pendingIdleTime {
			continue
		}

		if int(p.RetryCount) >= c.maxRetries {
			c.log.Warn().Str("id", p.ID).Int64("retries", p.RetryCount).Msg("message exceeded max retries, moving to DLQ")
			msgs, err := c.client.XRange(ctx, c.stream, p.ID, p.ID).Result()
			if err == nil && len(msgs) > 0 {
				if err := c.moveToDeadLetterQueue(ctx, msgs[0]); err != nil {
					c.log.Error().Err(err).Str("id", p.ID).Msg("error moving message to DLQ")
				}
			}
			c.client.XAck(ctx, c.stream, c.group, p.ID)
			continue
		}

		claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   c.stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  c.pendingIdleTime,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			c.log.Error().Err(err).Str("id", p.ID).Msg("error claiming message")
			continue
		}
		for _, msg := range claimed {
			c.handleMessage(ctx, msg)
		}
	}
}

// DeadLetterStream returns the dead letter stream name for stream.
func DeadLetterStream(stream string) string {
	return "dlq:" + stream
}

func (c *Consumer) moveToDeadLetterQueue(ctx context.Context, msg redis.XMessage) error {
	values := map[string]interface{}{
		"original_stream": c.stream,
		"original_id":     msg.ID,
		"failed_at":       time.Now().UTC().Format(time.RFC3339),
		"consumer":        c.consumer,
		"group":           c.group,
	}
	for k, v := range msg.Values {
		values["original_"+k] = v
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStream(c.stream),
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add message to DLQ: %w", err)
	}
	return nil
}
