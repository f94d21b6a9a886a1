package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soyeahso/waygate/internal/domain"
	"github.com/soyeahso/waygate/internal/logging"
)

// Router dispatches a validated command envelope to its handler.
type Router interface {
	Route(ctx context.Context, env domain.CommandEnvelope) error
}

// ConsumerConfig tunes the stream consumer. Zero values fall back to the
// defaults used in production.
type ConsumerConfig struct {
	Stream    string
	Group     string
	Name      string // consumer name within the group, unique per worker
	BatchSize int64
	Block     time.Duration // blocking-read timeout, keeps the stop flag responsive
	RetryWait time.Duration // back-off after a transient read error
}

func (c *ConsumerConfig) applyDefaults() {
	if c.Stream == "" {
		c.Stream = CommandStream
	}
	if c.Group == "" {
		c.Group = "engine-workers"
	}
	if c.Name == "" {
		c.Name = "worker"
	}
	if c.BatchSize == 0 {
		c.BatchSize = 10
	}
	if c.Block == 0 {
		c.Block = time.Second
	}
	if c.RetryWait == 0 {
		c.RetryWait = time.Second
	}
}

// Consumer pulls command envelopes from the commands stream using a
// competing-consumers group and dispatches them through the router.
//
// Delivery is at-least-once from the queue's perspective, but every entry is
// acknowledged exactly once regardless of handler outcome: handler failures
// are recorded on the errors stream and acked, so a poison message can never
// block the group.
type Consumer struct {
	rdb    *redis.Client
	router Router
	cfg    ConsumerConfig
	log    *logging.Logger
}

// NewConsumer creates a stream consumer.
func NewConsumer(rdb *redis.Client, router Router, cfg ConsumerConfig, log *logging.Logger) *Consumer {
	cfg.applyDefaults()
	return &Consumer{
		rdb:    rdb,
		router: router,
		cfg:    cfg,
		log:    log.Sub("consumer"),
	}
}

// Start creates the consumer group and runs the consume loop until ctx is
// cancelled. Transient read errors never terminate the loop.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	c.log.Info().
		Str("stream", c.cfg.Stream).
		Str("group", c.cfg.Group).
		Str("consumer", c.cfg.Name).
		Msg("stream consumer started")

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Str("consumer", c.cfg.Name).Msg("stream consumer stopped")
			return nil
		default:
		}

		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Name,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    c.cfg.BatchSize,
			Block:    c.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			c.log.Error().Err(err).Str("stream", c.cfg.Stream).Msg("error consuming stream")
			select {
			case <-time.After(c.cfg.RetryWait):
			case <-ctx.Done():
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.process(ctx, msg)
			}
		}
	}
}

// ensureGroup creates the consumer group, tolerating concurrent creation.
func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			c.log.Info().Str("group", c.cfg.Group).Msg("consumer group already exists")
			return nil
		}
		return fmt.Errorf("creating consumer group %s: %w", c.cfg.Group, err)
	}
	c.log.Info().Str("group", c.cfg.Group).Msg("created consumer group")
	return nil
}

// process handles one stream entry: decode, validate, dispatch, and always
// acknowledge. Handler failures are published to the errors stream first.
func (c *Consumer) process(ctx context.Context, msg redis.XMessage) {
	start := time.Now()

	env, err := decodeEnvelope(msg)
	if err == nil {
		err = c.router.Route(ctx, env)
	}

	if err != nil {
		c.log.Error().Err(err).Str("messageId", msg.ID).Msg("failed to process message")
		c.publishError(ctx, msg, err)
	} else {
		c.log.Info().
			Str("messageId", msg.ID).
			Str("type", env.Type).
			Dur("processingTime", time.Since(start)).
			Msg("command processed")
	}

	// Acked whether dispatch succeeded or failed; redelivery of a failing
	// handler would loop forever.
	if err := c.rdb.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		c.log.Crit().Err(err).Str("messageId", msg.ID).Msg("failed to ack message")
	}
}

// decodeEnvelope extracts and validates the envelope from a stream entry.
func decodeEnvelope(msg redis.XMessage) (domain.CommandEnvelope, error) {
	var env domain.CommandEnvelope

	raw, ok := msg.Values["data"]
	if !ok {
		return env, errors.New("invalid message format: missing data field")
	}
	data, ok := raw.(string)
	if !ok {
		return env, errors.New("invalid message format: data field is not a string")
	}
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return env, fmt.Errorf("parsing envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return env, err
	}
	return env, nil
}

// publishError appends the failure with the original fields to the bounded
// errors stream. A failure here has no recovery path and is logged at the
// highest severity.
func (c *Consumer) publishError(ctx context.Context, msg redis.XMessage, procErr error) {
	payload := map[string]any{
		"message_id":    msg.ID,
		"error":         procErr.Error(),
		"original_data": msg.Values,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(payload)
	if err == nil {
		err = c.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: ErrorStream,
			MaxLen: errorStreamMaxLen,
			Approx: true,
			Values: map[string]any{"data": string(data)},
		}).Err()
	}
	if err != nil {
		c.log.Crit().Err(err).Str("messageId", msg.ID).Msg("failed to publish error")
	}
}
