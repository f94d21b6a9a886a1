// Package queue implements the durable command/event bus on Redis: streams
// with competing-consumer groups for commands, an append-only events stream
// for downstream consumers, and per-session pub/sub channels for live UI.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soyeahso/waygate/internal/logging"
)

// Config holds Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Stream and channel names. The commands stream is consumed by the engine
// worker group; events and errors are produced for downstream consumers.
const (
	CommandStream = "waygate:commands"
	EventStream   = "waygate:events"
	ErrorStream   = "waygate:errors"

	// Approximate MAXLEN trims applied on XADD.
	eventStreamMaxLen = 10000
	errorStreamMaxLen = 1000
)

// SessionChannel returns the pub/sub channel carrying live events for one
// session (QR updates, status changes) for low-latency UI consumption.
func SessionChannel(sessionID string) string {
	return "session:" + sessionID + ":events"
}

// Connect creates a Redis client and verifies the connection.
func Connect(ctx context.Context, cfg Config, log *logging.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	log.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to Redis")
	return client, nil
}
