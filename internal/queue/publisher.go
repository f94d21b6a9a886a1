package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soyeahso/waygate/internal/domain"
	"github.com/soyeahso/waygate/internal/logging"
)

// Publisher appends domain events to the events stream and duplicates
// session-scoped events onto the session's pub/sub channel.
type Publisher struct {
	rdb *redis.Client
	log *logging.Logger
}

// NewPublisher creates an event publisher.
func NewPublisher(rdb *redis.Client, log *logging.Logger) *Publisher {
	return &Publisher{rdb: rdb, log: log.Sub("events")}
}

// Publish appends one event to the events stream. When the payload carries a
// session_id, the serialized event is also published on the session channel.
func (p *Publisher) Publish(ctx context.Context, eventType string, payload map[string]any) error {
	event := domain.NewEvent(eventType, payload)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event %s: %w", eventType, err)
	}

	if err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: EventStream,
		MaxLen: eventStreamMaxLen,
		Approx: true,
		Values: map[string]any{"data": string(data)},
	}).Err(); err != nil {
		return fmt.Errorf("appending event %s: %w", eventType, err)
	}

	if sessionID, ok := event.SessionID(); ok {
		channel := SessionChannel(sessionID)
		if err := p.rdb.Publish(ctx, channel, string(data)).Err(); err != nil {
			// Stream append succeeded; the live channel is best-effort.
			p.log.Warn().Err(err).Str("channel", channel).Msg("pub/sub publish failed")
		} else {
			p.log.Debug().
				Str("sessionId", sessionID).
				Str("type", eventType).
				Str("channel", channel).
				Msg("event published")
		}
	}

	return nil
}

// MessageReceived publishes the group/personal variant of an inbound message
// event followed by the generic message.received event.
func (p *Publisher) MessageReceived(ctx context.Context, sessionID string, payload map[string]any) error {
	payload["session_id"] = sessionID

	variant := domain.EventMessageReceivedPersonal
	if isGroup, _ := payload["is_group"].(bool); isGroup {
		variant = domain.EventMessageReceivedGroup
	}

	if err := p.Publish(ctx, variant, payload); err != nil {
		return err
	}
	return p.Publish(ctx, domain.EventMessageReceived, payload)
}

// SessionEvent publishes a session lifecycle event with session_id attached.
func (p *Publisher) SessionEvent(ctx context.Context, eventType, sessionID string, extra map[string]any) error {
	payload := map[string]any{
		"session_id": sessionID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		payload[k] = v
	}
	return p.Publish(ctx, eventType, payload)
}
