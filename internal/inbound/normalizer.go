// Package inbound normalizes protocol-native inbound messages into the
// canonical event payload published for downstream consumers.
package inbound

import (
	"context"
	"strings"
	"time"

	"github.com/soyeahso/waygate/internal/logging"
	"github.com/soyeahso/waygate/internal/protocol"
)

const statusBroadcastJID = "status@broadcast"

// MessageSink publishes normalized inbound messages. Satisfied by
// queue.Publisher.
type MessageSink interface {
	MessageReceived(ctx context.Context, sessionID string, payload map[string]any) error
}

// Normalizer converts protocol message batches into canonical events.
type Normalizer struct {
	sink MessageSink
	log  *logging.Logger
}

// NewNormalizer creates a normalizer publishing through sink.
func NewNormalizer(sink MessageSink, log *logging.Logger) *Normalizer {
	return &Normalizer{sink: sink, log: log.Sub("inbound")}
}

// HandleMessages normalizes and publishes each message in the batch. Own
// messages and status broadcasts are skipped; a publish failure for one
// message never drops the rest.
func (n *Normalizer) HandleMessages(ctx context.Context, sessionID string, msgs []protocol.Message) {
	for _, msg := range msgs {
		if msg.Key.FromMe || msg.Key.RemoteJID == statusBroadcastJID {
			continue
		}
		payload := Normalize(msg)
		if err := n.sink.MessageReceived(ctx, sessionID, payload); err != nil {
			n.log.Error().Err(err).
				Str("sessionId", sessionID).
				Str("messageId", msg.Key.ID).
				Msg("failed to publish inbound message")
		}
	}
}

// Normalize maps one protocol-native message to the canonical payload shape.
func Normalize(msg protocol.Message) map[string]any {
	isGroup := strings.HasSuffix(msg.Key.RemoteJID, "@g.us")

	payload := map[string]any{
		"message_id": msg.Key.ID,
		"from":       msg.Key.RemoteJID,
		"push_name":  msg.PushName,
		"timestamp":  msg.Timestamp.UTC().Format(time.RFC3339),
		"is_group":   isGroup,
		"type":       string(msg.Kind),
	}
	if isGroup && msg.Key.Participant != "" {
		payload["participant"] = msg.Key.Participant
	}
	if msg.QuotedID != "" {
		payload["quoted_message_id"] = msg.QuotedID
	}

	switch msg.Kind {
	case protocol.KindText:
		payload["text"] = msg.Text

	case protocol.KindImage, protocol.KindVideo, protocol.KindAudio,
		protocol.KindDocument, protocol.KindSticker:
		media := map[string]any{
			"mime_type": msg.MimeType,
			"file_size": msg.FileSize,
		}
		if msg.FileName != "" {
			media["file_name"] = msg.FileName
		}
		payload["media"] = media
		if msg.Caption != "" {
			payload["caption"] = msg.Caption
		}

	case protocol.KindLocation:
		payload["location"] = map[string]any{
			"latitude":  msg.Latitude,
			"longitude": msg.Longitude,
			"name":      msg.LocName,
			"address":   msg.LocAddress,
		}

	case protocol.KindContact:
		payload["contact"] = map[string]any{
			"display_name": msg.PushName,
		}

	case protocol.KindReaction:
		payload["reaction"] = map[string]any{
			"emoji":      msg.Reaction,
			"message_id": msg.ReactionTo,
		}

	default:
		payload["type"] = string(protocol.KindUnknown)
	}

	return payload
}
