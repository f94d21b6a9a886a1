package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/waygate/internal/domain"
	"github.com/soyeahso/waygate/internal/logging"
	"github.com/soyeahso/waygate/internal/media"
	"github.com/soyeahso/waygate/internal/protocol"
	"github.com/soyeahso/waygate/internal/ratelimit"
	"github.com/soyeahso/waygate/internal/session"
	"github.com/soyeahso/waygate/internal/store"
)

// ErrSessionUnavailable is returned by send commands when the session has no
// live connected socket.
var ErrSessionUnavailable = errors.New("session not found or not connected")

// EventSink publishes message lifecycle events. Satisfied by queue.Publisher.
type EventSink interface {
	SessionEvent(ctx context.Context, eventType, sessionID string, extra map[string]any) error
}

// Handlers holds the dependencies shared by all command handlers.
type Handlers struct {
	manager    *session.Manager
	messages   *store.MessageStore
	limiter    *ratelimit.Limiter
	downloader *media.Downloader
	events     EventSink
	log        *logging.Logger

	// typingDelay returns the simulated typing duration; tests shrink it.
	typingDelay func() time.Duration
}

// NewHandlers creates the handler set.
func NewHandlers(
	manager *session.Manager,
	messages *store.MessageStore,
	limiter *ratelimit.Limiter,
	downloader *media.Downloader,
	events EventSink,
	log *logging.Logger,
) *Handlers {
	return &Handlers{
		manager:    manager,
		messages:   messages,
		limiter:    limiter,
		downloader: downloader,
		events:     events,
		log:        log.Sub("command"),
		typingDelay: func() time.Duration {
			return 500*time.Millisecond + time.Duration(rand.Int64N(int64(time.Second)))
		},
	}
}

type sessionPayload struct {
	SessionID string `json:"session_id"`
	OwnerID   string `json:"owner_id"`
}

func decodeSessionPayload(payload json.RawMessage) (sessionPayload, error) {
	var p sessionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, fmt.Errorf("parsing payload: %w", err)
	}
	if p.SessionID == "" {
		return p, errors.New("payload missing session_id")
	}
	return p, nil
}

// InitSession handles INIT_SESSION.
func (h *Handlers) InitSession(ctx context.Context, payload json.RawMessage) error {
	p, err := decodeSessionPayload(payload)
	if err != nil {
		return err
	}
	return h.manager.InitSession(ctx, p.SessionID, p.OwnerID)
}

// Logout handles LOGOUT.
func (h *Handlers) Logout(ctx context.Context, payload json.RawMessage) error {
	p, err := decodeSessionPayload(payload)
	if err != nil {
		return err
	}
	return h.manager.Logout(ctx, p.SessionID)
}

// DisconnectSession handles DISCONNECT_SESSION.
func (h *Handlers) DisconnectSession(ctx context.Context, payload json.RawMessage) error {
	p, err := decodeSessionPayload(payload)
	if err != nil {
		return err
	}
	return h.manager.Disconnect(ctx, p.SessionID)
}

// RestartSession handles RESTART_SESSION: a deliberate stop followed by a
// restore from persisted credentials.
func (h *Handlers) RestartSession(ctx context.Context, payload json.RawMessage) error {
	p, err := decodeSessionPayload(payload)
	if err != nil {
		return err
	}
	return h.manager.Restart(ctx, p.SessionID)
}

type updateSettingsPayload struct {
	SessionID string               `json:"session_id"`
	Settings  domain.SettingsPatch `json:"settings"`
}

// UpdateSettings handles UPDATE_SETTINGS.
func (h *Handlers) UpdateSettings(ctx context.Context, payload json.RawMessage) error {
	var p updateSettingsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if p.SessionID == "" {
		return errors.New("payload missing session_id")
	}
	merged, err := h.manager.UpdateSettings(ctx, p.SessionID, p.Settings)
	if err != nil {
		return err
	}
	h.log.Info().
		Str("sessionId", p.SessionID).
		Bool("alwaysOnline", merged.AlwaysOnline).
		Int("rateLimit", merged.RateLimitPerMinute).
		Msg("settings updated")
	return nil
}

// GetStatus handles GET_STATUS. The snapshot is logged; a future response
// channel would carry it back to the requester.
func (h *Handlers) GetStatus(ctx context.Context, payload json.RawMessage) error {
	p, err := decodeSessionPayload(payload)
	if err != nil {
		return err
	}
	snap, err := h.manager.Snapshot(p.SessionID)
	if err != nil {
		return err
	}
	h.log.Info().
		Str("sessionId", p.SessionID).
		Str("status", string(snap.Record.Status)).
		Bool("connected", snap.Connected).
		Int("reconnectAttempts", snap.ReconnectAttempts).
		Msg("session status")
	return nil
}

type sendTextPayload struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	To        string `json:"to"`
	Text      string `json:"text"`
}

// SendText handles SEND_TEXT.
func (h *Handlers) SendText(ctx context.Context, payload json.RawMessage) error {
	var p sendTextPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if p.SessionID == "" || p.To == "" {
		return errors.New("payload missing session_id or to")
	}

	messageID, err := h.ensureMessage(p.MessageID, p.SessionID)
	if err != nil {
		return err
	}

	client, ok := h.manager.Client(p.SessionID)
	if !ok {
		return h.failMessage(ctx, p.SessionID, messageID, p.To, ErrSessionUnavailable)
	}

	settings := h.manager.GetSettings(p.SessionID)
	if !h.limiter.Allow(ctx, p.SessionID, settings.RateLimitPerMinute) {
		return h.failMessage(ctx, p.SessionID, messageID, p.To, errors.New("rate limit exceeded"))
	}

	jid := formatJID(p.To)
	h.simulateTyping(ctx, client, jid, settings)

	providerID, err := client.SendText(ctx, jid, p.Text, settings.LinkPreview)
	if err != nil {
		return h.failMessage(ctx, p.SessionID, messageID, p.To, fmt.Errorf("sending text: %w", err))
	}
	return h.completeMessage(ctx, p.SessionID, messageID, p.To, providerID)
}

type sendMediaPayload struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	To        string `json:"to"`
	URL       string `json:"url"`
	Caption   string `json:"caption"`
	FileName  string `json:"file_name"`
	Voice     bool   `json:"voice"`
}

// sendMedia returns the shared handler for SEND_IMAGE, SEND_VIDEO and
// SEND_AUDIO, closed over the media type.
func (h *Handlers) sendMedia(mediaType domain.MediaType) Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var p sendMediaPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
		if p.SessionID == "" || p.To == "" || p.URL == "" {
			return errors.New("payload missing session_id, to or url")
		}

		messageID, err := h.ensureMessage(p.MessageID, p.SessionID)
		if err != nil {
			return err
		}

		client, ok := h.manager.Client(p.SessionID)
		if !ok {
			return h.failMessage(ctx, p.SessionID, messageID, p.To, ErrSessionUnavailable)
		}

		settings := h.manager.GetSettings(p.SessionID)
		if !h.limiter.Allow(ctx, p.SessionID, settings.RateLimitPerMinute) {
			return h.failMessage(ctx, p.SessionID, messageID, p.To, errors.New("rate limit exceeded"))
		}

		dl, err := h.downloader.Download(ctx, p.URL, mediaType, p.SessionID)
		if err != nil {
			return h.failMessage(ctx, p.SessionID, messageID, p.To, err)
		}
		defer func() {
			if err := h.downloader.Remove(dl.TempPath); err != nil {
				h.log.Warn().Err(err).Str("path", dl.TempPath).Msg("failed to remove temp file")
			}
		}()

		jid := formatJID(p.To)
		h.simulateTyping(ctx, client, jid, settings)

		providerID, err := client.SendMedia(ctx, jid, protocol.Media{
			Kind:     string(mediaType),
			Data:     dl.Data,
			MimeType: dl.MimeType,
			Caption:  p.Caption,
			FileName: p.FileName,
			Voice:    p.Voice && mediaType == domain.MediaAudio,
		})
		if err != nil {
			return h.failMessage(ctx, p.SessionID, messageID, p.To, fmt.Errorf("sending %s: %w", mediaType, err))
		}
		return h.completeMessage(ctx, p.SessionID, messageID, p.To, providerID)
	}
}

// ensureMessage returns the message row id, creating a pending row when the
// enqueuer did not pre-create one.
func (h *Handlers) ensureMessage(messageID, sessionID string) (string, error) {
	if messageID != "" {
		return messageID, nil
	}
	id := uuid.New().String()
	if err := h.messages.Create(id, sessionID); err != nil {
		return "", err
	}
	return id, nil
}

// simulateTyping shows a composing indicator for a short randomized spell
// before the send, when the session has the indicator enabled.
func (h *Handlers) simulateTyping(ctx context.Context, client protocol.Client, jid string, settings domain.SessionSettings) {
	if !settings.TypingIndicator {
		return
	}
	if err := client.SendPresence(ctx, protocol.PresenceComposing, jid); err != nil {
		h.log.Debug().Err(err).Msg("composing presence failed")
		return
	}
	select {
	case <-time.After(h.typingDelay()):
	case <-ctx.Done():
		return
	}
	if err := client.SendPresence(ctx, protocol.PresencePaused, jid); err != nil {
		h.log.Debug().Err(err).Msg("paused presence failed")
	}
}

// completeMessage persists the sent status and publishes message.sent.
func (h *Handlers) completeMessage(ctx context.Context, sessionID, messageID, to, providerID string) error {
	if err := h.messages.MarkSent(messageID, providerID); err != nil {
		h.log.Error().Err(err).Str("messageId", messageID).Msg("failed to mark message sent")
	}
	if err := h.events.SessionEvent(ctx, domain.EventMessageSent, sessionID, map[string]any{
		"message_id":          messageID,
		"provider_message_id": providerID,
		"to":                  to,
	}); err != nil {
		h.log.Error().Err(err).Str("messageId", messageID).Msg("failed to publish message.sent")
	}
	return nil
}

// failMessage persists the failed status, publishes message.failed and
// returns the error so the consumer records it on the errors stream too.
func (h *Handlers) failMessage(ctx context.Context, sessionID, messageID, to string, sendErr error) error {
	if err := h.messages.MarkFailed(messageID, sendErr.Error()); err != nil {
		h.log.Error().Err(err).Str("messageId", messageID).Msg("failed to mark message failed")
	}
	if err := h.events.SessionEvent(ctx, domain.EventMessageFailed, sessionID, map[string]any{
		"message_id": messageID,
		"to":         to,
		"error":      sendErr.Error(),
	}); err != nil {
		h.log.Error().Err(err).Str("messageId", messageID).Msg("failed to publish message.failed")
	}
	return sendErr
}

// formatJID turns a bare phone number into a user JID. Values already
// carrying a server part pass through unchanged.
func formatJID(to string) string {
	if strings.Contains(to, "@") {
		return to
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, to)
	return digits + "@s.whatsapp.net"
}
