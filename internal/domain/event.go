package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event type catalog. Downstream consumers (webhook dispatcher, audit log,
// live UI) subscribe to these strings; they are append-only and must never
// be renamed.
const (
	// Outbound message lifecycle.
	EventMessageSent      = "message.sent"
	EventMessageDelivered = "message.delivered"
	EventMessageRead      = "message.read"
	EventMessageFailed    = "message.failed"

	// Inbound messages.
	EventMessageReceived         = "message.received"
	EventMessageReceivedGroup    = "message.received.group"
	EventMessageReceivedPersonal = "message.received.personal"

	// Message updates.
	EventMessageUpdated  = "message.updated"
	EventMessageDeleted  = "message.deleted"
	EventMessageReaction = "message.reaction"

	// Session lifecycle.
	EventSessionConnected    = "session.connected"
	EventSessionDisconnected = "session.disconnected"
	EventSessionQRUpdated    = "session.qr.updated"
	EventSessionReconnecting = "session.reconnecting"
	EventSessionFailed       = "session.failed"

	// Chats.
	EventChatCreated  = "chat.created"
	EventChatUpdated  = "chat.updated"
	EventChatDeleted  = "chat.deleted"
	EventChatArchived = "chat.archived"

	// Groups.
	EventGroupCreated             = "group.created"
	EventGroupUpdated             = "group.updated"
	EventGroupParticipantAdded    = "group.participant.added"
	EventGroupParticipantRemoved  = "group.participant.removed"
	EventGroupParticipantPromoted = "group.participant.promoted"
	EventGroupParticipantDemoted  = "group.participant.demoted"

	// Contacts.
	EventContactCreated = "contact.created"
	EventContactUpdated = "contact.updated"

	// Calls.
	EventCallIncoming = "call.incoming"
	EventCallMissed   = "call.missed"
)

// EventVersion is the wire version stamped on every published event.
const EventVersion = "1.0"

// Event is the unit of output appended to the events stream. Session-scoped
// events always carry session_id in the payload. Events are immutable once
// published; consumers must be idempotent against duplicate delivery.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Version   string         `json:"version"`
	Timestamp string         `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// NewEvent builds an event envelope with a fresh id and timestamp.
func NewEvent(eventType string, payload map[string]any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
}

// SessionID returns the session_id payload field, if present.
func (e Event) SessionID() (string, bool) {
	v, ok := e.Payload["session_id"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}
