// Package protocol defines the boundary to the external messaging wire
// protocol library. The library itself is a black box: it exposes a
// socket-like client with event hooks and send primitives, and persists its
// own credential material under the directory it is given. This package only
// describes that surface; Fake* in fake.go stands in for it in tests.
package protocol

import (
	"context"
	"time"
)

// DisconnectReason classifies why a connection closed. The five-way branch
// in the session manager's state machine hangs off this value.
type DisconnectReason int

const (
	ReasonUnknown DisconnectReason = iota
	ReasonLoggedOut
	ReasonConnectionReplaced
	ReasonBadSession
	ReasonRestartRequired
	ReasonConnectionClosed
	ReasonConnectionLost
	ReasonTimedOut
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonLoggedOut:
		return "logged_out"
	case ReasonConnectionReplaced:
		return "connection_replaced"
	case ReasonBadSession:
		return "bad_session"
	case ReasonRestartRequired:
		return "restart_required"
	case ReasonConnectionClosed:
		return "connection_closed"
	case ReasonConnectionLost:
		return "connection_lost"
	case ReasonTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Phase marks the connection-phase signal of an update.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseOpen
	PhaseClose
)

// ConnectionUpdate carries the three orthogonal signals the library may emit:
// a pairing challenge, a phase marker, and (on close) a disconnect reason.
// Updates for one session are delivered in order, never concurrently.
type ConnectionUpdate struct {
	QR     string
	Phase  Phase
	Reason DisconnectReason
}

// Presence values accepted by SendPresence.
type Presence string

const (
	PresenceAvailable Presence = "available"
	PresenceComposing Presence = "composing"
	PresencePaused    Presence = "paused"
)

// MessageKey identifies one protocol-native message.
type MessageKey struct {
	ID          string
	RemoteJID   string
	Participant string
	FromMe      bool
}

// MessageKind is the protocol-native content kind of an inbound message.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindVideo    MessageKind = "video"
	KindAudio    MessageKind = "audio"
	KindDocument MessageKind = "document"
	KindSticker  MessageKind = "sticker"
	KindLocation MessageKind = "location"
	KindContact  MessageKind = "contact"
	KindReaction MessageKind = "reaction"
	KindUnknown  MessageKind = "unknown"
)

// Message is the protocol-native inbound message shape, before normalization.
type Message struct {
	Key        MessageKey
	PushName   string
	Timestamp  time.Time
	Kind       MessageKind
	Text       string
	Caption    string
	MimeType   string
	FileName   string
	FileSize   int64
	Latitude   float64
	Longitude  float64
	LocName    string
	LocAddress string
	Reaction   string
	ReactionTo string
	QuotedID   string
}

// Call is an incoming call notification.
type Call struct {
	ID     string
	From   string
	Status string // "offer" while ringing
}

// Media is an outbound media payload.
type Media struct {
	Kind     string // image, video, audio
	Data     []byte
	MimeType string
	Caption  string
	FileName string
	Voice    bool // push-to-talk voice note, audio only
}

// Hooks are the event subscriptions registered on a freshly dialed client.
// The library invokes them from its own read loop; implementations must not
// block for long and must never panic into the library.
type Hooks struct {
	OnConnectionUpdate func(ConnectionUpdate)
	OnMessages         func([]Message)
	OnCall             func([]Call)
}

// DialConfig configures a new connection. The knobs mirror the
// low-intrusiveness profile the gateway always uses: no immediate presence
// broadcast, no full history sync, bounded timeouts, no link previews.
type DialConfig struct {
	SessionID           string
	CredsDir            string // library reads and persists credentials here
	MarkOnlineOnConnect bool
	SyncFullHistory     bool
	KeepAliveInterval   time.Duration
	ConnectTimeout      time.Duration
	QueryTimeout        time.Duration
	GenerateLinkPreview bool
	Hooks               Hooks
}

// Client is one live socket-like protocol session. All methods suspend on
// the wire; callers pass a context for cancellation.
type Client interface {
	// Identity returns the resolved phone-number identity, empty until the
	// connection has opened.
	Identity() string

	// SendText sends a text message to the given JID and returns the
	// provider-assigned message id.
	SendText(ctx context.Context, jid, text string, linkPreview bool) (string, error)

	// SendMedia sends a media message and returns the provider message id.
	SendMedia(ctx context.Context, jid string, media Media) (string, error)

	// SendPresence broadcasts a presence update. An empty jid targets the
	// session's own presence.
	SendPresence(ctx context.Context, presence Presence, jid string) error

	// MarkRead marks the given inbound messages as read.
	MarkRead(ctx context.Context, keys []MessageKey) error

	// RejectCall declines an incoming call offer.
	RejectCall(ctx context.Context, callID, from string) error

	// Logout invalidates the credentials server-side and closes the socket.
	Logout(ctx context.Context) error

	// Close closes the socket without invalidating credentials.
	Close(ctx context.Context) error
}

// Dialer opens protocol connections. The production implementation lives
// outside this repo; tests use FakeDialer.
type Dialer interface {
	Dial(ctx context.Context, cfg DialConfig) (Client, error)
}
