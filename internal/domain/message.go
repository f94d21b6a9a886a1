package domain

import "time"

// MessageStatus tracks the delivery state of an outbound message row.
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
)

// MessageRecord mirrors one row of the messages table.
type MessageRecord struct {
	ID                string
	SessionID         string
	Status            MessageStatus
	ProviderMessageID string
	ErrorMessage      string
	SentAt            time.Time
	DeliveredAt       time.Time
	ReadAt            time.Time
}

// MediaType discriminates the three media-bearing send commands.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
)

// MaxMediaSize returns the per-type download cap in bytes.
func MaxMediaSize(t MediaType) int64 {
	if t == MediaVideo {
		return 64 << 20
	}
	return 16 << 20
}

// AllowedMimeTypes returns the MIME whitelist for a media type.
func AllowedMimeTypes(t MediaType) []string {
	switch t {
	case MediaImage:
		return []string{"image/jpeg", "image/png", "image/webp", "image/gif"}
	case MediaVideo:
		return []string{"video/mp4", "video/3gpp", "video/quicktime", "video/webm"}
	case MediaAudio:
		return []string{"audio/mpeg", "audio/ogg", "audio/aac", "audio/wav", "audio/mp4", "audio/opus"}
	default:
		return nil
	}
}

// ValidMediaType reports whether t is one of image, video or audio.
func ValidMediaType(t MediaType) bool {
	return t == MediaImage || t == MediaVideo || t == MediaAudio
}
