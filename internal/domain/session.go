// Package domain defines the canonical types shared across the gateway:
// session records, settings, command envelopes, domain events and message
// status rows.
package domain

import "time"

// SessionStatus is the persisted lifecycle state of a tenant session.
type SessionStatus string

const (
	StatusInitializing SessionStatus = "initializing"
	StatusConnecting   SessionStatus = "connecting"
	StatusConnected    SessionStatus = "connected"
	StatusDisconnected SessionStatus = "disconnected"
	StatusFailed       SessionStatus = "failed"
)

// SessionRecord mirrors one row of the sessions table. The engine owns
// status, phone_number and the timestamps; everything else is written by the
// API layer.
type SessionRecord struct {
	ID           string
	OwnerID      string
	Status       SessionStatus
	PhoneNumber  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastActiveAt time.Time
}

// SessionSettings holds the per-session runtime toggles. Exactly one record
// exists per session; absent rows fall back to DefaultSettings.
type SessionSettings struct {
	AlwaysOnline       bool `json:"always_online"`
	AutoReadMessages   bool `json:"auto_read_messages"`
	RejectCalls        bool `json:"reject_calls"`
	TypingIndicator    bool `json:"typing_indicator"`
	LinkPreview        bool `json:"link_preview"`
	RateLimitPerMinute int  `json:"rate_limit_per_minute"`
}

// DefaultSettings returns the settings applied when no record exists.
func DefaultSettings() SessionSettings {
	return SessionSettings{
		TypingIndicator:    true,
		LinkPreview:        true,
		RateLimitPerMinute: 60,
	}
}

// SettingsPatch is a partial settings update. Nil fields are left untouched;
// set fields win last-write per field.
type SettingsPatch struct {
	AlwaysOnline       *bool `json:"always_online,omitempty"`
	AutoReadMessages   *bool `json:"auto_read_messages,omitempty"`
	RejectCalls        *bool `json:"reject_calls,omitempty"`
	TypingIndicator    *bool `json:"typing_indicator,omitempty"`
	LinkPreview        *bool `json:"link_preview,omitempty"`
	RateLimitPerMinute *int  `json:"rate_limit_per_minute,omitempty"`
}

// Apply merges the patch into s, field by field.
func (p SettingsPatch) Apply(s *SessionSettings) {
	if p.AlwaysOnline != nil {
		s.AlwaysOnline = *p.AlwaysOnline
	}
	if p.AutoReadMessages != nil {
		s.AutoReadMessages = *p.AutoReadMessages
	}
	if p.RejectCalls != nil {
		s.RejectCalls = *p.RejectCalls
	}
	if p.TypingIndicator != nil {
		s.TypingIndicator = *p.TypingIndicator
	}
	if p.LinkPreview != nil {
		s.LinkPreview = *p.LinkPreview
	}
	if p.RateLimitPerMinute != nil {
		s.RateLimitPerMinute = *p.RateLimitPerMinute
	}
}
