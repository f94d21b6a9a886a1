package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/waygate/internal/domain"
)

// SettingsStore reads and writes per-session settings rows.
type SettingsStore struct {
	db *DB
}

// NewSettingsStore creates a settings store using the given database.
func NewSettingsStore(db *DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// Get returns the settings for a session. ok is false when no record exists;
// callers fall back to domain.DefaultSettings.
func (s *SettingsStore) Get(sessionID string) (domain.SessionSettings, bool, error) {
	var set domain.SessionSettings
	var alwaysOnline, autoRead, rejectCalls, typing, linkPreview int
	err := s.db.sql.QueryRow(
		`SELECT always_online, auto_read_messages, reject_calls, typing_indicator, link_preview, rate_limit_per_minute
		 FROM session_settings WHERE session_id = ?`, sessionID,
	).Scan(&alwaysOnline, &autoRead, &rejectCalls, &typing, &linkPreview, &set.RateLimitPerMinute)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionSettings{}, false, nil
	}
	if err != nil {
		return domain.SessionSettings{}, false, fmt.Errorf("loading settings for %s: %w", sessionID, err)
	}
	set.AlwaysOnline = alwaysOnline != 0
	set.AutoReadMessages = autoRead != 0
	set.RejectCalls = rejectCalls != 0
	set.TypingIndicator = typing != 0
	set.LinkPreview = linkPreview != 0
	if set.RateLimitPerMinute <= 0 {
		set.RateLimitPerMinute = domain.DefaultSettings().RateLimitPerMinute
	}
	return set, true, nil
}

// Upsert writes the full settings record for a session.
func (s *SettingsStore) Upsert(sessionID string, set domain.SessionSettings) error {
	now := time.Now().UTC().Format(time.DateTime)
	_, err := s.db.sql.Exec(
		`INSERT INTO session_settings
			(session_id, always_online, auto_read_messages, reject_calls, typing_indicator, link_preview, rate_limit_per_minute, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			always_online = excluded.always_online,
			auto_read_messages = excluded.auto_read_messages,
			reject_calls = excluded.reject_calls,
			typing_indicator = excluded.typing_indicator,
			link_preview = excluded.link_preview,
			rate_limit_per_minute = excluded.rate_limit_per_minute,
			updated_at = excluded.updated_at`,
		sessionID, b2i(set.AlwaysOnline), b2i(set.AutoReadMessages), b2i(set.RejectCalls),
		b2i(set.TypingIndicator), b2i(set.LinkPreview), set.RateLimitPerMinute, now,
	)
	if err != nil {
		return fmt.Errorf("upserting settings for %s: %w", sessionID, err)
	}
	return nil
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
