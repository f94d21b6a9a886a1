package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/waygate/internal/domain"
)

// ErrMessageNotFound is returned when a message row does not exist.
var ErrMessageNotFound = errors.New("message not found")

// MessageStore updates delivery status on message rows. Rows are created by
// the API layer when a send command is enqueued; the engine only moves them
// through the status lifecycle.
type MessageStore struct {
	db *DB
}

// NewMessageStore creates a message store using the given database.
func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{db: db}
}

// Create inserts a pending message row. Used by tests and recovery seeds.
func (s *MessageStore) Create(id, sessionID string) error {
	_, err := s.db.sql.Exec(
		"INSERT INTO messages (id, session_id, status) VALUES (?, ?, ?)",
		id, sessionID, string(domain.MessagePending),
	)
	if err != nil {
		return fmt.Errorf("creating message %s: %w", id, err)
	}
	return nil
}

// Get returns the message record for id, or ErrMessageNotFound.
func (s *MessageStore) Get(id string) (domain.MessageRecord, error) {
	var rec domain.MessageRecord
	var status, sentAt, deliveredAt, readAt string
	err := s.db.sql.QueryRow(
		`SELECT id, session_id, status, provider_message_id, error_message, sent_at, delivered_at, read_at
		 FROM messages WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.SessionID, &status, &rec.ProviderMessageID, &rec.ErrorMessage, &sentAt, &deliveredAt, &readAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MessageRecord{}, ErrMessageNotFound
	}
	if err != nil {
		return domain.MessageRecord{}, fmt.Errorf("loading message %s: %w", id, err)
	}
	rec.Status = domain.MessageStatus(status)
	if sentAt != "" {
		rec.SentAt, _ = time.Parse(time.DateTime, sentAt)
	}
	if deliveredAt != "" {
		rec.DeliveredAt, _ = time.Parse(time.DateTime, deliveredAt)
	}
	if readAt != "" {
		rec.ReadAt, _ = time.Parse(time.DateTime, readAt)
	}
	return rec, nil
}

// MarkSent records a successful send with the provider-assigned message id.
func (s *MessageStore) MarkSent(id, providerMessageID string) error {
	now := time.Now().UTC().Format(time.DateTime)
	_, err := s.db.sql.Exec(
		"UPDATE messages SET status = ?, provider_message_id = ?, sent_at = ? WHERE id = ?",
		string(domain.MessageSent), providerMessageID, now, id,
	)
	if err != nil {
		return fmt.Errorf("marking message %s sent: %w", id, err)
	}
	return nil
}

// MarkFailed records a failed send with the error message.
func (s *MessageStore) MarkFailed(id, errorMessage string) error {
	_, err := s.db.sql.Exec(
		"UPDATE messages SET status = ?, error_message = ? WHERE id = ?",
		string(domain.MessageFailed), errorMessage, id,
	)
	if err != nil {
		return fmt.Errorf("marking message %s failed: %w", id, err)
	}
	return nil
}

// MarkDelivered records a delivery receipt.
func (s *MessageStore) MarkDelivered(id string) error {
	now := time.Now().UTC().Format(time.DateTime)
	_, err := s.db.sql.Exec(
		"UPDATE messages SET status = ?, delivered_at = ? WHERE id = ?",
		string(domain.MessageDelivered), now, id,
	)
	if err != nil {
		return fmt.Errorf("marking message %s delivered: %w", id, err)
	}
	return nil
}

// MarkRead records a read receipt.
func (s *MessageStore) MarkRead(id string) error {
	now := time.Now().UTC().Format(time.DateTime)
	_, err := s.db.sql.Exec(
		"UPDATE messages SET status = ?, read_at = ? WHERE id = ?",
		string(domain.MessageRead), now, id,
	)
	if err != nil {
		return fmt.Errorf("marking message %s read: %w", id, err)
	}
	return nil
}
