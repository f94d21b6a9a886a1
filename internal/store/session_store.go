package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/waygate/internal/domain"
)

// ErrSessionNotFound is returned when a session row does not exist.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore reads and updates session rows.
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a session store using the given database.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

const sessionColumns = "id, owner_id, status, phone_number, created_at, updated_at, last_active_at"

// Get returns the session record for id, or ErrSessionNotFound.
func (s *SessionStore) Get(id string) (domain.SessionRecord, error) {
	row := s.db.sql.QueryRow(
		"SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id,
	)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionRecord{}, ErrSessionNotFound
	}
	if err != nil {
		return domain.SessionRecord{}, fmt.Errorf("loading session %s: %w", id, err)
	}
	return rec, nil
}

// ListByStatus returns all sessions whose status is one of the given values.
func (s *SessionStore) ListByStatus(statuses ...domain.SessionStatus) ([]domain.SessionRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}

	rows, err := s.db.sql.Query(
		"SELECT "+sessionColumns+" FROM sessions WHERE status IN ("+placeholders+") ORDER BY created_at",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Create inserts a new session row. Used by recovery seeds and tests; the
// API layer owns row creation in production.
func (s *SessionStore) Create(rec domain.SessionRecord) error {
	now := time.Now().UTC().Format(time.DateTime)
	_, err := s.db.sql.Exec(
		`INSERT INTO sessions (id, owner_id, status, phone_number, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OwnerID, string(rec.Status), rec.PhoneNumber, now, now,
	)
	if err != nil {
		return fmt.Errorf("creating session %s: %w", rec.ID, err)
	}
	return nil
}

// Delete removes the session row. Deleting a missing row is not an error.
func (s *SessionStore) Delete(id string) error {
	_, err := s.db.sql.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}

// UpdateStatus persists a new status (and optionally the resolved phone
// number) for a session, bumping updated_at.
func (s *SessionStore) UpdateStatus(id string, status domain.SessionStatus, phoneNumber string) error {
	now := time.Now().UTC().Format(time.DateTime)
	var err error
	if phoneNumber != "" {
		_, err = s.db.sql.Exec(
			"UPDATE sessions SET status = ?, phone_number = ?, updated_at = ? WHERE id = ?",
			string(status), phoneNumber, now, id,
		)
	} else {
		_, err = s.db.sql.Exec(
			"UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?",
			string(status), now, id,
		)
	}
	if err != nil {
		return fmt.Errorf("updating session %s status: %w", id, err)
	}
	return nil
}

// TouchLastActive updates the last_active_at timestamp.
func (s *SessionStore) TouchLastActive(id string) error {
	now := time.Now().UTC().Format(time.DateTime)
	_, err := s.db.sql.Exec(
		"UPDATE sessions SET last_active_at = ? WHERE id = ?", now, id,
	)
	if err != nil {
		return fmt.Errorf("touching session %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (domain.SessionRecord, error) {
	var rec domain.SessionRecord
	var status, createdAt, updatedAt, lastActive string
	if err := r.Scan(&rec.ID, &rec.OwnerID, &status, &rec.PhoneNumber, &createdAt, &updatedAt, &lastActive); err != nil {
		return rec, err
	}
	rec.Status = domain.SessionStatus(status)
	rec.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)
	if lastActive != "" {
		rec.LastActiveAt, _ = time.Parse(time.DateTime, lastActive)
	}
	return rec, nil
}
