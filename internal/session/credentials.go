package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrCredentialsNotFound is returned when a restore is attempted for a
// session that has no persisted credential material.
var ErrCredentialsNotFound = errors.New("session credentials not found")

// Credentials manages the per-session credential directories the protocol
// library persists its auth state into. The engine never reads the files
// themselves; it only creates, checks and deletes the directories.
type Credentials struct {
	root string
}

// NewCredentials creates a credential manager rooted at dir.
func NewCredentials(root string) *Credentials {
	return &Credentials{root: root}
}

// Dir returns the credential directory for a session.
func (c *Credentials) Dir(sessionID string) string {
	return filepath.Join(c.root, sessionID)
}

// EnsureDir creates the session's credential directory if needed and returns
// its path.
func (c *Credentials) EnsureDir(sessionID string) (string, error) {
	dir := c.Dir(sessionID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating credential dir for %s: %w", sessionID, err)
	}
	return dir, nil
}

// Exists reports whether the session has persisted credential material. An
// empty directory counts as absent; the library writes files on first pairing.
func (c *Credentials) Exists(sessionID string) bool {
	entries, err := os.ReadDir(c.Dir(sessionID))
	return err == nil && len(entries) > 0
}

// Delete removes the session's credential directory and everything in it.
// Called on logout and on unrecoverable session corruption.
func (c *Credentials) Delete(sessionID string) error {
	if err := os.RemoveAll(c.Dir(sessionID)); err != nil {
		return fmt.Errorf("deleting credentials for %s: %w", sessionID, err)
	}
	return nil
}
