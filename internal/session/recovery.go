package session

import (
	"context"
	"errors"

	"github.com/soyeahso/waygate/internal/domain"
	"github.com/soyeahso/waygate/internal/logging"
	"github.com/soyeahso/waygate/internal/store"
)

// Recovery restores sessions that were live before the last shutdown or
// crash. One failed session never blocks the rest.
type Recovery struct {
	manager  *Manager
	sessions *store.SessionStore
	log      *logging.Logger
}

// NewRecovery creates a recovery runner.
func NewRecovery(manager *Manager, sessions *store.SessionStore, log *logging.Logger) *Recovery {
	return &Recovery{manager: manager, sessions: sessions, log: log.Sub("recovery")}
}

// Run restores every session whose persisted status says it should be live.
// Sessions without credentials or with dial failures are marked failed and
// skipped.
func (r *Recovery) Run(ctx context.Context) error {
	recs, err := r.sessions.ListByStatus(domain.StatusConnected, domain.StatusConnecting)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		r.log.Info().Msg("no sessions to recover")
		return nil
	}

	r.log.Info().Int("sessions", len(recs)).Msg("recovering sessions")

	restored := 0
	for _, rec := range recs {
		if err := r.manager.RestoreSession(ctx, rec.ID); err != nil {
			if errors.Is(err, ErrCredentialsNotFound) {
				r.log.Warn().Str("sessionId", rec.ID).Msg("no credentials on disk, marking failed")
			} else {
				r.log.Error().Err(err).Str("sessionId", rec.ID).Msg("failed to restore session")
			}
			if err := r.sessions.UpdateStatus(rec.ID, domain.StatusFailed, ""); err != nil {
				r.log.Error().Err(err).Str("sessionId", rec.ID).Msg("failed to mark session failed")
			}
			continue
		}
		restored++
	}

	r.log.Info().Int("restored", restored).Int("total", len(recs)).Msg("session recovery finished")
	return nil
}
