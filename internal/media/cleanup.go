package media

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/soyeahso/waygate/internal/logging"
)

const (
	sweepInterval = time.Hour
	maxTempAge    = time.Hour
)

// Sweeper periodically removes stale temp files left behind by crashed or
// interrupted downloads.
type Sweeper struct {
	tempDir  string
	interval time.Duration
	maxAge   time.Duration
	log      *logging.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSweeper creates a sweeper over tempDir. Zero interval and maxAge fall
// back to one hour each.
func NewSweeper(tempDir string, interval, maxAge time.Duration, log *logging.Logger) *Sweeper {
	if interval == 0 {
		interval = sweepInterval
	}
	if maxAge == 0 {
		maxAge = maxTempAge
	}
	return &Sweeper{
		tempDir:  tempDir,
		interval: interval,
		maxAge:   maxAge,
		log:      log.Sub("media-sweeper"),
	}
}

// Start runs the sweep loop in a goroutine until Stop or ctx cancellation.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.log.Info().Str("dir", s.tempDir).Dur("interval", s.interval).Msg("media sweeper started")
		for {
			select {
			case <-ctx.Done():
				s.log.Info().Msg("media sweeper stopped")
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Sweep deletes temp files older than maxAge and prunes session directories
// left empty. Errors on individual entries are logged and skipped.
func (s *Sweeper) Sweep() {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Error().Err(err).Str("dir", s.tempDir).Msg("failed to read temp dir")
		}
		return
	}

	cutoff := time.Now().Add(-s.maxAge)
	removed := 0

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sessionDir := filepath.Join(s.tempDir, entry.Name())
		removed += s.sweepSessionDir(sessionDir, cutoff)

		if remaining, err := os.ReadDir(sessionDir); err == nil && len(remaining) == 0 {
			if err := os.Remove(sessionDir); err != nil {
				s.log.Warn().Err(err).Str("dir", sessionDir).Msg("failed to prune empty session dir")
			}
		}
	}

	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("swept stale media files")
	}
}

func (s *Sweeper) sweepSessionDir(dir string, cutoff time.Time) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.log.Warn().Err(err).Str("dir", dir).Msg("failed to read session dir")
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.log.Warn().Err(err).Str("file", path).Msg("failed to remove stale file")
			continue
		}
		removed++
	}
	return removed
}
