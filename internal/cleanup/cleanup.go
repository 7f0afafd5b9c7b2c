package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/italolelis/flipcache/internal/cache"
	"github.com/italolelis/flipcache/internal/logctx"
	"github.com/italolelis/flipcache/internal/telemetry"
)

// DeleteExpiredFiles deletes the entries whose modification time is older than
// keepDuration and returns how many were removed. Files that vanished meanwhile are skipped.
func DeleteExpiredFiles(ctx context.Context, entries []cache.Entry, keepDuration time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	var deleted int

	for _, e := range entries {
		if now.Sub(e.ModTime) <= keepDuration {
			continue
		}

		if err := os.Remove(e.Path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			logger.Error("failed to delete expired file", "path", e.Path, "err", err)

			return deleted, err
		}

		deleted++

		logger.Debug("deleted expired file", "path", e.Path, "age", now.Sub(e.ModTime).Round(time.Second))
	}

	return deleted, nil
}

// Sweeper reclaims the volatile tier and reports disk usage for every tier.
type Sweeper struct {
	store     *cache.Store
	telemetry *telemetry.Telemetry
	retention time.Duration
	interval  time.Duration
}

func NewSweeper(store *cache.Store, tel *telemetry.Telemetry, retention, interval time.Duration) *Sweeper {
	if tel == nil {
		tel = &telemetry.Telemetry{}
	}

	return &Sweeper{store: store, telemetry: tel, retention: retention, interval: interval}
}

// Sweep runs one pass: expire volatile files, then record usage. A failed pass is
// counted as a system error.
func (s *Sweeper) Sweep(ctx context.Context) error {
	if err := s.sweep(ctx); err != nil {
		s.telemetry.RecordSystemError("cleanup", "sweep")

		return err
	}

	return nil
}

func (s *Sweeper) sweep(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	entries, err := s.store.Entries(cache.TierVolatile)
	if err != nil {
		return err
	}

	deleted, err := DeleteExpiredFiles(ctx, entries, s.retention)
	s.telemetry.RecordVolatileEvictions(deleted)

	if deleted > 0 {
		logger.Info("volatile tier swept", "deleted", deleted, "retention", s.retention)
	}

	if err != nil {
		return err
	}

	for _, tier := range []cache.Tier{cache.TierDurable, cache.TierVolatile, cache.TierThumbnails} {
		usage, err := s.store.DiskUsage(tier)
		if err != nil {
			logger.Warn("failed to compute disk usage", "tier", tier.String(), "err", err)

			continue
		}

		s.telemetry.RecordDiskUsage(tier.String(), usage)
	}

	return nil
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			if err := s.Sweep(ctx); err != nil {
				logger.Error("volatile sweep failed", "err", err)
			}

			select {
			case <-ctx.Done():
				logger.Info("shutting down sweeper")

				return
			case <-ticker.C:
			}
		}
	}()
}
