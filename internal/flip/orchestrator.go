package flip

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/italolelis/flipcache/internal/logctx"
	"github.com/italolelis/flipcache/internal/telemetry"
)

const defaultBatchSize = 50

// Repository is what the orchestrator needs from flip persistence.
type Repository interface {
	GetPendingFlips(ctx context.Context, limit int) ([]*Flip, error)
	ClaimFlip(ctx context.Context, id, instanceID string) (bool, error)
}

// Orchestrator hands pending flips to the downloader. Each flip is claimed under
// this instance's id before it is queued, so several processes can share a database.
type Orchestrator struct {
	repo            Repository
	instanceID      string
	pollingInterval time.Duration
	batchSize       int
	telemetry       *telemetry.Telemetry

	OnDownloadQueued chan *Flip
}

func NewOrchestrator(repo Repository, instanceID string, pollingInterval time.Duration, tel *telemetry.Telemetry) *Orchestrator {
	if tel == nil {
		tel = &telemetry.Telemetry{}
	}

	return &Orchestrator{
		repo:            repo,
		instanceID:      instanceID,
		pollingInterval: pollingInterval,
		batchSize:       defaultBatchSize,
		telemetry:       tel,

		OnDownloadQueued: make(chan *Flip),
	}
}

func (o *Orchestrator) Close() {
	close(o.OnDownloadQueued)
}

// ProduceDownloads polls for pending flips every polling interval until ctx is done.
// A panic in a poll is logged and the loop restarts.
func (o *Orchestrator) ProduceDownloads(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("watching pending flips", "polling_interval", o.pollingInterval)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("flip orchestrator panic",
					"operation", "produce_downloads",
					"panic", r,
					"stack", string(debug.Stack()))
				o.telemetry.RecordSystemError("orchestrator", "panic")

				if ctx.Err() == nil {
					logger.Info("restarting flip orchestrator after panic", "operation", "produce_downloads")
					time.Sleep(time.Second)
					o.ProduceDownloads(ctx)
				}
			}
		}()

		ticker := time.NewTicker(o.pollingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("flip orchestrator shutdown",
					"operation", "produce_downloads",
					"reason", "context_cancelled")

				return
			case <-ticker.C:
				if err := o.queuePending(ctx); err != nil {
					logger.Error("failed to queue pending flips", "err", err)
				}
			}
		}
	}()
}

func (o *Orchestrator) queuePending(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	flips, err := o.repo.GetPendingFlips(ctx, o.batchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending flips: %w", err)
	}

	if len(flips) == 0 {
		return nil
	}

	logger.Debug("pending flips", "flip_count", len(flips))

	for _, f := range flips {
		flipLogger := logger.With("flip_id", f.ID)

		if !f.IsDownloadable() {
			flipLogger.Debug("skipping flip without resources")

			continue
		}

		claimed, err := o.repo.ClaimFlip(ctx, f.ID, o.instanceID)
		if err != nil {
			flipLogger.Warn("failed to claim flip", "err", err)

			continue
		}

		if !claimed {
			flipLogger.Debug("skipping flip because it's already claimed")

			continue
		}

		f.Status = StatusDownloading

		flipLogger.Info("flip ready for download")

		select {
		case o.OnDownloadQueued <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}
