package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/flipcache/internal/flip"
	"github.com/italolelis/flipcache/internal/telemetry"
)

// InstrumentedFlipRepository wraps FlipRepository with telemetry.
type InstrumentedFlipRepository struct {
	repo      *FlipRepository
	telemetry *telemetry.Telemetry
}

func NewInstrumentedFlipRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedFlipRepository {
	return &InstrumentedFlipRepository{
		repo:      NewFlipRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedFlipRepository) GetFlip(ctx context.Context, id string) (*flip.Flip, error) {
	var result *flip.Flip

	err := r.telemetry.InstrumentDBOperation(ctx, "get_flip", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetFlip(ctx, id)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedFlipRepository) GetPendingFlips(ctx context.Context, limit int) ([]*flip.Flip, error) {
	var result []*flip.Flip

	err := r.telemetry.InstrumentDBOperation(ctx, "get_pending_flips", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetPendingFlips(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedFlipRepository) SaveFlip(ctx context.Context, f *flip.Flip) error {
	return r.telemetry.InstrumentDBOperation(ctx, "save_flip", func(ctx context.Context) error {
		return r.repo.SaveFlip(ctx, f)
	})
}

func (r *InstrumentedFlipRepository) ClaimFlip(ctx context.Context, id, instanceID string) (bool, error) {
	var claimed bool

	err := r.telemetry.InstrumentDBOperation(ctx, "claim_flip", func(ctx context.Context) error {
		var err error

		claimed, err = r.repo.ClaimFlip(ctx, id, instanceID)

		return err
	})

	return claimed, err
}

func (r *InstrumentedFlipRepository) UpdateFlipStatus(ctx context.Context, id string, status flip.Status, contentType flip.ContentType) error {
	return r.telemetry.InstrumentDBOperation(ctx, "update_flip_status", func(ctx context.Context) error {
		return r.repo.UpdateFlipStatus(ctx, id, status, contentType)
	})
}
