package storage

import (
	"context"
	"errors"

	"github.com/italolelis/flipcache/internal/flip"
)

var (
	ErrNotFound = errors.New("flip not found")
	// ErrDownloaded is returned when claiming a flip whose resources are already stored.
	ErrDownloaded = errors.New("flip already downloaded")
)

type FlipReadRepository interface {
	GetFlip(ctx context.Context, id string) (*flip.Flip, error)
	GetPendingFlips(ctx context.Context, limit int) ([]*flip.Flip, error)
}

type FlipWriteRepository interface {
	SaveFlip(ctx context.Context, f *flip.Flip) error
	// ClaimFlip atomically moves a pending, unlocked flip to downloading under instanceID.
	ClaimFlip(ctx context.Context, id, instanceID string) (bool, error)
	// UpdateFlipStatus records the outcome of a download and releases the claim.
	UpdateFlipStatus(ctx context.Context, id string, status flip.Status, contentType flip.ContentType) error
}

type FlipRepository interface {
	FlipReadRepository
	FlipWriteRepository
}
