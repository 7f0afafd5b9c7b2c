package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/italolelis/flipcache/internal/flip"
	"github.com/italolelis/flipcache/internal/storage"
)

// FlipWriteRepository implements storage.FlipWriteRepository
// and stores flip records in SQLite.
type FlipWriteRepository struct {
	db *sql.DB
}

func NewFlipWriteRepository(db *sql.DB) *FlipWriteRepository {
	return &FlipWriteRepository{db: db}
}

// SaveFlip inserts the flip, or overwrites its urls and status if the id exists.
func (r *FlipWriteRepository) SaveFlip(ctx context.Context, f *flip.Flip) error {
	if f.Status == "" {
		f.Status = flip.StatusPending
	}

	f.UpdatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO flips (id, word, background_url, sound_url, content_type, status, locked_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL, ?)
		ON CONFLICT(id) DO UPDATE SET
			word = excluded.word,
			background_url = excluded.background_url,
			sound_url = excluded.sound_url,
			content_type = excluded.content_type,
			status = excluded.status,
			locked_by = NULL,
			updated_at = excluded.updated_at`,
		f.ID, f.Word, f.BackgroundURL, f.SoundURL, f.BackgroundContentType.String(), string(f.Status),
		f.UpdatedAt.Format(timeLayout),
	)

	return err
}

// ClaimFlip atomically sets status to 'downloading' and locked_by to instanceID if status is 'pending'.
func (r *FlipWriteRepository) ClaimFlip(ctx context.Context, id, instanceID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE flips SET status = 'downloading', locked_by = ?, updated_at = ?
		WHERE id = ? AND status = 'pending' AND (locked_by IS NULL OR locked_by = '')`,
		instanceID, time.Now().UTC().Format(timeLayout), id,
	)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if affected > 0 {
		return true, nil
	}

	var status string

	err = r.db.QueryRowContext(ctx, `SELECT status FROM flips WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, storage.ErrNotFound
	}

	if err != nil {
		return false, err
	}

	if flip.Status(status) == flip.StatusDownloaded {
		return false, storage.ErrDownloaded
	}

	return false, nil
}

// UpdateFlipStatus sets the status and background classification and releases the claim.
func (r *FlipWriteRepository) UpdateFlipStatus(ctx context.Context, id string, status flip.Status, contentType flip.ContentType) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE flips SET status = ?, content_type = ?, locked_by = NULL, updated_at = ? WHERE id = ?`,
		string(status), contentType.String(), time.Now().UTC().Format(timeLayout), id,
	)
	if err != nil {
		return err
	}

	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}
