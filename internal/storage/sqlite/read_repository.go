package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/italolelis/flipcache/internal/flip"
	"github.com/italolelis/flipcache/internal/storage"
)

const selectFlip = `SELECT id, word, background_url, sound_url, content_type, status, updated_at FROM flips`

type FlipReadRepository struct {
	db *sql.DB
}

func NewFlipReadRepository(dbConn *sql.DB) *FlipReadRepository {
	return &FlipReadRepository{db: dbConn}
}

func (r *FlipReadRepository) GetFlip(ctx context.Context, id string) (*flip.Flip, error) {
	row := r.db.QueryRowContext(ctx, selectFlip+` WHERE id = ?`, id)

	f, err := scanFlip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}

	return f, err
}

// GetPendingFlips returns flips that are pending and not locked, oldest first, up to a limit.
func (r *FlipReadRepository) GetPendingFlips(ctx context.Context, limit int) ([]*flip.Flip, error) {
	rows, err := r.db.QueryContext(ctx,
		selectFlip+`
		WHERE status = 'pending'
		AND (locked_by IS NULL OR locked_by = '')
		ORDER BY updated_at
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var flips []*flip.Flip

	for rows.Next() {
		f, err := scanFlip(rows)
		if err != nil {
			return nil, err
		}

		flips = append(flips, f)
	}

	return flips, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFlip(s scanner) (*flip.Flip, error) {
	var (
		f                    flip.Flip
		background, sound    sql.NullString
		contentType, updated sql.NullString
		status               string
	)

	if err := s.Scan(&f.ID, &f.Word, &background, &sound, &contentType, &status, &updated); err != nil {
		return nil, err
	}

	f.BackgroundURL = background.String
	f.SoundURL = sound.String
	f.BackgroundContentType = flip.ParseContentType(contentType.String)
	f.Status = flip.Status(status)

	if updated.Valid {
		if t, err := time.Parse(timeLayout, updated.String); err == nil {
			f.UpdatedAt = t
		}
	}

	return &f, nil
}
