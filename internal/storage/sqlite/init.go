package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// InitDB opens the SQLite database at path and creates the flips table if it doesn't exist.
func InitDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// one writer keeps claims serialized inside the process
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS flips (
		id TEXT PRIMARY KEY,
		word TEXT NOT NULL,
		background_url TEXT,
		sound_url TEXT,
		content_type TEXT DEFAULT 'undefined',
		status TEXT DEFAULT 'pending',
		locked_by TEXT,
		updated_at DATETIME
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create flips table: %w", err)
	}

	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_flips_status ON flips (status)`); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create status index: %w", err)
	}

	return db, nil
}
