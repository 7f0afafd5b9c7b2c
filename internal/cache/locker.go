package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 50 * time.Millisecond

// Locker hands out per-key exclusive file locks, so writers in other processes
// sharing the same cache directories are serialized too.
type Locker struct {
	locksDir string
}

func NewLocker(locksDir string) *Locker {
	return &Locker{locksDir: locksDir}
}

func (l *Locker) lockPath(id string) string {
	name := strings.NewReplacer("/", "-", "\\", "-", ":", "-").Replace(id) + ".lock"

	return filepath.Join(l.locksDir, name)
}

// AcquireExclusive blocks until the lock for id is held or ctx is done.
// The returned function releases the lock.
func (l *Locker) AcquireExclusive(ctx context.Context, id string) (unlock func() error, err error) {
	if err := os.MkdirAll(l.locksDir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create locks directory: %w", err)
	}

	fl := flock.New(l.lockPath(id))

	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if !locked {
		return nil, fmt.Errorf("failed to acquire lock: %v", ctx.Err())
	}

	return fl.Unlock, nil
}
