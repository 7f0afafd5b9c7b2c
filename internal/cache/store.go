package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/italolelis/flipcache/internal/logctx"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	thumbnailsFolder = "thumbnails"
	locksFolder      = ".locks"
	partialPrefix    = ".partial-"
)

// Tier selects one of the store's directories.
type Tier int

const (
	TierDurable Tier = iota
	TierVolatile
	TierThumbnails
)

func (t Tier) String() string {
	switch t {
	case TierDurable:
		return "durable"
	case TierVolatile:
		return "volatile"
	case TierThumbnails:
		return "thumbnails"
	default:
		return "unknown"
	}
}

func tierFor(temporary bool) Tier {
	if temporary {
		return TierVolatile
	}

	return TierDurable
}

// WriteResult tells a writer whether its bytes landed on disk.
type WriteResult int

const (
	Written WriteResult = iota + 1
	// AlreadyStored means the target existed and the write was a no-op (first writer wins).
	AlreadyStored
)

func (r WriteResult) String() string {
	switch r {
	case Written:
		return "written"
	case AlreadyStored:
		return "already_stored"
	default:
		return "unknown"
	}
}

// Entry describes one stored file.
type Entry struct {
	Tier    Tier
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

type Config struct {
	DurableDir         string
	VolatileDir        string
	MemoryTTL          time.Duration // zero disables the in-memory tier
	MemoryMaxEntrySize int64
}

// Store is the two-tier on-disk resource store keyed by remote URL.
type Store struct {
	durableDir    string
	volatileDir   string
	thumbnailsDir string

	memory         *gocache.Cache
	maxMemoryEntry int64
	locker         *Locker
}

// New creates the store, making its directories if they are absent.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DurableDir == "" || cfg.VolatileDir == "" {
		return nil, errors.New("durable and volatile directories are required")
	}

	s := &Store{
		durableDir:     cfg.DurableDir,
		volatileDir:    cfg.VolatileDir,
		thumbnailsDir:  filepath.Join(cfg.DurableDir, thumbnailsFolder),
		maxMemoryEntry: cfg.MemoryMaxEntrySize,
		locker:         NewLocker(filepath.Join(cfg.DurableDir, locksFolder)),
	}

	if cfg.MemoryTTL > 0 {
		s.memory = gocache.New(cfg.MemoryTTL, 2*cfg.MemoryTTL)
	}

	logger := logctx.LoggerFromContext(ctx)

	for _, dir := range []string{s.durableDir, s.volatileDir, s.thumbnailsDir} {
		if _, err := os.Stat(dir); err == nil {
			logger.Debug("cache directory exists", "dir", dir)

			continue
		}

		if err := os.MkdirAll(dir, dirPerm); err != nil {
			logger.Error("failed to create cache directory", "dir", dir, "err", err)

			return nil, &StorageError{Op: "mkdir", Path: dir, Err: err}
		}

		logger.Info("cache directory created", "dir", dir)
	}

	return s, nil
}

// FileName derives the on-disk name for a key: the last segment of the URL path.
// Distinct URLs sharing that segment alias to the same entry.
func FileName(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	p := key
	if u, err := url.Parse(key); err == nil && (u.Scheme != "" || u.Host != "") {
		p = u.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}

	name := path.Base(p)
	switch name {
	case "", ".", "..", "/":
		return "", fmt.Errorf("%w: %q has no file name", ErrInvalidKey, key)
	}

	return name, nil
}

// Dir returns the directory backing a tier.
func (s *Store) Dir(t Tier) string {
	switch t {
	case TierVolatile:
		return s.volatileDir
	case TierThumbnails:
		return s.thumbnailsDir
	default:
		return s.durableDir
	}
}

// PathFor resolves the file path of key in the durable or volatile tier. No I/O.
func (s *Store) PathFor(key string, temporary bool) (string, error) {
	name, err := FileName(key)
	if err != nil {
		return "", err
	}

	return filepath.Join(s.Dir(tierFor(temporary)), name), nil
}

// Exists reports whether key is held in memory or stored in either tier.
func (s *Store) Exists(key string) bool {
	if s.memory != nil {
		if _, ok := s.memory.Get(key); ok {
			return true
		}
	}

	name, err := FileName(key)
	if err != nil {
		return false
	}

	return fileExists(filepath.Join(s.durableDir, name)) || fileExists(filepath.Join(s.volatileDir, name))
}

// Locate re-validates on disk where key is stored, volatile tier first.
func (s *Store) Locate(key string) (string, bool) {
	name, err := FileName(key)
	if err != nil {
		return "", false
	}

	for _, dir := range []string{s.volatileDir, s.durableDir} {
		p := filepath.Join(dir, name)
		if fileExists(p) {
			return p, true
		}
	}

	return "", false
}

// Write stores data under key unless a file is already there.
func (s *Store) Write(ctx context.Context, data []byte, key string, temporary bool) (WriteResult, error) {
	_, res, err := s.WriteFrom(ctx, bytes.NewReader(data), key, temporary)

	return res, err
}

// WriteFrom streams r into the tier file for key. The file appears atomically;
// if it already exists r is not consumed and AlreadyStored is returned.
func (s *Store) WriteFrom(ctx context.Context, r io.Reader, key string, temporary bool) (int64, WriteResult, error) {
	name, err := FileName(key)
	if err != nil {
		return 0, 0, err
	}

	tier := tierFor(temporary)

	return s.writeOnce(ctx, r, tier, name)
}

func (s *Store) writeOnce(ctx context.Context, r io.Reader, tier Tier, name string) (int64, WriteResult, error) {
	target := filepath.Join(s.Dir(tier), name)
	if fileExists(target) {
		return 0, AlreadyStored, nil
	}

	unlock, err := s.locker.AcquireExclusive(ctx, tier.String()+"-"+name)
	if err != nil {
		return 0, 0, &StorageError{Op: "lock", Path: target, Err: err}
	}
	defer unlock()

	// another writer may have finished while we waited for the lock
	if fileExists(target) {
		return 0, AlreadyStored, nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), partialPrefix+"*")
	if err != nil {
		return 0, 0, &StorageError{Op: "create", Path: target, Err: err}
	}

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return n, 0, &StorageError{Op: "write", Path: target, Err: err}
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return n, 0, &StorageError{Op: "close", Path: target, Err: err}
	}

	if err := os.Chmod(tmp.Name(), filePerm); err != nil {
		os.Remove(tmp.Name())

		return n, 0, &StorageError{Op: "chmod", Path: target, Err: err}
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())

		return n, 0, &StorageError{Op: "rename", Path: target, Err: err}
	}

	return n, Written, nil
}

// Read returns the stored bytes for key, checking memory, then the volatile tier,
// then the durable tier. The returned slice may be shared and must not be modified.
func (s *Store) Read(key string) ([]byte, error) {
	if s.memory != nil {
		if v, ok := s.memory.Get(key); ok {
			if data, ok := v.([]byte); ok {
				return data, nil
			}
		}
	}

	name, err := FileName(key)
	if err != nil {
		return nil, err
	}

	for _, dir := range []string{s.volatileDir, s.durableDir} {
		p := filepath.Join(dir, name)

		data, err := os.ReadFile(p)
		if err == nil {
			s.remember(key, data)

			return data, nil
		}

		if !errors.Is(err, fs.ErrNotExist) {
			return nil, &StorageError{Op: "read", Path: p, Err: err}
		}
	}

	return nil, ErrNotFound
}

func (s *Store) remember(key string, data []byte) {
	if s.memory == nil || int64(len(data)) > s.maxMemoryEntry {
		return
	}

	s.memory.Set(key, data, gocache.DefaultExpiration)
}

// Remove deletes key from one tier and from memory. Missing files are not an error.
func (s *Store) Remove(key string, temporary bool) error {
	p, err := s.PathFor(key, temporary)
	if err != nil {
		return err
	}

	if s.memory != nil {
		s.memory.Delete(key)
	}

	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &StorageError{Op: "remove", Path: p, Err: err}
	}

	return nil
}

// SaveThumbnail stores a thumbnail for key, write-once like the media tiers.
func (s *Store) SaveThumbnail(ctx context.Context, data []byte, key string) (WriteResult, error) {
	name, err := FileName(key)
	if err != nil {
		return 0, err
	}

	_, res, err := s.writeOnce(ctx, bytes.NewReader(data), TierThumbnails, name)

	return res, err
}

func (s *Store) Thumbnail(key string) ([]byte, error) {
	name, err := FileName(key)
	if err != nil {
		return nil, err
	}

	p := filepath.Join(s.thumbnailsDir, name)

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, &StorageError{Op: "read", Path: p, Err: err}
	}

	return data, nil
}

// Entries lists the files stored in a tier, skipping partial writes and subdirectories.
func (s *Store) Entries(t Tier) ([]Entry, error) {
	dir := s.Dir(t)

	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, &StorageError{Op: "list", Path: dir, Err: err}
	}

	entries := make([]Entry, 0, len(items))

	for _, item := range items {
		if item.IsDir() || strings.HasPrefix(item.Name(), ".") {
			continue
		}

		info, err := item.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}

		entries = append(entries, Entry{
			Tier:    t,
			Name:    item.Name(),
			Path:    filepath.Join(dir, item.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	return entries, nil
}

// DiskUsage sums the sizes of the files in a tier.
func (s *Store) DiskUsage(t Tier) (int64, error) {
	entries, err := s.Entries(t)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, e := range entries {
		total += e.Size
	}

	return total, nil
}

func fileExists(p string) bool {
	info, err := os.Stat(p)

	return err == nil && !info.IsDir()
}
