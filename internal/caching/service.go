// Package caching resolves remote media URLs to local file paths, downloading
// into the volatile tier on a miss.
package caching

import (
	"context"
	"errors"
	"fmt"

	"github.com/italolelis/flipcache/internal/downloader"
	"github.com/italolelis/flipcache/internal/logctx"
	"github.com/italolelis/flipcache/internal/telemetry"
)

// ErrUnavailable wraps every failure to produce a local copy.
var ErrUnavailable = errors.New("resource unavailable")

// Store is the part of the content store the service reads.
type Store interface {
	Exists(key string) bool
	Locate(key string) (string, bool)
}

// Fetcher downloads a url into the store.
type Fetcher interface {
	Fetch(ctx context.Context, url string, temporary bool) (*downloader.Result, error)
}

// Resolution is the single value sent on the channel returned by ResolveAsync.
// Err is non-nil, wrapping ErrUnavailable, when the resource could not be cached.
type Resolution struct {
	Path string
	Err  error
}

type Service struct {
	store     Store
	fetcher   Fetcher
	telemetry *telemetry.Telemetry
}

func NewService(store Store, fetcher Fetcher, tel *telemetry.Telemetry) *Service {
	if tel == nil {
		tel = &telemetry.Telemetry{}
	}

	return &Service{store: store, fetcher: fetcher, telemetry: tel}
}

// Resolve returns a local path for url. A stored copy is returned without any
// network I/O; otherwise the resource is fetched once into the volatile tier.
func (s *Service) Resolve(ctx context.Context, url string) (string, error) {
	ctx, logger := logctx.With(ctx, "url", url)

	var path string

	err := s.telemetry.InstrumentResolve(ctx, func(ctx context.Context) (bool, error) {
		// Exists may answer from memory; Locate confirms the file is still on disk.
		if s.store.Exists(url) {
			if p, ok := s.store.Locate(url); ok {
				path = p

				return true, nil
			}

			logger.DebugContext(ctx, "cached entry vanished from disk, fetching again")
		}

		res, err := s.fetcher.Fetch(ctx, url, true)
		if err != nil {
			return false, err
		}

		path = res.Path

		return false, nil
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to resolve resource", "err", err)

		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return path, nil
}

// ResolveAsync resolves url on a new goroutine. The returned channel receives exactly
// one Resolution and is never closed before it, so an empty channel means loading.
func (s *Service) ResolveAsync(ctx context.Context, url string) <-chan Resolution {
	ch := make(chan Resolution, 1)

	go func() {
		path, err := s.Resolve(ctx, url)
		ch <- Resolution{Path: path, Err: err}
		close(ch)
	}()

	return ch
}
