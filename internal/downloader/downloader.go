package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/italolelis/flipcache/internal/cache"
	"github.com/italolelis/flipcache/internal/downloader/progress"
	"github.com/italolelis/flipcache/internal/events"
	"github.com/italolelis/flipcache/internal/flip"
	"github.com/italolelis/flipcache/internal/inflight"
	"github.com/italolelis/flipcache/internal/logctx"
	"github.com/italolelis/flipcache/internal/telemetry"
)

const (
	DefaultTimeout     = 60 * time.Second
	DefaultMaxParallel = 5

	progressInterval = int64(10 * 1024 * 1024) // 10MB
)

// Result describes a resource that is now in the store.
type Result struct {
	URL         string
	Path        string
	Size        int64
	ContentType flip.ContentType
	// Stored is AlreadyStored when another writer put the file there first.
	Stored cache.WriteResult
}

type Options struct {
	Timeout     time.Duration
	MaxParallel int
	// Transport is wrapped with otelhttp; nil means http.DefaultTransport.
	Transport http.RoundTripper
}

type Downloader struct {
	store       *cache.Store
	tracker     *inflight.Tracker[*Result]
	bus         *events.Bus
	telemetry   *telemetry.Telemetry
	client      *http.Client
	maxParallel int
}

func New(
	store *cache.Store,
	tracker *inflight.Tracker[*Result],
	bus *events.Bus,
	tel *telemetry.Telemetry,
	opts Options,
) *Downloader {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	if opts.MaxParallel <= 0 {
		opts.MaxParallel = DefaultMaxParallel
	}

	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}

	if tel == nil {
		tel = &telemetry.Telemetry{}
	}

	return &Downloader{
		store:     store,
		tracker:   tracker,
		bus:       bus,
		telemetry: tel,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(opts.Transport, otelhttp.WithTracerProvider(tel.TracerProvider())),
		},
		maxParallel: opts.MaxParallel,
	}
}

// InFlight returns the urls being downloaded right now.
func (d *Downloader) InFlight() []string {
	return d.tracker.Keys()
}

// Fetch downloads url into the store unless a download for it is already running,
// in which case it waits for that one. The download does not stop when ctx is
// cancelled; only the wait does.
func (d *Downloader) Fetch(ctx context.Context, url string, temporary bool) (*Result, error) {
	if err := flip.ValidateURL(url); err != nil {
		return nil, err
	}

	ctx, logger := logctx.With(ctx, "url", url)

	res, shared, err := d.tracker.Do(ctx, url, func() (*Result, error) {
		return d.fetch(context.WithoutCancel(ctx), url, temporary)
	})
	if shared {
		d.telemetry.RecordInflightJoin()
		logger.DebugContext(ctx, "joined in-flight download")
	}

	if err != nil {
		return nil, err
	}

	return res, nil
}

// FetchAsync runs Fetch on a new goroutine and calls onComplete on that same goroutine.
func (d *Downloader) FetchAsync(ctx context.Context, url string, temporary bool, onComplete func(*Result, error)) {
	go func() {
		res, err := d.Fetch(ctx, url, temporary)
		if onComplete != nil {
			onComplete(res, err)
		}
	}()
}

func (d *Downloader) fetch(ctx context.Context, url string, temporary bool) (*Result, error) {
	tier := cache.TierDurable
	if temporary {
		tier = cache.TierVolatile
	}

	var res *Result

	err := d.telemetry.InstrumentDownload(ctx, tier.String(), func(ctx context.Context) error {
		var err error

		res, err = d.download(ctx, url, temporary)

		return err
	})
	if err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to download resource", "tier", tier.String(), "err", err)

		return nil, err
	}

	d.telemetry.RecordDownloadedBytes(tier.String(), res.Size)

	return res, nil
}

func (d *Downloader) download(ctx context.Context, url string, temporary bool) (*Result, error) {
	logger := logctx.LoggerFromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &flip.InvalidURLError{URL: url, Reason: "cannot build request", Err: err}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &flip.NetworkError{Operation: "fetch", URL: url, APIMessage: err.Error(), Err: err}
	}

	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &flip.NetworkError{
			Operation:  "fetch",
			URL:        url,
			StatusCode: resp.StatusCode,
			APIMessage: http.StatusText(resp.StatusCode),
		}
	}

	total := resp.ContentLength
	if total > 0 {
		logger.InfoContext(ctx, "downloading resource", "size", humanize.Bytes(uint64(total)))
	} else {
		logger.InfoContext(ctx, "downloading resource", "size", "unknown")
	}

	body := &recordingReader{r: progress.NewReader(resp.Body, total, progressInterval, func(read, total int64) {
		if total > 0 {
			logger.DebugContext(ctx, "download progress",
				"downloaded", humanize.Bytes(uint64(read)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(read)*100/float64(total), 2))
		} else {
			logger.DebugContext(ctx, "download progress", "downloaded", humanize.Bytes(uint64(read)))
		}
	})}

	n, stored, err := d.store.WriteFrom(ctx, body, url, temporary)
	if err != nil {
		// a failing body surfaces through the store; report it as the network error it is
		if body.err != nil {
			return nil, &flip.NetworkError{Operation: "read", URL: url, APIMessage: body.err.Error(), Err: body.err}
		}

		return nil, fmt.Errorf("failed to store resource: %w", err)
	}

	path, err := d.store.PathFor(url, temporary)
	if err != nil {
		return nil, err
	}

	if stored == cache.AlreadyStored {
		if info, err := os.Stat(path); err == nil {
			n = info.Size()
		}
	}

	res := &Result{
		URL:         url,
		Path:        path,
		Size:        n,
		ContentType: flip.ClassifyContentType(resp.Header.Get("Content-Type")),
		Stored:      stored,
	}

	logger.InfoContext(ctx, "downloaded and saved resource",
		"path", path,
		"size", humanize.Bytes(uint64(n)),
		"content_type", res.ContentType.String(),
		"stored", stored.String())

	return res, nil
}

// recordingReader remembers the last non-EOF read error so it can be told apart
// from a store failure.
type recordingReader struct {
	r   io.Reader
	err error
}

func (rr *recordingReader) Read(p []byte) (int, error) {
	n, err := rr.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		rr.err = err
	}

	return n, err
}

// FetchResource downloads the background and sound of f concurrently, skipping the
// ones already stored, then publishes a DownloadFinished event. It returns the last
// error observed so a failed background is not hidden by a successful sound.
// Like Fetch, the join runs to completion even when ctx is cancelled, so the event
// reports the transfer outcome and subscribers get a live context.
func (d *Downloader) FetchResource(ctx context.Context, f *flip.Flip, temporary bool) error {
	ctx, logger := logctx.With(context.WithoutCancel(ctx), "flip_id", f.ID)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		lastErr error
	)

	record := func(err error) {
		mu.Lock()
		defer mu.Unlock()

		lastErr = err
	}

	if f.HasBackground() && !d.isStored(f.BackgroundURL) {
		wg.Add(1)

		go func() {
			defer wg.Done()

			res, err := d.Fetch(ctx, f.BackgroundURL, temporary)
			if err != nil {
				record(err)

				return
			}

			mu.Lock()
			f.BackgroundContentType = res.ContentType
			mu.Unlock()
		}()
	}

	if f.HasSound() && !d.isStored(f.SoundURL) {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if _, err := d.Fetch(ctx, f.SoundURL, temporary); err != nil {
				record(err)
			}
		}()
	}

	wg.Wait()

	if lastErr != nil {
		logger.ErrorContext(ctx, "failed to download flip resources", "err", lastErr)
	} else {
		logger.DebugContext(ctx, "flip resources available", "content_type", f.BackgroundContentType.String())
	}

	d.bus.Publish(ctx, events.DownloadFinished{Flip: f, Err: lastErr})

	return lastErr
}

// isStored checks the disk; a copy held only in memory does not count.
func (d *Downloader) isStored(url string) bool {
	_, ok := d.store.Locate(url)

	return ok
}

// FetchResources runs FetchResource for every flip with at most MaxParallel at a time
// and returns how many succeeded.
func (d *Downloader) FetchResources(ctx context.Context, flips []*flip.Flip, temporary bool) int {
	var (
		g         errgroup.Group
		succeeded atomic.Int32
	)

	g.SetLimit(d.maxParallel)

	for _, f := range flips {
		g.Go(func() error {
			// failures are reported through the bus, not by stopping the batch
			if d.FetchResource(ctx, f, temporary) == nil {
				succeeded.Add(1)
			}

			return nil
		})
	}

	_ = g.Wait()

	return int(succeeded.Load())
}

// WatchDownloads downloads queued flips into the durable tier until ctx is done or
// queued is closed. Flips that are queued together are fetched as one batch. The
// returned channel is closed once the loop has exited, after any running batch.
func (d *Downloader) WatchDownloads(ctx context.Context, queued <-chan *flip.Flip) <-chan struct{} {
	logger := logctx.LoggerFromContext(ctx)
	done := make(chan struct{})

	logger.Info("watching downloads")

	go func() {
		defer close(done)

		for {
			select {
			case <-ctx.Done():
				logger.Info("shutting down downloader")

				return
			case f, ok := <-queued:
				if !ok {
					logger.Info("download queue closed")

					return
				}

				batch := drain(f, queued)
				downloaded := d.FetchResources(ctx, batch, false)

				logger.Info("download batch finished", "flips", len(batch), "downloaded", downloaded)
			}
		}
	}()

	return done
}

func drain(first *flip.Flip, queued <-chan *flip.Flip) []*flip.Flip {
	batch := []*flip.Flip{first}

	for {
		select {
		case f, ok := <-queued:
			if !ok {
				return batch
			}

			batch = append(batch, f)
		default:
			return batch
		}
	}
}
