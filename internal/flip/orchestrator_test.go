package flip

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/flipcache/internal/telemetry"
)

type fakeRepo struct {
	mu       sync.Mutex
	pending  []*Flip
	claimed  map[string]string
	claimErr map[string]error
	listErr  error
	panics   int
}

func newFakeRepo(flips ...*Flip) *fakeRepo {
	return &fakeRepo{pending: flips, claimed: map[string]string{}, claimErr: map[string]error{}}
}

func (r *fakeRepo) GetPendingFlips(_ context.Context, limit int) ([]*Flip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.panics > 0 {
		r.panics--
		panic("database exploded")
	}

	if r.listErr != nil {
		return nil, r.listErr
	}

	var out []*Flip

	for _, f := range r.pending {
		if _, ok := r.claimed[f.ID]; !ok && len(out) < limit {
			out = append(out, f)
		}
	}

	return out, nil
}

func (r *fakeRepo) ClaimFlip(_ context.Context, id, instanceID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.claimErr[id]; err != nil {
		return false, err
	}

	if _, ok := r.claimed[id]; ok {
		return false, nil
	}

	r.claimed[id] = instanceID

	return true, nil
}

func collect(t *testing.T, ch <-chan *Flip, n int) []*Flip {
	t.Helper()

	var got []*Flip

	for len(got) < n {
		select {
		case f := <-ch:
			got = append(got, f)
		case <-time.After(2 * time.Second):
			t.Fatalf("expected %d queued flips, got %d", n, len(got))
		}
	}

	return got
}

func TestOrchestrator_QueuesClaimedFlips(t *testing.T) {
	repo := newFakeRepo(
		&Flip{ID: "a", BackgroundURL: "https://x/a.jpg"},
		&Flip{ID: "empty"},
		&Flip{ID: "b", SoundURL: "https://x/b.m4a"},
	)
	repo.claimErr["b"] = errors.New("locked")

	o := NewOrchestrator(repo, "instance-1", time.Hour, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- o.queuePending(context.Background()) }()

	got := collect(t, o.OnDownloadQueued, 1)
	require.NoError(t, <-errCh)

	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, StatusDownloading, got[0].Status)
	assert.Equal(t, "instance-1", repo.claimed["a"])
	assert.NotContains(t, repo.claimed, "empty")
}

func TestOrchestrator_ListErrorIsReturned(t *testing.T) {
	repo := newFakeRepo()
	repo.listErr = errors.New("db down")

	o := NewOrchestrator(repo, "i", time.Hour, nil)
	assert.ErrorContains(t, o.queuePending(context.Background()), "db down")
}

func TestOrchestrator_StopsWaitingOnCancel(t *testing.T) {
	repo := newFakeRepo(&Flip{ID: "a", BackgroundURL: "https://x/a.jpg"})
	o := NewOrchestrator(repo, "i", time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// nobody reads OnDownloadQueued
	assert.ErrorIs(t, o.queuePending(ctx), context.Canceled)
}

func TestOrchestrator_ProduceDownloadsRecoversFromPanic(t *testing.T) {
	repo := newFakeRepo(&Flip{ID: "a", BackgroundURL: "https://x/a.jpg"})
	repo.panics = 1

	tel, err := telemetry.New(context.Background(), telemetry.Config{Enabled: true, ServiceName: "orchestrator-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	o := NewOrchestrator(repo, "i", 10*time.Millisecond, tel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o.ProduceDownloads(ctx)

	got := collect(t, o.OnDownloadQueued, 1)
	assert.Equal(t, "a", got[0].ID)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "system_errors_total")
	assert.Contains(t, string(body), `component="orchestrator"`)
}

func TestOrchestrator_CloseEndsQueue(t *testing.T) {
	o := NewOrchestrator(newFakeRepo(), "instance-a", time.Hour, nil)
	o.Close()

	_, ok := <-o.OnDownloadQueued
	assert.False(t, ok)
}
