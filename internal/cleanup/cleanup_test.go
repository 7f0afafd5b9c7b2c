package cleanup

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/flipcache/internal/cache"
	"github.com/italolelis/flipcache/internal/telemetry"
)

func TestDeleteExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.jpg")
	fresh := filepath.Join(dir, "fresh.jpg")

	require.NoError(t, os.WriteFile(old, []byte("o"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("f"), 0o644))

	entries := []cache.Entry{
		{Path: old, ModTime: time.Now().Add(-48 * time.Hour)},
		{Path: fresh, ModTime: time.Now()},
		{Path: filepath.Join(dir, "gone.jpg"), ModTime: time.Now().Add(-48 * time.Hour)},
	}

	deleted, err := DeleteExpiredFiles(context.Background(), entries, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
}

func TestSweeper_OnlyTouchesVolatileTier(t *testing.T) {
	root := t.TempDir()

	store, err := cache.New(context.Background(), cache.Config{
		DurableDir:  filepath.Join(root, "support"),
		VolatileDir: filepath.Join(root, "caches"),
	})
	require.NoError(t, err)

	ctx := context.Background()

	_, err = store.Write(ctx, []byte("v"), "https://cdn.example.com/v.jpg", true)
	require.NoError(t, err)
	_, err = store.Write(ctx, []byte("d"), "https://cdn.example.com/d.jpg", false)
	require.NoError(t, err)

	past := time.Now().Add(-72 * time.Hour)
	for _, tier := range []cache.Tier{cache.TierVolatile, cache.TierDurable} {
		entries, err := store.Entries(tier)
		require.NoError(t, err)

		for _, e := range entries {
			require.NoError(t, os.Chtimes(e.Path, past, past))
		}
	}

	require.NoError(t, NewSweeper(store, nil, 24*time.Hour, time.Hour).Sweep(ctx))

	assert.False(t, store.Exists("https://cdn.example.com/v.jpg"))
	assert.True(t, store.Exists("https://cdn.example.com/d.jpg"))
}

func TestSweeper_FailedPassIsCountedAsSystemError(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	store, err := cache.New(ctx, cache.Config{
		DurableDir:  filepath.Join(root, "support"),
		VolatileDir: filepath.Join(root, "caches"),
	})
	require.NoError(t, err)

	tel, err := telemetry.New(ctx, telemetry.Config{Enabled: true, ServiceName: "cleanup-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(ctx) })

	require.NoError(t, os.RemoveAll(store.Dir(cache.TierVolatile)))

	require.Error(t, NewSweeper(store, tel, 24*time.Hour, time.Hour).Sweep(ctx))

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "system_errors_total")
	assert.Contains(t, string(body), `component="cleanup"`)
}
