package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, memoryTTL time.Duration) *Store {
	t.Helper()

	root := t.TempDir()

	s, err := New(context.Background(), Config{
		DurableDir:         filepath.Join(root, "support"),
		VolatileDir:        filepath.Join(root, "caches"),
		MemoryTTL:          memoryTTL,
		MemoryMaxEntrySize: 1024,
	})
	require.NoError(t, err)

	return s
}

func TestNew_CreatesDirectoriesIdempotently(t *testing.T) {
	root := t.TempDir()
	cfg := Config{DurableDir: filepath.Join(root, "d"), VolatileDir: filepath.Join(root, "v")}

	_, err := New(context.Background(), cfg)
	require.NoError(t, err)

	_, err = New(context.Background(), cfg)
	require.NoError(t, err)

	for _, dir := range []string{cfg.DurableDir, cfg.VolatileDir, filepath.Join(cfg.DurableDir, "thumbnails")} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestNew_RequiresDirectories(t *testing.T) {
	_, err := New(context.Background(), Config{DurableDir: t.TempDir()})
	require.Error(t, err)
}

func TestFileName(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "https://cdn.example.com/media/abc123.jpg", want: "abc123.jpg"},
		{key: "https://cdn.example.com/media/abc123.jpg?sig=xyz#frag", want: "abc123.jpg"},
		{key: "https://cdn.example.com/media/", want: "media"},
		{key: "media/clip.mp4", want: "clip.mp4"},
		{key: "clip.mp4?v=2", want: "clip.mp4"},
		{key: "https://cdn.example.com/a%2Fb.png", want: "b.png"},
		{key: "", wantErr: true},
		{key: "   ", wantErr: true},
		{key: "https://cdn.example.com", wantErr: true},
		{key: "https://cdn.example.com/", wantErr: true},
		{key: "https://cdn.example.com/..", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := FileName(tt.key)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidKey)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPathFor_SelectsTier(t *testing.T) {
	s := newTestStore(t, 0)
	key := "https://cdn.example.com/media/abc123.jpg"

	volatile, err := s.PathFor(key, true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Dir(TierVolatile), "abc123.jpg"), volatile)

	durable, err := s.PathFor(key, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Dir(TierDurable), "abc123.jpg"), durable)

	_, err = s.PathFor("", true)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestWrite_IsWriteOnce(t *testing.T) {
	for _, temporary := range []bool{true, false} {
		t.Run(tierFor(temporary).String(), func(t *testing.T) {
			s := newTestStore(t, 0)
			key := "https://cdn.example.com/media/word.jpg"

			res, err := s.Write(context.Background(), []byte("first"), key, temporary)
			require.NoError(t, err)
			assert.Equal(t, Written, res)
			assert.True(t, s.Exists(key))

			res, err = s.Write(context.Background(), []byte("second"), key, temporary)
			require.NoError(t, err)
			assert.Equal(t, AlreadyStored, res)

			data, err := s.Read(key)
			require.NoError(t, err)
			assert.Equal(t, "first", string(data))
		})
	}
}

func TestWriteFrom_ConcurrentWritersFirstWins(t *testing.T) {
	s := newTestStore(t, 0)
	key := "https://cdn.example.com/media/race.mp4"

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []WriteResult
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			payload := strings.Repeat(string(rune('a'+i)), 4096)

			_, res, err := s.WriteFrom(context.Background(), strings.NewReader(payload), key, true)
			assert.NoError(t, err)

			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(i)
	}

	wg.Wait()

	written := 0
	for _, r := range results {
		if r == Written {
			written++
		}
	}

	assert.Equal(t, 1, written)

	data, err := s.Read(key)
	require.NoError(t, err)
	require.Len(t, data, 4096)
	assert.Equal(t, strings.Repeat(string(data[0]), 4096), string(data))

	entries, err := s.Entries(TierVolatile)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no partial files must be left behind")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestWriteFrom_FailureIsReportedAndLeavesNothing(t *testing.T) {
	s := newTestStore(t, 0)
	key := "https://cdn.example.com/media/broken.jpg"

	_, _, err := s.WriteFrom(context.Background(), failingReader{}, key, true)

	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "write", storageErr.Op)
	assert.False(t, s.Exists(key))

	matches, _ := filepath.Glob(filepath.Join(s.Dir(TierVolatile), partialPrefix+"*"))
	assert.Empty(t, matches)
}

func TestRead_OrderAndNotFound(t *testing.T) {
	s := newTestStore(t, 0)
	key := "https://cdn.example.com/media/both.jpg"

	_, err := s.Read(key)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.Write(context.Background(), []byte("durable"), key, false)
	require.NoError(t, err)
	_, err = s.Write(context.Background(), []byte("volatile"), key, true)
	require.NoError(t, err)

	data, err := s.Read(key)
	require.NoError(t, err)
	assert.Equal(t, "volatile", string(data))
}

func TestRead_MemoryTierServesAfterFileRemoval(t *testing.T) {
	s := newTestStore(t, time.Minute)
	key := "https://cdn.example.com/media/hot.jpg"

	_, err := s.Write(context.Background(), []byte("hot"), key, true)
	require.NoError(t, err)

	_, err = s.Read(key)
	require.NoError(t, err)

	p, _ := s.PathFor(key, true)
	require.NoError(t, os.Remove(p))

	assert.True(t, s.Exists(key), "memory tier still holds the key")

	_, ok := s.Locate(key)
	assert.False(t, ok, "locate re-validates against disk")

	data, err := s.Read(key)
	require.NoError(t, err)
	assert.Equal(t, "hot", string(data))
}

func TestRead_LargeEntriesSkipMemory(t *testing.T) {
	s := newTestStore(t, time.Minute)
	key := "https://cdn.example.com/media/big.mp4"

	_, err := s.Write(context.Background(), make([]byte, 4096), key, true)
	require.NoError(t, err)

	_, err = s.Read(key)
	require.NoError(t, err)

	require.NoError(t, s.Remove(key, true))
	assert.False(t, s.Exists(key))
}

func TestLocate_PrefersVolatile(t *testing.T) {
	s := newTestStore(t, 0)
	key := "https://cdn.example.com/media/loc.jpg"

	_, ok := s.Locate(key)
	assert.False(t, ok)

	_, err := s.Write(context.Background(), []byte("d"), key, false)
	require.NoError(t, err)

	p, ok := s.Locate(key)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(s.Dir(TierDurable), "loc.jpg"), p)

	_, err = s.Write(context.Background(), []byte("v"), key, true)
	require.NoError(t, err)

	p, ok = s.Locate(key)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(s.Dir(TierVolatile), "loc.jpg"), p)
}

func TestExists_AliasesSameFileName(t *testing.T) {
	s := newTestStore(t, 0)

	_, err := s.Write(context.Background(), []byte("x"), "https://a.example.com/one/pic.jpg", true)
	require.NoError(t, err)

	assert.True(t, s.Exists("https://b.example.com/two/pic.jpg"))
}

func TestThumbnails(t *testing.T) {
	s := newTestStore(t, 0)
	key := "https://cdn.example.com/media/clip.mp4"

	_, err := s.Thumbnail(key)
	require.ErrorIs(t, err, ErrNotFound)

	res, err := s.SaveThumbnail(context.Background(), []byte("jpeg-bytes"), key)
	require.NoError(t, err)
	assert.Equal(t, Written, res)

	res, err = s.SaveThumbnail(context.Background(), []byte("other"), key)
	require.NoError(t, err)
	assert.Equal(t, AlreadyStored, res)

	data, err := s.Thumbnail(key)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	assert.False(t, s.Exists(key), "thumbnails are not media entries")
}

func TestEntriesAndDiskUsage(t *testing.T) {
	s := newTestStore(t, 0)

	_, err := s.Write(context.Background(), []byte("12345"), "https://cdn.example.com/a.jpg", false)
	require.NoError(t, err)
	_, err = s.Write(context.Background(), []byte("123"), "https://cdn.example.com/b.jpg", false)
	require.NoError(t, err)
	_, err = s.SaveThumbnail(context.Background(), []byte("t"), "https://cdn.example.com/a.jpg")
	require.NoError(t, err)

	entries, err := s.Entries(TierDurable)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	usage, err := s.DiskUsage(TierDurable)
	require.NoError(t, err)
	assert.Equal(t, int64(8), usage)
}
