package store

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func partitionImpls(t *testing.T) map[string]Partition {
	t.Helper()
	disk, err := OpenDiskPartition(t.TempDir(), "campuspulse-test-v1")
	require.NoError(t, err)
	return map[string]Partition{
		"memory": NewMemoryPartition("campuspulse-test-v1"),
		"disk":   disk,
	}
}

func TestPartitionPutGetDelete(t *testing.T) {
	ctx := context.Background()
	for name, p := range partitionImpls(t) {
		t.Run(name, func(t *testing.T) {
			header := http.Header{}
			header.Set("Content-Type", "image/png")
			entry := NewEntry("/logo.png", 200, header, []byte("png-bytes"))

			require.NoError(t, p.Put(ctx, entry))

			got, err := p.Get(ctx, "/logo.png")
			require.NoError(t, err)
			assert.Equal(t, 200, got.Status)
			assert.Equal(t, "image/png", got.Header.Get("Content-Type"))
			assert.Equal(t, []byte("png-bytes"), got.Body)

			used, err := p.BytesUsed(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(len("png-bytes")), used)

			require.NoError(t, p.Delete(ctx, "/logo.png"))
			_, err = p.Get(ctx, "/logo.png")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestPartitionDeleteMissingKeyIsNoop(t *testing.T) {
	ctx := context.Background()
	for name, p := range partitionImpls(t) {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, p.Delete(ctx, "/never-stored"))
		})
	}
}

func TestPartitionPutReplacesWholeEntry(t *testing.T) {
	ctx := context.Background()
	for name, p := range partitionImpls(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, p.Put(ctx, NewEntry("/k", 200, http.Header{}, []byte("first version"))))
			require.NoError(t, p.Put(ctx, NewEntry("/k", 200, http.Header{}, []byte("second"))))

			got, err := p.Get(ctx, "/k")
			require.NoError(t, err)
			assert.Equal(t, []byte("second"), got.Body)

			used, err := p.BytesUsed(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(len("second")), used)

			n, err := p.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestPartitionClearAndKeys(t *testing.T) {
	ctx := context.Background()
	for name, p := range partitionImpls(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, p.Put(ctx, NewEntry("/a", 200, http.Header{}, []byte("a"))))
			require.NoError(t, p.Put(ctx, NewEntry("/b", 200, http.Header{}, []byte("b"))))

			keys, err := p.Keys(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"/a", "/b"}, keys)

			require.NoError(t, p.Clear(ctx))
			n, err := p.Len(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)

			used, err := p.BytesUsed(ctx)
			require.NoError(t, err)
			assert.Zero(t, used)
		})
	}
}

func TestDiskPartitionSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	p, err := OpenDiskPartition(root, "campuspulse-video-v2")
	require.NoError(t, err)
	require.NoError(t, p.Put(ctx, NewEntry("/api/gallery/media/clip.mp4", 200, http.Header{}, []byte("mp4"))))

	reopened, err := OpenDiskPartition(root, "campuspulse-video-v2")
	require.NoError(t, err)

	got, err := reopened.Get(ctx, "/api/gallery/media/clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp4"), got.Body)
}

func TestDiskPartitionUnreadableBodyTreatedAsMissing(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	p, err := OpenDiskPartition(root, "campuspulse-media-v2")
	require.NoError(t, err)
	require.NoError(t, p.Put(ctx, NewEntry("/poster.jpg", 200, http.Header{}, []byte("jpg"))))

	// Remove the body file behind the index's back.
	require.NoError(t, os.Remove(filepath.Join(root, "campuspulse-media-v2", entryFileName("/poster.jpg"))))

	_, err = p.Get(ctx, "/poster.jpg")
	assert.ErrorIs(t, err, ErrNotFound)

	// The index entry is dropped too.
	n, err := p.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEntryTimestampFallback(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	e := NewEntry("/k", 200, http.Header{}, nil)
	assert.Equal(t, now, e.Timestamp(HeaderLastAccess, now))

	e.Header.Set(HeaderLastAccess, "not-a-time")
	assert.Equal(t, now, e.Timestamp(HeaderLastAccess, now))

	stamp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e.Header.Set(HeaderLastAccess, stamp.Format(time.RFC3339))
	assert.Equal(t, stamp, e.Timestamp(HeaderLastAccess, now))

	e.Header.Set(HeaderDate, stamp.Format(http.TimeFormat))
	assert.Equal(t, stamp, e.Timestamp(HeaderDate, now))
}

func newTestManager(t *testing.T, root string) *Manager {
	t.Helper()
	m, err := NewManager(ManagerConfig{
		Dir:        root,
		StaticName: "campuspulse-v4",
		MediaName:  "campuspulse-media-v2",
		VideoName:  "campuspulse-video-v2",
		APIName:    "campuspulse-api-v1",
	})
	require.NoError(t, err)
	return m
}

func TestManagerInstallSeedsStaticAndSwallowsFailures(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, t.TempDir())

	fetched := map[string][]byte{
		"/index.html": []byte("<html>shell</html>"),
		"/logo.svg":   []byte("<svg/>"),
	}
	m.Install(ctx, []string{"/index.html", "/broken.css", "/logo.svg"}, func(_ context.Context, asset string) (*Entry, error) {
		body, ok := fetched[asset]
		if !ok {
			return nil, xerrors.New("origin returned 500")
		}
		return NewEntry(asset, 200, http.Header{}, body), nil
	})

	n, err := m.Static().Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	shell, err := m.Static().Get(ctx, "/index.html")
	require.NoError(t, err)
	assert.Equal(t, []byte("<html>shell</html>"), shell.Body)
}

func TestManagerActivatePrunesStalePartitions(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	// Simulate a previous deployment's partition.
	stale, err := OpenDiskPartition(root, "campuspulse-video-v1")
	require.NoError(t, err)
	require.NoError(t, stale.Put(ctx, NewEntry("/old.mp4", 200, http.Header{}, []byte("old"))))

	m := newTestManager(t, root)
	require.NoError(t, m.Activate(ctx))

	_, err = os.Stat(filepath.Join(root, "campuspulse-video-v1"))
	assert.True(t, os.IsNotExist(err))

	// Current partitions are untouched.
	for _, name := range []string{"campuspulse-v4", "campuspulse-media-v2", "campuspulse-video-v2", "campuspulse-api-v1"} {
		_, err := os.Stat(filepath.Join(root, name))
		assert.NoError(t, err)
	}
}
