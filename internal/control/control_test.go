package control

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuspulse/edgecache/internal/store"
)

type fakeVideoCache struct {
	prefetched []string
	resets     int
}

func (f *fakeVideoCache) Prefetch(_ context.Context, rawURL string) {
	f.prefetched = append(f.prefetched, rawURL)
}

func (f *fakeVideoCache) ResetHot() {
	f.resets++
}

func newStores(t *testing.T) *store.Manager {
	t.Helper()
	m, err := store.NewManager(store.ManagerConfig{
		InMemory:   true,
		StaticName: "campuspulse-v4",
		MediaName:  "campuspulse-media-v2",
		VideoName:  "campuspulse-video-v2",
		APIName:    "campuspulse-api-v1",
	})
	require.NoError(t, err)
	return m
}

func put(t *testing.T, p store.Partition, key string) {
	t.Helper()
	require.NoError(t, p.Put(context.Background(), store.NewEntry(key, 200, http.Header{}, []byte("x"))))
}

func count(t *testing.T, p store.Partition) int {
	t.Helper()
	n, err := p.Len(context.Background())
	require.NoError(t, err)
	return n
}

func TestClearMessages(t *testing.T) {
	ctx := context.Background()
	stores := newStores(t)
	videos := &fakeVideoCache{}
	h := NewHandler(stores, videos, nil, nil)

	put(t, stores.Media(), "/api/gallery/media/a.jpg")
	put(t, stores.Video(), "/api/gallery/media/a.mp4")
	put(t, stores.API(), "/api/events")

	h.Handle(ctx, Message{Type: MsgClearMediaCache})
	assert.Zero(t, count(t, stores.Media()))
	assert.Equal(t, 1, count(t, stores.Video()))

	h.Handle(ctx, Message{Type: MsgClearVideoCache})
	assert.Zero(t, count(t, stores.Video()))
	assert.Equal(t, 1, videos.resets)

	h.Handle(ctx, Message{Type: MsgClearAPICache})
	assert.Zero(t, count(t, stores.API()))
}

func TestClearAllReseedsStatic(t *testing.T) {
	ctx := context.Background()
	stores := newStores(t)
	h := NewHandler(stores, &fakeVideoCache{}, []string{"/index.html"}, func(_ context.Context, asset string) (*store.Entry, error) {
		return store.NewEntry(asset, 200, http.Header{}, []byte("shell")), nil
	})

	put(t, stores.Static(), "/old.css")
	put(t, stores.Media(), "/api/gallery/media/a.jpg")

	h.Handle(ctx, Message{Type: MsgClearAllCache})

	assert.Zero(t, count(t, stores.Media()))
	assert.Equal(t, 1, count(t, stores.Static()))
	_, err := stores.Static().Get(ctx, "/index.html")
	assert.NoError(t, err)
}

func TestInvalidateGalleryPurgesMediaPartition(t *testing.T) {
	ctx := context.Background()
	stores := newStores(t)
	h := NewHandler(stores, nil, nil, nil)

	put(t, stores.Media(), "/api/gallery/media/a.jpg")
	put(t, stores.API(), "/api/events")

	h.Handle(ctx, Message{Type: MsgInvalidateCache, CacheType: "gallery", Timestamp: 1700000000000})

	assert.Zero(t, count(t, stores.Media()))
	assert.Equal(t, 1, count(t, stores.API()))
}

func TestInvalidateEventsPurgesOnlyMatchingAPIEntries(t *testing.T) {
	ctx := context.Background()
	stores := newStores(t)
	h := NewHandler(stores, nil, nil, nil)

	put(t, stores.API(), "/api/events?page=1")
	put(t, stores.API(), "/api/events/42")
	put(t, stores.API(), "/api/registrations/7")

	h.Handle(ctx, Message{Type: MsgInvalidateCache, CacheType: "events", Timestamp: 1700000000000})

	_, err := stores.API().Get(ctx, "/api/events?page=1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = stores.API().Get(ctx, "/api/events/42")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = stores.API().Get(ctx, "/api/registrations/7")
	assert.NoError(t, err)
}

// Sending the same invalidation twice must be harmless: the table keeps
// the last timestamp and the second purge finds nothing to remove.
func TestInvalidateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	stores := newStores(t)
	h := NewHandler(stores, nil, nil, nil)

	put(t, stores.API(), "/api/events")

	const ts = int64(1700000000000)
	h.Handle(ctx, Message{Type: MsgInvalidateCache, CacheType: "events", Timestamp: ts})
	h.Handle(ctx, Message{Type: MsgInvalidateCache, CacheType: "events", Timestamp: ts})

	status := h.Handle(ctx, Message{Type: MsgGetCacheStatus})
	require.NotNil(t, status)
	assert.Equal(t, ts, status.InvalidationTimes["events"])
	assert.Zero(t, status.Counts["api"])
}

func TestPrefetchVideoForwardsToStreamer(t *testing.T) {
	stores := newStores(t)
	videos := &fakeVideoCache{}
	h := NewHandler(stores, videos, nil, nil)

	h.Handle(context.Background(), Message{Type: MsgPrefetchVideo, URL: "/api/gallery/media/soon.mp4"})
	assert.Equal(t, []string{"/api/gallery/media/soon.mp4"}, videos.prefetched)

	// Missing URL is ignored.
	h.Handle(context.Background(), Message{Type: MsgPrefetchVideo})
	assert.Len(t, videos.prefetched, 1)
}

func TestGetCacheStatus(t *testing.T) {
	ctx := context.Background()
	stores := newStores(t)
	h := NewHandler(stores, nil, nil, nil)

	put(t, stores.Static(), "/index.html")
	put(t, stores.Media(), "/api/gallery/media/a.jpg")
	put(t, stores.Media(), "/api/gallery/media/b.jpg")

	status := h.Handle(ctx, Message{Type: MsgGetCacheStatus})
	require.NotNil(t, status)
	assert.Equal(t, "CACHE_STATUS", status.Type)
	assert.Equal(t, 1, status.Counts[store.PartitionStatic])
	assert.Equal(t, 2, status.Counts[store.PartitionMedia])
	assert.Equal(t, 0, status.Counts[store.PartitionVideo])
	assert.Equal(t, 0, status.Counts[store.PartitionAPI])
	assert.Empty(t, status.InvalidationTimes)
}

func TestUnknownMessageIsIgnored(t *testing.T) {
	stores := newStores(t)
	h := NewHandler(stores, nil, nil, nil)

	put(t, stores.Media(), "/api/gallery/media/a.jpg")

	reply := h.Handle(context.Background(), Message{Type: "SELF_DESTRUCT"})
	assert.Nil(t, reply)
	assert.Equal(t, 1, count(t, stores.Media()))
}
