package metrics

import (
	"context"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuspulse/edgecache/internal/store"
)

func TestObserveTrimAccumulates(t *testing.T) {
	c := NewCollector(Config{})

	c.ObserveTrim("campuspulse-video-v2", 3, 900)
	c.ObserveTrim("campuspulse-video-v2", 2, 600)

	assert.Equal(t, float64(5), testutil.ToFloat64(c.evictionEntries.WithLabelValues("campuspulse-video-v2")))
	assert.Equal(t, float64(1500), testutil.ToFloat64(c.evictionBytes.WithLabelValues("campuspulse-video-v2")))
}

func TestObserveHitMissCounters(t *testing.T) {
	c := NewCollector(Config{})

	c.ObserveHit("video")
	c.ObserveHit("video")
	c.ObserveMiss("video")

	assert.Equal(t, float64(2), testutil.ToFloat64(c.cacheHitCounter.WithLabelValues("video")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.cacheMissCounter.WithLabelValues("video")))
}

func TestUpdatePartitionGauges(t *testing.T) {
	ctx := context.Background()
	stores, err := store.NewManager(store.ManagerConfig{
		InMemory:   true,
		StaticName: "campuspulse-v4",
		MediaName:  "campuspulse-media-v2",
		VideoName:  "campuspulse-video-v2",
		APIName:    "campuspulse-api-v1",
	})
	require.NoError(t, err)

	require.NoError(t, stores.Media().Put(ctx, store.NewEntry("/a.jpg", 200, http.Header{}, make([]byte, 128))))

	c := NewCollector(Config{})
	c.UpdatePartitionGauges(ctx, stores)

	assert.Equal(t, float64(128), testutil.ToFloat64(c.partitionBytes.WithLabelValues("campuspulse-media-v2")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.partitionEntries.WithLabelValues("campuspulse-media-v2")))
	assert.Equal(t, float64(0), testutil.ToFloat64(c.partitionBytes.WithLabelValues("campuspulse-video-v2")))
}
