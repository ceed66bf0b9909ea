// Package control processes page-originated commands: cache clears,
// invalidation, video prefetch and status queries.
package control

import (
	"context"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/campuspulse/edgecache/internal/classify"
	"github.com/campuspulse/edgecache/internal/store"
)

// MessageType discriminates control messages.
type MessageType string

const (
	MsgClearMediaCache MessageType = "CLEAR_MEDIA_CACHE"
	MsgClearVideoCache MessageType = "CLEAR_VIDEO_CACHE"
	MsgClearAPICache   MessageType = "CLEAR_API_CACHE"
	MsgClearAllCache   MessageType = "CLEAR_ALL_CACHE"
	MsgInvalidateCache MessageType = "INVALIDATE_CACHE"
	MsgPrefetchVideo   MessageType = "PREFETCH_VIDEO"
	MsgGetCacheStatus  MessageType = "GET_CACHE_STATUS"
)

// Message is one control-channel command.
type Message struct {
	Type      MessageType `json:"type"`
	CacheType string      `json:"cacheType,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
	URL       string      `json:"url,omitempty"`
}

// Status is the reply to a GET_CACHE_STATUS message.
type Status struct {
	Type              string           `json:"type"`
	Counts            map[string]int   `json:"counts"`
	InvalidationTimes map[string]int64 `json:"invalidationTimes"`
}

// Resource classes tracked in the invalidation table. API purges apply to
// the subset whose records live under /api/<class>.
var apiResourceClasses = map[string]bool{
	"events":        true,
	"registrations": true,
	"teams":         true,
	"waitlist":      true,
}

// VideoCache is the streamer surface the control channel needs: prefetch
// and dropping in-memory blobs after a clear.
type VideoCache interface {
	Prefetch(ctx context.Context, rawURL string)
	ResetHot()
}

// Handler dispatches control messages. The invalidation timestamp table
// is in-memory only and resets to empty on restart, unlike the durable
// partitions it describes; that asymmetry is deliberate — the table only
// advises the page about freshness, it is not a source of truth.
type Handler struct {
	stores     *store.Manager
	videos     VideoCache
	seedAssets []string
	seed       store.SeedFunc

	mu          sync.Mutex
	invalidated map[string]int64

	logger *log.Entry
}

// NewHandler creates a control handler. videos and seed may be nil in
// deployments without a video lane or app-shell seeding.
func NewHandler(stores *store.Manager, videos VideoCache, seedAssets []string, seed store.SeedFunc) *Handler {
	return &Handler{
		stores:      stores,
		videos:      videos,
		seedAssets:  seedAssets,
		seed:        seed,
		invalidated: make(map[string]int64),
		logger:      log.WithField("package", "control"),
	}
}

// Handle processes one message. Only GET_CACHE_STATUS produces a reply;
// unknown message types are ignored without error.
func (h *Handler) Handle(ctx context.Context, msg Message) *Status {
	switch msg.Type {
	case MsgClearMediaCache:
		h.clear(ctx, h.stores.Media())

	case MsgClearVideoCache:
		h.clear(ctx, h.stores.Video())
		if h.videos != nil {
			h.videos.ResetHot()
		}

	case MsgClearAPICache:
		h.clear(ctx, h.stores.API())

	case MsgClearAllCache:
		for _, p := range h.stores.Partitions() {
			h.clear(ctx, p)
		}
		if h.videos != nil {
			h.videos.ResetHot()
		}
		if h.seed != nil {
			h.stores.Install(ctx, h.seedAssets, h.seed)
		}

	case MsgInvalidateCache:
		h.invalidate(ctx, msg.CacheType, msg.Timestamp)

	case MsgPrefetchVideo:
		if h.videos != nil && msg.URL != "" {
			h.videos.Prefetch(ctx, msg.URL)
		}

	case MsgGetCacheStatus:
		return h.status(ctx)

	default:
		h.logger.WithField("type", string(msg.Type)).Debug("ignoring unknown control message")
	}
	return nil
}

func (h *Handler) clear(ctx context.Context, p store.Partition) {
	if err := p.Clear(ctx); err != nil {
		h.logger.WithError(err).WithField("partition", p.Name()).Warn("failed to clear partition")
		return
	}
	h.logger.WithField("partition", p.Name()).Info("cleared cache partition")
}

// invalidate records the timestamp (last write wins) and purges matching
// entries: gallery/media wipes the whole media partition, API resource
// classes remove only entries under /api/<class>.
func (h *Handler) invalidate(ctx context.Context, cacheType string, timestamp int64) {
	if cacheType == "" {
		return
	}

	h.mu.Lock()
	h.invalidated[cacheType] = timestamp
	h.mu.Unlock()

	switch {
	case cacheType == "gallery" || cacheType == "media":
		h.clear(ctx, h.stores.Media())

	case apiResourceClasses[cacheType]:
		h.purgeAPI(ctx, cacheType)
	}
}

func (h *Handler) purgeAPI(ctx context.Context, cacheType string) {
	api := h.stores.API()
	keys, err := api.Keys(ctx)
	if err != nil {
		h.logger.WithError(err).Warn("failed to list api partition for purge")
		return
	}

	marker := classify.APIPrefix + cacheType
	removed := 0
	for _, key := range keys {
		if !strings.Contains(key, marker) {
			continue
		}
		if err := api.Delete(ctx, key); err != nil {
			h.logger.WithError(err).WithField("key", key).Warn("failed to purge api entry")
			continue
		}
		removed++
	}
	if removed > 0 {
		h.logger.WithFields(log.Fields{"cache_type": cacheType, "removed": removed}).Info("purged api entries")
	}
}

func (h *Handler) status(ctx context.Context) *Status {
	counts := make(map[string]int, 4)
	for logical, p := range h.stores.Partitions() {
		n, err := p.Len(ctx)
		if err != nil {
			h.logger.WithError(err).WithField("partition", p.Name()).Warn("failed to count partition")
		}
		counts[logical] = n
	}

	h.mu.Lock()
	times := make(map[string]int64, len(h.invalidated))
	for k, v := range h.invalidated {
		times[k] = v
	}
	h.mu.Unlock()

	return &Status{
		Type:              "CACHE_STATUS",
		Counts:            counts,
		InvalidationTimes: times,
	}
}
