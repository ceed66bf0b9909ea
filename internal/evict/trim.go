// Package evict implements the size-bounded trim policies for the media
// and video partitions.
package evict

import (
	"context"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/campuspulse/edgecache/internal/store"
)

// Observer receives the outcome of a trim pass, typically for metrics.
type Observer interface {
	ObserveTrim(partition string, removedEntries int, removedBytes int64)
}

// Config holds the budgets and trim targets. Video trims deeper (70%)
// than media (80%): video entries are large and fetched in long playback
// bursts, so extra headroom avoids re-trimming during a single session.
type Config struct {
	MediaBudget int64
	MediaTarget float64
	VideoBudget int64
	VideoTarget float64
}

// Trimmer runs eviction passes against the store's partitions. Passes are
// idempotent: trimming an under-budget partition deletes nothing, so the
// maintenance timer may safely overlap an in-flight pass.
type Trimmer struct {
	stores   *store.Manager
	cfg      Config
	observer Observer
	logger   *log.Entry
}

// NewTrimmer creates a trimmer. The observer may be nil.
func NewTrimmer(stores *store.Manager, cfg Config, observer Observer) *Trimmer {
	return &Trimmer{
		stores:   stores,
		cfg:      cfg,
		observer: observer,
		logger:   log.WithField("package", "evict"),
	}
}

// TrimMedia removes the oldest media entries (by Date header) until the
// partition is at or below the media target ratio of its budget.
func (t *Trimmer) TrimMedia(ctx context.Context) (int, error) {
	return t.trim(ctx, t.stores.Media(), store.HeaderDate, t.cfg.MediaBudget, t.cfg.MediaTarget)
}

// TrimVideo removes the least recently accessed video entries (by the
// X-Last-Access header) until the partition is at or below the video
// target ratio of its budget.
func (t *Trimmer) TrimVideo(ctx context.Context) (int, error) {
	return t.trim(ctx, t.stores.Video(), store.HeaderLastAccess, t.cfg.VideoBudget, t.cfg.VideoTarget)
}

type candidate struct {
	key  string
	size int64
	ts   time.Time
}

func (t *Trimmer) trim(ctx context.Context, p store.Partition, tsHeader string, budget int64, target float64) (int, error) {
	if budget <= 0 {
		return 0, nil
	}

	keys, err := p.Keys(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	candidates := make([]candidate, 0, len(keys))
	var total int64

	for _, key := range keys {
		entry, err := p.Get(ctx, key)
		if err != nil {
			// Unreadable entries count as zero bytes but stay on the
			// removal list; one corrupt entry never aborts the pass.
			candidates = append(candidates, candidate{key: key, size: 0, ts: now})
			continue
		}
		size := entry.Size()
		total += size
		candidates = append(candidates, candidate{key: key, size: size, ts: entry.Timestamp(tsHeader, now)})
	}

	if total <= budget {
		return 0, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ts.Before(candidates[j].ts)
	})

	targetBytes := int64(float64(budget) * target)
	removed := 0
	var removedBytes int64

	for _, c := range candidates {
		if total <= targetBytes {
			break
		}
		if err := p.Delete(ctx, c.key); err != nil {
			t.logger.WithError(err).WithFields(log.Fields{
				"partition": p.Name(),
				"key":       c.key,
			}).Warn("failed to evict entry")
			continue
		}
		total -= c.size
		removed++
		removedBytes += c.size
	}

	if removed > 0 {
		t.logger.WithFields(log.Fields{
			"partition": p.Name(),
			"removed":   removed,
			"bytes":     removedBytes,
		}).Info("trimmed cache partition")
	}
	if t.observer != nil {
		t.observer.ObserveTrim(p.Name(), removed, removedBytes)
	}
	return removed, nil
}
