// Package stream serves byte-range video requests from the video cache
// partition, falling back to the network and degrading gracefully when
// offline.
package stream

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"

	"github.com/campuspulse/edgecache/internal/origin"
	"github.com/campuspulse/edgecache/internal/store"
)

// DefaultChunkSize bounds open-ended range responses to 2MB, matching
// typical progressive-video fetch patterns.
const DefaultChunkSize = 2 * 1024 * 1024

const defaultHotBlobEntries = 8

// state drives the per-request machine: check the cache, then either
// serve the cached blob or go to the network.
type state int

const (
	stateCheckCache state = iota
	stateServeFromCache
	stateFetchNetwork
)

// Config holds streamer tuning.
type Config struct {
	// ChunkSize is the default window for open-ended range requests.
	ChunkSize int64

	// VideoBudget gates background full-file fetches: a file larger than
	// the partition budget is never prefetched.
	VideoBudget int64

	// HotBlobEntries caps the in-memory LRU of recently served blobs.
	HotBlobEntries int
}

// Trimmer triggers the video eviction policy after cache writes.
type Trimmer interface {
	TrimVideo(ctx context.Context) (int, error)
}

// Streamer handles the video lane. Cache writes and trims run as detached
// tasks so they never add latency to the response being returned.
type Streamer struct {
	videos  store.Partition
	fetch   origin.Fetcher
	trimmer Trimmer
	cfg     Config

	// hot keeps recently served blobs in memory so an active playback
	// session does not re-read the disk store on every range request.
	hot *lru.Cache

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	wg     sync.WaitGroup
	logger *log.Entry
}

// NewStreamer creates a streamer over the video partition.
func NewStreamer(videos store.Partition, fetch origin.Fetcher, trimmer Trimmer, cfg Config) *Streamer {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.HotBlobEntries <= 0 {
		cfg.HotBlobEntries = defaultHotBlobEntries
	}
	hot, _ := lru.New(cfg.HotBlobEntries)

	return &Streamer{
		videos:   videos,
		fetch:    fetch,
		trimmer:  trimmer,
		cfg:      cfg,
		hot:      hot,
		inflight: make(map[string]struct{}),
		logger:   log.WithField("package", "stream"),
	}
}

// ServeHTTP handles one video request end to end. Every path writes some
// response; errors degrade, they never propagate.
func (s *Streamer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.URL.RequestURI()
	var cached *store.Entry

	for st := stateCheckCache; ; {
		switch st {
		case stateCheckCache:
			cached = s.lookup(r.Context(), key)
			if cached != nil {
				st = stateServeFromCache
			} else {
				st = stateFetchNetwork
			}

		case stateServeFromCache:
			if s.serveFromCache(w, r, key, cached) {
				return
			}
			// Slicing or read trouble: fall through to the network
			// rather than failing the request.
			st = stateFetchNetwork

		case stateFetchNetwork:
			s.fetchNetwork(w, r, key, cached)
			return
		}
	}
}

// Prefetch fetches a video into the cache ahead of need. Best effort:
// failures are logged, never returned.
func (s *Streamer) Prefetch(ctx context.Context, rawURL string) {
	resp, err := s.fetch.Fetch(ctx, http.MethodGet, rawURL, http.Header{})
	if err != nil {
		s.logger.WithError(err).WithField("url", rawURL).Debug("video prefetch failed")
		return
	}
	defer resp.Body.Close()

	if resp.Status != http.StatusOK {
		s.logger.WithFields(log.Fields{"url": rawURL, "status": resp.Status}).Debug("video prefetch skipped")
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		s.logger.WithError(err).WithField("url", rawURL).Debug("video prefetch read failed")
		return
	}

	s.cacheVideo(keyForURL(rawURL), resp.Header, body)
}

// DropHot invalidates one in-memory blob. Called on explicit cache
// invalidation so a cleared partition does not keep serving from memory.
func (s *Streamer) DropHot(key string) {
	s.hot.Remove(key)
}

// ResetHot empties the in-memory blob cache.
func (s *Streamer) ResetHot() {
	s.hot.Purge()
}

// Wait blocks until all detached background tasks finish. Tests use this
// to observe fire-and-forget writes deterministically.
func (s *Streamer) Wait() {
	s.wg.Wait()
}

func (s *Streamer) lookup(ctx context.Context, key string) *store.Entry {
	if v, ok := s.hot.Get(key); ok {
		return v.(*store.Entry)
	}

	entry, err := s.videos.Get(ctx, key)
	if err != nil {
		return nil
	}
	s.hot.Add(key, entry)
	return entry
}

// serveFromCache slices the cached blob for the requested range. Returns
// false when the range cannot be satisfied from the blob, sending the
// caller to the network path.
func (s *Streamer) serveFromCache(w http.ResponseWriter, r *http.Request, key string, cached *store.Entry) bool {
	body := cached.Body
	size := int64(len(body))
	rangeHeader := r.Header.Get("Range")

	contentType := cached.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}

	if rangeHeader != "" {
		rng, ok, satisfiable := parseRange(rangeHeader, size, s.cfg.ChunkSize)
		if !satisfiable {
			return false
		}
		if ok {
			h := w.Header()
			h.Set("Content-Type", contentType)
			h.Set("Content-Range", rng.contentRange())
			h.Set("Accept-Ranges", "bytes")
			h.Set("Content-Length", strconv.FormatInt(rng.length(), 10))
			h.Set("Cache-Control", "public, max-age=31536000, immutable")
			h.Set(store.HeaderServedFrom, "cache")
			w.WriteHeader(http.StatusPartialContent)
			w.Write(body[rng.start : rng.end+1])
			s.touch(key, cached)
			return true
		}
		// Malformed range: serve the full object below.
	}

	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Length", strconv.FormatInt(size, 10))
	h.Set("Cache-Control", "public, max-age=31536000, immutable")
	h.Set(store.HeaderServedFrom, "cache")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
	s.touch(key, cached)
	return true
}

func (s *Streamer) fetchNetwork(w http.ResponseWriter, r *http.Request, key string, cached *store.Entry) {
	header := http.Header{}
	if v := r.Header.Get("Range"); v != "" {
		header.Set("Range", v)
	}

	resp, err := s.fetch.Fetch(r.Context(), http.MethodGet, r.URL.RequestURI(), header)
	if err != nil {
		s.serveOffline(w, cached)
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	isVideo := strings.Contains(strings.ToLower(contentType), "video")

	switch {
	case resp.Status == http.StatusOK && isVideo:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			s.serveOffline(w, cached)
			return
		}
		writeResponse(w, resp.Status, resp.Header, body)

		// Fire and forget: the caller never waits on the cache write or
		// the trim that follows it.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.cacheVideo(key, resp.Header, body)
		}()

	case resp.Status == http.StatusPartialContent && isVideo:
		if total, ok := parseContentRangeTotal(resp.Header.Get("Content-Range")); ok && (s.cfg.VideoBudget <= 0 || total < s.cfg.VideoBudget) {
			s.backgroundFullFetch(r.URL.RequestURI(), key)
		}
		streamResponse(w, resp)

	default:
		streamResponse(w, resp)
	}
}

// serveOffline degrades a failed network fetch: a cached blob (however
// stale) goes out in full as a 200; with nothing cached the caller gets a
// synthetic 503 carrying the offline marker.
func (s *Streamer) serveOffline(w http.ResponseWriter, cached *store.Entry) {
	if cached != nil {
		contentType := cached.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "video/mp4"
		}
		h := w.Header()
		h.Set("Content-Type", contentType)
		h.Set("Content-Length", strconv.FormatInt(cached.Size(), 10))
		h.Set(store.HeaderServedFrom, "offline-cache")
		w.WriteHeader(http.StatusOK)
		w.Write(cached.Body)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/plain")
	h.Set(store.HeaderOffline, "true")
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("video unavailable offline"))
}

// backgroundFullFetch populates the cache with the complete file after
// the origin answered a range request, so future offline playback works.
// Deduplicated per key; racing puts are whole-object replacements, so a
// lost race costs nothing.
func (s *Streamer) backgroundFullFetch(rawURL, key string) {
	s.inflightMu.Lock()
	if _, busy := s.inflight[key]; busy {
		s.inflightMu.Unlock()
		return
	}
	s.inflight[key] = struct{}{}
	s.inflightMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.inflightMu.Lock()
			delete(s.inflight, key)
			s.inflightMu.Unlock()
		}()

		resp, err := s.fetch.Fetch(context.Background(), http.MethodGet, rawURL, http.Header{})
		if err != nil {
			s.logger.WithError(err).WithField("url", rawURL).Debug("background video fetch failed")
			return
		}
		defer resp.Body.Close()

		if resp.Status != http.StatusOK {
			return
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			s.logger.WithError(err).WithField("url", rawURL).Debug("background video read failed")
			return
		}
		s.cacheVideo(key, resp.Header, body)
	}()
}

func (s *Streamer) cacheVideo(key string, header http.Header, body []byte) {
	entry := store.NewEntry(key, http.StatusOK, header, body)
	entry.StampCached(time.Now())

	if err := s.videos.Put(context.Background(), entry); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("failed to cache video")
		return
	}
	s.hot.Add(key, entry)

	if s.trimmer != nil {
		if _, err := s.trimmer.TrimVideo(context.Background()); err != nil {
			s.logger.WithError(err).Warn("video trim failed")
		}
	}
}

// touch refreshes the entry's last-access stamp for the LRU policy. The
// write-back is detached; a lost race with a concurrent put just loses
// one access-time update.
func (s *Streamer) touch(key string, cached *store.Entry) {
	updated := cached.Clone()
	updated.Touch(time.Now())
	s.hot.Add(key, updated)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.videos.Put(context.Background(), updated); err != nil {
			s.logger.WithError(err).WithField("key", key).Debug("failed to update last access")
		}
	}()
}

func keyForURL(rawURL string) string {
	if i := strings.Index(rawURL, "://"); i >= 0 {
		if j := strings.IndexByte(rawURL[i+3:], '/'); j >= 0 {
			return rawURL[i+3+j:]
		}
		return "/"
	}
	return rawURL
}

func writeResponse(w http.ResponseWriter, status int, header http.Header, body []byte) {
	copyHeaders(w.Header(), header)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	w.Write(body)
}

func streamResponse(w http.ResponseWriter, resp *origin.Response) {
	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.Status)
	io.Copy(w, resp.Body)
}

func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}
