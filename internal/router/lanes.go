package router

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/campuspulse/edgecache/internal/origin"
	"github.com/campuspulse/edgecache/internal/store"
)

// offlinePlaceholderSVG is returned for image destinations when both the
// cache and the network come up empty.
const offlinePlaceholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="400" height="300" viewBox="0 0 400 300"><rect width="400" height="300" fill="#e2e8f0"/><text x="200" y="150" text-anchor="middle" dominant-baseline="middle" font-family="sans-serif" font-size="24" fill="#64748b">Offline</text></svg>`

// staleWhileRevalidate serves gallery media: a cached copy goes out
// immediately while a detached fetch refreshes the entry for next time.
// Only a miss makes the caller wait on the network.
func (r *Router) staleWhileRevalidate(c *gin.Context) {
	ctx := c.Request.Context()
	key := c.Request.URL.RequestURI()
	mediaPartition := r.stores.Media()

	if cached, err := mediaPartition.Get(ctx, key); err == nil {
		if r.metrics != nil {
			r.metrics.ObserveHit("gallery_media")
		}
		serveEntry(c, cached)
		r.revalidateMedia(key)
		return
	}
	if r.metrics != nil {
		r.metrics.ObserveMiss("gallery_media")
	}

	status, header, body, err := r.fetchBuffered(ctx, r.media, key)
	if err != nil {
		r.serveImageOffline(c)
		return
	}
	if status == http.StatusOK {
		r.cacheMedia(key, header, body)
	}
	writeRaw(c, status, header, body)
}

// revalidateMedia refreshes a cached gallery entry in the background.
// The task is detached and swallows its own errors.
func (r *Router) revalidateMedia(key string) {
	if r.metrics != nil {
		r.metrics.ObserveBackgroundFetch()
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		status, header, body, err := r.fetchBuffered(context.Background(), r.media, key)
		if err != nil {
			r.logger.WithError(err).WithField("key", key).Debug("media revalidation failed")
			return
		}
		if status != http.StatusOK {
			return
		}
		r.cacheMedia(key, header, body)
	}()
}

func (r *Router) cacheMedia(key string, header http.Header, body []byte) {
	entry := store.NewEntry(key, http.StatusOK, header, body)
	if entry.Header.Get(store.HeaderDate) == "" {
		entry.Header.Set(store.HeaderDate, time.Now().UTC().Format(http.TimeFormat))
	}
	if err := r.stores.Media().Put(context.Background(), entry); err != nil {
		r.logger.WithError(err).WithField("key", key).Warn("failed to cache media entry")
		return
	}
	if r.trimmer != nil {
		if _, err := r.trimmer.TrimMedia(context.Background()); err != nil {
			r.logger.WithError(err).Warn("media trim failed")
		}
	}
}

// cacheFirst serves static assets: cache hit wins, misses go to the
// network and successful responses are cached for next time. On total
// failure image destinations get the offline placeholder and everything
// else falls back to the app shell.
func (r *Router) cacheFirst(c *gin.Context, imageDestination bool) {
	ctx := c.Request.Context()
	key := c.Request.URL.RequestURI()
	static := r.stores.Static()

	if cached, err := static.Get(ctx, key); err == nil {
		if r.metrics != nil {
			r.metrics.ObserveHit("static")
		}
		serveEntry(c, cached)
		return
	}
	if r.metrics != nil {
		r.metrics.ObserveMiss("static")
	}

	status, header, body, err := r.fetchBuffered(ctx, r.backend, key)
	if err != nil {
		if imageDestination {
			r.serveImageOffline(c)
		} else {
			r.serveShellFallback(c)
		}
		return
	}
	if status == http.StatusOK {
		r.cacheStatic(key, status, header, body)
	}
	writeRaw(c, status, header, body)
}

// networkFirst serves navigations: the network wins when reachable, and
// failures fall back to the cached copy of the exact document, then the
// app shell.
func (r *Router) networkFirst(c *gin.Context) {
	ctx := c.Request.Context()
	key := c.Request.URL.RequestURI()

	status, header, body, err := r.fetchBuffered(ctx, r.backend, key)
	if err == nil {
		if status == http.StatusOK {
			r.cacheStatic(key, status, header, body)
		}
		writeRaw(c, status, header, body)
		return
	}

	if cached, getErr := r.stores.Static().Get(ctx, key); getErr == nil {
		if r.metrics != nil {
			r.metrics.ObserveOffline("other")
		}
		serveEntry(c, cached)
		return
	}
	r.serveShellFallback(c)
}

func (r *Router) cacheStatic(key string, status int, header http.Header, body []byte) {
	entry := store.NewEntry(key, status, header, body)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.stores.Static().Put(context.Background(), entry); err != nil {
			r.logger.WithError(err).WithField("key", key).Warn("failed to cache static entry")
		}
	}()
}

// passthrough proxies the request unmodified: API traffic and non-GET
// methods are never served or stored by this layer.
func (r *Router) passthrough(c *gin.Context) {
	req := c.Request
	resp, err := r.backend.Fetch(req.Context(), req.Method, req.URL.RequestURI(), req.Header)
	if err != nil {
		c.Header(store.HeaderOffline, "true")
		c.String(http.StatusBadGateway, "origin unreachable")
		return
	}
	defer resp.Body.Close()

	for name, values := range resp.Header {
		for _, v := range values {
			c.Writer.Header().Add(name, v)
		}
	}
	c.Status(resp.Status)
	io.Copy(c.Writer, resp.Body)
}

// fetchBuffered issues a GET and buffers the body, which both the caller
// and the cache write need.
func (r *Router) fetchBuffered(ctx context.Context, fetch origin.Fetcher, key string) (int, http.Header, []byte, error) {
	resp, err := fetch.Fetch(ctx, http.MethodGet, key, nil)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.Status, resp.Header, body, nil
}

func (r *Router) serveImageOffline(c *gin.Context) {
	if r.metrics != nil {
		r.metrics.ObserveOffline("image")
	}
	c.Header(store.HeaderOffline, "true")
	c.Data(http.StatusOK, "image/svg+xml", []byte(offlinePlaceholderSVG))
}

// serveShellFallback returns the cached app shell, the last resort for
// failed navigations and static fetches.
func (r *Router) serveShellFallback(c *gin.Context) {
	if r.metrics != nil {
		r.metrics.ObserveOffline("other")
	}
	if shell, err := r.stores.Static().Get(c.Request.Context(), r.cfg.ShellPath); err == nil {
		c.Header(store.HeaderServedFrom, "offline-cache")
		serveEntry(c, shell)
		return
	}
	c.Header(store.HeaderOffline, "true")
	c.String(http.StatusServiceUnavailable, "offline")
}

func serveEntry(c *gin.Context, entry *store.Entry) {
	for name, values := range entry.Header {
		for _, v := range values {
			c.Writer.Header().Add(name, v)
		}
	}
	c.Data(entry.Status, entry.Header.Get("Content-Type"), entry.Body)
}

func writeRaw(c *gin.Context, status int, header http.Header, body []byte) {
	for name, values := range header {
		for _, v := range values {
			c.Writer.Header().Add(name, v)
		}
	}
	c.Data(status, header.Get("Content-Type"), body)
}
