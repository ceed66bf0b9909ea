// Package router dispatches intercepted requests to their lane-specific
// caching strategy.
package router

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/campuspulse/edgecache/internal/classify"
	"github.com/campuspulse/edgecache/internal/control"
	"github.com/campuspulse/edgecache/internal/evict"
	"github.com/campuspulse/edgecache/internal/metrics"
	"github.com/campuspulse/edgecache/internal/origin"
	"github.com/campuspulse/edgecache/internal/store"
	"github.com/campuspulse/edgecache/internal/stream"
)

// Config holds router construction parameters.
type Config struct {
	// ShellPath is the app shell document key, the fallback for failed
	// navigations.
	ShellPath string
}

// Router is the top-level fetch dispatcher. Every intercepted request is
// classified into a lane and handled by that lane's strategy; every code
// path resolves to some HTTP response.
type Router struct {
	engine   *gin.Engine
	stores   *store.Manager
	streamer *stream.Streamer
	trimmer  *evict.Trimmer
	backend  origin.Fetcher
	media    origin.Fetcher
	ctrl     *control.Handler
	metrics  *metrics.Collector
	cfg      Config

	wg     sync.WaitGroup
	logger *log.Entry
}

// New wires the dispatcher. media may equal backend when gallery uploads
// are served by the same origin; metrics may be nil.
func New(stores *store.Manager, streamer *stream.Streamer, trimmer *evict.Trimmer, backend, media origin.Fetcher, ctrl *control.Handler, collector *metrics.Collector, cfg Config) *Router {
	if media == nil {
		media = backend
	}
	if cfg.ShellPath == "" {
		cfg.ShellPath = "/index.html"
	}

	gin.SetMode(gin.ReleaseMode)
	r := &Router{
		engine:   gin.New(),
		stores:   stores,
		streamer: streamer,
		trimmer:  trimmer,
		backend:  backend,
		media:    media,
		ctrl:     ctrl,
		metrics:  collector,
		cfg:      cfg,
		logger:   log.WithField("package", "router"),
	}

	r.engine.Use(gin.Recovery(), requestLogger())

	r.engine.POST("/worker/message", r.handleControlMessage)
	r.engine.GET("/worker/status", r.handleControlStatus)
	r.engine.NoRoute(r.dispatch)

	return r
}

// Engine exposes the underlying gin engine for serving and tests.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// Run serves on the given address until the listener fails.
func (r *Router) Run(addr string) error {
	return r.engine.Run(addr)
}

// Wait blocks until detached background tasks (revalidations, cache
// writes) finish. Used by tests.
func (r *Router) Wait() {
	r.wg.Wait()
	if r.streamer != nil {
		r.streamer.Wait()
	}
}

// dispatch applies the lane rules in priority order.
func (r *Router) dispatch(c *gin.Context) {
	req := c.Request

	// Non-GET requests are never cached, only proxied.
	if req.Method != http.MethodGet {
		r.passthrough(c)
		return
	}

	lane := classify.Classify(req.URL.String(), req.Header.Get("Accept"))
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.ObserveRequest(lane.String(), statusClass(c.Writer.Status()), time.Since(start))
		}
	}()

	switch lane {
	case classify.LaneVideo:
		r.streamer.ServeHTTP(c.Writer, req)

	case classify.LaneGalleryMedia:
		r.staleWhileRevalidate(c)

	case classify.LaneAPI:
		r.passthrough(c)

	case classify.LaneImage:
		r.cacheFirst(c, true)

	default:
		if isNavigation(req) {
			r.networkFirst(c)
		} else {
			r.cacheFirst(c, false)
		}
	}
}

func (r *Router) handleControlMessage(c *gin.Context) {
	var msg control.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed control message"})
		return
	}

	if reply := r.ctrl.Handle(c.Request.Context(), msg); reply != nil {
		c.JSON(http.StatusOK, reply)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (r *Router) handleControlStatus(c *gin.Context) {
	reply := r.ctrl.Handle(c.Request.Context(), control.Message{Type: control.MsgGetCacheStatus})
	c.JSON(http.StatusOK, reply)
}

// isNavigation detects document loads. Browsers send Sec-Fetch-Mode on
// same-origin navigations; the Accept sniff covers older clients.
func isNavigation(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	accept := req.Header.Get("Accept")
	return len(accept) > 0 && (accept == "text/html" || hasPrefix(accept, "text/html"))
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}
