// Package metrics exposes Prometheus metrics for the cache gateway.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/campuspulse/edgecache/internal/store"
)

// Config represents metrics configuration.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// Collector owns the Prometheus registry and the metrics HTTP server.
type Collector struct {
	config   Config
	registry *prometheus.Registry

	requestCounter    *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	cacheHitCounter   *prometheus.CounterVec
	cacheMissCounter  *prometheus.CounterVec
	evictionEntries   *prometheus.CounterVec
	evictionBytes     *prometheus.CounterVec
	offlineCounter    *prometheus.CounterVec
	backgroundFetches prometheus.Counter
	partitionBytes    *prometheus.GaugeVec
	partitionEntries  *prometheus.GaugeVec

	server *http.Server
	logger *log.Entry
}

// NewCollector creates and registers the gateway's metrics.
func NewCollector(config Config) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		config:   config,
		registry: registry,
		requestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgecache",
			Name:      "requests_total",
			Help:      "Requests handled, by lane and status class",
		}, []string{"lane", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "edgecache",
			Name:      "request_duration_seconds",
			Help:      "Request handling duration, by lane",
			Buckets:   prometheus.DefBuckets,
		}, []string{"lane"}),
		cacheHitCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgecache",
			Name:      "cache_hits_total",
			Help:      "Cache hits, by lane",
		}, []string{"lane"}),
		cacheMissCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgecache",
			Name:      "cache_misses_total",
			Help:      "Cache misses, by lane",
		}, []string{"lane"}),
		evictionEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgecache",
			Name:      "evicted_entries_total",
			Help:      "Entries removed by trim passes, by partition",
		}, []string{"partition"}),
		evictionBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgecache",
			Name:      "evicted_bytes_total",
			Help:      "Bytes removed by trim passes, by partition",
		}, []string{"partition"}),
		offlineCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgecache",
			Name:      "offline_fallbacks_total",
			Help:      "Responses served from the offline degrade path, by lane",
		}, []string{"lane"}),
		backgroundFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edgecache",
			Name:      "background_fetches_total",
			Help:      "Detached revalidation and full-file fetches started",
		}),
		partitionBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "edgecache",
			Name:      "partition_bytes",
			Help:      "Stored bytes per partition",
		}, []string{"partition"}),
		partitionEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "edgecache",
			Name:      "partition_entries",
			Help:      "Stored entries per partition",
		}, []string{"partition"}),
		logger: log.WithField("package", "metrics"),
	}

	registry.MustRegister(
		c.requestCounter,
		c.requestDuration,
		c.cacheHitCounter,
		c.cacheMissCounter,
		c.evictionEntries,
		c.evictionBytes,
		c.offlineCounter,
		c.backgroundFetches,
		c.partitionBytes,
		c.partitionEntries,
	)

	return c
}

// ObserveRequest records one handled request.
func (c *Collector) ObserveRequest(lane, statusClass string, duration time.Duration) {
	c.requestCounter.WithLabelValues(lane, statusClass).Inc()
	c.requestDuration.WithLabelValues(lane).Observe(duration.Seconds())
}

// ObserveHit records a cache hit for the lane.
func (c *Collector) ObserveHit(lane string) {
	c.cacheHitCounter.WithLabelValues(lane).Inc()
}

// ObserveMiss records a cache miss for the lane.
func (c *Collector) ObserveMiss(lane string) {
	c.cacheMissCounter.WithLabelValues(lane).Inc()
}

// ObserveTrim records the outcome of an eviction pass. Satisfies the
// eviction package's observer interface.
func (c *Collector) ObserveTrim(partition string, removedEntries int, removedBytes int64) {
	c.evictionEntries.WithLabelValues(partition).Add(float64(removedEntries))
	c.evictionBytes.WithLabelValues(partition).Add(float64(removedBytes))
}

// ObserveOffline records a response served from the offline degrade path.
func (c *Collector) ObserveOffline(lane string) {
	c.offlineCounter.WithLabelValues(lane).Inc()
}

// ObserveBackgroundFetch records a detached fetch being started.
func (c *Collector) ObserveBackgroundFetch() {
	c.backgroundFetches.Inc()
}

// UpdatePartitionGauges refreshes per-partition size gauges from the
// store, typically after a maintenance pass.
func (c *Collector) UpdatePartitionGauges(ctx context.Context, stores *store.Manager) {
	for _, p := range stores.Partitions() {
		bytes, err := p.BytesUsed(ctx)
		if err != nil {
			c.logger.WithError(err).WithField("partition", p.Name()).Warn("failed to read partition size")
			continue
		}
		n, err := p.Len(ctx)
		if err != nil {
			continue
		}
		c.partitionBytes.WithLabelValues(p.Name()).Set(float64(bytes))
		c.partitionEntries.WithLabelValues(p.Name()).Set(float64(n))
	}
}

// Registry exposes the underlying registry for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Start serves the metrics endpoint until the context is canceled.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	path := c.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	c.server = &http.Server{
		Addr:         c.config.Address,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.server.Shutdown(shutdownCtx)
	}()

	c.logger.WithField("address", c.config.Address).Info("metrics server listening")
	if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
