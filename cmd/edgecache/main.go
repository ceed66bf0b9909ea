// Command edgecache runs the offline-first caching gateway for the
// CampusPulse web app: lane-based request caching, byte-range video
// streaming and a control channel for cache management.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/campuspulse/edgecache/internal/config"
	"github.com/campuspulse/edgecache/internal/control"
	"github.com/campuspulse/edgecache/internal/evict"
	"github.com/campuspulse/edgecache/internal/maintain"
	"github.com/campuspulse/edgecache/internal/metrics"
	"github.com/campuspulse/edgecache/internal/origin"
	"github.com/campuspulse/edgecache/internal/router"
	"github.com/campuspulse/edgecache/internal/store"
	"github.com/campuspulse/edgecache/internal/stream"
)

func main() {
	if err := run(); err != nil {
		log.WithError(err).Fatal("edgecache failed")
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg := config.NewDefault()
	if *configPath != "" {
		if err := cfg.LoadFromFile(*configPath); err != nil {
			return err
		}
	}
	cfg.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := log.ParseLevel(cfg.Global.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	logger := log.WithField("package", "main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := store.NewManager(store.ManagerConfig{
		Dir:        cfg.Cache.Directory,
		InMemory:   cfg.Cache.InMemory,
		StaticName: cfg.Cache.StaticName,
		MediaName:  cfg.Cache.MediaName,
		VideoName:  cfg.Cache.VideoName,
		APIName:    cfg.Cache.APIName,
	})
	if err != nil {
		return fmt.Errorf("failed to open cache partitions: %w", err)
	}

	backend := origin.NewHTTPClient(cfg.Origin.BaseURL, cfg.Origin.Timeout)
	defer backend.Close()

	// Media fetches go to object storage when a bucket is configured;
	// everything else always uses the HTTP origin.
	var media origin.Fetcher
	if cfg.Origin.S3.Bucket != "" {
		s3Origin, err := origin.NewS3Origin(ctx, cfg.Origin.S3)
		if err != nil {
			return fmt.Errorf("failed to initialize s3 origin: %w", err)
		}
		media = s3Origin
		logger.WithField("bucket", cfg.Origin.S3.Bucket).Info("serving media from object storage")
	}

	var collector *metrics.Collector
	if cfg.Global.MetricsEnabled {
		collector = metrics.NewCollector(metrics.Config{
			Enabled: true,
			Address: cfg.Global.MetricsAddress,
		})
	}

	var observer evict.Observer
	if collector != nil {
		observer = collector
	}
	trimmer := evict.NewTrimmer(stores, evict.Config{
		MediaBudget: cfg.MediaBudgetBytes(),
		MediaTarget: cfg.Cache.MediaTarget,
		VideoBudget: cfg.VideoBudgetBytes(),
		VideoTarget: cfg.Cache.VideoTarget,
	}, observer)

	videoOrigin := media
	if videoOrigin == nil {
		videoOrigin = backend
	}
	streamer := stream.NewStreamer(stores.Video(), videoOrigin, trimmer, stream.Config{
		ChunkSize:      cfg.ChunkSizeBytes(),
		VideoBudget:    cfg.VideoBudgetBytes(),
		HotBlobEntries: cfg.Cache.HotBlobEntries,
	})

	seed := seedFunc(backend)
	ctrl := control.NewHandler(stores, streamer, cfg.Shell.Assets, seed)

	// Install-then-activate: seed the app shell, then drop partitions left
	// behind by previous cache versions.
	stores.Install(ctx, cfg.Shell.Assets, seed)
	if err := stores.Activate(ctx); err != nil {
		logger.WithError(err).Warn("failed to prune stale partitions")
	}

	scheduler := maintain.NewScheduler(stores, trimmer, collector)
	scheduler.Sweep()
	if err := scheduler.Start(cfg.Maintenance.Schedule); err != nil {
		return fmt.Errorf("failed to start maintenance: %w", err)
	}
	defer scheduler.Stop()

	if collector != nil {
		go func() {
			if err := collector.Start(ctx); err != nil {
				logger.WithError(err).Error("metrics server failed")
			}
		}()
	}

	r := router.New(stores, streamer, trimmer, backend, media, ctrl, collector, router.Config{
		ShellPath: cfg.Shell.AppShell,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("address", cfg.Global.ListenAddress).Info("edgecache listening")
		errCh <- r.Run(cfg.Global.ListenAddress)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

// seedFunc fetches one app-shell asset from the origin for installation
// into the static partition.
func seedFunc(fetch origin.Fetcher) store.SeedFunc {
	return func(ctx context.Context, asset string) (*store.Entry, error) {
		resp, err := fetch.Fetch(ctx, http.MethodGet, asset, nil)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.Status != http.StatusOK {
			return nil, fmt.Errorf("seed fetch for %s returned status %d", asset, resp.Status)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return store.NewEntry(asset, resp.Status, resp.Header, body), nil
	}
}
