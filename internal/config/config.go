// Package config loads and validates the gateway configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/campuspulse/edgecache/internal/origin"
)

// Configuration represents the complete application configuration.
type Configuration struct {
	Global      GlobalConfig      `yaml:"global"`
	Origin      OriginConfig      `yaml:"origin"`
	Cache       CacheConfig       `yaml:"cache"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Shell       ShellConfig       `yaml:"shell"`
}

// GlobalConfig represents global application settings.
type GlobalConfig struct {
	LogLevel       string `yaml:"log_level"`
	ListenAddress  string `yaml:"listen_address"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsAddress string `yaml:"metrics_address"`
}

// OriginConfig represents upstream settings. When the S3 bucket is set,
// gallery media and video fetches go to object storage instead of the
// HTTP origin.
type OriginConfig struct {
	BaseURL string          `yaml:"base_url"`
	Timeout time.Duration   `yaml:"timeout"`
	S3      origin.S3Config `yaml:"s3"`
}

// CacheConfig represents partition names, budgets and trim targets.
// Budgets are human-readable sizes ("500MB"). The version suffix in a
// partition name is the deployment-wide invalidation knob: bumping it
// makes Activate purge the previous partition.
type CacheConfig struct {
	Directory string `yaml:"directory"`
	InMemory  bool   `yaml:"in_memory"`

	StaticName string `yaml:"static_name"`
	MediaName  string `yaml:"media_name"`
	VideoName  string `yaml:"video_name"`
	APIName    string `yaml:"api_name"`

	MediaBudget string  `yaml:"media_budget"`
	MediaTarget float64 `yaml:"media_target"`
	VideoBudget string  `yaml:"video_budget"`
	VideoTarget float64 `yaml:"video_target"`
	APIBudget   string  `yaml:"api_budget"`

	ChunkSize      string `yaml:"chunk_size"`
	HotBlobEntries int    `yaml:"hot_blob_entries"`
}

// MaintenanceConfig represents the periodic trim schedule (cron syntax).
type MaintenanceConfig struct {
	Schedule string `yaml:"schedule"`
}

// ShellConfig represents the app shell document and the asset list the
// static partition is seeded with at install.
type ShellConfig struct {
	AppShell string   `yaml:"app_shell"`
	Assets   []string `yaml:"assets"`
}

// NewDefault returns a configuration with sensible defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:       "info",
			ListenAddress:  ":8080",
			MetricsEnabled: true,
			MetricsAddress: ":9090",
		},
		Origin: OriginConfig{
			BaseURL: "http://localhost:3000",
			Timeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Directory:      "/var/cache/edgecache",
			StaticName:     "campuspulse-v4",
			MediaName:      "campuspulse-media-v2",
			VideoName:      "campuspulse-video-v2",
			APIName:        "campuspulse-api-v1",
			MediaBudget:    "500MB",
			MediaTarget:    0.8,
			VideoBudget:    "1GB",
			VideoTarget:    0.7,
			APIBudget:      "50MB",
			ChunkSize:      "2MB",
			HotBlobEntries: 8,
		},
		Maintenance: MaintenanceConfig{
			Schedule: "*/10 * * * *",
		},
		Shell: ShellConfig{
			AppShell: "/index.html",
			Assets:   []string{"/index.html", "/manifest.json", "/logo.svg"},
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration overrides from environment variables.
func (c *Configuration) LoadFromEnv() {
	if val := os.Getenv("EDGECACHE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("EDGECACHE_LISTEN_ADDRESS"); val != "" {
		c.Global.ListenAddress = val
	}
	if val := os.Getenv("EDGECACHE_METRICS_ADDRESS"); val != "" {
		c.Global.MetricsAddress = val
	}
	if val := os.Getenv("EDGECACHE_ORIGIN_URL"); val != "" {
		c.Origin.BaseURL = val
	}
	if val := os.Getenv("EDGECACHE_CACHE_DIR"); val != "" {
		c.Cache.Directory = val
	}
	if val := os.Getenv("EDGECACHE_S3_BUCKET"); val != "" {
		c.Origin.S3.Bucket = val
	}
	if val := os.Getenv("EDGECACHE_S3_REGION"); val != "" {
		c.Origin.S3.Region = val
	}
	if val := os.Getenv("EDGECACHE_S3_ENDPOINT"); val != "" {
		c.Origin.S3.Endpoint = val
	}
	if val := os.Getenv("EDGECACHE_MAINTENANCE_SCHEDULE"); val != "" {
		c.Maintenance.Schedule = val
	}
}

// Validate validates the configuration.
func (c *Configuration) Validate() error {
	if c.Origin.BaseURL == "" && c.Origin.S3.Bucket == "" {
		return fmt.Errorf("origin base_url or s3 bucket must be set")
	}
	if !c.Cache.InMemory && c.Cache.Directory == "" {
		return fmt.Errorf("cache directory must be set")
	}
	for name, val := range map[string]string{
		"static_name": c.Cache.StaticName,
		"media_name":  c.Cache.MediaName,
		"video_name":  c.Cache.VideoName,
		"api_name":    c.Cache.APIName,
	} {
		if val == "" {
			return fmt.Errorf("cache %s must be set", name)
		}
	}
	for name, target := range map[string]float64{
		"media_target": c.Cache.MediaTarget,
		"video_target": c.Cache.VideoTarget,
	} {
		if target <= 0 || target > 1 {
			return fmt.Errorf("cache %s must be in (0, 1], got %v", name, target)
		}
	}
	for name, val := range map[string]string{
		"media_budget": c.Cache.MediaBudget,
		"video_budget": c.Cache.VideoBudget,
		"api_budget":   c.Cache.APIBudget,
		"chunk_size":   c.Cache.ChunkSize,
	} {
		if _, err := ParseSize(val); err != nil {
			return fmt.Errorf("invalid cache %s: %w", name, err)
		}
	}
	if len(strings.Fields(c.Maintenance.Schedule)) != 5 {
		return fmt.Errorf("maintenance schedule must be a five-field cron expression")
	}
	return nil
}

// MediaBudgetBytes returns the media partition budget in bytes.
func (c *Configuration) MediaBudgetBytes() int64 { return mustSize(c.Cache.MediaBudget) }

// VideoBudgetBytes returns the video partition budget in bytes.
func (c *Configuration) VideoBudgetBytes() int64 { return mustSize(c.Cache.VideoBudget) }

// APIBudgetBytes returns the API partition budget in bytes.
func (c *Configuration) APIBudgetBytes() int64 { return mustSize(c.Cache.APIBudget) }

// ChunkSizeBytes returns the default range chunk size in bytes.
func (c *Configuration) ChunkSizeBytes() int64 { return mustSize(c.Cache.ChunkSize) }

func mustSize(s string) int64 {
	n, err := ParseSize(s)
	if err != nil {
		return 0
	}
	return n
}

// ParseSize parses a human-readable size string like "500MB" or "1GB"
// into bytes. A bare number is taken as bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	multiplier := int64(1)
	for _, unit := range []struct {
		suffix string
		factor int64
	}{
		{"TB", 1 << 40},
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	} {
		if strings.HasSuffix(s, unit.suffix) {
			multiplier = unit.factor
			s = strings.TrimSuffix(s, unit.suffix)
			break
		}
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("size cannot be negative")
	}
	return n * multiplier, nil
}
