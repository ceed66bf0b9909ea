package store

import (
	"context"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Logical partition names used throughout the application. Each maps to a
// version-suffixed physical name so a deploy can force invalidation by
// bumping the suffix; Activate purges directories left by older versions.
const (
	PartitionStatic = "static"
	PartitionMedia  = "media"
	PartitionVideo  = "video"
	PartitionAPI    = "api"
)

// ManagerConfig configures the partition set.
type ManagerConfig struct {
	// Dir is the root directory for durable partitions. Ignored when
	// InMemory is set.
	Dir string

	// InMemory selects ephemeral partitions, used by tests.
	InMemory bool

	// Physical (version-suffixed) partition names.
	StaticName string
	MediaName  string
	VideoName  string
	APIName    string
}

// SeedFunc fetches one app-shell asset during install. The returned entry
// is stored under the asset path.
type SeedFunc func(ctx context.Context, asset string) (*Entry, error)

// Manager owns the four cache partitions. All reads and writes from the
// router, streamer, eviction policies and control channel go through the
// partitions it hands out; nothing else touches the backing storage.
type Manager struct {
	cfg        ManagerConfig
	partitions map[string]Partition
	logger     *log.Entry
}

// NewManager opens all four partitions, creating any that do not exist.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	m := &Manager{
		cfg:        cfg,
		partitions: make(map[string]Partition, 4),
		logger:     log.WithField("package", "store"),
	}

	names := map[string]string{
		PartitionStatic: cfg.StaticName,
		PartitionMedia:  cfg.MediaName,
		PartitionVideo:  cfg.VideoName,
		PartitionAPI:    cfg.APIName,
	}
	for logical, physical := range names {
		if physical == "" {
			return nil, xerrors.Errorf("partition %s has no physical name", logical)
		}
		p, err := m.open(physical)
		if err != nil {
			return nil, xerrors.Errorf("failed to open partition %s: %w", logical, err)
		}
		m.partitions[logical] = p
	}

	return m, nil
}

func (m *Manager) open(physical string) (Partition, error) {
	if m.cfg.InMemory {
		return NewMemoryPartition(physical), nil
	}
	return OpenDiskPartition(m.cfg.Dir, physical)
}

// Static returns the static/document partition.
func (m *Manager) Static() Partition { return m.partitions[PartitionStatic] }

// Media returns the gallery image partition.
func (m *Manager) Media() Partition { return m.partitions[PartitionMedia] }

// Video returns the video partition.
func (m *Manager) Video() Partition { return m.partitions[PartitionVideo] }

// API returns the API partition.
func (m *Manager) API() Partition { return m.partitions[PartitionAPI] }

// Partition looks up a partition by logical name.
func (m *Manager) Partition(logical string) (Partition, bool) {
	p, ok := m.partitions[logical]
	return p, ok
}

// Partitions returns the logical-name→partition map.
func (m *Manager) Partitions() map[string]Partition {
	out := make(map[string]Partition, len(m.partitions))
	for k, v := range m.partitions {
		out[k] = v
	}
	return out
}

// Install seeds the static partition with the app-shell asset list. A
// failed individual asset is logged and skipped so one bad asset never
// aborts the install pass.
func (m *Manager) Install(ctx context.Context, assets []string, fetch SeedFunc) {
	static := m.Static()
	for _, asset := range assets {
		entry, err := fetch(ctx, asset)
		if err != nil {
			m.logger.WithError(err).WithField("asset", asset).Warn("failed to seed static asset")
			continue
		}
		if err := static.Put(ctx, entry); err != nil {
			m.logger.WithError(err).WithField("asset", asset).Warn("failed to store static asset")
		}
	}
}

// Activate deletes any on-disk partition directory whose name is not in
// the current allow-list, purging partitions left behind by a previous
// deployment's version suffixes. No-op for in-memory managers.
func (m *Manager) Activate(_ context.Context) error {
	if m.cfg.InMemory {
		return nil
	}

	allowed := map[string]bool{
		m.cfg.StaticName: true,
		m.cfg.MediaName:  true,
		m.cfg.VideoName:  true,
		m.cfg.APIName:    true,
	}

	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		return xerrors.Errorf("failed to list cache directory: %w", err)
	}

	for _, ent := range entries {
		if !ent.IsDir() || allowed[ent.Name()] {
			continue
		}
		dir := filepath.Join(m.cfg.Dir, ent.Name())
		if err := os.RemoveAll(dir); err != nil {
			m.logger.WithError(err).WithField("partition", ent.Name()).Warn("failed to prune stale partition")
			continue
		}
		m.logger.WithField("partition", ent.Name()).Info("pruned stale cache partition")
	}
	return nil
}
