package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const indexFileName = "index.json"

// DiskPartition is a durable partition backed by a directory: one file per
// entry body plus a JSON index holding status, headers and sizes. Entries
// survive process restarts, which is what makes offline serving possible
// after a redeploy.
type DiskPartition struct {
	mu     sync.RWMutex
	name   string
	dir    string
	index  map[string]*diskItem
	logger *log.Entry
}

type diskItem struct {
	Key      string      `json:"key"`
	File     string      `json:"file"`
	Size     int64       `json:"size"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	StoredAt time.Time   `json:"stored_at"`
}

// OpenDiskPartition opens (or creates) the partition directory under root
// and loads its index. Opening a partition that does not exist yet creates
// it, so the call is idempotent.
func OpenDiskPartition(root, name string) (*DiskPartition, error) {
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, xerrors.Errorf("failed to create partition directory %s: %w", dir, err)
	}

	p := &DiskPartition{
		name:  name,
		dir:   dir,
		index: make(map[string]*diskItem),
		logger: log.WithFields(log.Fields{
			"package":   "store",
			"partition": name,
		}),
	}

	if err := p.loadIndex(); err != nil {
		// A corrupt index means the partition contents are unusable;
		// start from an empty index rather than failing the open.
		p.logger.WithError(err).Warn("failed to load partition index, starting empty")
		p.index = make(map[string]*diskItem)
	}

	return p, nil
}

// Name returns the partition name.
func (p *DiskPartition) Name() string {
	return p.name
}

// Get retrieves the entry for key. An unreadable body file is treated as a
// missing entry: the index record is dropped and ErrNotFound is returned.
func (p *DiskPartition) Get(_ context.Context, key string) (*Entry, error) {
	p.mu.RLock()
	item, ok := p.index[key]
	p.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}

	body, err := os.ReadFile(filepath.Join(p.dir, item.File))
	if err != nil {
		p.logger.WithError(err).WithField("key", key).Warn("unreadable cache entry, dropping")
		p.mu.Lock()
		delete(p.index, key)
		p.saveIndexLocked()
		p.mu.Unlock()
		return nil, ErrNotFound
	}

	return NewEntry(item.Key, item.Status, item.Header, body), nil
}

// Put stores the entry, fully replacing any previous value for the key.
// The body is written to a temp file and renamed so a racing reader sees
// either the old object or the new one, never a partial write.
func (p *DiskPartition) Put(_ context.Context, entry *Entry) error {
	file := entryFileName(entry.Key)
	path := filepath.Join(p.dir, file)

	tmp, err := os.CreateTemp(p.dir, file+".tmp-*")
	if err != nil {
		return xerrors.Errorf("failed to create temp file for %s: %w", entry.Key, err)
	}
	if _, err := tmp.Write(entry.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return xerrors.Errorf("failed to write body for %s: %w", entry.Key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return xerrors.Errorf("failed to close temp file for %s: %w", entry.Key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return xerrors.Errorf("failed to commit body for %s: %w", entry.Key, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.index[entry.Key] = &diskItem{
		Key:      entry.Key,
		File:     file,
		Size:     entry.Size(),
		Status:   entry.Status,
		Header:   entry.Header.Clone(),
		StoredAt: time.Now(),
	}
	p.saveIndexLocked()
	return nil
}

// Delete removes the entry for key. Deleting a missing key is a no-op.
func (p *DiskPartition) Delete(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	item, ok := p.index[key]
	if !ok {
		return nil
	}
	delete(p.index, key)
	p.saveIndexLocked()

	if err := os.Remove(filepath.Join(p.dir, item.File)); err != nil && !os.IsNotExist(err) {
		p.logger.WithError(err).WithField("key", key).Warn("failed to remove entry file")
	}
	return nil
}

// Keys lists all indexed keys.
func (p *DiskPartition) Keys(_ context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make([]string, 0, len(p.index))
	for k := range p.index {
		keys = append(keys, k)
	}
	return keys, nil
}

// Clear removes every entry and its backing file.
func (p *DiskPartition) Clear(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, item := range p.index {
		if err := os.Remove(filepath.Join(p.dir, item.File)); err != nil && !os.IsNotExist(err) {
			p.logger.WithError(err).WithField("key", item.Key).Warn("failed to remove entry file")
		}
	}
	p.index = make(map[string]*diskItem)
	p.saveIndexLocked()
	return nil
}

// Len returns the entry count.
func (p *DiskPartition) Len(_ context.Context) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.index), nil
}

// BytesUsed returns the sum of stored body sizes.
func (p *DiskPartition) BytesUsed(_ context.Context) (int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var total int64
	for _, item := range p.index {
		total += item.Size
	}
	return total, nil
}

func (p *DiskPartition) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(p.dir, indexFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return xerrors.Errorf("failed to read index: %w", err)
	}

	var items map[string]*diskItem
	if err := json.Unmarshal(data, &items); err != nil {
		return xerrors.Errorf("failed to parse index: %w", err)
	}
	p.index = items
	return nil
}

// saveIndexLocked persists the index; callers hold p.mu. An index write
// failure is logged but not propagated, since the entry bodies are already
// durable and a stale index only costs re-fetches after a restart.
func (p *DiskPartition) saveIndexLocked() {
	data, err := json.Marshal(p.index)
	if err != nil {
		p.logger.WithError(err).Warn("failed to marshal partition index")
		return
	}

	path := filepath.Join(p.dir, indexFileName)
	tmp, err := os.CreateTemp(p.dir, indexFileName+".tmp-*")
	if err != nil {
		p.logger.WithError(err).Warn("failed to create index temp file")
		return
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		p.logger.WithError(err).Warn("failed to write partition index")
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		p.logger.WithError(err).Warn("failed to close index temp file")
		return
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		p.logger.WithError(err).Warn("failed to commit partition index")
	}
}

func entryFileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]) + ".bin"
}
