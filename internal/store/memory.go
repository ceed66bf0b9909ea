package store

import (
	"context"
	"sync"
)

// MemoryPartition is an in-process partition for tests and ephemeral
// deployments. Entries are cloned on both put and get so callers never
// share header maps or body slices with the store.
type MemoryPartition struct {
	mu      sync.RWMutex
	name    string
	entries map[string]*Entry
	bytes   int64
}

// NewMemoryPartition creates an empty in-memory partition.
func NewMemoryPartition(name string) *MemoryPartition {
	return &MemoryPartition{
		name:    name,
		entries: make(map[string]*Entry),
	}
}

// Name returns the partition name.
func (p *MemoryPartition) Name() string {
	return p.name
}

// Get retrieves a copy of the entry for key.
func (p *MemoryPartition) Get(_ context.Context, key string) (*Entry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return entry.Clone(), nil
}

// Put stores a copy of the entry, replacing any previous value for the key.
func (p *MemoryPartition) Put(_ context.Context, entry *Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if old, ok := p.entries[entry.Key]; ok {
		p.bytes -= old.Size()
	}
	p.entries[entry.Key] = entry.Clone()
	p.bytes += entry.Size()
	return nil
}

// Delete removes the entry for key if present.
func (p *MemoryPartition) Delete(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if old, ok := p.entries[key]; ok {
		p.bytes -= old.Size()
		delete(p.entries, key)
	}
	return nil
}

// Keys lists all stored keys.
func (p *MemoryPartition) Keys(_ context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make([]string, 0, len(p.entries))
	for k := range p.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

// Clear removes every entry.
func (p *MemoryPartition) Clear(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.entries = make(map[string]*Entry)
	p.bytes = 0
	return nil
}

// Len returns the entry count.
func (p *MemoryPartition) Len(_ context.Context) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries), nil
}

// BytesUsed returns the sum of stored body sizes.
func (p *MemoryPartition) BytesUsed(_ context.Context) (int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bytes, nil
}
