package cache

import (
	"fmt"
	"sync"

	"github.com/maypok86/otter/v2"

	tcgcache "github.com/eugener/tcgcache/internal"
)

var _ Tier = (*Memory)(nil)

// Memory is the session-scoped ephemeral tier backed by otter. It has no size
// bound and no expiry: entries live until Purge or process exit.
type Memory struct {
	cache *otter.Cache[string, tcgcache.Entry]
	mu    sync.Mutex // serializes the StoredAt check-and-set
}

// NewMemory creates an unbounded in-memory tier.
func NewMemory() (*Memory, error) {
	c, err := otter.New[string, tcgcache.Entry](&otter.Options[string, tcgcache.Entry]{})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Memory{cache: c}, nil
}

// Get retrieves an entry if present.
func (m *Memory) Get(key string) (tcgcache.Entry, bool) {
	return m.cache.GetIfPresent(key)
}

// Set stores e under key unless the current entry is newer.
func (m *Memory) Set(key string, e tcgcache.Entry) {
	e.Key = key
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.cache.GetIfPresent(key); ok && cur.StoredAt.After(e.StoredAt) {
		return
	}
	m.cache.Set(key, e)
}

// Delete removes an entry.
func (m *Memory) Delete(key string) {
	m.cache.Invalidate(key)
}

// Purge removes all entries.
func (m *Memory) Purge() {
	m.cache.InvalidateAll()
}
