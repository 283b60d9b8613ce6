package circuitbreaker

import (
	"maps"
	"slices"
	"sync"
)

// Registry manages per-host Breaker instances. Hosts are bounded by the
// configured upstream and image allowlist, so entries are never evicted.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// NewRegistry creates a new circuit breaker registry with the given config.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		config:   cfg,
	}
}

// GetOrCreate returns the breaker for host, creating one if needed.
// Uses double-check locking to minimize write-lock contention.
func (r *Registry) GetOrCreate(host string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[host]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring write lock.
	if b, ok := r.breakers[host]; ok {
		return b
	}
	b = NewBreaker(r.config)
	r.breakers[host] = b
	return b
}

// OpenHosts returns the sorted hosts whose breaker is not closed.
func (r *Registry) OpenHosts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, host := range slices.Sorted(maps.Keys(r.breakers)) {
		if r.breakers[host].State() != StateClosed {
			out = append(out, host)
		}
	}
	return out
}
