// Package freshness decides whether a cached entry is still usable for its
// data category.
package freshness

import (
	"time"

	tcgcache "github.com/eugener/tcgcache/internal"
)

// Default TTLs per category. A zero TTL never expires by age.
const (
	DefaultSearchTTL       = time.Hour
	DefaultSetListTTL      = 24 * time.Hour
	DefaultRandomPickTTL   = 30 * time.Minute
	DefaultSingleEntityTTL = time.Hour
	DefaultImageTTL        = 0
)

// Rules maps each category to its TTL.
type Rules map[tcgcache.Category]time.Duration

// DefaultRules returns the default TTL table.
func DefaultRules() Rules {
	return Rules{
		tcgcache.CategorySearch:       DefaultSearchTTL,
		tcgcache.CategorySetList:      DefaultSetListTTL,
		tcgcache.CategoryRandomPick:   DefaultRandomPickTTL,
		tcgcache.CategorySingleEntity: DefaultSingleEntityTTL,
		tcgcache.CategoryImage:        DefaultImageTTL,
	}
}

// Policy applies a read-only TTL table. Safe for concurrent use.
type Policy struct {
	rules Rules
	now   func() time.Time
}

// Option configures a Policy.
type Option func(*Policy)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) { p.now = now }
}

// New returns a Policy using defaults overridden by rules. The table is
// copied so later changes to rules have no effect.
func New(rules Rules, opts ...Option) *Policy {
	merged := DefaultRules()
	for c, ttl := range rules {
		merged[c] = ttl
	}
	p := &Policy{rules: merged, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

// TTL returns the TTL for c. Unknown categories get zero-length freshness.
func (p *Policy) TTL(c tcgcache.Category) time.Duration {
	return p.rules[c]
}

// Now returns the policy clock's current time.
func (p *Policy) Now() time.Time { return p.now() }

// IsFresh reports whether now - e.StoredAt < TTL(c). Image entries (TTL 0)
// are always fresh; unknown categories are never fresh.
func (p *Policy) IsFresh(e tcgcache.Entry, c tcgcache.Category) bool {
	ttl, ok := p.rules[c]
	if !ok {
		return false
	}
	if ttl == 0 {
		return true
	}
	return p.now().Sub(e.StoredAt) < ttl
}

// Age returns how long ago e was stored.
func (p *Policy) Age(e tcgcache.Entry) time.Duration {
	return p.now().Sub(e.StoredAt)
}

// Longest returns the largest finite TTL in the table.
func (p *Policy) Longest() time.Duration {
	var longest time.Duration
	for _, ttl := range p.rules {
		longest = max(longest, ttl)
	}
	return longest
}
