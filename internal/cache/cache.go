// Package cache provides the in-memory and persistent cache tiers.
//
// Neither tier enforces TTLs: callers compare Entry.StoredAt against a
// freshness.Policy. Both tiers are last-writer-wins, except that a write
// carrying an older StoredAt than the current entry is ignored.
package cache

import (
	tcgcache "github.com/eugener/tcgcache/internal"
)

// Tier is the synchronous interface shared by in-process tiers.
type Tier interface {
	// Get retrieves an entry by key.
	Get(key string) (tcgcache.Entry, bool)
	// Set stores an entry under key.
	Set(key string, e tcgcache.Entry)
	// Delete removes an entry.
	Delete(key string)
	// Purge removes all entries.
	Purge()
}
