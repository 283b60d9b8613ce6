// Package storage defines persistence interfaces for the catalog cache.
package storage

import (
	"context"
	"time"

	tcgcache "github.com/eugener/tcgcache/internal"
)

// EntryStore persists timestamped entries in isolated namespaces.
// Get returns tcgcache.ErrNotFound on a miss.
type EntryStore interface {
	GetEntry(ctx context.Context, ns tcgcache.Namespace, key string) (tcgcache.Entry, error)
	PutEntry(ctx context.Context, ns tcgcache.Namespace, e tcgcache.Entry) error
	DeleteEntry(ctx context.Context, ns tcgcache.Namespace, key string) error
	ClearNamespace(ctx context.Context, ns tcgcache.Namespace) (int, error)
	PurgeOlderThan(ctx context.Context, ns tcgcache.Namespace, cutoff time.Time) (int, error)
}

// NamedStore holds small named caches inside a {ts, data} envelope.
// Rows written under a different version read as tcgcache.ErrNotFound.
type NamedStore interface {
	GetNamed(ctx context.Context, name string, version int) (Envelope, error)
	PutNamed(ctx context.Context, name string, version int, env Envelope) error
	DeleteNamed(ctx context.Context, name string) error
}

// Envelope is the persisted form of a named cache value.
type Envelope struct {
	TS   int64  `json:"ts"` // unix millis
	Data []byte `json:"data"`
}

// StoredAt returns the envelope timestamp as a time.Time.
func (e Envelope) StoredAt() time.Time { return time.UnixMilli(e.TS) }

// ResponseRecord is a stored HTTP response inside a cache generation.
type ResponseRecord struct {
	Generation string
	URL        string
	Status     int
	Header     map[string][]string
	Body       []byte
	StoredAt   time.Time
}

// ResponseStore persists HTTP responses grouped by cache generation.
type ResponseStore interface {
	MatchResponse(ctx context.Context, generation, url string) (ResponseRecord, error)
	PutResponses(ctx context.Context, recs []ResponseRecord) error
	ListGenerations(ctx context.Context) ([]string, error)
	DeleteGeneration(ctx context.Context, generation string) (int, error)
	PurgeResponsesOlderThan(ctx context.Context, generation string, cutoff time.Time) (int, error)
}

// Store combines all storage interfaces.
type Store interface {
	EntryStore
	NamedStore
	ResponseStore
	Ping(ctx context.Context) error
	Close() error
}
