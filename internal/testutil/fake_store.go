package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	tcgcache "github.com/eugener/tcgcache/internal"
	"github.com/eugener/tcgcache/internal/storage"
)

var _ storage.Store = (*FakeStore)(nil)

type namedRow struct {
	version int
	env     storage.Envelope
}

// FakeStore is an in-memory implementation of storage.Store for testing.
// Setting Err makes every operation fail with it.
type FakeStore struct {
	mu        sync.RWMutex
	entries   map[tcgcache.Namespace]map[string]tcgcache.Entry
	named     map[string]namedRow
	responses map[string]map[string]storage.ResponseRecord
	err       error
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		entries: map[tcgcache.Namespace]map[string]tcgcache.Entry{
			tcgcache.NamespaceAPI:   {},
			tcgcache.NamespaceImage: {},
		},
		named:     make(map[string]namedRow),
		responses: make(map[string]map[string]storage.ResponseRecord),
	}
}

// SetErr makes subsequent operations fail with err (nil restores).
func (s *FakeStore) SetErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// --- EntryStore ---

// GetEntry returns the entry for key in ns.
func (s *FakeStore) GetEntry(_ context.Context, ns tcgcache.Namespace, key string) (tcgcache.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return tcgcache.Entry{}, s.err
	}
	e, ok := s.entries[ns][key]
	if !ok {
		return tcgcache.Entry{}, tcgcache.ErrNotFound
	}
	return e, nil
}

// PutEntry stores e unless a newer entry already exists.
func (s *FakeStore) PutEntry(_ context.Context, ns tcgcache.Namespace, e tcgcache.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	m, ok := s.entries[ns]
	if !ok {
		return tcgcache.ErrInvalidParams
	}
	if old, ok := m[e.Key]; ok && e.StoredAt.Before(old.StoredAt) {
		return nil
	}
	e.Payload = append([]byte(nil), e.Payload...)
	m[e.Key] = e
	return nil
}

// DeleteEntry removes key from ns.
func (s *FakeStore) DeleteEntry(_ context.Context, ns tcgcache.Namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	delete(s.entries[ns], key)
	return nil
}

// ClearNamespace removes every entry in ns.
func (s *FakeStore) ClearNamespace(_ context.Context, ns tcgcache.Namespace) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	n := len(s.entries[ns])
	s.entries[ns] = map[string]tcgcache.Entry{}
	return n, nil
}

// PurgeOlderThan removes entries in ns stored before cutoff.
func (s *FakeStore) PurgeOlderThan(_ context.Context, ns tcgcache.Namespace, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	n := 0
	for k, e := range s.entries[ns] {
		if e.StoredAt.Before(cutoff) {
			delete(s.entries[ns], k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of entries in ns.
func (s *FakeStore) Len(ns tcgcache.Namespace) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries[ns])
}

// --- NamedStore ---

// GetNamed returns the envelope for name if it was written under version.
func (s *FakeStore) GetNamed(_ context.Context, name string, version int) (storage.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return storage.Envelope{}, s.err
	}
	row, ok := s.named[name]
	if !ok || row.version != version {
		return storage.Envelope{}, tcgcache.ErrNotFound
	}
	return row.env, nil
}

// PutNamed stores env under name and version.
func (s *FakeStore) PutNamed(_ context.Context, name string, version int, env storage.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	env.Data = append([]byte(nil), env.Data...)
	s.named[name] = namedRow{version: version, env: env}
	return nil
}

// DeleteNamed removes name.
func (s *FakeStore) DeleteNamed(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	delete(s.named, name)
	return nil
}

// --- ResponseStore ---

// MatchResponse returns the response for url in generation.
func (s *FakeStore) MatchResponse(_ context.Context, generation, url string) (storage.ResponseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return storage.ResponseRecord{}, s.err
	}
	rec, ok := s.responses[generation][url]
	if !ok {
		return storage.ResponseRecord{}, tcgcache.ErrNotFound
	}
	return rec, nil
}

// PutResponses stores recs all at once.
func (s *FakeStore) PutResponses(_ context.Context, recs []storage.ResponseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	for _, r := range recs {
		g, ok := s.responses[r.Generation]
		if !ok {
			g = make(map[string]storage.ResponseRecord)
			s.responses[r.Generation] = g
		}
		r.Body = append([]byte(nil), r.Body...)
		g[r.URL] = r
	}
	return nil
}

// ListGenerations returns generation names in sorted order.
func (s *FakeStore) ListGenerations(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]string, 0, len(s.responses))
	for g := range s.responses {
		out = append(out, g)
	}
	sort.Strings(out)
	return out, nil
}

// DeleteGeneration drops generation.
func (s *FakeStore) DeleteGeneration(_ context.Context, generation string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	n := len(s.responses[generation])
	delete(s.responses, generation)
	return n, nil
}

// PurgeResponsesOlderThan drops responses in generation stored before cutoff.
func (s *FakeStore) PurgeResponsesOlderThan(_ context.Context, generation string, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	n := 0
	for u, r := range s.responses[generation] {
		if r.StoredAt.Before(cutoff) {
			delete(s.responses[generation], u)
			n++
		}
	}
	return n, nil
}

// Ping reports the configured error.
func (s *FakeStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Close is a no-op.
func (s *FakeStore) Close() error { return nil }
