package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	tcgcache "github.com/eugener/tcgcache/internal"
	"github.com/eugener/tcgcache/internal/storage"
)

// GetNamed retrieves a named cache envelope. A row written under a different
// version is reported as tcgcache.ErrNotFound.
func (s *Store) GetNamed(ctx context.Context, name string, version int) (storage.Envelope, error) {
	var (
		gotVersion int
		raw        []byte
	)
	err := s.read.QueryRowContext(ctx,
		`SELECT version, envelope FROM named_cache WHERE name=?`, name,
	).Scan(&gotVersion, &raw)
	if err != nil {
		return storage.Envelope{}, mapNotFound(err)
	}
	if gotVersion != version {
		return storage.Envelope{}, tcgcache.ErrNotFound
	}
	var env storage.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return storage.Envelope{}, fmt.Errorf("decode envelope %q: %w", name, err)
	}
	return env, nil
}

// PutNamed stores env under name, replacing any previous version.
func (s *Store) PutNamed(ctx context.Context, name string, version int, env storage.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope %q: %w", name, err)
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO named_cache (name, version, envelope) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET version=excluded.version, envelope=excluded.envelope`,
		name, version, raw,
	)
	return err
}

// DeleteNamed removes a named cache.
func (s *Store) DeleteNamed(ctx context.Context, name string) error {
	_, err := s.write.ExecContext(ctx, `DELETE FROM named_cache WHERE name=?`, name)
	return err
}
