package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	tcgcache "github.com/eugener/tcgcache/internal"
)

// GetEntry retrieves an entry from the api or image namespace.
func (s *Store) GetEntry(ctx context.Context, ns tcgcache.Namespace, key string) (tcgcache.Entry, error) {
	var (
		e        tcgcache.Entry
		storedAt int64
		row      *sql.Row
	)
	switch ns {
	case tcgcache.NamespaceAPI:
		row = s.read.QueryRowContext(ctx,
			`SELECT key, payload, stored_at, etag FROM api_cache WHERE key=?`, key)
		if err := row.Scan(&e.Key, &e.Payload, &storedAt, &e.ETag); err != nil {
			return tcgcache.Entry{}, mapNotFound(err)
		}
	case tcgcache.NamespaceImage:
		row = s.read.QueryRowContext(ctx,
			`SELECT url, data, stored_at, etag, content_type FROM image_cache WHERE url=?`, key)
		if err := row.Scan(&e.Key, &e.Payload, &storedAt, &e.ETag, &e.ContentType); err != nil {
			return tcgcache.Entry{}, mapNotFound(err)
		}
	default:
		return tcgcache.Entry{}, unknownNamespace(ns)
	}
	e.StoredAt = time.UnixMilli(storedAt)
	return e, nil
}

// PutEntry upserts an entry. A write carrying an older stored_at than the
// existing row is ignored so timestamps never move backwards.
func (s *Store) PutEntry(ctx context.Context, ns tcgcache.Namespace, e tcgcache.Entry) error {
	// Copy so the stored bytes never alias a caller-owned buffer.
	payload := append([]byte(nil), e.Payload...)
	var err error
	switch ns {
	case tcgcache.NamespaceAPI:
		_, err = s.write.ExecContext(ctx,
			`INSERT INTO api_cache (key, payload, stored_at, etag) VALUES (?, ?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET
			   payload=excluded.payload, stored_at=excluded.stored_at, etag=excluded.etag
			 WHERE excluded.stored_at >= api_cache.stored_at`,
			e.Key, payload, e.StoredAt.UnixMilli(), e.ETag,
		)
	case tcgcache.NamespaceImage:
		_, err = s.write.ExecContext(ctx,
			`INSERT INTO image_cache (url, data, stored_at, etag, content_type) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(url) DO UPDATE SET
			   data=excluded.data, stored_at=excluded.stored_at, etag=excluded.etag,
			   content_type=excluded.content_type
			 WHERE excluded.stored_at >= image_cache.stored_at`,
			e.Key, payload, e.StoredAt.UnixMilli(), e.ETag, e.ContentType,
		)
	default:
		return unknownNamespace(ns)
	}
	return err
}

// DeleteEntry removes a single entry. Deleting a missing key is not an error.
func (s *Store) DeleteEntry(ctx context.Context, ns tcgcache.Namespace, key string) error {
	table, col, err := tableFor(ns)
	if err != nil {
		return err
	}
	_, err = s.write.ExecContext(ctx, `DELETE FROM `+table+` WHERE `+col+`=?`, key)
	return err
}

// ClearNamespace removes every entry in ns and returns the count removed.
func (s *Store) ClearNamespace(ctx context.Context, ns tcgcache.Namespace) (int, error) {
	table, _, err := tableFor(ns)
	if err != nil {
		return 0, err
	}
	result, err := s.write.ExecContext(ctx, `DELETE FROM `+table)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// PurgeOlderThan removes entries stored before cutoff.
func (s *Store) PurgeOlderThan(ctx context.Context, ns tcgcache.Namespace, cutoff time.Time) (int, error) {
	table, _, err := tableFor(ns)
	if err != nil {
		return 0, err
	}
	result, err := s.write.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE stored_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// tableFor maps a namespace to its table and key column. Only constant
// identifiers are returned, so concatenating them into SQL is safe.
func tableFor(ns tcgcache.Namespace) (table, keyCol string, err error) {
	switch ns {
	case tcgcache.NamespaceAPI:
		return "api_cache", "key", nil
	case tcgcache.NamespaceImage:
		return "image_cache", "url", nil
	default:
		return "", "", unknownNamespace(ns)
	}
}

func unknownNamespace(ns tcgcache.Namespace) error {
	return fmt.Errorf("%w: unknown namespace %q", tcgcache.ErrInvalidParams, ns)
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return tcgcache.ErrNotFound
	}
	return err
}
