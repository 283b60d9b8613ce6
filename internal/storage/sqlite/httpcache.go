package sqlite

import (
	"context"
	"encoding/json"
	"time"

	"github.com/eugener/tcgcache/internal/storage"
)

// MatchResponse returns the response stored for url in generation.
func (s *Store) MatchResponse(ctx context.Context, generation, url string) (storage.ResponseRecord, error) {
	var (
		rec      storage.ResponseRecord
		header   string
		storedAt int64
	)
	err := s.read.QueryRowContext(ctx,
		`SELECT generation, url, status, header, body, stored_at
		 FROM http_cache WHERE generation=? AND url=?`, generation, url,
	).Scan(&rec.Generation, &rec.URL, &rec.Status, &header, &rec.Body, &storedAt)
	if err != nil {
		return storage.ResponseRecord{}, mapNotFound(err)
	}
	if err := json.Unmarshal([]byte(header), &rec.Header); err != nil {
		rec.Header = nil
	}
	rec.StoredAt = time.UnixMilli(storedAt)
	return rec, nil
}

// PutResponses stores recs in a single transaction so a batch is either
// fully visible or not at all.
func (s *Store) PutResponses(ctx context.Context, recs []storage.ResponseRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO http_cache (generation, url, status, header, body, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(generation, url) DO UPDATE SET
		   status=excluded.status, header=excluded.header, body=excluded.body,
		   stored_at=excluded.stored_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range recs {
		header, err := json.Marshal(r.Header)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			r.Generation, r.URL, r.Status, string(header), r.Body, r.StoredAt.UnixMilli(),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListGenerations returns every generation that holds at least one response.
func (s *Store) ListGenerations(ctx context.Context) ([]string, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT DISTINCT generation FROM http_cache ORDER BY generation`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// DeleteGeneration drops every response in generation.
func (s *Store) DeleteGeneration(ctx context.Context, generation string) (int, error) {
	result, err := s.write.ExecContext(ctx,
		`DELETE FROM http_cache WHERE generation=?`, generation)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// PurgeResponsesOlderThan drops responses in generation stored before cutoff.
func (s *Store) PurgeResponsesOlderThan(ctx context.Context, generation string, cutoff time.Time) (int, error) {
	result, err := s.write.ExecContext(ctx,
		`DELETE FROM http_cache WHERE generation=? AND stored_at < ?`,
		generation, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}
