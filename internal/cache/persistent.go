package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tcgcache "github.com/eugener/tcgcache/internal"
	"github.com/eugener/tcgcache/internal/storage"
)

// Persistent is the durable tier. Storage failures never reach callers: a
// failed read is a miss and a failed write is logged and dropped.
type Persistent struct {
	entries storage.EntryStore
	named   storage.NamedStore
	version int
}

// NewPersistent wraps the given stores. version tags named caches; rows
// written under another version read as misses.
func NewPersistent(entries storage.EntryStore, named storage.NamedStore, version int) *Persistent {
	return &Persistent{entries: entries, named: named, version: version}
}

// Get retrieves an entry from namespace ns.
func (p *Persistent) Get(ctx context.Context, ns tcgcache.Namespace, key string) (tcgcache.Entry, bool) {
	e, err := p.entries.GetEntry(ctx, ns, key)
	if err != nil {
		if !errors.Is(err, tcgcache.ErrNotFound) {
			logUnavailable(ctx, "get", ns, key, err)
		}
		return tcgcache.Entry{}, false
	}
	return e, true
}

// Set stores e in namespace ns. Errors are logged and swallowed.
func (p *Persistent) Set(ctx context.Context, ns tcgcache.Namespace, e tcgcache.Entry) {
	if err := p.entries.PutEntry(ctx, ns, e); err != nil {
		logUnavailable(ctx, "set", ns, e.Key, err)
	}
}

// Delete removes an entry. Errors are logged and swallowed.
func (p *Persistent) Delete(ctx context.Context, ns tcgcache.Namespace, key string) {
	if err := p.entries.DeleteEntry(ctx, ns, key); err != nil {
		logUnavailable(ctx, "delete", ns, key, err)
	}
}

// Clear empties namespace ns. Unlike the read/write path this is an explicit
// admin operation, so the error is returned wrapped in ErrStorageUnavailable.
func (p *Persistent) Clear(ctx context.Context, ns tcgcache.Namespace) (int, error) {
	n, err := p.entries.ClearNamespace(ctx, ns)
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// PurgeOlderThan removes entries in ns stored more than age before now.
func (p *Persistent) PurgeOlderThan(ctx context.Context, ns tcgcache.Namespace, age time.Duration, now time.Time) (int, error) {
	n, err := p.entries.PurgeOlderThan(ctx, ns, now.Add(-age))
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// GetNamed decodes the named cache into v and returns its timestamp.
func (p *Persistent) GetNamed(ctx context.Context, name string, v any) (time.Time, bool) {
	env, err := p.named.GetNamed(ctx, name, p.version)
	if err != nil {
		if !errors.Is(err, tcgcache.ErrNotFound) {
			logUnavailable(ctx, "get_named", "", name, err)
		}
		return time.Time{}, false
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		logUnavailable(ctx, "decode_named", "", name, err)
		return time.Time{}, false
	}
	return env.StoredAt(), true
}

// PutNamed stores v under name stamped with ts. Errors are logged and swallowed.
func (p *Persistent) PutNamed(ctx context.Context, name string, v any, ts time.Time) {
	data, err := json.Marshal(v)
	if err != nil {
		logUnavailable(ctx, "encode_named", "", name, err)
		return
	}
	env := storage.Envelope{TS: ts.UnixMilli(), Data: data}
	if err := p.named.PutNamed(ctx, name, p.version, env); err != nil {
		logUnavailable(ctx, "put_named", "", name, err)
	}
}

// DeleteNamed removes a named cache. Errors are logged and swallowed.
func (p *Persistent) DeleteNamed(ctx context.Context, name string) {
	if err := p.named.DeleteNamed(ctx, name); err != nil {
		logUnavailable(ctx, "delete_named", "", name, err)
	}
}

func unavailable(err error) error {
	if errors.Is(err, tcgcache.ErrInvalidParams) {
		return err
	}
	return fmt.Errorf("%w: %v", tcgcache.ErrStorageUnavailable, err)
}

func logUnavailable(ctx context.Context, op string, ns tcgcache.Namespace, key string, err error) {
	slog.LogAttrs(ctx, slog.LevelWarn, "persistent cache unavailable",
		slog.String("op", op),
		slog.String("namespace", string(ns)),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}
