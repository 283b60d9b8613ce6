package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"

	tcgcache "github.com/eugener/tcgcache/internal"
	"github.com/eugener/tcgcache/internal/keycodec"
	"github.com/eugener/tcgcache/internal/upstream"
)

const defaultRandomCount = 10

// SearchCards returns one page of cards matching f.
func (c *Catalog) SearchCards(ctx context.Context, f tcgcache.SearchFilter, page int) (tcgcache.Lookup[[]tcgcache.Card], error) {
	page = max(page, 1)
	key, err := keycodec.Derive(tcgcache.CategorySearch, keycodec.Params{
		"filter":    f,
		"page":      page,
		"page_size": c.pageSize,
	})
	if err != nil {
		return tcgcache.Lookup[[]tcgcache.Card]{}, err
	}
	raw, err := c.load(ctx, tcgcache.CategorySearch, key,
		func(ctx context.Context, ro upstream.RequestOptions) (*upstream.Response, error) {
			return c.up.SearchCards(ctx, f, page, c.pageSize, ro)
		},
		func(body []byte) ([]byte, error) {
			cards, err := upstream.DecodeCards(body)
			if err != nil {
				return nil, err
			}
			return json.Marshal(cards)
		})
	if err != nil {
		return tcgcache.Lookup[[]tcgcache.Card]{}, err
	}
	return decodeLookup[[]tcgcache.Card](raw)
}

// CardByID returns a single card.
func (c *Catalog) CardByID(ctx context.Context, id string) (tcgcache.Lookup[tcgcache.Card], error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return tcgcache.Lookup[tcgcache.Card]{}, fmt.Errorf("%w: empty card id", tcgcache.ErrInvalidParams)
	}
	key, err := keycodec.Derive(tcgcache.CategorySingleEntity, keycodec.Params{"id": id})
	if err != nil {
		return tcgcache.Lookup[tcgcache.Card]{}, err
	}
	raw, err := c.load(ctx, tcgcache.CategorySingleEntity, key,
		func(ctx context.Context, ro upstream.RequestOptions) (*upstream.Response, error) {
			return c.up.Card(ctx, id, ro)
		},
		func(body []byte) ([]byte, error) {
			card, err := upstream.DecodeCard(body)
			if err != nil {
				return nil, err
			}
			return json.Marshal(card)
		})
	if err != nil {
		return tcgcache.Lookup[tcgcache.Card]{}, err
	}
	return decodeLookup[tcgcache.Card](raw)
}

// RandomPick returns count distinct cards drawn from the high-rarity pool.
// The draw is cached per count, so repeated calls within the TTL agree.
func (c *Catalog) RandomPick(ctx context.Context, count int) (tcgcache.Lookup[[]tcgcache.Card], error) {
	if count <= 0 {
		count = defaultRandomCount
	}
	count = min(count, randomPoolSize)
	key, err := keycodec.Derive(tcgcache.CategoryRandomPick, keycodec.Params{"count": count})
	if err != nil {
		return tcgcache.Lookup[[]tcgcache.Card]{}, err
	}
	raw, err := c.load(ctx, tcgcache.CategoryRandomPick, key,
		func(ctx context.Context, ro upstream.RequestOptions) (*upstream.Response, error) {
			return c.up.RarityPool(ctx, randomPoolSize, ro)
		},
		func(body []byte) ([]byte, error) {
			pool, err := upstream.DecodeCards(body)
			if err != nil {
				return nil, err
			}
			return json.Marshal(pick(pool, count))
		})
	if err != nil {
		return tcgcache.Lookup[[]tcgcache.Card]{}, err
	}
	return decodeLookup[[]tcgcache.Card](raw)
}

// pick returns up to n distinct random items of pool.
func pick[T any](pool []T, n int) []T {
	n = min(n, len(pool))
	out := make([]T, n)
	for i, idx := range rand.Perm(len(pool))[:n] {
		out[i] = pool[idx]
	}
	return out
}

// Prices returns the preferred price of each id. Ids priced within the TTL
// come from memory; the rest are fetched in one batched request. When that
// request fails the missing ids map to nil and nothing is cached.
func (c *Catalog) Prices(ctx context.Context, ids []string) (map[string]*float64, error) {
	out := make(map[string]*float64, len(ids))
	var missing []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, done := out[id]; done || slices.Contains(missing, id) {
			continue
		}
		if e, ok := c.mem.Get(priceKey(id)); ok && c.policy.IsFresh(e, tcgcache.CategorySingleEntity) {
			var p *float64
			if json.Unmarshal(e.Payload, &p) == nil {
				c.metrics.Lookup("memory", "price", "hit")
				out[id] = p
				continue
			}
		}
		c.metrics.Lookup("memory", "price", "miss")
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	slices.Sort(missing)
	fetched, _, err := c.prices.Do(ctx, strings.Join(missing, "\x00"), func(ctx context.Context) (map[string]*float64, error) {
		resp, err := c.up.Prices(ctx, missing)
		if err != nil {
			return nil, err
		}
		return upstream.DecodePrices(resp.Body)
	})
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "price fetch failed",
			slog.Int("ids", len(missing)),
			slog.String("error", err.Error()),
		)
		for _, id := range missing {
			out[id] = nil
		}
		return out, nil
	}

	now := c.policy.Now()
	for _, id := range missing {
		p := fetched[id]
		out[id] = p
		payload, _ := json.Marshal(p)
		c.mem.Set(priceKey(id), tcgcache.Entry{Payload: payload, StoredAt: now})
	}
	return out, nil
}

func priceKey(id string) string {
	return string(keycodec.MustDerive(tcgcache.CategorySingleEntity, keycodec.Params{"price_id": id}))
}

func decodeLookup[T any](raw tcgcache.Lookup[[]byte]) (tcgcache.Lookup[T], error) {
	var v T
	if err := json.Unmarshal(raw.Value, &v); err != nil {
		return tcgcache.Lookup[T]{}, fmt.Errorf("%w: decode cached payload: %v", tcgcache.ErrUpstreamData, err)
	}
	return tcgcache.Lookup[T]{Value: v, Source: raw.Source, StoredAt: raw.StoredAt, Stale: raw.Stale}, nil
}
