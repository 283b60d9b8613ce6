package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tcgcache "github.com/eugener/tcgcache/internal"
)

// ClearNamespace empties one persistent namespace together with the
// interceptor generation that mirrors it. Clearing the API namespace also
// drops the memory tier and the persisted set list.
func (c *Catalog) ClearNamespace(ctx context.Context, ns tcgcache.Namespace) (int, error) {
	switch ns {
	case tcgcache.NamespaceAPI:
		c.mem.Purge()
		c.disk.DeleteNamed(ctx, setListName)
		n, err := c.disk.Clear(ctx, ns)
		if err != nil {
			return 0, err
		}
		if c.ic != nil {
			m, err := c.ic.ClearAPI(ctx)
			if err != nil {
				return n, err
			}
			n += m
		}
		return n, nil
	case tcgcache.NamespaceImage:
		n, err := c.disk.Clear(ctx, ns)
		if err != nil {
			return 0, err
		}
		if c.ic != nil {
			m, err := c.ic.PurgeImages(ctx, 0)
			if err != nil {
				return n, err
			}
			n += m
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: unknown namespace %q", tcgcache.ErrInvalidParams, ns)
	}
}

// PurgeImages removes images stored more than olderThan ago from both the
// image namespace and the interceptor's image generation. A non-positive
// olderThan removes every image.
func (c *Catalog) PurgeImages(ctx context.Context, olderThan time.Duration) (int, error) {
	var (
		n   int
		err error
	)
	if olderThan <= 0 {
		n, err = c.disk.Clear(ctx, tcgcache.NamespaceImage)
	} else {
		n, err = c.disk.PurgeOlderThan(ctx, tcgcache.NamespaceImage, olderThan, c.policy.Now())
	}
	if err != nil {
		return 0, err
	}
	if c.ic != nil {
		m, err := c.ic.PurgeImages(ctx, olderThan)
		if err != nil {
			return n, err
		}
		n += m
	}
	slog.Info("images purged", "older_than", olderThan, "removed", n)
	return n, nil
}

// Sweep removes API entries and interceptor API responses stored more than
// age ago. Stale entries are kept for offline fallback until they age past
// this bound.
func (c *Catalog) Sweep(ctx context.Context, age time.Duration) (int, error) {
	n, err := c.disk.PurgeOlderThan(ctx, tcgcache.NamespaceAPI, age, c.policy.Now())
	if err != nil {
		return 0, err
	}
	if c.ic != nil {
		m, err := c.ic.PurgeAPI(ctx, age)
		if err != nil {
			return n, err
		}
		n += m
	}
	return n, nil
}

// SweepAge returns the default sweep bound: four times the longest TTL.
func (c *Catalog) SweepAge() time.Duration {
	return 4 * c.policy.Longest()
}
