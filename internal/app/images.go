package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	tcgcache "github.com/eugener/tcgcache/internal"
)

// Image is a cached image blob.
type Image struct {
	Data        []byte
	ContentType string
	ETag        string
}

// Image returns the bytes at rawURL, cache-first. Only hosts on the
// allowlist may be fetched. Images never expire by age.
func (c *Catalog) Image(ctx context.Context, rawURL string) (tcgcache.Lookup[Image], error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return tcgcache.Lookup[Image]{}, fmt.Errorf("%w: image url %q", tcgcache.ErrInvalidParams, rawURL)
	}
	if !c.imageHosts[strings.ToLower(u.Hostname())] {
		return tcgcache.Lookup[Image]{}, fmt.Errorf("%w: image host %q not allowed", tcgcache.ErrForbidden, u.Hostname())
	}
	key := u.String()

	if e, ok := c.disk.Get(ctx, tcgcache.NamespaceImage, key); ok && c.policy.IsFresh(e, tcgcache.CategoryImage) {
		c.metrics.Lookup("persistent", string(tcgcache.CategoryImage), "hit")
		return imageLookup(e, tcgcache.SourcePersistent), nil
	}
	c.metrics.Lookup("persistent", string(tcgcache.CategoryImage), "miss")

	e, _, err := c.fetches.Do(ctx, "image\x00"+key, func(ctx context.Context) (tcgcache.Entry, error) {
		resp, contentType, err := c.up.Image(ctx, key, "")
		if err != nil {
			return tcgcache.Entry{}, err
		}
		e := tcgcache.Entry{
			Key:         key,
			Payload:     resp.Body,
			StoredAt:    c.policy.Now(),
			ETag:        resp.ETag,
			ContentType: contentType,
		}
		c.disk.Set(ctx, tcgcache.NamespaceImage, e)
		return e, nil
	})
	if err != nil {
		return tcgcache.Lookup[Image]{}, &tcgcache.FetchError{
			Op:     "image",
			Key:    key,
			Status: httpStatus(err),
			Err:    err,
		}
	}
	return imageLookup(e, tcgcache.SourceNetwork), nil
}

func imageLookup(e tcgcache.Entry, src tcgcache.Source) tcgcache.Lookup[Image] {
	return tcgcache.Lookup[Image]{
		Value:    Image{Data: e.Payload, ContentType: e.ContentType, ETag: e.ETag},
		Source:   src,
		StoredAt: e.StoredAt,
	}
}
