// Package upstream is the HTTP client for the card catalog API plus the
// normalizer that turns its response shapes into canonical items.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	tcgcache "github.com/eugener/tcgcache/internal"
)

const (
	defaultBaseURL = "https://api.pokemontcg.io/v2"
	defaultTimeout = 10 * time.Second

	defaultMaxBody = 32 << 20
)

// Options configures a Client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration     // per request, default 10s
	Transport http.RoundTripper // auth and interception live in the transport chain
	RPS       float64           // 0 = unlimited
	MaxBody   int64             // bytes per response, default 32 MiB
}

// Client fetches raw upstream responses. It never caches; caching happens in
// the transport (interceptor) and in the catalog tiers.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	maxBody int64
}

// Response is a successful (2xx or 304) upstream response.
type Response struct {
	Status      int
	Body        []byte
	ETag        string
	NotModified bool
	CacheStatus string // X-Cache-Status set by the interceptor, if any
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = defaultMaxBody
	}
	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    &http.Client{Transport: opts.Transport, Timeout: opts.Timeout},
		maxBody: opts.MaxBody,
	}
	if opts.RPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), max(1, int(opts.RPS)))
	}
	return c
}

// RequestOptions tune a single Get.
type RequestOptions struct {
	ETag       string // sent as If-None-Match
	Revalidate bool   // ask the transport to bypass its cached copy
}

// Get issues GET {base}{path}?{query}. Non-2xx statuses other than 304 become
// *APIError; transport failures wrap tcgcache.ErrNetwork.
func (c *Client) Get(ctx context.Context, path string, query url.Values, ro RequestOptions) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("upstream: rate limit wait: %w: %w", tcgcache.ErrNetwork, err)
		}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if ro.ETag != "" {
		req.Header.Set("If-None-Match", ro.ETag)
	}
	if ro.Revalidate {
		req.Header.Set("Cache-Control", "no-cache")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: do request: %w: %w", tcgcache.ErrNetwork, err)
	}
	defer resp.Body.Close()

	out := &Response{
		Status:      resp.StatusCode,
		ETag:        resp.Header.Get("ETag"),
		CacheStatus: resp.Header.Get("X-Cache-Status"),
	}
	if resp.StatusCode == http.StatusNotModified {
		out.NotModified = true
		return out, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, ParseAPIError(resp)
	}
	body, err := tcgcache.ReadBody(resp.Body, c.maxBody)
	if err != nil {
		return nil, fmt.Errorf("upstream: %s: %w", path, err)
	}
	out.Body = body
	return out, nil
}

// SearchCards fetches one page of a card search.
func (c *Client) SearchCards(ctx context.Context, f tcgcache.SearchFilter, page, pageSize int, ro RequestOptions) (*Response, error) {
	return c.Get(ctx, "/cards", SearchParams(f, page, pageSize), ro)
}

// Card fetches a single card by id.
func (c *Client) Card(ctx context.Context, id string, ro RequestOptions) (*Response, error) {
	return c.Get(ctx, "/cards/"+url.PathEscape(id), nil, ro)
}

// Prices fetches price fields for ids in one request, bypassing any
// transport cache.
func (c *Client) Prices(ctx context.Context, ids []string) (*Response, error) {
	return c.Get(ctx, "/cards", PriceParams(ids), RequestOptions{Revalidate: true})
}

// RarityPool fetches the pool random picks are drawn from.
func (c *Client) RarityPool(ctx context.Context, pageSize int, ro RequestOptions) (*Response, error) {
	return c.Get(ctx, "/cards", RarityPoolParams(pageSize), ro)
}

// Sets fetches one page of the set listing.
func (c *Client) Sets(ctx context.Context, page, pageSize int, ro RequestOptions) (*Response, error) {
	return c.Get(ctx, "/sets", SetParams(page, pageSize), ro)
}

// SetPages adapts the set listing to tcgcache.PageFetcher.
func (c *Client) SetPages() tcgcache.PageFetcher[tcgcache.Set] {
	return tcgcache.PageFetcherFunc[tcgcache.Set](func(ctx context.Context, page, pageSize int) ([]tcgcache.Set, error) {
		resp, err := c.Sets(ctx, page, pageSize, RequestOptions{Revalidate: true})
		if err != nil {
			return nil, err
		}
		return DecodeSets(resp.Body)
	})
}

// Image fetches raw image bytes. The returned Response.Body is the image.
func (c *Client) Image(ctx context.Context, rawURL, etag string) (*Response, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("upstream: create image request: %w", err)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("upstream: image request: %w: %w", tcgcache.ErrNetwork, err)
	}
	defer resp.Body.Close()
	out := &Response{Status: resp.StatusCode, ETag: resp.Header.Get("ETag")}
	if resp.StatusCode == http.StatusNotModified {
		out.NotModified = true
		return out, "", nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", ParseAPIError(resp)
	}
	body, err := tcgcache.ReadBody(resp.Body, c.maxBody)
	if err != nil {
		return nil, "", fmt.Errorf("upstream: image: %w", err)
	}
	out.Body = body
	return out, resp.Header.Get("Content-Type"), nil
}
