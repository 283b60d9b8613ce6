// Package interceptor implements the network interception layer: an
// http.RoundTripper that serves GET traffic from versioned cache generations
// with a per-class strategy and a structured offline contract.
//
//   - image class: cache-first, retained until PurgeImages.
//   - API class: stale-while-revalidate, or network-first when the request
//     carries Cache-Control: no-cache.
//   - static class: cache-first with an offline document for navigations.
package interceptor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	tcgcache "github.com/eugener/tcgcache/internal"
	"github.com/eugener/tcgcache/internal/coalesce"
	"github.com/eugener/tcgcache/internal/storage"
	"github.com/eugener/tcgcache/internal/telemetry"
)

const (
	// HeaderCacheStatus reports how the interceptor produced a response.
	HeaderCacheStatus = "X-Cache-Status"

	StatusHit                  = "hit"
	StatusMiss                 = "miss"
	StatusStaleWhileRevalidate = "stale-while-revalidate"
	StatusOfflineFallback      = "offline-fallback"
	StatusOffline              = "offline"

	defaultRefreshTimeout = 10 * time.Second
	defaultMaxBody        = 32 << 20
)

var offlinePayload = []byte(`{"error":"offline"}`)

// Options configures an Interceptor.
type Options struct {
	Version         int      // generation suffix: static-vN, api-vN, images-vN
	Manifest        []string // absolute URLs pre-cached by Install
	OfflineDocument string   // manifest URL served to failed navigations
	CacheStatic     bool     // populate the static generation on miss
	RefreshTimeout  time.Duration
	MaxBody         int64 // bytes per response, default 32 MiB
	Metrics         *telemetry.Metrics
	Now             func() time.Time
}

// Interceptor is an http.RoundTripper. Until Activate it passes every request
// straight to the base transport.
type Interceptor struct {
	base  http.RoundTripper
	store storage.ResponseStore
	opts  Options

	static, api, images string

	active  atomic.Bool
	closed  atomic.Bool
	refresh coalesce.Group[struct{}]
	wg      sync.WaitGroup
}

var _ http.RoundTripper = (*Interceptor)(nil)

// New creates an Interceptor over base (nil = http.DefaultTransport).
func New(base http.RoundTripper, store storage.ResponseStore, opts Options) *Interceptor {
	if base == nil {
		base = http.DefaultTransport
	}
	if opts.Version <= 0 {
		opts.Version = 1
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = defaultRefreshTimeout
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = defaultMaxBody
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	v := "-v" + strconv.Itoa(opts.Version)
	return &Interceptor{
		base:   base,
		store:  store,
		opts:   opts,
		static: "static" + v,
		api:    "api" + v,
		images: "images" + v,
	}
}

// Active reports whether Activate has run.
func (i *Interceptor) Active() bool { return i.active.Load() }

// Install pre-fetches the manifest into the static generation. Either every
// manifest URL is stored or none is.
func (i *Interceptor) Install(ctx context.Context) error {
	recs := make([]storage.ResponseRecord, 0, len(i.opts.Manifest))
	for _, u := range i.opts.Manifest {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("interceptor: install %s: %w", u, err)
		}
		rec, err := i.fetch(req)
		if err != nil {
			return fmt.Errorf("interceptor: install %s: %w", u, err)
		}
		if !ok2xx(rec.Status) {
			return fmt.Errorf("interceptor: install %s: HTTP %d", u, rec.Status)
		}
		rec.Generation = i.static
		recs = append(recs, rec)
	}
	if err := i.store.PutResponses(ctx, recs); err != nil {
		return fmt.Errorf("interceptor: install: %w: %w", tcgcache.ErrStorageUnavailable, err)
	}
	slog.Info("interceptor installed", "generation", i.static, "assets", len(recs))
	return nil
}

// Activate deletes every generation other than the current ones and starts
// intercepting traffic.
func (i *Interceptor) Activate(ctx context.Context) error {
	gens, err := i.store.ListGenerations(ctx)
	if err != nil {
		return fmt.Errorf("interceptor: list generations: %w: %w", tcgcache.ErrStorageUnavailable, err)
	}
	current := map[string]bool{i.static: true, i.api: true, i.images: true}
	for _, g := range gens {
		if current[g] {
			continue
		}
		n, err := i.store.DeleteGeneration(ctx, g)
		if err != nil {
			return fmt.Errorf("interceptor: delete generation %s: %w", g, err)
		}
		slog.Info("interceptor dropped stale generation", "generation", g, "responses", n)
	}
	i.active.Store(true)
	return nil
}

// PurgeImages removes cached images older than olderThan. A non-positive
// olderThan removes every cached image.
func (i *Interceptor) PurgeImages(ctx context.Context, olderThan time.Duration) (int, error) {
	var (
		n   int
		err error
	)
	if olderThan <= 0 {
		n, err = i.store.DeleteGeneration(ctx, i.images)
	} else {
		n, err = i.store.PurgeResponsesOlderThan(ctx, i.images, i.opts.Now().Add(-olderThan))
	}
	if err != nil {
		return 0, fmt.Errorf("interceptor: purge images: %w: %w", tcgcache.ErrStorageUnavailable, err)
	}
	return n, nil
}

// ClearAPI drops every cached API response.
func (i *Interceptor) ClearAPI(ctx context.Context) (int, error) {
	n, err := i.store.DeleteGeneration(ctx, i.api)
	if err != nil {
		return 0, fmt.Errorf("interceptor: clear api: %w: %w", tcgcache.ErrStorageUnavailable, err)
	}
	return n, nil
}

// PurgeAPI removes cached API responses stored before now-olderThan.
func (i *Interceptor) PurgeAPI(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := i.store.PurgeResponsesOlderThan(ctx, i.api, i.opts.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("interceptor: purge api: %w: %w", tcgcache.ErrStorageUnavailable, err)
	}
	return n, nil
}

// Close stops scheduling background refreshes and waits for running ones.
func (i *Interceptor) Close(ctx context.Context) error {
	i.closed.Store(true)
	done := make(chan struct{})
	go func() {
		i.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RoundTrip implements http.RoundTripper.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	if !i.active.Load() || req.Method != http.MethodGet {
		return i.base.RoundTrip(req)
	}
	switch c := Classify(req); c {
	case ClassImage:
		return i.cacheFirst(req, c, i.images, true)
	case ClassAPI:
		if wantsRevalidation(req) {
			return i.networkFirst(req)
		}
		return i.staleWhileRevalidate(req)
	default:
		return i.cacheFirst(req, c, i.static, i.opts.CacheStatic)
	}
}

func (i *Interceptor) cacheFirst(req *http.Request, class Class, gen string, populate bool) (*http.Response, error) {
	ctx := req.Context()
	key := req.URL.String()
	if rec, ok := i.match(ctx, gen, key); ok {
		i.opts.Metrics.Intercepted(class.String(), StatusHit)
		return rec.response(req, StatusHit), nil
	}

	rec, err := i.fetch(req)
	if err != nil {
		i.opts.Metrics.Intercepted(class.String(), StatusOffline)
		slog.LogAttrs(ctx, slog.LevelDebug, "interceptor fetch failed",
			slog.String("class", class.String()),
			slog.String("error", err.Error()),
		)
		return i.staticFallback(req)
	}
	if populate && ok2xx(rec.Status) {
		rec.Generation = gen
		i.put(ctx, rec)
	}
	i.opts.Metrics.Intercepted(class.String(), StatusMiss)
	return record(rec).response(req, StatusMiss), nil
}

// staticFallback serves the offline document to navigations and a synthetic
// 504 to everything else.
func (i *Interceptor) staticFallback(req *http.Request) (*http.Response, error) {
	if isNavigation(req) && i.opts.OfflineDocument != "" {
		if rec, ok := i.match(req.Context(), i.static, i.opts.OfflineDocument); ok {
			return rec.response(req, StatusOfflineFallback), nil
		}
	}
	return synthetic(req, http.StatusGatewayTimeout, "text/plain; charset=utf-8", []byte("offline")), nil
}

func (i *Interceptor) networkFirst(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	key := req.URL.String()
	rec, err := i.fetch(req)
	if err == nil {
		if ok2xx(rec.Status) {
			rec.Generation = i.api
			i.put(ctx, rec)
		}
		i.opts.Metrics.Intercepted(ClassAPI.String(), "network")
		return record(rec).response(req, ""), nil
	}
	if cached, ok := i.match(ctx, i.api, key); ok {
		i.opts.Metrics.Intercepted(ClassAPI.String(), StatusOfflineFallback)
		return cached.response(req, StatusOfflineFallback), nil
	}
	i.opts.Metrics.Intercepted(ClassAPI.String(), StatusOffline)
	return i.offline(req), nil
}

func (i *Interceptor) staleWhileRevalidate(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	key := req.URL.String()
	if cached, ok := i.match(ctx, i.api, key); ok {
		i.revalidate(req)
		i.opts.Metrics.Intercepted(ClassAPI.String(), StatusStaleWhileRevalidate)
		return cached.response(req, StatusStaleWhileRevalidate), nil
	}

	rec, err := i.fetch(req)
	if err != nil {
		i.opts.Metrics.Intercepted(ClassAPI.String(), StatusOffline)
		return i.offline(req), nil
	}
	if ok2xx(rec.Status) {
		rec.Generation = i.api
		i.put(ctx, rec)
	}
	i.opts.Metrics.Intercepted(ClassAPI.String(), StatusMiss)
	return record(rec).response(req, StatusMiss), nil
}

// revalidate refreshes the API generation copy of req in the background.
// Concurrent refreshes of one URL share a single fetch; only a 2xx result
// replaces the cached copy.
func (i *Interceptor) revalidate(req *http.Request) {
	if i.closed.Load() {
		return
	}
	key := req.URL.String()
	bg := req.Clone(context.WithoutCancel(req.Context()))
	bg.Header.Del("If-None-Match")
	bg.Header.Del("Cache-Control")

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		ctx := bg.Context()
		_, _, err := i.refresh.Do(ctx, key, func(ctx context.Context) (struct{}, error) {
			ctx, cancel := context.WithTimeout(ctx, i.opts.RefreshTimeout)
			defer cancel()
			rec, err := i.fetch(bg.WithContext(ctx))
			if err != nil {
				return struct{}{}, err
			}
			if !ok2xx(rec.Status) {
				return struct{}{}, fmt.Errorf("%w: HTTP %d", tcgcache.ErrNetwork, rec.Status)
			}
			rec.Generation = i.api
			i.put(ctx, rec)
			return struct{}{}, nil
		})
		if err != nil {
			i.opts.Metrics.Refreshed("error")
			slog.LogAttrs(ctx, slog.LevelDebug, "background refresh failed",
				slog.String("url", key),
				slog.String("error", err.Error()),
			)
			return
		}
		i.opts.Metrics.Refreshed("ok")
	}()
}

// fetch performs req on the base transport and buffers the body.
func (i *Interceptor) fetch(req *http.Request) (storage.ResponseRecord, error) {
	resp, err := i.base.RoundTrip(req)
	if err != nil {
		return storage.ResponseRecord{}, fmt.Errorf("%w: %w", tcgcache.ErrNetwork, err)
	}
	defer resp.Body.Close()
	body, err := tcgcache.ReadBody(resp.Body, i.opts.MaxBody)
	if err != nil {
		return storage.ResponseRecord{}, err
	}
	return storage.ResponseRecord{
		URL:      req.URL.String(),
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: i.opts.Now(),
	}, nil
}

func (i *Interceptor) match(ctx context.Context, gen, key string) (record, bool) {
	rec, err := i.store.MatchResponse(ctx, gen, key)
	if err != nil {
		if !errors.Is(err, tcgcache.ErrNotFound) {
			slog.LogAttrs(ctx, slog.LevelWarn, "interceptor cache read failed",
				slog.String("generation", gen),
				slog.String("error", err.Error()),
			)
		}
		return record{}, false
	}
	return record(rec), true
}

func (i *Interceptor) put(ctx context.Context, rec storage.ResponseRecord) {
	if err := i.store.PutResponses(ctx, []storage.ResponseRecord{rec}); err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "interceptor cache write failed",
			slog.String("generation", rec.Generation),
			slog.String("error", err.Error()),
		)
	}
}

func (i *Interceptor) offline(req *http.Request) *http.Response {
	resp := synthetic(req, http.StatusServiceUnavailable, "application/json", offlinePayload)
	resp.Header.Set(HeaderCacheStatus, StatusOffline)
	return resp
}

type record storage.ResponseRecord

// response materializes a stored record as a fresh *http.Response.
func (r record) response(req *http.Request, status string) *http.Response {
	h := http.Header(r.Header).Clone()
	if h == nil {
		h = http.Header{}
	}
	if status != "" {
		h.Set(HeaderCacheStatus, status)
	}
	return &http.Response{
		Status:        strconv.Itoa(r.Status) + " " + http.StatusText(r.Status),
		StatusCode:    r.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

func synthetic(req *http.Request, status int, contentType string, body []byte) *http.Response {
	rec := record{Status: status, Header: http.Header{"Content-Type": {contentType}}, Body: body}
	return rec.response(req, "")
}

func ok2xx(status int) bool { return status >= 200 && status <= 299 }
