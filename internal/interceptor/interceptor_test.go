package interceptor

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eugener/tcgcache/internal/storage"
	"github.com/eugener/tcgcache/internal/testutil"
)

const (
	apiURL     = "https://api.pokemontcg.io/v2/cards?q=name%3Apika%2A"
	imageURL   = "https://images.pokemontcg.io/base1/4.png"
	indexURL   = "https://app.local/index.html"
	offlineURL = "https://app.local/offline.html"
)

func newTestInterceptor(t *testing.T, ft *testutil.FakeTransport, opts Options) (*Interceptor, *testutil.FakeStore) {
	t.Helper()
	store := testutil.NewFakeStore()
	ic := New(ft, store, opts)
	if err := ic.Activate(context.Background()); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	t.Cleanup(func() { ic.Close(context.Background()) })
	return ic, store
}

func get(t *testing.T, rt http.RoundTripper, url string, header http.Header) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip(%s): %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

// versioned returns a transport Fn that serves the current value of v.
func versioned(v *atomic.Value) func(*http.Request) (*http.Response, error) {
	return func(r *http.Request) (*http.Response, error) {
		return testutil.JSONResponse(r, http.StatusOK, v.Load().(string)), nil
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want Class
	}{
		{imageURL, ClassImage},
		{"https://assets.pokemon.com/x/card.JPG", ClassImage},
		{"https://images.example.com/no-ext", ClassImage},
		{apiURL, ClassAPI},
		{"http://127.0.0.1:8080/v2/sets", ClassAPI},
		{"http://localhost/api/cards", ClassAPI},
		{indexURL, ClassStatic},
		{"https://app.local/app.js", ClassStatic},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(http.MethodGet, tt.url, nil)
		if got := Classify(req); got != tt.want {
			t.Errorf("Classify(%s) = %s, want %s", tt.url, got, tt.want)
		}
	}
}

func TestPassThroughBeforeActivate(t *testing.T) {
	t.Parallel()

	ft := &testutil.FakeTransport{}
	store := testutil.NewFakeStore()
	ic := New(ft, store, Options{})

	get(t, ic, apiURL, nil)
	get(t, ic, apiURL, nil)
	if ft.Calls() != 2 {
		t.Errorf("calls = %d, want 2", ft.Calls())
	}
	if gens, _ := store.ListGenerations(context.Background()); len(gens) != 0 {
		t.Errorf("generations = %v, want none before activation", gens)
	}
}

func TestNonGETPassesThrough(t *testing.T) {
	t.Parallel()

	ft := &testutil.FakeTransport{}
	ic, store := newTestInterceptor(t, ft, Options{})

	for range 2 {
		req, _ := http.NewRequest(http.MethodPost, apiURL, strings.NewReader("{}"))
		resp, err := ic.RoundTrip(req)
		if err != nil {
			t.Fatalf("RoundTrip: %v", err)
		}
		resp.Body.Close()
	}
	if ft.Calls() != 2 {
		t.Errorf("calls = %d, want 2", ft.Calls())
	}
	if _, err := store.MatchResponse(context.Background(), "api-v1", apiURL); err == nil {
		t.Error("POST response was cached")
	}
}

func TestStaleWhileRevalidate(t *testing.T) {
	t.Parallel()

	var body atomic.Value
	body.Store(`{"data":"v1"}`)
	ft := &testutil.FakeTransport{Fn: versioned(&body)}
	ic, _ := newTestInterceptor(t, ft, Options{})

	resp, got := get(t, ic, apiURL, nil)
	if got != `{"data":"v1"}` || resp.Header.Get(HeaderCacheStatus) != StatusMiss {
		t.Fatalf("first = %q (%s), want v1 miss", got, resp.Header.Get(HeaderCacheStatus))
	}

	// Network is now slow and has a new value; the cached copy must come back
	// immediately while the refresh waits.
	body.Store(`{"data":"v2"}`)
	ft.Hold()
	resp, got = get(t, ic, apiURL, nil)
	if got != `{"data":"v1"}` {
		t.Errorf("second = %q, want cached v1", got)
	}
	if resp.Header.Get(HeaderCacheStatus) != StatusStaleWhileRevalidate {
		t.Errorf("X-Cache-Status = %q, want %q", resp.Header.Get(HeaderCacheStatus), StatusStaleWhileRevalidate)
	}
	ft.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ic.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, got = get(t, ic, apiURL, nil)
	if got != `{"data":"v2"}` {
		t.Errorf("after refresh = %q, want v2", got)
	}
}

func TestStaleWhileRevalidateFailedRefreshKeepsCache(t *testing.T) {
	t.Parallel()

	var status atomic.Int32
	status.Store(http.StatusOK)
	ft := &testutil.FakeTransport{Fn: func(r *http.Request) (*http.Response, error) {
		if s := int(status.Load()); s != http.StatusOK {
			return testutil.JSONResponse(r, s, `{"error":"boom"}`), nil
		}
		return testutil.JSONResponse(r, http.StatusOK, `{"data":"v1"}`), nil
	}}
	ic, store := newTestInterceptor(t, ft, Options{})

	get(t, ic, apiURL, nil)

	// A 5xx refresh must not replace the cached copy.
	status.Store(http.StatusInternalServerError)
	_, got := get(t, ic, apiURL, nil)
	if got != `{"data":"v1"}` {
		t.Errorf("with failing upstream = %q, want v1", got)
	}

	// Neither must a transport failure.
	ft.SetOffline(true)
	_, got = get(t, ic, apiURL, nil)
	if got != `{"data":"v1"}` {
		t.Errorf("offline = %q, want v1", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ic.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	rec, err := store.MatchResponse(context.Background(), "api-v1", apiURL)
	if err != nil {
		t.Fatalf("MatchResponse: %v", err)
	}
	if string(rec.Body) != `{"data":"v1"}` || rec.Status != http.StatusOK {
		t.Errorf("stored = %d %q, want 200 v1", rec.Status, rec.Body)
	}
}

func TestAPIOfflineWithoutCache(t *testing.T) {
	t.Parallel()

	ft := &testutil.FakeTransport{}
	ft.SetOffline(true)
	ic, _ := newTestInterceptor(t, ft, Options{})

	for _, h := range []http.Header{nil, {"Cache-Control": {"no-cache"}}} {
		resp, got := get(t, ic, apiURL, h)
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", resp.StatusCode)
		}
		if got != `{"error":"offline"}` {
			t.Errorf("body = %q, want offline payload", got)
		}
		if resp.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", resp.Header.Get("Content-Type"))
		}
	}
}

func TestNetworkFirst(t *testing.T) {
	t.Parallel()

	var body atomic.Value
	body.Store(`{"data":"v1"}`)
	ft := &testutil.FakeTransport{Fn: versioned(&body)}
	ic, _ := newTestInterceptor(t, ft, Options{})
	noCache := http.Header{"Cache-Control": {"no-cache"}}

	get(t, ic, apiURL, noCache)
	body.Store(`{"data":"v2"}`)

	resp, got := get(t, ic, apiURL, noCache)
	if got != `{"data":"v2"}` {
		t.Errorf("network-first = %q, want fresh v2", got)
	}
	if resp.Header.Get(HeaderCacheStatus) != "" {
		t.Errorf("network response carries X-Cache-Status %q", resp.Header.Get(HeaderCacheStatus))
	}

	ft.SetOffline(true)
	resp, got = get(t, ic, apiURL, noCache)
	if got != `{"data":"v2"}` {
		t.Errorf("offline = %q, want cached v2", got)
	}
	if resp.Header.Get(HeaderCacheStatus) != StatusOfflineFallback {
		t.Errorf("X-Cache-Status = %q, want %q", resp.Header.Get(HeaderCacheStatus), StatusOfflineFallback)
	}
}

func TestNetworkFirstPassesNotModified(t *testing.T) {
	t.Parallel()

	ft := &testutil.FakeTransport{Fn: func(r *http.Request) (*http.Response, error) {
		if r.Header.Get("If-None-Match") != "" {
			return testutil.Response(r, http.StatusNotModified, "application/json", nil), nil
		}
		return testutil.JSONResponse(r, http.StatusOK, `{"data":"v1"}`), nil
	}}
	ic, store := newTestInterceptor(t, ft, Options{})

	resp, _ := get(t, ic, apiURL, http.Header{"Cache-Control": {"no-cache"}, "If-None-Match": {`"e1"`}})
	if resp.StatusCode != http.StatusNotModified {
		t.Errorf("status = %d, want 304", resp.StatusCode)
	}
	if _, err := store.MatchResponse(context.Background(), "api-v1", apiURL); err == nil {
		t.Error("304 was cached")
	}
}

func TestNavigationOfflineFallback(t *testing.T) {
	t.Parallel()

	ft := &testutil.FakeTransport{Fn: func(r *http.Request) (*http.Response, error) {
		return testutil.Response(r, http.StatusOK, "text/html", []byte("<h1>"+r.URL.Path+"</h1>")), nil
	}}
	store := testutil.NewFakeStore()
	ic := New(ft, store, Options{
		Manifest:        []string{indexURL, offlineURL},
		OfflineDocument: offlineURL,
	})
	ctx := context.Background()
	if err := ic.Install(ctx); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if err := ic.Activate(ctx); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	defer ic.Close(ctx)

	// Manifest assets are served from cache without touching the network.
	before := ft.Calls()
	_, got := get(t, ic, indexURL, nil)
	if got != "<h1>/index.html</h1>" || ft.Calls() != before {
		t.Errorf("index = %q, calls %d -> %d", got, before, ft.Calls())
	}

	ft.SetOffline(true)
	resp, got := get(t, ic, "https://app.local/cards/base1-4", http.Header{"Sec-Fetch-Mode": {"navigate"}})
	if resp.StatusCode != http.StatusOK || got != "<h1>/offline.html</h1>" {
		t.Errorf("navigation = %d %q, want offline document", resp.StatusCode, got)
	}
	resp, got = get(t, ic, "https://app.local/cards", http.Header{"Accept": {"text/html,application/xhtml+xml"}})
	if got != "<h1>/offline.html</h1>" {
		t.Errorf("html accept = %d %q, want offline document", resp.StatusCode, got)
	}

	resp, got = get(t, ic, "https://app.local/app.js", nil)
	if resp.StatusCode != http.StatusGatewayTimeout || got != "offline" {
		t.Errorf("asset = %d %q, want 504 offline", resp.StatusCode, got)
	}
}

func TestStaticCachePopulation(t *testing.T) {
	t.Parallel()

	ft := &testutil.FakeTransport{}
	ic, _ := newTestInterceptor(t, ft, Options{CacheStatic: true})

	get(t, ic, "https://app.local/app.js", nil)
	get(t, ic, "https://app.local/app.js", nil)
	if ft.Calls() != 1 {
		t.Errorf("calls = %d, want 1 with CacheStatic", ft.Calls())
	}

	ft2 := &testutil.FakeTransport{}
	ic2, _ := newTestInterceptor(t, ft2, Options{})
	get(t, ic2, "https://app.local/app.js", nil)
	get(t, ic2, "https://app.local/app.js", nil)
	if ft2.Calls() != 2 {
		t.Errorf("calls = %d, want 2 without CacheStatic", ft2.Calls())
	}
}

func TestInstallIsAtomic(t *testing.T) {
	t.Parallel()

	ft := &testutil.FakeTransport{Fn: func(r *http.Request) (*http.Response, error) {
		if strings.HasSuffix(r.URL.Path, "missing.css") {
			return testutil.Response(r, http.StatusNotFound, "text/plain", nil), nil
		}
		return testutil.Response(r, http.StatusOK, "text/html", []byte("ok")), nil
	}}
	store := testutil.NewFakeStore()
	ic := New(ft, store, Options{Manifest: []string{indexURL, "https://app.local/missing.css"}})

	if err := ic.Install(context.Background()); err == nil {
		t.Fatal("Install succeeded with a missing asset")
	}
	if _, err := store.MatchResponse(context.Background(), "static-v1", indexURL); err == nil {
		t.Error("partial manifest was stored")
	}
}

func TestActivateDropsOldGenerations(t *testing.T) {
	t.Parallel()

	store := testutil.NewFakeStore()
	ctx := context.Background()
	var recs []storage.ResponseRecord
	for _, g := range []string{"static-v1", "api-v1", "images-v1", "api-v2", "images-v2"} {
		recs = append(recs, storage.ResponseRecord{Generation: g, URL: apiURL, Status: 200})
	}
	if err := store.PutResponses(ctx, recs); err != nil {
		t.Fatalf("PutResponses: %v", err)
	}

	ic := New(&testutil.FakeTransport{}, store, Options{Version: 2})
	if err := ic.Activate(ctx); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if !ic.Active() {
		t.Error("Active() = false after Activate")
	}
	gens, _ := store.ListGenerations(ctx)
	if len(gens) != 2 || gens[0] != "api-v2" || gens[1] != "images-v2" {
		t.Errorf("generations = %v, want [api-v2 images-v2]", gens)
	}
}

func TestImageCacheFirstAndPurge(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var clock atomic.Int64
	clock.Store(now.UnixNano())
	ft := &testutil.FakeTransport{Fn: func(r *http.Request) (*http.Response, error) {
		return testutil.Response(r, http.StatusOK, "image/png", []byte{0x89, 'P', 'N', 'G'}), nil
	}}
	ic, _ := newTestInterceptor(t, ft, Options{Now: func() time.Time { return time.Unix(0, clock.Load()) }})
	ctx := context.Background()

	get(t, ic, imageURL, nil)
	resp, _ := get(t, ic, imageURL, nil)
	if ft.Calls() != 1 {
		t.Errorf("calls = %d, want 1", ft.Calls())
	}
	if resp.Header.Get(HeaderCacheStatus) != StatusHit {
		t.Errorf("X-Cache-Status = %q, want hit", resp.Header.Get(HeaderCacheStatus))
	}

	// Images never expire on their own; only an explicit purge removes them.
	clock.Store(now.Add(24 * time.Hour).UnixNano())
	if n, err := ic.PurgeImages(ctx, 48*time.Hour); err != nil || n != 0 {
		t.Errorf("PurgeImages(48h) = %d, %v, want 0", n, err)
	}
	if n, err := ic.PurgeImages(ctx, time.Hour); err != nil || n != 1 {
		t.Errorf("PurgeImages(1h) = %d, %v, want 1", n, err)
	}
	get(t, ic, imageURL, nil)
	if ft.Calls() != 2 {
		t.Errorf("calls after purge = %d, want 2", ft.Calls())
	}
}

func TestImageOfflineMissReturnsGatewayTimeout(t *testing.T) {
	t.Parallel()

	ft := &testutil.FakeTransport{}
	ft.SetOffline(true)
	ic, _ := newTestInterceptor(t, ft, Options{})

	req, _ := http.NewRequest(http.MethodGet, imageURL, nil)
	resp, err := ic.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "offline" {
		t.Errorf("body = %q, want offline", body)
	}
}

func TestOversizedBodyIsNotCached(t *testing.T) {
	t.Parallel()

	ft := &testutil.FakeTransport{Fn: func(r *http.Request) (*http.Response, error) {
		return testutil.JSONResponse(r, http.StatusOK, `{"data":"0123456789abcdef"}`), nil
	}}
	ic, store := newTestInterceptor(t, ft, Options{MaxBody: 8})

	resp, got := get(t, ic, apiURL, nil)
	if resp.StatusCode != http.StatusServiceUnavailable || resp.Header.Get(HeaderCacheStatus) != StatusOffline {
		t.Errorf("api = %d %s, want 503 offline", resp.StatusCode, resp.Header.Get(HeaderCacheStatus))
	}
	if strings.Contains(got, "0123") {
		t.Errorf("truncated body leaked: %q", got)
	}
	resp, _ = get(t, ic, imageURL, nil)
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("image status = %d, want 504", resp.StatusCode)
	}
	if _, err := store.MatchResponse(context.Background(), ic.api, apiURL); err == nil {
		t.Error("oversized api body was cached")
	}
	if _, err := store.MatchResponse(context.Background(), ic.images, imageURL); err == nil {
		t.Error("oversized image body was cached")
	}
}

func TestClearAndPurgeAPI(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var clock atomic.Int64
	clock.Store(now.UnixNano())
	var body atomic.Value
	body.Store(`{"data":"v1"}`)
	ft := &testutil.FakeTransport{Fn: versioned(&body)}
	ic, _ := newTestInterceptor(t, ft, Options{Now: func() time.Time { return time.Unix(0, clock.Load()) }})
	ctx := context.Background()

	get(t, ic, apiURL, nil)
	clock.Store(now.Add(2 * time.Hour).UnixNano())
	get(t, ic, "https://api.pokemontcg.io/v2/sets", nil)

	if n, err := ic.PurgeAPI(ctx, time.Hour); err != nil || n != 1 {
		t.Errorf("PurgeAPI(1h) = %d, %v, want 1", n, err)
	}
	body.Store(`{"data":"v2"}`)
	resp, got := get(t, ic, apiURL, nil)
	if got != `{"data":"v2"}` || resp.Header.Get(HeaderCacheStatus) != StatusMiss {
		t.Errorf("after purge = %q (%s), want v2 miss", got, resp.Header.Get(HeaderCacheStatus))
	}

	if n, err := ic.ClearAPI(ctx); err != nil || n != 2 {
		t.Errorf("ClearAPI = %d, %v, want 2", n, err)
	}
	body.Store(`{"data":"v3"}`)
	ft.SetOffline(true)
	resp, _ = get(t, ic, apiURL, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("after clear offline = %d, want 503", resp.StatusCode)
	}
}

func TestStoreFailureIsAMiss(t *testing.T) {
	t.Parallel()

	ft := &testutil.FakeTransport{}
	ic, store := newTestInterceptor(t, ft, Options{})
	store.SetErr(context.DeadlineExceeded)

	resp, got := get(t, ic, apiURL, nil)
	if resp.StatusCode != http.StatusOK || got != "{}" {
		t.Errorf("with broken store = %d %q, want network 200", resp.StatusCode, got)
	}
}
