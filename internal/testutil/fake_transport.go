// Package testutil provides configurable test fakes for the cache's
// storage and network boundaries.
package testutil

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
)

// ErrFakeNetwork is returned by FakeTransport while offline.
var ErrFakeNetwork = errors.New("fake network down")

// FakeTransport is a configurable http.RoundTripper. Fn decides the response;
// when Fn is nil every request gets 200 "{}". Calls are counted per URL.
type FakeTransport struct {
	Fn func(r *http.Request) (*http.Response, error)

	offline atomic.Bool
	total   atomic.Int64
	mu      sync.Mutex
	calls   map[string]int
	gate    chan struct{}
}

// RoundTrip implements http.RoundTripper.
func (f *FakeTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	f.total.Add(1)
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[r.URL.String()]++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return nil, r.Context().Err()
		}
	}
	if f.offline.Load() {
		return nil, ErrFakeNetwork
	}
	if f.Fn != nil {
		return f.Fn(r)
	}
	return JSONResponse(r, http.StatusOK, "{}"), nil
}

// SetOffline toggles simulated network failure.
func (f *FakeTransport) SetOffline(v bool) { f.offline.Store(v) }

// Hold makes requests block until Release is called.
func (f *FakeTransport) Hold() {
	f.mu.Lock()
	f.gate = make(chan struct{})
	f.mu.Unlock()
}

// Release unblocks requests waiting since Hold.
func (f *FakeTransport) Release() {
	f.mu.Lock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
	f.mu.Unlock()
}

// Calls returns the total number of requests seen.
func (f *FakeTransport) Calls() int { return int(f.total.Load()) }

// CallsFor returns the number of requests seen for url.
func (f *FakeTransport) CallsFor(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// JSONResponse builds an in-memory response with a JSON body.
func JSONResponse(r *http.Request, status int, body string) *http.Response {
	return Response(r, status, "application/json", []byte(body))
}

// Response builds an in-memory response.
func Response(r *http.Request, status int, contentType string, body []byte) *http.Response {
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {contentType}},
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       r,
	}
}
