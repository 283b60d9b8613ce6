package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	tcgcache "github.com/eugener/tcgcache/internal"
)

// ErrOpen is returned without contacting the host while its breaker is open.
var ErrOpen = fmt.Errorf("%w: circuit open", tcgcache.ErrNetwork)

// Transport short-circuits requests to hosts whose breaker is open. It sits
// below the interceptor so an open breaker turns into a stale or offline
// response there instead of a slow timeout.
type Transport struct {
	Base     http.RoundTripper // nil means http.DefaultTransport
	Breakers *Registry
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	host := req.URL.Host
	b := t.Breakers.GetOrCreate(host)
	if !b.Allow() {
		return nil, fmt.Errorf("%s: %w", host, ErrOpen)
	}

	resp, err := t.base().RoundTrip(req)
	switch {
	case err != nil && errors.Is(req.Context().Err(), context.Canceled):
		// The caller gave up; says nothing about the host.
		b.Abandon()
	case err != nil:
		t.failed(req, b, ClassifyError(err))
	default:
		if w := classifyStatus(resp.StatusCode); w > 0 {
			t.failed(req, b, w)
		} else {
			b.RecordSuccess()
		}
	}
	return resp, err
}

func (t *Transport) failed(req *http.Request, b *Breaker, weight float64) {
	if b.RecordError(weight) {
		slog.LogAttrs(req.Context(), slog.LevelWarn, "circuit opened",
			slog.String("host", req.URL.Host),
		)
	}
}
