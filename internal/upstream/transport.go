package upstream

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
)

// NewTransport returns a tuned *http.Transport with connection pooling and
// optional DNS caching.
func NewTransport(resolver *dnscache.Resolver) *http.Transport {
	t := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 16,
		MaxConnsPerHost:     32,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}
	return t
}

// RefreshDNS periodically refreshes cached DNS entries until ctx is done.
func RefreshDNS(ctx context.Context, resolver *dnscache.Resolver, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resolver.Refresh(true)
		}
	}
}

// APIKeyTransport is an http.RoundTripper that injects a static API key
// header on every outbound request. An empty Key leaves requests untouched.
type APIKeyTransport struct {
	Key        string
	HeaderName string
	Base       http.RoundTripper
}

// RoundTrip clones the request and sets the key header.
func (t *APIKeyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if t.Key == "" {
		return t.base().RoundTrip(r)
	}
	r2 := r.Clone(r.Context())
	name := t.HeaderName
	if name == "" {
		name = "X-Api-Key"
	}
	r2.Header.Set(name, t.Key)
	return t.base().RoundTrip(r2)
}

func (t *APIKeyTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}
