package worker

import (
	"context"
	"time"

	"github.com/rs/dnscache"

	"github.com/eugener/tcgcache/internal/upstream"
)

const defaultDNSRefresh = 5 * time.Minute

// DNSRefreshWorker refreshes the upstream DNS cache so long-lived processes
// pick up address changes.
type DNSRefreshWorker struct {
	resolver *dnscache.Resolver
	every    time.Duration
}

// NewDNSRefreshWorker creates a DNSRefreshWorker.
func NewDNSRefreshWorker(r *dnscache.Resolver, every time.Duration) *DNSRefreshWorker {
	if every <= 0 {
		every = defaultDNSRefresh
	}
	return &DNSRefreshWorker{resolver: r, every: every}
}

// Name returns the worker identifier.
func (w *DNSRefreshWorker) Name() string { return "dns_refresh" }

// Run blocks until ctx is cancelled.
func (w *DNSRefreshWorker) Run(ctx context.Context) error {
	upstream.RefreshDNS(ctx, w.resolver, w.every)
	return nil
}
