package app

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	tcgcache "github.com/eugener/tcgcache/internal"
	"github.com/eugener/tcgcache/internal/hydrate"
	"github.com/eugener/tcgcache/internal/telemetry"
)

// Sets starts (or short-circuits) a progressive load of the set listing.
// The returned run carries the first page; Wait or SubscribeSets deliver the
// complete, deduplicated and sorted listing.
func (c *Catalog) Sets(ctx context.Context) (run *hydrate.Run[tcgcache.Set], err error) {
	ctx, span := tracer.Start(ctx, "catalog.sets")
	defer func() {
		var attrs []attribute.KeyValue
		if run != nil {
			attrs = append(attrs,
				attribute.Int("partial", len(run.Partial)),
				attribute.Bool("complete", run.Complete),
				attribute.Bool("stale", run.Stale),
			)
		}
		telemetry.EndSpan(span, err, attrs...)
	}()
	return c.sets.Hydrate(ctx)
}

// SubscribeSets registers fn for completed set-list hydrations. Call the
// returned function to unsubscribe.
func (c *Catalog) SubscribeSets(fn func(hydrate.Event[tcgcache.Set])) func() {
	return c.sets.Subscribe(fn)
}
