// Package tcgcache defines domain types and interfaces for the trading-card
// catalog cache. This package has no project imports -- it is the dependency root.
package tcgcache

import (
	"context"
	"time"
)

// --- Categories ---

// Category classifies a cached resource for freshness decisions.
type Category string

const (
	CategorySearch       Category = "search"
	CategorySetList      Category = "set_list"
	CategoryRandomPick   Category = "random_pick"
	CategorySingleEntity Category = "single_entity"
	CategoryImage        Category = "image"
)

// Categories lists every known category in a stable order.
var Categories = []Category{
	CategorySearch,
	CategorySetList,
	CategoryRandomPick,
	CategorySingleEntity,
	CategoryImage,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// --- Cache entries ---

// Entry is a timestamped payload held by a cache tier.
// StoredAt never moves backwards for a given key.
type Entry struct {
	Key         string    `json:"key"`
	Payload     []byte    `json:"payload"`
	StoredAt    time.Time `json:"stored_at"`
	ETag        string    `json:"etag,omitempty"`
	ContentType string    `json:"content_type,omitempty"` // images only
}

// Namespace selects one of the isolated persistent sub-stores.
type Namespace string

const (
	NamespaceAPI   Namespace = "api"
	NamespaceImage Namespace = "image"
)

// --- Canonical catalog items ---

// Card is the canonical card shape produced by the upstream normalizer.
type Card struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Number  string     `json:"number,omitempty"`
	Rarity  string     `json:"rarity,omitempty"`
	SetName string     `json:"set_name,omitempty"`
	Images  CardImages `json:"images"`
	Price   *float64   `json:"price,omitempty"`
}

// CardImages holds image URLs for a card.
type CardImages struct {
	Small string `json:"small,omitempty"`
	Large string `json:"large,omitempty"`
}

// Set is the canonical expansion/set shape.
type Set struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Series      string `json:"series,omitempty"`
	ReleaseDate string `json:"release_date,omitempty"`
}

// SearchFilter is the logical card search issued by a UI.
type SearchFilter struct {
	Name          string `json:"name,omitempty"`
	Set           string `json:"set,omitempty"`
	Number        string `json:"number,omitempty"`
	Rarity        string `json:"rarity,omitempty"`
	Variant       string `json:"variant,omitempty"` // "", "holo", "tournament"
	IncludePrices bool   `json:"include_prices,omitempty"`
}

// Lookup is the result envelope for a cached read. Stale is set when the
// value came from an expired entry because revalidation failed.
type Lookup[T any] struct {
	Value    T
	Source   Source
	StoredAt time.Time
	Stale    bool
}

// Source names the tier that satisfied a lookup.
type Source string

const (
	SourceMemory     Source = "memory"
	SourcePersistent Source = "persistent"
	SourceNetwork    Source = "network"
)

// --- Upstream page fetching ---

// PageFetcher fetches one page of a paginated listing.
type PageFetcher[T any] interface {
	FetchPage(ctx context.Context, page, pageSize int) ([]T, error)
}

// PageFetcherFunc adapts a function to PageFetcher.
type PageFetcherFunc[T any] func(ctx context.Context, page, pageSize int) ([]T, error)

// FetchPage calls f.
func (f PageFetcherFunc[T]) FetchPage(ctx context.Context, page, pageSize int) ([]T, error) {
	return f(ctx, page, pageSize)
}

// --- Context keys ---

type contextKey int

const ctxKeyRequestID contextKey = 0

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}
