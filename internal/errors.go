package tcgcache

import (
	"errors"
	"fmt"
)

// Sentinel errors for the catalog cache domain.
var (
	ErrNetwork            = errors.New("network error")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidParams      = errors.New("invalid params")
	ErrUpstreamData       = errors.New("upstream data error")
	ErrNotFound           = errors.New("not found")
	ErrOffline            = errors.New("offline")
	ErrForbidden          = errors.New("forbidden")
	ErrUnauthorized       = errors.New("unauthorized")
)

// FetchError is returned when a required fetch fails and no cached value can
// stand in for it. It carries enough context to render a "could not load" state.
type FetchError struct {
	Op     string // e.g. "search", "sets"
	Key    string // resource key, may be empty
	Status int    // upstream HTTP status, 0 if the request never completed
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %v", e.Op, e.Key, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
