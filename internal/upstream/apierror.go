package upstream

import (
	"fmt"
	"io"
	"net/http"

	tcgcache "github.com/eugener/tcgcache/internal"
)

// APIError represents a non-success response from the upstream API.
type APIError struct {
	StatusCode int
	Body       string
}

// Error returns a formatted error string including status and body.
func (e *APIError) Error() string {
	return fmt.Sprintf("upstream: HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus returns the upstream HTTP status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Unwrap classifies the failure: 404 is ErrNotFound, anything else ErrNetwork.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return tcgcache.ErrNotFound
	}
	return tcgcache.ErrNetwork
}

// ParseAPIError reads up to 4KB from the response body and returns an APIError.
func ParseAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
}
