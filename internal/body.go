package tcgcache

import (
	"fmt"
	"io"
)

// ReadBody reads r to EOF. A body longer than limit bytes is an
// ErrUpstreamData error rather than a truncated payload.
func ReadBody(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrNetwork, err)
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrUpstreamData, limit)
	}
	return b, nil
}
