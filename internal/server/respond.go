package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	tcgcache "github.com/eugener/tcgcache/internal"
)

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(msg, typ string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = typ
	return e
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, tcgcache.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, tcgcache.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, tcgcache.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, tcgcache.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tcgcache.ErrUpstreamData):
		return http.StatusBadGateway
	case errors.Is(err, tcgcache.ErrNetwork), errors.Is(err, tcgcache.ErrOffline),
		errors.Is(err, tcgcache.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorType(status int) string {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return "permission_error"
	case status == http.StatusNotFound:
		return "not_found_error"
	case status < 500:
		return "invalid_request_error"
	case status == http.StatusInternalServerError:
		return "internal_error"
	default:
		return "upstream_error"
	}
}

// writeError maps err to a status and writes the JSON error body. Internal
// failures are logged server-side and returned with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.LogAttrs(r.Context(), slog.LevelError, "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse(msg, errorType(status)))
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
