package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	tcgcache "github.com/eugener/tcgcache/internal"
)

type removedResponse struct {
	Namespace string `json:"namespace"`
	Removed   int    `json:"removed"`
}

// queryDuration parses an optional Go duration (e.g. "720h").
func queryDuration(r *http.Request, name string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative duration", tcgcache.ErrInvalidParams, name)
	}
	return d, nil
}

func (s *server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	ns := tcgcache.Namespace(chi.URLParam(r, "namespace"))
	n, err := s.deps.Catalog.ClearNamespace(r.Context(), ns)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.LogAttrs(r.Context(), slog.LevelInfo, "cache cleared",
		slog.String("namespace", string(ns)),
		slog.Int("removed", n),
	)
	writeJSON(w, http.StatusOK, removedResponse{Namespace: string(ns), Removed: n})
}

// handleImageCleanup removes cached images older than older_than; without
// the parameter every image is removed.
func (s *server) handleImageCleanup(w http.ResponseWriter, r *http.Request) {
	olderThan, err := queryDuration(r, "older_than", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := s.deps.Catalog.PurgeImages(r.Context(), olderThan)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, removedResponse{Namespace: string(tcgcache.NamespaceImage), Removed: n})
}

func (s *server) handleSweep(w http.ResponseWriter, r *http.Request) {
	age, err := queryDuration(r, "age", s.deps.Catalog.SweepAge())
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := s.deps.Catalog.Sweep(r.Context(), age)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, removedResponse{Namespace: string(tcgcache.NamespaceAPI), Removed: n})
}
