package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	tcgcache "github.com/eugener/tcgcache/internal"
	"github.com/eugener/tcgcache/internal/hydrate"
)

// cacheSourceHeader reports which tier answered a lookup.
const cacheSourceHeader = "X-Cache-Source"

type lookupResponse struct {
	Data     any       `json:"data"`
	Source   string    `json:"source"`
	StoredAt time.Time `json:"stored_at"`
	Stale    bool      `json:"stale,omitempty"`
}

func writeLookup[T any](w http.ResponseWriter, lk tcgcache.Lookup[T]) {
	w.Header()[cacheSourceHeader] = []string{string(lk.Source)}
	writeJSON(w, http.StatusOK, lookupResponse{
		Data:     lk.Value,
		Source:   string(lk.Source),
		StoredAt: lk.StoredAt,
		Stale:    lk.Stale,
	})
}

// queryInt parses an optional positive integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", tcgcache.ErrInvalidParams, name)
	}
	return n, nil
}

func (s *server) handleSearchCards(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, r, err)
		return
	}
	f := tcgcache.SearchFilter{
		Name:    q.Get("name"),
		Set:     q.Get("set"),
		Number:  q.Get("number"),
		Rarity:  q.Get("rarity"),
		Variant: q.Get("variant"),
	}
	if raw := q.Get("prices"); raw != "" {
		f.IncludePrices, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: prices must be a boolean", tcgcache.ErrInvalidParams))
			return
		}
	}
	switch f.Variant {
	case "", "holo", "tournament":
	default:
		writeError(w, r, fmt.Errorf("%w: unknown variant %q", tcgcache.ErrInvalidParams, f.Variant))
		return
	}

	lk, err := s.deps.Catalog.SearchCards(r.Context(), f, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeLookup(w, lk)
}

func (s *server) handleCard(w http.ResponseWriter, r *http.Request) {
	lk, err := s.deps.Catalog.CardByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeLookup(w, lk)
}

func (s *server) handleRandom(w http.ResponseWriter, r *http.Request) {
	count, err := queryInt(r, "count", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	lk, err := s.deps.Catalog.RandomPick(r.Context(), count)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeLookup(w, lk)
}

func (s *server) handlePrices(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		writeError(w, r, fmt.Errorf("%w: ids is required", tcgcache.ErrInvalidParams))
		return
	}
	prices, err := s.deps.Catalog.Prices(r.Context(), ids)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": prices})
}

type setsResponse struct {
	RunID    string         `json:"run_id"`
	Data     []tcgcache.Set `json:"data"`
	Complete bool           `json:"complete"`
	Stale    bool           `json:"stale,omitempty"`
	StoredAt time.Time      `json:"stored_at,omitzero"`
}

// handleSets returns the first page of the set list, or the full merged list
// when called with wait=true. Clients that take the partial list receive the
// complete one over /api/events.
func (s *server) handleSets(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Catalog.Sets(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := setsResponse{
		RunID:    run.ID,
		Data:     run.Partial,
		Complete: run.Complete,
		Stale:    run.Stale,
		StoredAt: run.StoredAt,
	}
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait && !run.Complete {
		items, err := run.Wait(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.Data, resp.Complete, resp.Stale, resp.StoredAt = items, true, false, run.CompletedAt()
	}
	if resp.Data == nil {
		resp.Data = []tcgcache.Set{}
	}
	writeJSON(w, http.StatusOK, resp)
}

var imageCacheControl = []string{"public, max-age=86400"}

func (s *server) handleImage(w http.ResponseWriter, r *http.Request) {
	lk, err := s.deps.Catalog.Image(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	img := lk.Value
	h := w.Header()
	h[cacheSourceHeader] = []string{string(lk.Source)}
	h["Cache-Control"] = imageCacheControl
	if img.ETag != "" {
		h["Etag"] = []string{img.ETag}
		if r.Header.Get("If-None-Match") == img.ETag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	ct := img.ContentType
	if ct == "" {
		ct = http.DetectContentType(img.Data)
	}
	h["Content-Type"] = []string{ct}
	h["Content-Length"] = []string{strconv.Itoa(len(img.Data))}
	w.WriteHeader(http.StatusOK)
	w.Write(img.Data)
}

type setsEvent struct {
	Category    tcgcache.Category `json:"category"`
	RunID       string            `json:"run_id"`
	Count       int               `json:"count"`
	Items       []tcgcache.Set    `json:"items"`
	CompletedAt time.Time         `json:"completed_at"`
}

const eventBuffer = 8

// handleEvents streams completed hydrations as SSE "sets" events until the
// client disconnects.
func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("ResponseWriter does not implement http.Flusher")
		writeJSON(w, http.StatusInternalServerError, errorResponse("streaming unsupported", "internal_error"))
		return
	}

	events := make(chan hydrate.Event[tcgcache.Set], eventBuffer)
	unsubscribe := s.deps.Catalog.SubscribeSets(func(ev hydrate.Event[tcgcache.Set]) {
		select {
		case events <- ev:
		default:
			slog.LogAttrs(r.Context(), slog.LevelWarn, "event subscriber lagging, dropping event",
				slog.String("run_id", ev.RunID),
			)
		}
	})
	defer unsubscribe()

	writeSSEHeaders(w)
	flusher.Flush()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case ev := <-events:
			data, err := json.Marshal(setsEvent{
				Category:    ev.Category,
				RunID:       ev.RunID,
				Count:       len(ev.Items),
				Items:       ev.Items,
				CompletedAt: ev.CompletedAt,
			})
			if err != nil {
				slog.LogAttrs(r.Context(), slog.LevelError, "encode event",
					slog.String("error", err.Error()),
				)
				continue
			}
			writeSSEEvent(w, "sets", data)
			flusher.Flush()

		case <-keepAlive.C:
			writeSSEKeepAlive(w)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
