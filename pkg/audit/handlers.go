package audit

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatekeeper/pkg/httputil"
)

// Handlers serves the audit query API. Routes are registered behind
// admin-only middleware by the caller.
type Handlers struct {
	reader Reader
}

// NewHandlers creates handlers over the given query backend. A nil reader
// means the configured sink is write-only and the API reports 501.
func NewHandlers(reader Reader) *Handlers {
	return &Handlers{reader: reader}
}

// RegisterRoutes registers audit routes on the router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/events", h.listEvents).Methods("GET")
}

// listEvents handles GET /audit/events.
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		httputil.WriteErrorMessage(w, http.StatusNotImplemented, "audit queries require the database sink")
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	events, err := h.reader.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, fmt.Errorf("failed to query audit events: %w", err))
		return
	}
	if events == nil {
		events = []*Event{}
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func parseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	filter := Filter{
		Actor:     q.Get("actor"),
		EventType: EventType(q.Get("event_type")),
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, err
		}
		filter.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, err
		}
		filter.Until = t
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 100)
	if err != nil {
		return filter, err
	}
	if limit < 1 || limit > 1000 {
		limit = 100
	}
	filter.Limit = limit

	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		return filter, err
	}
	if offset > 0 {
		filter.Offset = offset
	}
	return filter, nil
}
