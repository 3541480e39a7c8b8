package api

import (
	"net/http"
	"strconv"

	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/persistence"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (h *Handler) listExternalActivities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var p domain.Provider
	if raw := q.Get("provider"); raw != "" {
		parsed, err := domain.ParseProvider(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		p = parsed
	}

	limit := defaultPageSize
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxPageSize)
	}

	cursor, err := persistence.DecodeCursor(q.Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	records, next, err := h.activities.ListExternalActivities(r.Context(), subject(r), p, cursor, limit)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	resp := ListExternalActivitiesResponse{
		Items:      make([]ExternalActivityView, 0, len(records)),
		NextCursor: persistence.EncodeCursor(next),
	}
	for _, rec := range records {
		resp.Items = append(resp.Items, toExternalActivityView(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}
