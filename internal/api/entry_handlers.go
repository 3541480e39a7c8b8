package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"example.com/healthsync/internal/domain"
)

// dateParam accepts YYYY-MM-DD or "today" in the configured zone.
func (h *Handler) dateParam(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := chi.URLParam(r, "date")
	if raw == "today" {
		return domain.DateOf(h.now(), h.loc), true
	}
	date, err := domain.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "date must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return date, true
}

func (h *Handler) getEntry(w http.ResponseWriter, r *http.Request) {
	date, ok := h.dateParam(w, r)
	if !ok {
		return
	}
	entry, err := h.entries.GetEntry(r.Context(), subject(r), date)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "not_found", "no entry for "+domain.FormatDate(date))
		return
	}
	writeJSON(w, http.StatusOK, toEntryView(*entry))
}

// putEntry records manual values. Fields it sets are never overwritten by a sync.
func (h *Handler) putEntry(w http.ResponseWriter, r *http.Request) {
	date, ok := h.dateParam(w, r)
	if !ok {
		return
	}
	var req ManualEntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry, err := h.entries.SaveManual(r.Context(), req.toManual(subject(r), date))
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryView(*entry))
}
