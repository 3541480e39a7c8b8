package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/logging"
)

// triggerSync runs one provider, or all of them for provider=all. The
// outcome is the response body whatever its status.
func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	userID := subject(r)
	if strings.EqualFold(chi.URLParam(r, "provider"), "all") {
		outcomes := h.sync.SyncAll(r.Context(), userID)
		resp := SyncAllResponse{Outcomes: make([]OutcomeView, 0, len(outcomes))}
		for _, o := range outcomes {
			resp.Outcomes = append(resp.Outcomes, toOutcomeView(o))
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	p, ok := providerParam(w, r)
	if !ok {
		return
	}
	out := h.sync.TriggerSync(r.Context(), userID, p)
	view := toOutcomeView(out)
	if view.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(view.RetryAfterSeconds))
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) listConnections(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.sync.StatusAll(r.Context(), subject(r))
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	resp := ConnectionsResponse{Items: make([]ConnectionView, 0, len(statuses))}
	for _, s := range statuses {
		resp.Items = append(resp.Items, toConnectionView(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getConnection(w http.ResponseWriter, r *http.Request) {
	p, ok := providerParam(w, r)
	if !ok {
		return
	}
	status, err := h.sync.Status(r.Context(), subject(r), p)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConnectionView(status))
}

// putConnection stores the tokens from a completed OAuth handshake.
func (h *Handler) putConnection(w http.ResponseWriter, r *http.Request) {
	p, ok := providerParam(w, r)
	if !ok {
		return
	}
	var req ConnectRequest
	if !h.decode(w, r, &req) {
		return
	}

	cred := domain.Credential{
		UserID:            subject(r),
		Provider:          p,
		AccessToken:       req.AccessToken,
		RefreshToken:      req.RefreshToken,
		ExpiresAt:         req.ExpiresAt,
		ExternalAccountID: req.ExternalAccountID,
	}
	if cred.ExpiresAt == nil && req.ExpiresIn > 0 {
		at := h.now().Add(time.Duration(req.ExpiresIn) * time.Second).UTC()
		cred.ExpiresAt = &at
	}
	h.connect(w, r, cred)
}

// connect stores cred and responds with the resulting connection status.
func (h *Handler) connect(w http.ResponseWriter, r *http.Request, cred domain.Credential) {
	if err := h.sync.Connect(r.Context(), cred); err != nil {
		h.serverError(w, r, err)
		return
	}
	status, err := h.sync.Status(r.Context(), cred.UserID, cred.Provider)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConnectionView(status))
}

func (h *Handler) deleteConnection(w http.ResponseWriter, r *http.Request) {
	p, ok := providerParam(w, r)
	if !ok {
		return
	}
	if err := h.sync.Disconnect(r.Context(), subject(r), p); err != nil {
		h.serverError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// serverError maps known domain errors and hides the rest.
func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrUnknownProvider):
		writeError(w, http.StatusNotFound, "unknown_provider", err.Error())
	case errors.Is(err, domain.ErrInvalidEntry):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	default:
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
