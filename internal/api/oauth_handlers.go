package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/logging"
	"example.com/healthsync/internal/oauth"
)

const (
	stateTTL    = 10 * time.Minute
	stateIssuer = "healthsync.connect"
)

// OAuthFlow runs the authorization_code grant against a provider.
type OAuthFlow interface {
	AuthCodeURL(p domain.Provider, state string) (string, error)
	Exchange(ctx context.Context, p domain.Provider, code string) (oauth.Token, error)
}

// WithOAuth enables the authorize and callback routes. Handshake states are
// HS256 tokens signed with key and bound to the user and provider.
func (h *Handler) WithOAuth(flow OAuthFlow, key []byte) *Handler {
	h.oauth = flow
	h.stateKey = key
	return h
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	p, ok := providerParam(w, r)
	if !ok {
		return
	}
	if h.oauth == nil {
		writeError(w, http.StatusNotImplemented, "oauth_disabled", "server-side handshake is not configured")
		return
	}

	expires := h.now().Add(stateTTL).UTC().Truncate(time.Second)
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    stateIssuer,
		Subject:   subject(r),
		Audience:  jwt.ClaimStrings{p.Slug()},
		IssuedAt:  jwt.NewNumericDate(h.now()),
		ExpiresAt: jwt.NewNumericDate(expires),
	}).SignedString(h.stateKey)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	target, err := h.oauth.AuthCodeURL(p, state)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthorizeResponse{AuthorizeURL: target, State: state, ExpiresAt: expires})
}

// callback exchanges the code from the provider redirect and stores the
// resulting tokens through the same path as a client-side connect.
func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	p, ok := providerParam(w, r)
	if !ok {
		return
	}
	if h.oauth == nil {
		writeError(w, http.StatusNotImplemented, "oauth_disabled", "server-side handshake is not configured")
		return
	}
	var req CallbackRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID := subject(r)
	if err := h.verifyState(req.State, userID, p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_state", "handshake state is invalid or expired")
		return
	}

	tok, err := h.oauth.Exchange(r.Context(), p, req.Code)
	switch {
	case errors.Is(err, domain.ErrAuthRevoked):
		writeError(w, http.StatusBadRequest, "invalid_grant", "provider rejected the authorization code")
		return
	case errors.Is(err, domain.ErrUnknownProvider):
		writeError(w, http.StatusNotFound, "unknown_provider", err.Error())
		return
	case err != nil:
		logging.Ctx(r.Context()).Warn().Err(err).Str("provider", p.Slug()).Msg("authorization code exchange failed")
		writeError(w, http.StatusBadGateway, "provider_unavailable", "token endpoint unavailable")
		return
	}

	expires := tok.ExpiresAt
	h.connect(w, r, domain.Credential{
		UserID:       userID,
		Provider:     p,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    &expires,
	})
}

func (h *Handler) verifyState(raw, userID string, p domain.Provider) error {
	_, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(*jwt.Token) (interface{}, error) {
		return h.stateKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithSubject(userID),
		jwt.WithAudience(p.Slug()),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(h.now),
	)
	return err
}
