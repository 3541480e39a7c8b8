// Package oauth runs the provider OAuth grants: authorization_code when a
// user connects and refresh_token before a sync.
package oauth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"example.com/healthsync/internal/domain"
)

// defaultTokenLifetime is assumed when the token endpoint omits expires_in.
const defaultTokenLifetime = time.Hour

// Token is the refreshed credential material.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Endpoint identifies one provider's OAuth client and its URLs.
type Endpoint struct {
	AuthURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

func (ep Endpoint) config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     ep.ClientID,
		ClientSecret: ep.ClientSecret,
		RedirectURL:  ep.RedirectURL,
		Scopes:       ep.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   ep.AuthURL,
			TokenURL:  ep.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Refresher exchanges refresh tokens for new access tokens.
type Refresher struct {
	endpoints map[domain.Provider]Endpoint
	client    *http.Client
	now       func() time.Time
}

// NewRefresher builds a refresher using client for token calls.
func NewRefresher(endpoints map[domain.Provider]Endpoint, client *http.Client) *Refresher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Refresher{endpoints: endpoints, client: client, now: time.Now}
}

// Refresh performs one refresh_token grant. Errors are *domain.AuthError.
// When the provider does not rotate the refresh token the old one is kept.
func (r *Refresher) Refresh(ctx context.Context, provider domain.Provider, refreshToken string) (Token, error) {
	start := r.now()
	tok, err := r.refresh(ctx, provider, refreshToken)
	observeRefresh(provider, err, r.now().Sub(start))
	return tok, err
}

func (r *Refresher) refresh(ctx context.Context, provider domain.Provider, refreshToken string) (Token, error) {
	ep, ok := r.endpoints[provider]
	if !ok {
		return Token{}, &domain.AuthError{Provider: provider, Err: domain.ErrUnknownProvider}
	}
	if refreshToken == "" {
		return Token{}, &domain.AuthError{Provider: provider, Revoked: true, Err: errors.New("no refresh token")}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	fresh, err := ep.config().TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return Token{}, &domain.AuthError{Provider: provider, Revoked: revoked(err), Err: err}
	}
	out, err := r.token(provider, fresh)
	if err != nil {
		return Token{}, err
	}
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}

// token converts a token endpoint response, defaulting a missing expiry.
func (r *Refresher) token(provider domain.Provider, t *oauth2.Token) (Token, error) {
	if t.AccessToken == "" {
		return Token{}, &domain.AuthError{Provider: provider, Err: errors.New("token response without access_token")}
	}
	out := Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.Expiry,
	}
	if out.ExpiresAt.IsZero() {
		out.ExpiresAt = r.now().Add(defaultTokenLifetime)
	}
	out.ExpiresAt = out.ExpiresAt.UTC()
	return out, nil
}

// revoked reports whether the token endpoint rejected the grant itself.
func revoked(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	switch re.ErrorCode {
	case "invalid_grant", "unauthorized_client", "invalid_client":
		return true
	case "":
		if re.Response == nil {
			return false
		}
		return re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized
	}
	return false
}
