package oauth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"example.com/healthsync/internal/domain"
)

// AuthCodeURL is the provider consent page the user is sent to. state is
// echoed back on the redirect.
func (r *Refresher) AuthCodeURL(provider domain.Provider, state string) (string, error) {
	ep, ok := r.endpoints[provider]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrUnknownProvider, provider)
	}
	if ep.AuthURL == "" {
		return "", fmt.Errorf("%s has no authorization url configured", provider)
	}
	return ep.config().AuthCodeURL(state), nil
}

// Exchange trades an authorization code for the user's first token set.
// A rejected code is a revoked *domain.AuthError.
func (r *Refresher) Exchange(ctx context.Context, provider domain.Provider, code string) (Token, error) {
	ep, ok := r.endpoints[provider]
	if !ok {
		return Token{}, &domain.AuthError{Provider: provider, Err: domain.ErrUnknownProvider}
	}
	if code == "" {
		return Token{}, &domain.AuthError{Provider: provider, Revoked: true, Err: errors.New("no authorization code")}
	}

	start := r.now()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	tok, err := ep.config().Exchange(ctx, code)
	if err != nil {
		err = &domain.AuthError{Provider: provider, Revoked: revoked(err), Err: err}
		observeExchange(provider, err, r.now().Sub(start))
		return Token{}, err
	}
	out, err := r.token(provider, tok)
	observeExchange(provider, err, r.now().Sub(start))
	return out, err
}
