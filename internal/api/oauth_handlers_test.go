package api

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/oauth"
)

type stubOAuth struct {
	codes map[string]oauth.Token
	err   error
}

func (s *stubOAuth) AuthCodeURL(p domain.Provider, state string) (string, error) {
	return "https://provider.test/authorize?client_id=c&state=" + url.QueryEscape(state) + "&p=" + p.Slug(), nil
}

func (s *stubOAuth) Exchange(_ context.Context, p domain.Provider, code string) (oauth.Token, error) {
	if s.err != nil {
		return oauth.Token{}, s.err
	}
	tok, ok := s.codes[code]
	if !ok {
		return oauth.Token{}, &domain.AuthError{Provider: p, Revoked: true}
	}
	return tok, nil
}

func newOAuthFixture(t *testing.T) (*fixture, *stubOAuth) {
	t.Helper()
	f := newFixture(t)
	flow := &stubOAuth{codes: map[string]oauth.Token{
		"good": {AccessToken: "a1", RefreshToken: "r1", ExpiresAt: fixedNow.Add(6 * time.Hour)},
	}}
	f.handler.WithOAuth(flow, []byte("state-key"))
	return f, flow
}

func (f *fixture) startHandshake(t *testing.T, provider string) AuthorizeResponse {
	t.Helper()
	rr := f.do(t, http.MethodGet, "/v1/connections/"+provider+"/authorize", "sync:write", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return decodeBody[AuthorizeResponse](t, rr)
}

func TestHandshakeConnectsThroughCallback(t *testing.T) {
	f, _ := newOAuthFixture(t)

	start := f.startHandshake(t, "activity")
	target, err := url.Parse(start.AuthorizeURL)
	require.NoError(t, err)
	require.Equal(t, start.State, target.Query().Get("state"))
	require.Equal(t, fixedNow.Add(stateTTL), start.ExpiresAt)

	rr := f.do(t, http.MethodPost, "/v1/connections/activity/callback", "sync:write", `{"code":"good","state":"`+start.State+`"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.True(t, decodeBody[ConnectionView](t, rr).Connected)

	cred := f.sync.creds[domain.ProviderActivity]
	require.Equal(t, "user-1", cred.UserID)
	require.Equal(t, "a1", cred.AccessToken)
	require.Equal(t, "r1", cred.RefreshToken)
	require.Equal(t, fixedNow.Add(6*time.Hour), *cred.ExpiresAt)
}

func TestCallbackRejectsForeignOrExpiredState(t *testing.T) {
	f, _ := newOAuthFixture(t)
	start := f.startHandshake(t, "activity")

	rr := f.do(t, http.MethodPost, "/v1/connections/wearable/callback", "sync:write", `{"code":"good","state":"`+start.State+`"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "invalid_state")

	rr = f.do(t, http.MethodPost, "/v1/connections/activity/callback", "sync:write", `{"code":"good","state":"not-a-token"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	f.handler.now = func() time.Time { return fixedNow.Add(stateTTL + time.Minute) }
	rr = f.do(t, http.MethodPost, "/v1/connections/activity/callback", "sync:write", `{"code":"good","state":"`+start.State+`"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Empty(t, f.sync.creds)
}

func TestCallbackMapsExchangeFailures(t *testing.T) {
	f, flow := newOAuthFixture(t)
	start := f.startHandshake(t, "activity")

	rr := f.do(t, http.MethodPost, "/v1/connections/activity/callback", "sync:write", `{"code":"used","state":"`+start.State+`"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "invalid_grant")

	flow.err = &domain.AuthError{Provider: domain.ProviderActivity, Err: context.DeadlineExceeded}
	rr = f.do(t, http.MethodPost, "/v1/connections/activity/callback", "sync:write", `{"code":"good","state":"`+start.State+`"}`)
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.Empty(t, f.sync.creds)

	rr = f.do(t, http.MethodPost, "/v1/connections/activity/callback", "sync:write", `{"state":"`+start.State+`"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandshakeRoutesRequireConfiguration(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusNotImplemented, f.do(t, http.MethodGet, "/v1/connections/activity/authorize", "sync:write", "").Code)
	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/v1/connections/activity/authorize", "sync:read", "").Code)
}
