package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAuthRevoked means the provider permanently rejected the refresh token.
	ErrAuthRevoked = errors.New("provider authorization revoked")
	// ErrAuthTransient means the token endpoint could not be reached or failed temporarily.
	ErrAuthTransient = errors.New("token refresh temporarily unavailable")
	// ErrRateLimited means the provider asked the caller to slow down.
	ErrRateLimited = errors.New("provider rate limit exceeded")
	// ErrNetwork covers timeouts, connection failures and provider 5xx responses.
	ErrNetwork = errors.New("provider network failure")
	// ErrUnauthorized means the provider rejected the access token on a data call.
	ErrUnauthorized = errors.New("provider rejected access token")
	// ErrPartialFetch marks a fetch that stopped after yielding some records.
	ErrPartialFetch = errors.New("provider fetch interrupted")
	// ErrMergeConflict is returned when a daily entry write lost a concurrent race.
	ErrMergeConflict = errors.New("daily entry merge conflict")
	// ErrCredentialChanged means the stored tokens no longer match the ones a
	// conditional update expected, e.g. after a disconnect or a peer rotation.
	ErrCredentialChanged = errors.New("credential changed concurrently")
	// ErrNotConnected is returned when no credential exists for the user and provider.
	ErrNotConnected = errors.New("provider not connected")
	// ErrUnknownProvider is returned for provider names outside the supported set.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrInvalidEntry is returned for manual entries that fail validation.
	ErrInvalidEntry = errors.New("invalid daily entry")
)

// RateLimitedError carries the provider's suggested wait, zero when absent.
type RateLimitedError struct {
	Provider   Provider
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limited", e.Provider)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// AuthError is returned by the token endpoint grants. Revoked errors require the
// credential to be cleared; the rest may be retried later.
type AuthError struct {
	Provider Provider
	Revoked  bool
	Err      error
}

func (e *AuthError) Error() string {
	kind := "transient"
	if e.Revoked {
		kind = "revoked"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s token request failed (%s)", e.Provider, kind)
	}
	return fmt.Sprintf("%s token request failed (%s): %v", e.Provider, kind, e.Err)
}

func (e *AuthError) Unwrap() []error {
	kind := ErrAuthTransient
	if e.Revoked {
		kind = ErrAuthRevoked
	}
	if e.Err == nil {
		return []error{kind}
	}
	return []error{kind, e.Err}
}

// RetryAfter extracts the suggested wait from a rate limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
