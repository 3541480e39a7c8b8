package provider

import (
	"errors"
	"fmt"
	"time"

	"example.com/healthsync/internal/domain"
)

// HTTPError is an unexpected provider response. 5xx responses unwrap to
// domain.ErrNetwork.
type HTTPError struct {
	Provider   domain.Provider
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s responded %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s responded %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *HTTPError) Unwrap() error {
	if e.StatusCode >= 500 {
		return domain.ErrNetwork
	}
	return nil
}

// IncompleteError ends a listing that stopped before Resume. Every record
// dated before Resume was yielded; Resume and later dates were not fully read.
type IncompleteError struct {
	Resume time.Time
	Err    error
}

func (e *IncompleteError) Error() string { return e.Err.Error() }

func (e *IncompleteError) Unwrap() error { return e.Err }

// ResumeDate reports the first calendar date an interrupted listing did not
// finish, when the provider knows it.
func ResumeDate(err error) (time.Time, bool) {
	var inc *IncompleteError
	if errors.As(err, &inc) {
		return inc.Resume, true
	}
	return time.Time{}, false
}
