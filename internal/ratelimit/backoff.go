// Package ratelimit decides how long to wait when a provider throttles, and
// shares provider cooldowns between workers.
package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrWaitTooLong is returned when the requested wait exceeds the in-process cap.
var ErrWaitTooLong = errors.New("requested wait exceeds in-process limit")

// Policy is an exponential backoff with a ceiling and an in-process wait cap.
type Policy struct {
	Base time.Duration
	Max  time.Duration
	// MaxWait bounds how long a worker may block on a single wait.
	MaxWait time.Duration
}

// DefaultPolicy waits 1s, 2s, 4s ... up to five minutes and never blocks a
// worker for more than ten seconds.
func DefaultPolicy() Policy {
	return Policy{Base: time.Second, Max: 5 * time.Minute, MaxWait: 10 * time.Second}
}

// Backoff returns the delay for the given 1-based attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 32 {
		attempt = 32
	}
	delay := time.Duration(1<<uint(attempt-1)) * p.Base
	if delay <= 0 || (p.Max > 0 && delay > p.Max) {
		delay = p.Max
	}
	return delay
}

// Delay prefers the provider's suggestion and falls back to Backoff.
func (p Policy) Delay(suggested time.Duration, attempt int) time.Duration {
	if suggested > 0 {
		if p.Max > 0 && suggested > p.Max {
			return p.Max
		}
		return suggested
	}
	return p.Backoff(attempt)
}

// Allows reports whether d fits inside the in-process wait cap.
func (p Policy) Allows(d time.Duration) bool {
	return d >= 0 && d <= p.MaxWait
}

// Wait blocks for d unless ctx ends first or d exceeds the cap.
func (p Policy) Wait(ctx context.Context, d time.Duration) error {
	if !p.Allows(d) {
		return ErrWaitTooLong
	}
	if d == 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ParseRetryAfter reads a Retry-After header given as delay-seconds or an HTTP-date.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// NewLimiter builds a token bucket for outbound pacing; rps <= 0 means unlimited.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
