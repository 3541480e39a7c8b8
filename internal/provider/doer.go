package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/logging"
	"example.com/healthsync/internal/ratelimit"
)

const maxBodyBytes = 4 << 20

type response struct {
	status int
	header http.Header
	body   []byte
}

// doer issues paced, breaker-guarded GET requests against one provider.
type doer struct {
	provider domain.Provider
	base     string
	opts     Options
	cb       *gobreaker.CircuitBreaker[response]
}

func newDoer(p domain.Provider, opts Options) *doer {
	opts = opts.withDefaults()
	name := "provider-" + p.Slug()
	breakerState.WithLabelValues(p.Slug()).Set(0)
	cb := gobreaker.NewCircuitBreaker[response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			logging.Warn().Str("provider", p.Slug()).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			breakerState.WithLabelValues(p.Slug()).Set(stateValue(to))
		},
	})
	return &doer{provider: p, base: strings.TrimRight(opts.BaseURL, "/"), opts: opts, cb: cb}
}

// getJSON fetches path and decodes the body into out. It reports false when
// the provider answered 404.
func (d *doer) getJSON(ctx context.Context, accessToken, path string, query url.Values, out any) (bool, error) {
	resp, err := d.get(ctx, accessToken, path, query)
	if err != nil {
		return false, err
	}
	if resp.status == http.StatusNotFound {
		return false, nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return false, fmt.Errorf("decode %s response: %w", d.provider, err)
	}
	return true, nil
}

// get performs the request with at most one wait-and-retry after a 429 whose
// Retry-After fits inside the policy's wait cap.
func (d *doer) get(ctx context.Context, accessToken, path string, query url.Values) (response, error) {
	target := d.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	retried := false
	for {
		if err := d.opts.Limiter.Wait(ctx); err != nil {
			return response{}, err
		}
		resp, err := d.roundTrip(ctx, accessToken, target)
		if err != nil {
			return response{}, err
		}
		switch {
		case resp.status == http.StatusTooManyRequests:
			wait, ok := ratelimit.ParseRetryAfter(resp.header.Get("Retry-After"), d.opts.Now())
			if ok && !retried && d.opts.Policy.Allows(wait) {
				rateLimitedTotal.WithLabelValues(d.provider.Slug(), "true").Inc()
				if err := d.opts.Policy.Wait(ctx, wait); err != nil {
					return response{}, err
				}
				retried = true
				continue
			}
			rateLimitedTotal.WithLabelValues(d.provider.Slug(), "false").Inc()
			return response{}, &domain.RateLimitedError{Provider: d.provider, RetryAfter: wait}
		case resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden:
			return response{}, fmt.Errorf("%s status %d: %w", d.provider, resp.status, domain.ErrUnauthorized)
		case resp.status == http.StatusNotFound:
			return resp, nil
		case resp.status >= 300:
			return response{}, &HTTPError{Provider: d.provider, StatusCode: resp.status, Body: snippet(resp.body)}
		}
		return resp, nil
	}
}

func (d *doer) roundTrip(ctx context.Context, accessToken, target string) (response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, d.opts.RequestTimeout)
	defer cancel()

	start := time.Now()
	resp, err := d.cb.Execute(func() (response, error) {
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
		if err != nil {
			return response{}, err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/json")

		res, err := d.opts.HTTPClient.Do(req)
		if err != nil {
			return response{}, err
		}
		defer res.Body.Close()
		body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
		if err != nil {
			return response{}, err
		}
		out := response{status: res.StatusCode, header: res.Header, body: body}
		if res.StatusCode >= 500 {
			return out, &HTTPError{Provider: d.provider, StatusCode: res.StatusCode, Body: snippet(body)}
		}
		return out, nil
	})
	requestDuration.WithLabelValues(d.provider.Slug()).Observe(time.Since(start).Seconds())
	requestsTotal.WithLabelValues(d.provider.Slug(), statusClass(resp.status)).Inc()

	if err == nil {
		return resp, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return response{}, ctxErr
	}
	var httpErr *HTTPError
	switch {
	case errors.As(err, &httpErr):
		return response{}, httpErr
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return response{}, fmt.Errorf("%s circuit open: %w", d.provider, domain.ErrNetwork)
	}
	return response{}, fmt.Errorf("%s request: %w", d.provider, errors.Join(domain.ErrNetwork, err))
}

func snippet(body []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		s = s[:limit]
	}
	return s
}

func unixParam(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
