// Package provider reads activity, sleep and nutrition data from the three
// supported fitness platforms and normalizes it into base units.
package provider

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/ratelimit"
)

// RawRecord is one provider-native record, decoded lazily by Normalize.
type RawRecord struct {
	Provider domain.Provider
	Kind     domain.RecordKind
	// Day is the calendar date requested for per-day endpoints.
	Day     time.Time
	Payload json.RawMessage
}

// Client is the capability set every provider implements. List yields
// records one page at a time; an error is yielded once and ends the
// sequence. Normalize returns nil for records the tracker does not use.
type Client interface {
	Provider() domain.Provider
	List(ctx context.Context, accessToken string, since time.Time) iter.Seq2[RawRecord, error]
	Normalize(raw RawRecord) *domain.NormalizedRecord
}

// Options configures one provider client.
type Options struct {
	BaseURL        string
	PageSize       int
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Limiter        *rate.Limiter
	Policy         ratelimit.Policy
	Location       *time.Location
	Now            func() time.Time
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.Limiter == nil {
		o.Limiter = rate.NewLimiter(rate.Inf, 0)
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// New returns the client for p.
func New(p domain.Provider, opts Options) (Client, error) {
	switch p {
	case domain.ProviderActivity:
		return NewActivityClient(opts), nil
	case domain.ProviderWearable:
		return NewWearableClient(opts), nil
	case domain.ProviderNutrition:
		return NewNutritionClient(opts), nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownProvider, p)
}

// days returns every calendar date from since through today in loc.
func days(since, now time.Time, loc *time.Location) []time.Time {
	first := domain.DateOf(since, loc)
	last := domain.DateOf(now, loc)
	var out []time.Time
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}
