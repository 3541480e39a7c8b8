package provider

import (
	"context"
	"iter"
	"time"

	"github.com/goccy/go-json"

	"example.com/healthsync/internal/domain"
)

// NutritionClient reads daily diary totals from the nutrition platform.
type NutritionClient struct {
	http *doer
}

func NewNutritionClient(opts Options) *NutritionClient {
	return &NutritionClient{http: newDoer(domain.ProviderNutrition, opts)}
}

func (c *NutritionClient) Provider() domain.Provider { return domain.ProviderNutrition }

// List walks the diary one day at a time. Days without a diary are skipped.
func (c *NutritionClient) List(ctx context.Context, accessToken string, since time.Time) iter.Seq2[RawRecord, error] {
	opts := c.http.opts
	return func(yield func(RawRecord, error) bool) {
		for _, day := range days(since, opts.Now(), opts.Location) {
			var payload json.RawMessage
			found, err := c.http.getJSON(ctx, accessToken, "/diary/"+domain.FormatDate(day), nil, &payload)
			if err != nil {
				yield(RawRecord{}, &IncompleteError{Resume: day, Err: err})
				return
			}
			if !found {
				continue
			}
			if !yield(RawRecord{Provider: domain.ProviderNutrition, Kind: domain.KindNutrition, Day: day, Payload: payload}, nil) {
				return
			}
		}
	}
}

type diaryPayload struct {
	Date   string `json:"date"`
	Totals struct {
		Calories flexFloat `json:"calories"`
		Water    flexFloat `json:"water"`
	} `json:"totals"`
}

func (c *NutritionClient) Normalize(raw RawRecord) *domain.NormalizedRecord {
	var p diaryPayload
	if !decodeLenient(raw.Payload, &p) {
		return nil
	}
	if !p.Totals.Calories.Set && !p.Totals.Water.Set {
		return nil
	}
	day := raw.Day
	if parsed, err := domain.ParseDate(p.Date); err == nil {
		day = parsed
	}
	if day.IsZero() {
		return nil
	}
	return &domain.NormalizedRecord{
		Provider:   domain.ProviderNutrition,
		ExternalID: "diary-" + domain.FormatDate(day),
		Kind:       domain.KindNutrition,
		Day:        day,
		Calories:   p.Totals.Calories.Value,
		WaterML:    p.Totals.Water.Value,
	}
}
