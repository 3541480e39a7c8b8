package provider

import (
	"context"
	"iter"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"example.com/healthsync/internal/domain"
)

var wearableRunningTypes = map[string]struct{}{
	"running":           {},
	"trail_running":     {},
	"treadmill_running": {},
}

// WearableClient reads running activities and nightly sleep from the
// wearable platform.
type WearableClient struct {
	http *doer
}

func NewWearableClient(opts Options) *WearableClient {
	return &WearableClient{http: newDoer(domain.ProviderWearable, opts)}
}

func (c *WearableClient) Provider() domain.Provider { return domain.ProviderWearable }

// List yields activities page by page, then one sleep summary per day from
// since through today.
func (c *WearableClient) List(ctx context.Context, accessToken string, since time.Time) iter.Seq2[RawRecord, error] {
	opts := c.http.opts
	return func(yield func(RawRecord, error) bool) {
		for start := 0; ; start += opts.PageSize {
			query := url.Values{}
			query.Set("start", strconv.Itoa(start))
			query.Set("limit", strconv.Itoa(opts.PageSize))
			query.Set("startTime", unixParam(since))

			var items []json.RawMessage
			found, err := c.http.getJSON(ctx, accessToken, "/activities", query, &items)
			if err != nil {
				// Sleep days were not read yet, so nothing past since is complete.
				yield(RawRecord{}, &IncompleteError{Resume: domain.DateOf(since, opts.Location), Err: err})
				return
			}
			if !found {
				break
			}
			for _, item := range items {
				if !yield(RawRecord{Provider: domain.ProviderWearable, Kind: domain.KindActivity, Payload: item}, nil) {
					return
				}
			}
			if len(items) < opts.PageSize {
				break
			}
		}

		for _, day := range days(since, opts.Now(), opts.Location) {
			var payload json.RawMessage
			found, err := c.http.getJSON(ctx, accessToken, "/sleep/"+domain.FormatDate(day), nil, &payload)
			if err != nil {
				yield(RawRecord{}, &IncompleteError{Resume: day, Err: err})
				return
			}
			if !found {
				continue
			}
			if !yield(RawRecord{Provider: domain.ProviderWearable, Kind: domain.KindSleep, Day: day, Payload: payload}, nil) {
				return
			}
		}
	}
}

type wearableActivity struct {
	ActivityID   flexID `json:"activityId"`
	ActivityType struct {
		TypeKey string `json:"typeKey"`
	} `json:"activityType"`
	Distance     flexFloat `json:"distance"`
	Duration     flexFloat `json:"duration"`
	Calories     flexFloat `json:"calories"`
	StartTimeGMT string    `json:"startTimeGMT"`
}

type wearableSleep struct {
	DailySleepDTO struct {
		ID               flexID    `json:"id"`
		CalendarDate     string    `json:"calendarDate"`
		SleepTimeSeconds flexFloat `json:"sleepTimeSeconds"`
	} `json:"dailySleepDTO"`
}

func (c *WearableClient) Normalize(raw RawRecord) *domain.NormalizedRecord {
	if raw.Kind == domain.KindSleep {
		return normalizeSleep(raw)
	}
	var p wearableActivity
	if !decodeLenient(raw.Payload, &p) || p.ActivityID == "" {
		return nil
	}
	if _, ok := wearableRunningTypes[p.ActivityType.TypeKey]; !ok {
		return nil
	}
	occurred, ok := parseTimestamp(p.StartTimeGMT)
	if !ok {
		return nil
	}
	return &domain.NormalizedRecord{
		Provider:        domain.ProviderWearable,
		ExternalID:      string(p.ActivityID),
		Kind:            domain.KindActivity,
		ActivityType:    p.ActivityType.TypeKey,
		OccurredAt:      occurred,
		DistanceMeters:  p.Distance.Value,
		DurationSeconds: p.Duration.Value,
		Calories:        p.Calories.Value,
	}
}

// normalizeSleep drops days the device recorded no sleep for.
func normalizeSleep(raw RawRecord) *domain.NormalizedRecord {
	var p wearableSleep
	if !decodeLenient(raw.Payload, &p) || !p.DailySleepDTO.SleepTimeSeconds.Set {
		return nil
	}
	day := raw.Day
	if parsed, err := domain.ParseDate(p.DailySleepDTO.CalendarDate); err == nil {
		day = parsed
	}
	if day.IsZero() {
		return nil
	}
	id := string(p.DailySleepDTO.ID)
	if id == "" {
		id = "sleep-" + domain.FormatDate(day)
	}
	return &domain.NormalizedRecord{
		Provider:        domain.ProviderWearable,
		ExternalID:      id,
		Kind:            domain.KindSleep,
		ActivityType:    "sleep",
		Day:             day,
		DurationSeconds: p.DailySleepDTO.SleepTimeSeconds.Value,
	}
}
