package domain

import (
	"math"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// RecordKind distinguishes the three shapes of provider data.
type RecordKind string

const (
	KindActivity  RecordKind = "activity"
	KindSleep     RecordKind = "sleep"
	KindNutrition RecordKind = "nutrition"
)

// NormalizedRecord is a provider-agnostic record in metric base units.
type NormalizedRecord struct {
	Provider        Provider
	ExternalID      string
	Kind            RecordKind
	ActivityType    string
	OccurredAt      time.Time
	// Day is set by providers that report a calendar date rather than an instant.
	Day             time.Time
	DistanceMeters  float64
	DurationSeconds float64
	Calories        float64
	WaterML         float64
}

// DateIn returns the calendar date the record counts towards.
func (r NormalizedRecord) DateIn(loc *time.Location) time.Time {
	if !r.Day.IsZero() {
		y, m, d := r.Day.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	return DateOf(r.OccurredAt, loc)
}

// Contribution returns the base-unit amount the record adds to f.
func (r NormalizedRecord) Contribution(f Field) (float64, bool) {
	switch {
	case f == FieldRunning && r.Kind == KindActivity:
		return r.DistanceMeters, true
	case f == FieldSleep && r.Kind == KindSleep:
		return r.DurationSeconds, true
	case f == FieldCalories && r.Kind == KindNutrition:
		return r.Calories, true
	case f == FieldWater && r.Kind == KindNutrition:
		return r.WaterML, true
	}
	return 0, false
}

// ExternalActivityRecord is the durable audit row for one provider-native record.
type ExternalActivityRecord struct {
	UserID          string
	Provider        Provider
	ExternalID      string
	ActivityType    string
	DistanceMeters  float64
	DurationSeconds float64
	OccurredAt      time.Time
	LocalDate       time.Time
	Calories        float64
	WaterML         float64
	PayloadHash     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewExternalActivityRecord converts a normalized record into its audit row.
func NewExternalActivityRecord(userID string, r NormalizedRecord, loc *time.Location) ExternalActivityRecord {
	activityType := r.ActivityType
	if activityType == "" {
		activityType = string(r.Kind)
	}
	occurred := r.OccurredAt
	if occurred.IsZero() {
		occurred = StartOfDate(r.Day, loc)
	}
	rec := ExternalActivityRecord{
		UserID:          userID,
		Provider:        r.Provider,
		ExternalID:      r.ExternalID,
		ActivityType:    activityType,
		DistanceMeters:  r.DistanceMeters,
		DurationSeconds: r.DurationSeconds,
		OccurredAt:      occurred.UTC(),
		LocalDate:       r.DateIn(loc),
		Calories:        r.Calories,
		WaterML:         r.WaterML,
	}
	rec.PayloadHash = rec.hash()
	return rec
}

// hash fingerprints the derived fields so provider edits are detectable.
func (r ExternalActivityRecord) hash() string {
	d := xxhash.New()
	for _, s := range []string{r.ActivityType, r.OccurredAt.Format(time.RFC3339), FormatDate(r.LocalDate)} {
		_, _ = d.WriteString(s)
		_, _ = d.WriteString("|")
	}
	for _, v := range []float64{r.DistanceMeters, r.DurationSeconds, r.Calories, r.WaterML} {
		_, _ = d.WriteString(strconv.FormatUint(math.Float64bits(v), 16))
		_, _ = d.WriteString("|")
	}
	return strconv.FormatUint(d.Sum64(), 16)
}

// Cursor marks a position in an occurred_at-descending listing.
type Cursor struct {
	OccurredAt time.Time
	ID         string
}
