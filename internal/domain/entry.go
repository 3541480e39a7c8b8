package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Field names a metric column on DailyEntry.
type Field string

const (
	FieldSleep      Field = "sleep"
	FieldCalories   Field = "calories"
	FieldWater      Field = "water"
	FieldRunning    Field = "running"
	FieldScreenTime Field = "screen_time"
)

// MetricFields lists every numeric DailyEntry field.
func MetricFields() []Field {
	return []Field{FieldSleep, FieldCalories, FieldWater, FieldRunning, FieldScreenTime}
}

// Syncable reports whether a provider may own the field.
func (f Field) Syncable() bool {
	switch f {
	case FieldSleep, FieldCalories, FieldWater, FieldRunning:
		return true
	}
	return false
}

// ParseField resolves a field name, accepting the user-facing aliases.
func ParseField(value string) (Field, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "sleep", "sleep_hours":
		return FieldSleep, nil
	case "calories":
		return FieldCalories, nil
	case "water", "water_intake", "hydration":
		return FieldWater, nil
	case "running", "running_mileage":
		return FieldRunning, nil
	case "screen_time":
		return FieldScreenTime, nil
	}
	return "", fmt.Errorf("unknown field %q", value)
}

// Source records who last wrote a field.
type Source string

// SourceManual marks a user-entered value.
const SourceManual Source = "manual"

// ProviderSource is the provenance stamp for values written by a provider.
func ProviderSource(p Provider) Source {
	return Source(p.Slug())
}

// Row provenance, set once when the entry is created.
const (
	CreatedByManual = "manual"
	CreatedBySync   = "sync"
)

// DailyEntry is the canonical per-user, per-day aggregate. Metric values are
// kept in base units: seconds, kcal, millilitres, meters and minutes.
type DailyEntry struct {
	UserID            string
	Date              time.Time
	SleepSeconds      float64
	Calories          float64
	WaterML           float64
	RunningMeters     float64
	ScreenTimeMinutes float64
	Notes             string
	Sources           map[Field]Source
	CreatedBy         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Value returns the stored base-unit value of f.
func (e *DailyEntry) Value(f Field) float64 {
	switch f {
	case FieldSleep:
		return e.SleepSeconds
	case FieldCalories:
		return e.Calories
	case FieldWater:
		return e.WaterML
	case FieldRunning:
		return e.RunningMeters
	case FieldScreenTime:
		return e.ScreenTimeMinutes
	}
	return 0
}

// SetValue replaces the base-unit value of f.
func (e *DailyEntry) SetValue(f Field, v float64) {
	switch f {
	case FieldSleep:
		e.SleepSeconds = v
	case FieldCalories:
		e.Calories = v
	case FieldWater:
		e.WaterML = v
	case FieldRunning:
		e.RunningMeters = v
	case FieldScreenTime:
		e.ScreenTimeMinutes = v
	}
}

// IsManual reports whether the user entered f by hand.
func (e *DailyEntry) IsManual(f Field) bool {
	return e.Sources[f] == SourceManual
}

// ManualEntry is a user edit of one day. Nil values are left untouched.
type ManualEntry struct {
	UserID string
	Date   time.Time
	Values map[Field]float64
	Notes  *string
}

// Ownership assigns each syncable field to at most one provider.
type Ownership map[Field]Provider

// DefaultOwnership is Activity → running, Wearable → sleep, Nutrition → calories and water.
func DefaultOwnership() Ownership {
	return Ownership{
		FieldRunning:  ProviderActivity,
		FieldSleep:    ProviderWearable,
		FieldCalories: ProviderNutrition,
		FieldWater:    ProviderNutrition,
	}
}

// NewOwnership builds an Ownership from a provider → fields listing and
// rejects a field claimed twice.
func NewOwnership(assignments map[Provider][]Field) (Ownership, error) {
	own := make(Ownership)
	for p, fields := range assignments {
		if !p.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, p)
		}
		for _, f := range fields {
			if !f.Syncable() {
				return nil, fmt.Errorf("field %q cannot be owned by a provider", f)
			}
			if prev, ok := own[f]; ok && prev != p {
				return nil, fmt.Errorf("field %q owned by both %s and %s", f, prev, p)
			}
			own[f] = p
		}
	}
	return own, nil
}

// FieldsOwnedBy returns the fields p writes, sorted by name.
func (o Ownership) FieldsOwnedBy(p Provider) []Field {
	fields := make([]Field, 0, len(o))
	for f, owner := range o {
		if owner == p {
			fields = append(fields, f)
		}
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}

// DateOf returns the calendar date of t in loc, normalised to midnight UTC.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StartOfDate returns the instant the calendar date begins in loc.
func StartOfDate(date time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// FormatDate renders a calendar date as YYYY-MM-DD.
func FormatDate(date time.Time) string {
	return date.Format(time.DateOnly)
}

// ParseDate parses YYYY-MM-DD into a midnight UTC calendar date.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, strings.TrimSpace(value), time.UTC)
}
