package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// NewDailyEntry returns an empty row created by createdBy.
func NewDailyEntry(userID string, date time.Time, createdBy string, now time.Time) *DailyEntry {
	return &DailyEntry{
		UserID:    userID,
		Date:      date,
		Sources:   make(map[Field]Source),
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ApplyProvider writes totals for p, leaving manual fields untouched. It
// returns the fields whose value or provenance changed and the fields skipped
// because the user entered them.
func (e *DailyEntry) ApplyProvider(p Provider, totals map[Field]float64) (updated, skipped []Field) {
	if e.Sources == nil {
		e.Sources = make(map[Field]Source)
	}
	src := ProviderSource(p)
	for _, f := range sortedFields(totals) {
		if e.IsManual(f) {
			skipped = append(skipped, f)
			continue
		}
		v := totals[f]
		if e.Value(f) == v && e.Sources[f] == src {
			continue
		}
		e.SetValue(f, v)
		e.Sources[f] = src
		updated = append(updated, f)
	}
	return updated, skipped
}

// ApplyManual writes the user's values and stamps them manual.
func (e *DailyEntry) ApplyManual(m ManualEntry) {
	if e.Sources == nil {
		e.Sources = make(map[Field]Source)
	}
	for f, v := range m.Values {
		e.SetValue(f, v)
		e.Sources[f] = SourceManual
	}
	if m.Notes != nil {
		e.Notes = *m.Notes
	}
}

// Validate checks a manual entry before it is stored.
func (m ManualEntry) Validate() error {
	if m.UserID == "" {
		return fmt.Errorf("%w: user id required", ErrInvalidEntry)
	}
	if m.Date.IsZero() {
		return fmt.Errorf("%w: date required", ErrInvalidEntry)
	}
	if len(m.Values) == 0 && m.Notes == nil {
		return fmt.Errorf("%w: nothing to update", ErrInvalidEntry)
	}
	for f, v := range m.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: %s must be a non-negative number", ErrInvalidEntry, f)
		}
		switch f {
		case FieldSleep:
			if v > 24*SecondsPerHour {
				return fmt.Errorf("%w: sleep exceeds 24 hours", ErrInvalidEntry)
			}
		case FieldScreenTime:
			if v > 24*60 {
				return fmt.Errorf("%w: screen time exceeds 24 hours", ErrInvalidEntry)
			}
		case FieldCalories, FieldWater, FieldRunning:
		default:
			return fmt.Errorf("%w: unknown field %q", ErrInvalidEntry, f)
		}
	}
	return nil
}

func sortedFields(m map[Field]float64) []Field {
	fields := make([]Field, 0, len(m))
	for f := range m {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}
