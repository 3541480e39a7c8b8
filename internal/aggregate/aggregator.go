// Package aggregate folds normalized provider records into daily entries.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/logging"
)

// Result summarizes one merge pass.
type Result struct {
	DaysUpdated    int
	EntriesTouched int
	RecordsStored  int
	// LastMergedDate is the end of the contiguous run of committed dates
	// starting at the earliest date, nil when the first date failed.
	LastMergedDate *time.Time
	FailedDates    []time.Time
	SkippedManual  int
}

// Aggregator groups records by calendar date and merges each date in its own
// store transaction.
type Aggregator struct {
	store domain.EntryStore
	loc   *time.Location
}

func New(store domain.EntryStore, loc *time.Location) (*Aggregator, error) {
	if store == nil {
		return nil, errors.New("entry store is required")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{store: store, loc: loc}, nil
}

// Location is the zone dates are grouped in.
func (a *Aggregator) Location() *time.Location { return a.loc }

// Merge recomputes the fields provider owns for every date present in
// records. Totals come from this cycle's records only, so merging the same
// batch twice leaves entries unchanged. A date cut by a failed page holds the
// partial sum until a later cycle refetches it from the watermark.
func (a *Aggregator) Merge(ctx context.Context, userID string, provider domain.Provider, ownership domain.Ownership, records []domain.NormalizedRecord) (Result, error) {
	if userID == "" {
		return Result{}, fmt.Errorf("%w: user id required", domain.ErrInvalidEntry)
	}
	owned := ownership.FieldsOwnedBy(provider)
	groups := a.group(records)

	dates := make([]time.Time, 0, len(groups))
	for d := range groups {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	var res Result
	contiguous := true
	for _, date := range dates {
		recs := groups[date]
		merge := domain.DayMerge{
			UserID:   userID,
			Date:     date,
			Provider: provider,
			Totals:   totals(recs, owned),
			Records:  make([]domain.ExternalActivityRecord, 0, len(recs)),
		}
		for _, r := range recs {
			merge.Records = append(merge.Records, domain.NewExternalActivityRecord(userID, r, a.loc))
		}

		dayRes, err := a.mergeDay(ctx, merge)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).
				Str("user_id", userID).
				Str("provider", provider.Slug()).
				Str("date", domain.FormatDate(date)).
				Msg("daily merge failed")
			res.FailedDates = append(res.FailedDates, date)
			contiguous = false
			continue
		}

		res.EntriesTouched++
		res.RecordsStored += dayRes.RecordsStored
		res.SkippedManual += len(dayRes.SkippedManual)
		if dayRes.Created || len(dayRes.Updated) > 0 {
			res.DaysUpdated++
		}
		if contiguous {
			d := date
			res.LastMergedDate = &d
		}
	}
	return res, nil
}

// Sweep zeroes the values provider wrote on dates in [from, to] that have no
// record in records. It is only sound after a listing that ran to completion.
// Manual values and fields written by other sources are left alone. It
// returns the number of dates changed.
func (a *Aggregator) Sweep(ctx context.Context, userID string, provider domain.Provider, ownership domain.Ownership, from, to time.Time, records []domain.NormalizedRecord) (int, error) {
	owned := ownership.FieldsOwnedBy(provider)
	if len(owned) == 0 {
		return 0, nil
	}
	present := a.group(records)
	src := domain.ProviderSource(provider)

	var (
		changed int
		errs    []error
	)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if _, ok := present[d]; ok {
			continue
		}
		entry, err := a.store.GetEntry(ctx, userID, d)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", domain.FormatDate(d), err))
			continue
		}
		if entry == nil {
			continue
		}
		stale := make(map[domain.Field]float64)
		for _, f := range owned {
			if entry.Sources[f] == src && entry.Value(f) != 0 {
				stale[f] = 0
			}
		}
		if len(stale) == 0 {
			continue
		}
		res, err := a.mergeDay(ctx, domain.DayMerge{UserID: userID, Date: d, Provider: provider, Totals: stale})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", domain.FormatDate(d), err))
			continue
		}
		if len(res.Updated) > 0 {
			changed++
		}
	}
	return changed, errors.Join(errs...)
}

// mergeDay retries once when the store reports a lost race.
func (a *Aggregator) mergeDay(ctx context.Context, merge domain.DayMerge) (domain.DayMergeResult, error) {
	res, err := a.store.MergeDay(ctx, merge)
	if errors.Is(err, domain.ErrMergeConflict) {
		res, err = a.store.MergeDay(ctx, merge)
	}
	return res, err
}

// group buckets records by date, keeping the last copy of a repeated external id.
func (a *Aggregator) group(records []domain.NormalizedRecord) map[time.Time][]domain.NormalizedRecord {
	latest := make(map[string]int, len(records))
	for i, r := range records {
		latest[r.ExternalID] = i
	}
	groups := make(map[time.Time][]domain.NormalizedRecord)
	for i, r := range records {
		if latest[r.ExternalID] != i {
			continue
		}
		d := r.DateIn(a.loc)
		groups[d] = append(groups[d], r)
	}
	return groups
}

// totals sums owned fields, including only fields some record contributes to.
func totals(records []domain.NormalizedRecord, owned []domain.Field) map[domain.Field]float64 {
	out := make(map[domain.Field]float64, len(owned))
	for _, f := range owned {
		for _, r := range records {
			if v, ok := r.Contribution(f); ok {
				out[f] += v
			}
		}
	}
	return out
}
