package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/persistence/memory"
)

// flakyStore fails selected dates a fixed number of times.
type flakyStore struct {
	*memory.Store
	failures map[string]int
	err      error
	calls    map[string]int
}

func (f *flakyStore) MergeDay(ctx context.Context, m domain.DayMerge) (domain.DayMergeResult, error) {
	key := domain.FormatDate(m.Date)
	f.calls[key]++
	if f.failures[key] > 0 {
		f.failures[key]--
		return domain.DayMergeResult{}, f.err
	}
	return f.Store.MergeDay(ctx, m)
}

func run(date string, hour int, id string, meters float64) domain.NormalizedRecord {
	d, _ := domain.ParseDate(date)
	return domain.NormalizedRecord{
		Provider:       domain.ProviderActivity,
		ExternalID:     id,
		Kind:           domain.KindActivity,
		ActivityType:   "Run",
		OccurredAt:     d.Add(time.Duration(hour) * time.Hour),
		DistanceMeters: meters,
	}
}

func TestMergeSumsPerDateAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	agg, err := New(store, time.UTC)
	require.NoError(t, err)

	records := []domain.NormalizedRecord{
		run("2024-06-01", 7, "1", domain.MilesToMeters(3.1)),
		run("2024-06-01", 18, "2", domain.MilesToMeters(2.0)),
		run("2024-06-02", 7, "3", 1000),
	}
	res, err := agg.Merge(ctx, "u1", domain.ProviderActivity, domain.DefaultOwnership(), records)
	require.NoError(t, err)
	require.Equal(t, 2, res.DaysUpdated)
	require.Equal(t, 3, res.RecordsStored)
	require.Equal(t, "2024-06-02", domain.FormatDate(*res.LastMergedDate))

	day, _ := domain.ParseDate("2024-06-01")
	entry, err := store.GetEntry(ctx, "u1", day)
	require.NoError(t, err)
	require.InDelta(t, 5.1, domain.MetersToMiles(entry.RunningMeters), 1e-9)
	require.Equal(t, domain.Source("activity"), entry.Sources[domain.FieldRunning])
	require.Zero(t, entry.SleepSeconds)

	again, err := agg.Merge(ctx, "u1", domain.ProviderActivity, domain.DefaultOwnership(), records)
	require.NoError(t, err)
	require.Zero(t, again.DaysUpdated)
	require.Zero(t, again.RecordsStored)
	entry, _ = store.GetEntry(ctx, "u1", day)
	require.InDelta(t, 5.1, domain.MetersToMiles(entry.RunningMeters), 1e-9)
}

func TestMergeDedupesRepeatedExternalIDs(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	agg, _ := New(store, time.UTC)

	records := []domain.NormalizedRecord{
		run("2024-06-01", 7, "1", 5000),
		run("2024-06-01", 7, "1", 5000),
	}
	_, err := agg.Merge(ctx, "u1", domain.ProviderActivity, domain.DefaultOwnership(), records)
	require.NoError(t, err)

	day, _ := domain.ParseDate("2024-06-01")
	entry, _ := store.GetEntry(ctx, "u1", day)
	require.InDelta(t, 5000, entry.RunningMeters, 1e-9)
}

func TestMergeIgnoresFieldsNotOwned(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	agg, _ := New(store, time.UTC)

	wearableRun := run("2024-06-01", 7, "w1", 5000)
	wearableRun.Provider = domain.ProviderWearable
	res, err := agg.Merge(ctx, "u1", domain.ProviderWearable, domain.DefaultOwnership(), []domain.NormalizedRecord{wearableRun})
	require.NoError(t, err)
	require.Equal(t, 1, res.RecordsStored)

	day, _ := domain.ParseDate("2024-06-01")
	entry, _ := store.GetEntry(ctx, "u1", day)
	require.Zero(t, entry.RunningMeters)
	require.Empty(t, entry.Sources)

	stored, err := store.GetExternalActivity(ctx, domain.ProviderWearable, "w1")
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestSweepZeroesProviderValuesOnEmptyDates(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	agg, _ := New(store, time.UTC)
	own := domain.DefaultOwnership()

	_, err := agg.Merge(ctx, "u1", domain.ProviderActivity, own, []domain.NormalizedRecord{
		run("2024-06-01", 7, "deleted", 5000),
		run("2024-06-02", 7, "kept", 3000),
	})
	require.NoError(t, err)
	manualDay, _ := domain.ParseDate("2024-06-03")
	_, err = store.SaveManual(ctx, domain.ManualEntry{UserID: "u1", Date: manualDay, Values: map[domain.Field]float64{domain.FieldRunning: 1200}})
	require.NoError(t, err)

	from, _ := domain.ParseDate("2024-06-01")
	kept := []domain.NormalizedRecord{run("2024-06-02", 7, "kept", 3000)}
	changed, err := agg.Sweep(ctx, "u1", domain.ProviderActivity, own, from, manualDay, kept)
	require.NoError(t, err)
	require.Equal(t, 1, changed)

	entry, _ := store.GetEntry(ctx, "u1", from)
	require.Zero(t, entry.RunningMeters)
	require.Equal(t, domain.ProviderSource(domain.ProviderActivity), entry.Sources[domain.FieldRunning])
	entry, _ = store.GetEntry(ctx, "u1", from.AddDate(0, 0, 1))
	require.InDelta(t, 3000, entry.RunningMeters, 1e-9)
	entry, _ = store.GetEntry(ctx, "u1", manualDay)
	require.InDelta(t, 1200, entry.RunningMeters, 1e-9)

	changed, err = agg.Sweep(ctx, "u1", domain.ProviderActivity, own, from, manualDay, kept)
	require.NoError(t, err)
	require.Zero(t, changed)

	// Another provider's sweep leaves running alone.
	changed, err = agg.Sweep(ctx, "u1", domain.ProviderWearable, own, from, manualDay, nil)
	require.NoError(t, err)
	require.Zero(t, changed)
	entry, _ = store.GetEntry(ctx, "u1", from.AddDate(0, 0, 1))
	require.InDelta(t, 3000, entry.RunningMeters, 1e-9)
}

func TestMergeGroupsInConfiguredZone(t *testing.T) {
	ctx := context.Background()
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	store := memory.New()
	agg, _ := New(store, tokyo)

	late := run("2024-06-01", 20, "1", 4000)
	_, err = agg.Merge(ctx, "u1", domain.ProviderActivity, domain.DefaultOwnership(), []domain.NormalizedRecord{late})
	require.NoError(t, err)

	day, _ := domain.ParseDate("2024-06-02")
	entry, _ := store.GetEntry(ctx, "u1", day)
	require.NotNil(t, entry)
	require.InDelta(t, 4000, entry.RunningMeters, 1e-9)
}

func TestMergeRetriesConflictOnce(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: memory.New(), failures: map[string]int{"2024-06-01": 1}, err: domain.ErrMergeConflict, calls: map[string]int{}}
	agg, _ := New(store, time.UTC)

	res, err := agg.Merge(ctx, "u1", domain.ProviderActivity, domain.DefaultOwnership(), []domain.NormalizedRecord{run("2024-06-01", 7, "1", 1000)})
	require.NoError(t, err)
	require.Empty(t, res.FailedDates)
	require.Equal(t, 2, store.calls["2024-06-01"])
}

func TestMergeReportsFailedDatesAndStopsWatermark(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: memory.New(), failures: map[string]int{"2024-06-02": 5}, err: errors.New("disk full"), calls: map[string]int{}}
	agg, _ := New(store, time.UTC)

	records := []domain.NormalizedRecord{
		run("2024-06-01", 7, "1", 1000),
		run("2024-06-02", 7, "2", 1000),
		run("2024-06-03", 7, "3", 1000),
	}
	res, err := agg.Merge(ctx, "u1", domain.ProviderActivity, domain.DefaultOwnership(), records)
	require.NoError(t, err)
	require.Len(t, res.FailedDates, 1)
	require.Equal(t, "2024-06-02", domain.FormatDate(res.FailedDates[0]))
	require.Equal(t, 1, store.calls["2024-06-02"], "non-conflict errors are not retried")
	require.Equal(t, 2, res.EntriesTouched)
	require.Equal(t, "2024-06-01", domain.FormatDate(*res.LastMergedDate))

	later, _ := domain.ParseDate("2024-06-03")
	entry, _ := store.GetEntry(ctx, "u1", later)
	require.NotNil(t, entry, "later dates still merge")
}
