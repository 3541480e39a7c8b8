package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/events"
	"example.com/healthsync/internal/observability"
)

const entryColumns = `user_id, entry_date, sleep_seconds, calories, water_ml, running_meters, screen_time_minutes, notes, sources, created_by, created_at, updated_at`

func scanEntry(row pgx.Row) (*domain.DailyEntry, error) {
	var (
		e       domain.DailyEntry
		sources []byte
	)
	if err := row.Scan(&e.UserID, &e.Date, &e.SleepSeconds, &e.Calories, &e.WaterML, &e.RunningMeters, &e.ScreenTimeMinutes, &e.Notes, &sources, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Sources = make(map[domain.Field]domain.Source)
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &e.Sources); err != nil {
			return nil, fmt.Errorf("decode sources: %w", err)
		}
	}
	return &e, nil
}

// lockEntry loads the row FOR UPDATE, inserting an empty one when absent.
// A concurrent insert of the same key surfaces as domain.ErrMergeConflict.
func lockEntry(ctx context.Context, tx pgx.Tx, userID string, date time.Time, createdBy string) (*domain.DailyEntry, bool, error) {
	entry, err := scanEntry(tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM daily_entries
        WHERE user_id=$1 AND entry_date=$2 FOR UPDATE`, userID, date))
	if err == nil {
		return entry, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	entry, err = scanEntry(tx.QueryRow(ctx, `INSERT INTO daily_entries (user_id, entry_date, created_by)
        VALUES ($1,$2,$3)
        ON CONFLICT (user_id, entry_date) DO NOTHING
        RETURNING `+entryColumns, userID, date, createdBy))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("%w: entry %s inserted concurrently", domain.ErrMergeConflict, domain.FormatDate(date))
	}
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func updateEntry(ctx context.Context, tx pgx.Tx, e *domain.DailyEntry) error {
	sources, err := json.Marshal(e.Sources)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `UPDATE daily_entries
        SET sleep_seconds=$3, calories=$4, water_ml=$5, running_meters=$6, screen_time_minutes=$7,
            notes=$8, sources=$9, updated_at=NOW()
        WHERE user_id=$1 AND entry_date=$2`,
		e.UserID, e.Date, e.SleepSeconds, e.Calories, e.WaterML, e.RunningMeters, e.ScreenTimeMinutes, e.Notes, sources)
	return err
}

// MergeDay applies one provider's totals for one date and stores its records
// in a single transaction holding the entry row lock.
func (r *Repository) MergeDay(ctx context.Context, merge domain.DayMerge) (res domain.DayMergeResult, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return res, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
			err = classify(err)
		}
	}()

	entry, created, err := lockEntry(ctx, tx, merge.UserID, merge.Date, domain.CreatedBySync)
	if err != nil {
		return res, err
	}
	res.Created = created
	res.Updated, res.SkippedManual = entry.ApplyProvider(merge.Provider, merge.Totals)
	if len(res.Updated) > 0 {
		if err = updateEntry(ctx, tx, entry); err != nil {
			return res, err
		}
	}

	if res.RecordsStored, err = upsertRecords(ctx, tx, merge.Records); err != nil {
		return res, err
	}

	if created || len(res.Updated) > 0 {
		now := time.Now().UTC()
		fields := make(map[string]float64, len(res.Updated))
		for _, f := range res.Updated {
			fields[string(f)] = entry.Value(f)
		}
		skipped := make([]string, 0, len(res.SkippedManual))
		for _, f := range res.SkippedManual {
			skipped = append(skipped, string(f))
		}
		date := domain.FormatDate(merge.Date)
		if err = r.insertOutbox(ctx, tx, outboxEvent{
			aggregateType: "daily_entry",
			aggregateID:   merge.UserID + ":" + date,
			eventType:     events.TypeDailyEntrySynced,
			partitionKey:  merge.UserID,
			payload: events.DailyEntrySynced{
				UserID:        merge.UserID,
				Date:          date,
				Provider:      string(merge.Provider),
				Fields:        fields,
				SkippedManual: skipped,
				SyncedAt:      now,
			},
		}); err != nil {
			return res, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return res, err
	}
	observability.RecordEntryMerged(time.Now())
	return res, nil
}

// GetEntry returns nil when no entry exists for the date.
func (r *Repository) GetEntry(ctx context.Context, userID string, date time.Time) (*domain.DailyEntry, error) {
	entry, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM daily_entries
        WHERE user_id=$1 AND entry_date=$2`, userID, date))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return entry, err
}

// SaveManual writes user-entered values and stamps them manual.
func (r *Repository) SaveManual(ctx context.Context, m domain.ManualEntry) (entry *domain.DailyEntry, err error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	entry, _, err = lockEntry(ctx, tx, m.UserID, m.Date, domain.CreatedByManual)
	if err != nil {
		return nil, err
	}
	entry.ApplyManual(m)
	if err = updateEntry(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	entry.UpdatedAt = time.Now().UTC()
	return entry, nil
}
