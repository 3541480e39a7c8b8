package postgres

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5"

	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/events"
)

// RecordOutcome stores the run and queues its sync.completed event together.
func (r *Repository) RecordOutcome(ctx context.Context, o domain.SyncOutcome) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	var retryAfter *int
	if o.RetryAfter > 0 {
		secs := int(o.RetryAfter.Seconds())
		retryAfter = &secs
	}

	_, err = tx.Exec(ctx, `INSERT INTO sync_runs (run_id, user_id, provider, status, records_processed, days_updated, error_detail, retry_after_seconds, watermark, started_at, finished_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        ON CONFLICT (run_id) DO NOTHING`,
		o.RunID, o.UserID, string(o.Provider), string(o.Status), o.RecordsProcessed, o.DaysUpdated,
		nullIfEmpty(o.ErrorDetail), retryAfter, o.Watermark, o.StartedAt.UTC(), o.FinishedAt.UTC())
	if err != nil {
		return err
	}

	payload := events.SyncCompleted{
		RunID:            o.RunID,
		UserID:           o.UserID,
		Provider:         string(o.Provider),
		Status:           string(o.Status),
		RecordsProcessed: o.RecordsProcessed,
		DaysUpdated:      o.DaysUpdated,
		ErrorDetail:      o.ErrorDetail,
		StartedAt:        o.StartedAt.UTC(),
		FinishedAt:       o.FinishedAt.UTC(),
	}
	if retryAfter != nil {
		payload.RetryAfterSeconds = *retryAfter
	}
	if o.Watermark != nil {
		payload.Watermark = domain.FormatDate(*o.Watermark)
	}
	if err = r.insertOutbox(ctx, tx, outboxEvent{
		aggregateType: "sync_run",
		aggregateID:   o.RunID,
		eventType:     events.TypeSyncCompleted,
		partitionKey:  o.UserID + ":" + string(o.Provider),
		dedupeKey:     o.RunID + ":" + events.TypeSyncCompleted,
		payload:       payload,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func itoa(n int) string { return strconv.Itoa(n) }
