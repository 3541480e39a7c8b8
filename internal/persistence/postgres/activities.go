package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"example.com/healthsync/internal/domain"
)

const recordColumns = `provider, external_id, user_id, activity_type, distance_meters, duration_seconds, occurred_at, local_date, calories, water_ml, payload_hash, created_at, updated_at`

func scanRecord(row pgx.Row) (domain.ExternalActivityRecord, error) {
	var (
		rec      domain.ExternalActivityRecord
		provider string
	)
	err := row.Scan(&provider, &rec.ExternalID, &rec.UserID, &rec.ActivityType, &rec.DistanceMeters, &rec.DurationSeconds, &rec.OccurredAt, &rec.LocalDate, &rec.Calories, &rec.WaterML, &rec.PayloadHash, &rec.CreatedAt, &rec.UpdatedAt)
	rec.Provider = domain.Provider(provider)
	return rec, err
}

// upsertRecords stores each record keyed by (provider, external_id),
// rewriting only rows whose payload changed. It returns the rows written.
func upsertRecords(ctx context.Context, tx pgx.Tx, records []domain.ExternalActivityRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	const stmt = `INSERT INTO external_activity_records (provider, external_id, user_id, activity_type, distance_meters, duration_seconds, occurred_at, local_date, calories, water_ml, payload_hash)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        ON CONFLICT (provider, external_id) DO UPDATE SET
            user_id = EXCLUDED.user_id,
            activity_type = EXCLUDED.activity_type,
            distance_meters = EXCLUDED.distance_meters,
            duration_seconds = EXCLUDED.duration_seconds,
            occurred_at = EXCLUDED.occurred_at,
            local_date = EXCLUDED.local_date,
            calories = EXCLUDED.calories,
            water_ml = EXCLUDED.water_ml,
            payload_hash = EXCLUDED.payload_hash,
            updated_at = NOW()
        WHERE external_activity_records.payload_hash IS DISTINCT FROM EXCLUDED.payload_hash
           OR external_activity_records.user_id IS DISTINCT FROM EXCLUDED.user_id`

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(stmt,
			string(rec.Provider),
			rec.ExternalID,
			rec.UserID,
			rec.ActivityType,
			rec.DistanceMeters,
			rec.DurationSeconds,
			rec.OccurredAt,
			rec.LocalDate,
			rec.Calories,
			rec.WaterML,
			rec.PayloadHash,
		)
	}
	results := tx.SendBatch(ctx, batch)
	stored := 0
	for range records {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return stored, err
		}
		stored += int(tag.RowsAffected())
	}
	return stored, results.Close()
}

// GetExternalActivity returns nil when the record is unknown.
func (r *Repository) GetExternalActivity(ctx context.Context, provider domain.Provider, externalID string) (*domain.ExternalActivityRecord, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM external_activity_records
        WHERE provider=$1 AND external_id=$2`, string(provider), externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// ListExternalActivities returns a user's records newest first. An empty
// provider lists every provider.
func (r *Repository) ListExternalActivities(ctx context.Context, userID string, provider domain.Provider, cursor *domain.Cursor, limit int) ([]domain.ExternalActivityRecord, *domain.Cursor, error) {
	args := []interface{}{userID, limit}
	query := `SELECT ` + recordColumns + ` FROM external_activity_records WHERE user_id=$1`

	if provider != "" {
		args = append(args, string(provider))
		query += ` AND provider=$3`
	}
	if cursor != nil {
		n := len(args)
		query += ` AND (occurred_at, external_id) < ($` + itoa(n+1) + `, $` + itoa(n+2) + `)`
		args = append(args, cursor.OccurredAt, cursor.ID)
	}
	query += ` ORDER BY occurred_at DESC, external_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.ExternalActivityRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{OccurredAt: last.OccurredAt, ID: last.ExternalID}
	}
	return results, next, nil
}
