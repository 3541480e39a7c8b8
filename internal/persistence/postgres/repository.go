package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/events"
)

// Repository provides Postgres-backed persistence for credentials, daily
// entries, external records, sync runs and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// outboxEvent is one row destined for the outbox table.
type outboxEvent struct {
	aggregateType string
	aggregateID   string
	eventType     string
	partitionKey  string
	dedupeKey     string
	payload       any
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, ev outboxEvent) error {
	meta, ok := events.Lookup(ev.eventType)
	if !ok {
		return fmt.Errorf("unknown event type: %s", ev.eventType)
	}
	body, err := json.Marshal(ev.payload)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		ev.aggregateType,
		ev.aggregateID,
		ev.eventType,
		meta.Topic,
		meta.SchemaSubject,
		ev.partitionKey,
		body,
		nullIfEmpty(ev.dedupeKey),
	)
	return err
}

// classify maps serialization failures and deadlocks to domain.ErrMergeConflict.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", domain.ErrMergeConflict, pgErr.Message)
		}
	}
	return err
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

var (
	_ domain.CredentialStore = (*Repository)(nil)
	_ domain.EntryStore      = (*Repository)(nil)
	_ domain.ActivityStore   = (*Repository)(nil)
	_ domain.SyncRunStore    = (*Repository)(nil)
)
