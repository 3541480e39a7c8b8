// Package events defines the payloads healthsync publishes and consumes.
package events

import "time"

// Event types.
const (
	TypeSyncCompleted    = "sync.completed"
	TypeDailyEntrySynced = "daily_entry.synced"
	TypeSyncRequested    = "sync.requested"
)

// SyncCompleted is emitted once per sync run with its terminal outcome.
type SyncCompleted struct {
	RunID             string    `json:"run_id"`
	UserID            string    `json:"user_id"`
	Provider          string    `json:"provider"`
	Status            string    `json:"status"`
	RecordsProcessed  int       `json:"records_processed"`
	DaysUpdated       int       `json:"days_updated"`
	ErrorDetail       string    `json:"error_detail,omitempty"`
	RetryAfterSeconds int       `json:"retry_after_seconds,omitempty"`
	Watermark         string    `json:"watermark,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
}

// DailyEntrySynced is emitted when a provider merge changed a daily entry.
type DailyEntrySynced struct {
	UserID        string             `json:"user_id"`
	Date          string             `json:"date"`
	Provider      string             `json:"provider"`
	Fields        map[string]float64 `json:"fields"`
	SkippedManual []string           `json:"skipped_manual,omitempty"`
	SyncedAt      time.Time          `json:"synced_at"`
}

// SyncRequested asks a worker to sync one provider, or every provider when
// Provider is "all" or empty.
type SyncRequested struct {
	UserID      string    `json:"user_id"`
	Provider    string    `json:"provider,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}
