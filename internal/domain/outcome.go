package domain

import "time"

// SyncStatus is the terminal state of one sync invocation.
type SyncStatus string

const (
	StatusSuccess     SyncStatus = "SUCCESS"
	StatusPartial     SyncStatus = "PARTIAL"
	StatusAuthFailed  SyncStatus = "AUTH_FAILED"
	StatusRateLimited SyncStatus = "RATE_LIMITED"
	StatusSkipped     SyncStatus = "SKIPPED"
	StatusFailed      SyncStatus = "FAILED"
)

// SyncOutcome is returned by every sync invocation instead of an error.
type SyncOutcome struct {
	RunID            string
	UserID           string
	Provider         Provider
	Status           SyncStatus
	RecordsProcessed int
	DaysUpdated      int
	ErrorDetail      string
	RetryAfter       time.Duration
	Watermark        *time.Time
	StartedAt        time.Time
	FinishedAt       time.Time
}

// Retryable reports whether the scheduler should try again on its next pass
// without user intervention.
func (o SyncOutcome) Retryable() bool {
	switch o.Status {
	case StatusPartial, StatusRateLimited, StatusFailed:
		return true
	}
	return false
}

// Duration is the wall time the run took.
func (o SyncOutcome) Duration() time.Duration {
	if o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}
