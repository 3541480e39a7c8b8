package domain

import (
	"context"
	"time"
)

// CredentialStore persists OAuth credentials per user and provider.
type CredentialStore interface {
	// Get returns nil when the user never connected or has been cleared.
	Get(ctx context.Context, userID string, provider Provider) (*Credential, error)
	// Save upserts all token fields atomically.
	Save(ctx context.Context, credential Credential) error
	// Clear nulls every field of the credential.
	Clear(ctx context.Context, userID string, provider Provider) error
	// UpdateTokens replaces access token, refresh token and expiry only while
	// the stored tokens still equal prevAccess and prevRefresh. It returns
	// ErrCredentialChanged otherwise, so a cleared credential stays cleared.
	UpdateTokens(ctx context.Context, credential Credential, prevAccess, prevRefresh string) error
	ListConnected(ctx context.Context, provider Provider) ([]Credential, error)
	// MarkSynced records a completed run without touching token fields. A nil
	// watermark leaves the stored one unchanged.
	MarkSynced(ctx context.Context, userID string, provider Provider, at time.Time, watermark *time.Time) error
}

// DayMerge is one provider's contribution to one calendar date.
type DayMerge struct {
	UserID   string
	Date     time.Time
	Provider Provider
	// Totals holds the recomputed value of every owned field with data this cycle.
	Totals  map[Field]float64
	Records []ExternalActivityRecord
}

// DayMergeResult reports what a DayMerge changed.
type DayMergeResult struct {
	Created       bool
	Updated       []Field
	SkippedManual []Field
	RecordsStored int
}

// EntryStore owns DailyEntry rows and the audit records attached to them.
type EntryStore interface {
	// MergeDay applies a DayMerge in a single transaction with the row locked.
	MergeDay(ctx context.Context, merge DayMerge) (DayMergeResult, error)
	GetEntry(ctx context.Context, userID string, date time.Time) (*DailyEntry, error)
	SaveManual(ctx context.Context, entry ManualEntry) (*DailyEntry, error)
}

// ActivityStore reads the external record audit trail.
type ActivityStore interface {
	GetExternalActivity(ctx context.Context, provider Provider, externalID string) (*ExternalActivityRecord, error)
	ListExternalActivities(ctx context.Context, userID string, provider Provider, cursor *Cursor, limit int) ([]ExternalActivityRecord, *Cursor, error)
}

// SyncRunStore keeps the history of sync outcomes.
type SyncRunStore interface {
	RecordOutcome(ctx context.Context, outcome SyncOutcome) error
}
