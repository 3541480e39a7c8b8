package events

// Metadata describes how an outbox event is routed and framed.
type Metadata struct {
	Topic         string
	SchemaSubject string
	Schema        string
}

// Catalog lists every event type written to the outbox.
var Catalog = map[string]Metadata{
	TypeSyncCompleted: {
		Topic:         "sync_outcomes",
		SchemaSubject: "sync_outcomes-value",
		Schema:        syncCompletedSchema,
	},
	TypeDailyEntrySynced: {
		Topic:         "daily_entries",
		SchemaSubject: "daily_entries-value",
		Schema:        dailyEntrySyncedSchema,
	},
}

// Lookup returns routing metadata for eventType.
func Lookup(eventType string) (Metadata, bool) {
	meta, ok := Catalog[eventType]
	return meta, ok
}

const syncCompletedSchema = `{
  "type": "object",
  "title": "SyncCompleted",
  "properties": {
    "run_id": {"type": "string"},
    "user_id": {"type": "string"},
    "provider": {"type": "string", "enum": ["ACTIVITY", "WEARABLE", "NUTRITION"]},
    "status": {"type": "string", "enum": ["SUCCESS", "PARTIAL", "AUTH_FAILED", "RATE_LIMITED", "SKIPPED", "FAILED"]},
    "records_processed": {"type": "integer"},
    "days_updated": {"type": "integer"},
    "error_detail": {"type": "string"},
    "retry_after_seconds": {"type": "integer"},
    "watermark": {"type": "string", "format": "date"},
    "started_at": {"type": "string", "format": "date-time"},
    "finished_at": {"type": "string", "format": "date-time"}
  },
  "required": ["run_id", "user_id", "provider", "status", "records_processed", "days_updated", "started_at", "finished_at"],
  "additionalProperties": false
}`

const dailyEntrySyncedSchema = `{
  "type": "object",
  "title": "DailyEntrySynced",
  "properties": {
    "user_id": {"type": "string"},
    "date": {"type": "string", "format": "date"},
    "provider": {"type": "string"},
    "fields": {"type": "object", "additionalProperties": {"type": "number"}},
    "skipped_manual": {"type": "array", "items": {"type": "string"}},
    "synced_at": {"type": "string", "format": "date-time"}
  },
  "required": ["user_id", "date", "provider", "fields", "synced_at"],
  "additionalProperties": false
}`
