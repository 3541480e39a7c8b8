package api

import (
	"time"

	"example.com/healthsync/internal/domain"
)

// OutcomeView is the JSON form of a SyncOutcome.
type OutcomeView struct {
	RunID             string    `json:"run_id"`
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

func toOutcomeView(o domain.SyncOutcome) OutcomeView {
	v := OutcomeView{
		RunID:            o.RunID,
		Provider:         o.Provider.Slug(),
		Status:           string(o.Status),
		RecordsProcessed: o.RecordsProcessed,
		DaysUpdated:      o.DaysUpdated,
		ErrorDetail:      o.ErrorDetail,
		StartedAt:        o.StartedAt,
		FinishedAt:       o.FinishedAt,
	}
	if o.RetryAfter > 0 {
		v.RetryAfterSeconds = int((o.RetryAfter + time.Second - 1) / time.Second)
	}
	if o.Watermark != nil {
		v.Watermark = domain.FormatDate(*o.Watermark)
	}
	return v
}

// SyncAllResponse wraps the outcome of every provider.
type SyncAllResponse struct {
	Outcomes []OutcomeView `json:"outcomes"`
}

// ConnectionView reports one provider connection.
type ConnectionView struct {
	Provider   string     `json:"provider"`
	Connected  bool       `json:"connected"`
	LastSyncAt *time.Time `json:"last_sync_at"`
	Watermark  *string    `json:"watermark"`
}

func toConnectionView(s domain.ConnectionStatus) ConnectionView {
	v := ConnectionView{Provider: s.Provider.Slug(), Connected: s.Connected, LastSyncAt: s.LastSyncAt}
	if s.Watermark != nil {
		wm := domain.FormatDate(*s.Watermark)
		v.Watermark = &wm
	}
	return v
}

// ConnectionsResponse lists every provider.
type ConnectionsResponse struct {
	Items []ConnectionView `json:"items"`
}

// AuthorizeResponse starts a server-side OAuth handshake.
type AuthorizeResponse struct {
	AuthorizeURL string    `json:"authorize_url"`
	State        string    `json:"state"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// CallbackRequest carries the provider redirect parameters back to the API.
type CallbackRequest struct {
	Code  string `json:"code" validate:"required,max=2048"`
	State string `json:"state" validate:"required,max=2048"`
}

// ConnectRequest is the token set produced by an OAuth handshake.
type ConnectRequest struct {
	AccessToken       string     `json:"access_token" validate:"required"`
	RefreshToken      string     `json:"refresh_token"`
	ExpiresAt         *time.Time `json:"expires_at"`
	ExpiresIn         int        `json:"expires_in" validate:"gte=0"`
	ExternalAccountID string     `json:"external_account_id" validate:"max=128"`
}

// EntryView presents a daily entry in display units.
type EntryView struct {
	Date              string            `json:"date"`
	SleepHours        float64           `json:"sleep_hours"`
	Calories          float64           `json:"calories"`
	WaterOz           float64           `json:"water_oz"`
	RunningMiles      float64           `json:"running_miles"`
	ScreenTimeMinutes float64           `json:"screen_time_minutes"`
	Notes             string            `json:"notes,omitempty"`
	Sources           map[string]string `json:"sources"`
	CreatedBy         string            `json:"created_by"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func toEntryView(e domain.DailyEntry) EntryView {
	sources := make(map[string]string, len(e.Sources))
	for f, src := range e.Sources {
		sources[string(f)] = string(src)
	}
	return EntryView{
		Date:              domain.FormatDate(e.Date),
		SleepHours:        domain.SecondsToHours(e.SleepSeconds),
		Calories:          e.Calories,
		WaterOz:           domain.MillilitresToOunces(e.WaterML),
		RunningMiles:      domain.MetersToMiles(e.RunningMeters),
		ScreenTimeMinutes: e.ScreenTimeMinutes,
		Notes:             e.Notes,
		Sources:           sources,
		CreatedBy:         e.CreatedBy,
		UpdatedAt:         e.UpdatedAt,
	}
}

// ManualEntryRequest sets fields by hand. Absent fields are left unchanged.
type ManualEntryRequest struct {
	SleepHours        *float64 `json:"sleep_hours" validate:"omitempty,gte=0,lte=24"`
	Calories          *float64 `json:"calories" validate:"omitempty,gte=0"`
	WaterOz           *float64 `json:"water_oz" validate:"omitempty,gte=0"`
	RunningMiles      *float64 `json:"running_miles" validate:"omitempty,gte=0"`
	ScreenTimeMinutes *float64 `json:"screen_time_minutes" validate:"omitempty,gte=0,lte=1440"`
	Notes             *string  `json:"notes" validate:"omitempty,max=2000"`
}

func (req ManualEntryRequest) toManual(userID string, date time.Time) domain.ManualEntry {
	values := make(map[domain.Field]float64)
	if req.SleepHours != nil {
		values[domain.FieldSleep] = domain.HoursToSeconds(*req.SleepHours)
	}
	if req.Calories != nil {
		values[domain.FieldCalories] = *req.Calories
	}
	if req.WaterOz != nil {
		values[domain.FieldWater] = domain.OuncesToMillilitres(*req.WaterOz)
	}
	if req.RunningMiles != nil {
		values[domain.FieldRunning] = domain.MilesToMeters(*req.RunningMiles)
	}
	if req.ScreenTimeMinutes != nil {
		values[domain.FieldScreenTime] = *req.ScreenTimeMinutes
	}
	return domain.ManualEntry{UserID: userID, Date: date, Values: values, Notes: req.Notes}
}

// ExternalActivityView is one audit record.
type ExternalActivityView struct {
	Provider        string    `json:"provider"`
	ExternalID      string    `json:"external_id"`
	ActivityType    string    `json:"activity_type"`
	DistanceMiles   float64   `json:"distance_miles"`
	DurationSeconds float64   `json:"duration_seconds"`
	Calories        float64   `json:"calories,omitempty"`
	WaterOz         float64   `json:"water_oz,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
	LocalDate       string    `json:"local_date"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toExternalActivityView(r domain.ExternalActivityRecord) ExternalActivityView {
	return ExternalActivityView{
		Provider:        r.Provider.Slug(),
		ExternalID:      r.ExternalID,
		ActivityType:    r.ActivityType,
		DistanceMiles:   domain.MetersToMiles(r.DistanceMeters),
		DurationSeconds: r.DurationSeconds,
		Calories:        r.Calories,
		WaterOz:         domain.MillilitresToOunces(r.WaterML),
		OccurredAt:      r.OccurredAt,
		LocalDate:       domain.FormatDate(r.LocalDate),
		UpdatedAt:       r.UpdatedAt,
	}
}

// ListExternalActivitiesResponse packages a page of audit records.
type ListExternalActivitiesResponse struct {
	Items      []ExternalActivityView `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}
