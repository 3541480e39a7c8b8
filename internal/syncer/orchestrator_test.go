package syncer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/healthsync/internal/aggregate"
	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/oauth"
	"example.com/healthsync/internal/persistence/memory"
	"example.com/healthsync/internal/provider"
	"example.com/healthsync/internal/ratelimit"
)

var now = time.Date(2024, time.June, 2, 12, 0, 0, 0, time.UTC)

// fakeClient yields records by id and then, optionally, an error.
type fakeClient struct {
	p       domain.Provider
	records []domain.NormalizedRecord
	err     error
	// afterFirst runs once the first record has been consumed.
	afterFirst func()
	// onList runs when a listing starts.
	onList func()

	mu     sync.Mutex
	tokens []string
	sinces []time.Time
}

func (f *fakeClient) Provider() domain.Provider { return f.p }

func (f *fakeClient) List(ctx context.Context, accessToken string, since time.Time) iter.Seq2[provider.RawRecord, error] {
	f.mu.Lock()
	f.tokens = append(f.tokens, accessToken)
	f.sinces = append(f.sinces, since)
	f.mu.Unlock()
	return func(yield func(provider.RawRecord, error) bool) {
		if f.onList != nil {
			f.onList()
		}
		for i, rec := range f.records {
			if !yield(provider.RawRecord{Provider: f.p, Kind: rec.Kind, Payload: []byte(rec.ExternalID)}, nil) {
				return
			}
			if i == 0 && f.afterFirst != nil {
				f.afterFirst()
				if err := ctx.Err(); err != nil {
					yield(provider.RawRecord{}, err)
					return
				}
			}
		}
		if f.err != nil {
			yield(provider.RawRecord{}, f.err)
		}
	}
}

func (f *fakeClient) Normalize(raw provider.RawRecord) *domain.NormalizedRecord {
	for _, rec := range f.records {
		if rec.ExternalID == string(raw.Payload) {
			r := rec
			return &r
		}
	}
	return nil
}

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}

type fakeRefresher struct {
	token oauth.Token
	err   error
	hook  func()
	calls int
}

func (f *fakeRefresher) Refresh(context.Context, domain.Provider, string) (oauth.Token, error) {
	f.calls++
	if f.hook != nil {
		f.hook()
	}
	return f.token, f.err
}

type harness struct {
	store     *memory.Store
	client    *fakeClient
	refresher *fakeRefresher
	orch      *Orchestrator
}

func newHarness(t *testing.T, client *fakeClient) *harness {
	t.Helper()
	h := newHarnessWith(t, client)
	h.client = client
	return h
}

func newHarnessWith(t *testing.T, client provider.Client) *harness {
	t.Helper()
	store := memory.New()
	store.SetClock(func() time.Time { return now })
	agg, err := aggregate.New(store, time.UTC)
	require.NoError(t, err)
	refresher := &fakeRefresher{}
	orch, err := New(Deps{
		Credentials: store,
		Runs:        store,
		Refresher:   refresher,
		Merger:      agg,
		Clients:     []provider.Client{client},
	}, Config{
		RefreshMargin: time.Minute,
		Policy:        ratelimit.Policy{Base: time.Second, Max: time.Hour, MaxWait: time.Second},
	})
	require.NoError(t, err)
	orch.now = func() time.Time { return now }
	return &harness{store: store, refresher: refresher, orch: orch}
}

func (h *harness) connect(t *testing.T, p domain.Provider, access, refresh string, expires time.Time) {
	t.Helper()
	require.NoError(t, h.store.Save(context.Background(), domain.Credential{
		UserID: "u1", Provider: p, AccessToken: access, RefreshToken: refresh, ExpiresAt: &expires,
	}))
}

func runRecord(id, date string, hour int, miles float64) domain.NormalizedRecord {
	d, _ := domain.ParseDate(date)
	return domain.NormalizedRecord{
		Provider:       domain.ProviderActivity,
		ExternalID:     id,
		Kind:           domain.KindActivity,
		ActivityType:   "Run",
		OccurredAt:     d.Add(time.Duration(hour) * time.Hour),
		DistanceMeters: domain.MilesToMeters(miles),
	}
}

func entry(t *testing.T, s *memory.Store, date string) *domain.DailyEntry {
	t.Helper()
	d, err := domain.ParseDate(date)
	require.NoError(t, err)
	e, err := s.GetEntry(context.Background(), "u1", d)
	require.NoError(t, err)
	return e
}

func TestRunningMileageScenarioIsIdempotentAndKeepsManualSleep(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{p: domain.ProviderActivity, records: []domain.NormalizedRecord{
		runRecord("r1", "2024-06-01", 7, 3.1),
		runRecord("r2", "2024-06-01", 18, 2.0),
	}}
	h := newHarness(t, client)
	h.connect(t, domain.ProviderActivity, "access", "refresh", now.Add(time.Hour))

	day, _ := domain.ParseDate("2024-06-01")
	_, err := h.store.SaveManual(ctx, domain.ManualEntry{UserID: "u1", Date: day, Values: map[domain.Field]float64{domain.FieldSleep: domain.HoursToSeconds(7.5)}})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		out := h.orch.TriggerSync(ctx, "u1", domain.ProviderActivity)
		require.Equal(t, domain.StatusSuccess, out.Status, out.ErrorDetail)
		require.Equal(t, 2, out.RecordsProcessed)

		e := entry(t, h.store, "2024-06-01")
		require.InDelta(t, 5.1, domain.MetersToMiles(e.RunningMeters), 1e-9)
		require.InDelta(t, 7.5, domain.SecondsToHours(e.SleepSeconds), 1e-9)
		require.Equal(t, domain.SourceManual, e.Sources[domain.FieldSleep])
	}

	page, _, err := h.store.ListExternalActivities(ctx, "u1", domain.ProviderActivity, nil, 10)
	require.NoError(t, err)
	require.Len(t, page, 2, "refetched activities are stored once")

	outcomes := h.store.Outcomes()
	require.Len(t, outcomes, 2)
	require.Equal(t, 1, outcomes[0].DaysUpdated)
	require.Zero(t, outcomes[1].DaysUpdated)

	cred, err := h.store.Get(ctx, "u1", domain.ProviderActivity)
	require.NoError(t, err)
	require.Equal(t, "2024-06-01", domain.FormatDate(*cred.Watermark))
	require.Equal(t, now, *cred.LastSyncAt)
}

func TestCompleteSyncClearsActivitiesDeletedUpstream(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{p: domain.ProviderActivity, records: []domain.NormalizedRecord{
		runRecord("r1", "2024-06-01", 7, 3),
		runRecord("r2", "2024-06-02", 7, 2),
	}}
	h := newHarness(t, client)
	h.connect(t, domain.ProviderActivity, "access", "refresh", now.Add(time.Hour))
	h.orch.TriggerSync(ctx, "u1", domain.ProviderActivity)

	client.records = client.records[:1]
	out := h.orch.TriggerSync(ctx, "u1", domain.ProviderActivity)
	require.Equal(t, domain.StatusSuccess, out.Status, out.ErrorDetail)
	require.Equal(t, 1, out.DaysUpdated)
	require.Zero(t, entry(t, h.store, "2024-06-02").RunningMeters)
	require.InDelta(t, 3, domain.MetersToMiles(entry(t, h.store, "2024-06-01").RunningMeters), 1e-9)
}

func TestPartialSyncKeepsValuesOnUnreadDates(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{p: domain.ProviderActivity, records: []domain.NormalizedRecord{
		runRecord("r1", "2024-06-02", 7, 2),
	}}
	h := newHarness(t, client)
	h.connect(t, domain.ProviderActivity, "access", "refresh", now.Add(time.Hour))
	h.orch.TriggerSync(ctx, "u1", domain.ProviderActivity)

	client.records = []domain.NormalizedRecord{runRecord("r0", "2024-06-01", 7, 1)}
	client.err = &provider.HTTPError{Provider: domain.ProviderActivity, StatusCode: 502}
	out := h.orch.TriggerSync(ctx, "u1", domain.ProviderActivity)
	require.Equal(t, domain.StatusPartial, out.Status)
	require.InDelta(t, 2, domain.MetersToMiles(entry(t, h.store, "2024-06-02").RunningMeters), 1e-9)
}

func TestSinceUsesWatermarkWithinBackfillWindow(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{p: domain.ProviderActivity, records: []domain.NormalizedRecord{runRecord("r1", "2024-06-01", 7, 1)}}
	h := newHarness(t, client)
	h.connect(t, domain.ProviderActivity, "access", "refresh", now.Add(time.Hour))

	h.orch.TriggerSync(ctx, "u1", domain.ProviderActivity)
	h.orch.TriggerSync(ctx, "u1", domain.ProviderActivity)

	require.Len(t, client.sinces, 2)
	require.Equal(t, time.Date(2024, time.May, 3, 0, 0, 0, 0, time.UTC), client.sinces[0])
	require.Equal(t, time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC), client.sinces[1])
}

func TestNoCredentialIsSkipped(t *testing.T) {
	h := newHarness(t, &fakeClient{p: domain.ProviderActivity})
	out := h.orch.TriggerSync(context.Background(), "u1", domain.ProviderActivity)
	require.Equal(t, domain.StatusSkipped, out.Status)
	require.Zero(t, h.client.calls())
}

func TestExpiredWithoutRefreshTokenFailsAuth(t *testing.T) {
	h := newHarness(t, &fakeClient{p: domain.ProviderActivity})
	h.connect(t, domain.ProviderActivity, "access", "", now.Add(-time.Minute))
	out := h.orch.TriggerSync(context.Background(), "u1", domain.ProviderActivity)
	require.Equal(t, domain.StatusAuthFailed, out.Status)
	require.Zero(t, h.refresher.calls)
}

func TestExpiredCredentialIsRefreshedAndPersisted(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{p: domain.ProviderActivity, records: []domain.NormalizedRecord{runRecord("r1", "2024-06-02", 7, 1)}}
	h := newHarness(t, client)
	h.connect(t, domain.ProviderActivity, "old-access", "old-refresh", now.Add(-time.Hour))
	newExpiry := now.Add(6 * time.Hour)
	h.refresher.token = oauth.Token{AccessToken: "new-access", RefreshToken: "new-refresh", ExpiresAt: newExpiry}

	out := h.orch.TriggerSync(ctx, "u1", domain.ProviderActivity)
	require.Equal(t, domain.StatusSuccess, out.Status)
	require.Equal(t, []string{"new-access"}, client.tokens)

	cred, err := h.store.Get(ctx, "u1", domain.ProviderActivity)
	require.NoError(t, err)
	require.Equal(t, "new-refresh", cred.RefreshToken)
	require.Equal(t, newExpiry, *cred.ExpiresAt)
}

func TestRefreshExactlyAtMarginTriggersRefresh(t *testing.T) {
	h := newHarness(t, &fakeClient{p: domain.ProviderActivity})
	h.connect(t, domain.ProviderActivity, "access", "refresh", now.Add(time.Minute))
	h.refresher.token = oauth.Token{AccessToken: "a2", RefreshToken: "r2", ExpiresAt: now.Add(time.Hour)}

	out := h.orch.TriggerSync(context.Background(), "u1", domain.ProviderActivity)
	require.Equal(t, domain.StatusSuccess, out.Status)
	require.Equal(t, 1, h.refresher.calls)
}

func TestRotatedTokenSurvivesFailedFetch(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{p: domain.ProviderActivity, err: &provider.HTTPError{Provider: domain.ProviderActivity, StatusCode: 503}}
	h := newHarness(t, client)
	h.connect(t, domain.ProviderActivity, "old", "old-refresh", now.Add(-time.Hour))
	h.refresher.token = oauth.Token{AccessToken: "new", RefreshToken: "rotated", ExpiresAt: now.Add(time.Hour)}

	out := h.orch.TriggerSync(ctx, "u1", domain.ProviderActivity)
	require.Equal(t, domain.StatusFailed, out.Status)

	cred, err := h.store.Get(ctx, "u1", domain.ProviderActivity)
	require.NoError(t, err)
	require.Equal(t, "rotated", cred.RefreshToken)
	require.Equal(t, "new", cred.AccessToken)
}

func TestRevokedRefreshClearsCredential(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeClient{p: domain.ProviderActivity})
	h.connect(t, domain.ProviderActivity, "old", "revoked", now.Add(-time.Hour))
	h.refresher.err = &domain.AuthError{Provider: domain.ProviderActivity, Revoked: true, Err: errors.New("invalid_grant")}

	out := h.orch.TriggerSync(ctx, "u1", domain.ProviderActivity)
	require.Equal(t, domain.StatusAuthFailed, out.Status)
	require.Zero(t, h.client.calls())

	cred, err := h.store.Get(ctx, "u1", domain.ProviderActivity)
	require.NoError(t, err)
	require.Nil(t, cred)
	connected, _ := h.store.ListConnected(ctx, domain.ProviderActivity)
	require.Empty(t, connected)
}

func TestRevokedRefreshUsesPeerRotation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeClient{p: domain.ProviderActivity})
	h.connect(t, domain.ProviderActivity, "old", "stale", now.Add(-time.Hour))
	h.refresher.err = &domain.AuthError{Provider: domain.ProviderActivity, Revoked: true}
	h.refresher.hook = func() {
		h.connect(t, domain.ProviderActivity, "peer-access", "peer-refresh", now.Add(time.Hour))
	}

	out := h.orch.TriggerSync(ctx, "u1", domain.ProviderActivity)
	require.Equal(t, domain.StatusSuccess, out.Status, out.ErrorDetail)
	require.Equal(t, []string{"peer-access"}, h.client.tokens)
}

func TestDisconnectDuringRefreshStaysDisconnected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeClient{p: domain.ProviderActivity})
	h.connect(t, domain.ProviderActivity, "old", "r1", now.Add(-time.Hour))
	h.refresher.token = oauth.Token{AccessToken: "new", RefreshToken: "r2", ExpiresAt: now.Add(time.Hour)}
	h.refresher.hook = func() {
		require.NoError(t, h.orch.Disconnect(ctx, "u1", domain.ProviderActivity))
	}

	out := h.orch.TriggerSync(ctx, "u1", domain.ProviderActivity)
	require.Equal(t, domain.StatusSkipped, out.Status)
	require.Zero(t, h.client.calls())

	cred, err := h.store.Get(ctx, "u1", domain.ProviderActivity)
	require.NoError(t, err)
	require.Nil(t, cred)
}

func TestReconnectDuringRefreshKeepsNewTokens(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeClient{p: domain.ProviderActivity})
	h.connect(t, domain.ProviderActivity, "old", "r1", now.Add(-time.Hour))
	h.refresher.token = oauth.Token{AccessToken: "ours", RefreshToken: "r2", ExpiresAt: now.Add(time.Hour)}
	h.refresher.hook = func() {
		h.connect(t, domain.ProviderActivity, "user-access", "user-refresh", now.Add(2*time.Hour))
	}

	out := h.orch.TriggerSync(ctx, "u1", domain.ProviderActivity)
	require.Equal(t, domain.StatusSuccess, out.Status, out.ErrorDetail)
	require.Equal(t, []string{"user-access"}, h.client.tokens)

	cred, err := h.store.Get(ctx, "u1", domain.ProviderActivity)
	require.NoError(t, err)
	require.Equal(t, "user-refresh", cred.RefreshToken)
}

func TestDisconnectDuringUnauthorizedFetchStaysDisconnected(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{p: domain.ProviderActivity, err: domain.ErrUnauthorized}
	h := newHarness(t, client)
	h.connect(t, domain.ProviderActivity, "access", "refresh", now.Add(time.Hour))
	client.onList = func() {
		require.NoError(t, h.orch.Disconnect(ctx, "u1", domain.ProviderActivity))
	}

	out := h.orch.TriggerSync(ctx, "u1", domain.ProviderActivity)
	require.Equal(t, domain.StatusAuthFailed, out.Status)

	cred, err := h.store.Get(ctx, "u1", domain.ProviderActivity)
	require.NoError(t, err)
	require.Nil(t, cred)
	connected, err := h.store.ListConnected(ctx, domain.ProviderActivity)
	require.NoError(t, err)
	require.Empty(t, connected)
}

func TestTransientRefreshFailureKeepsCredential(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeClient{p: domain.ProviderActivity})
	h.connect(t, domain.ProviderActivity, "old", "refresh", now.Add(-time.Hour))
	h.refresher.err = &domain.AuthError{Provider: domain.ProviderActivity, Err: errors.New("timeout")}

	out := h.orch.TriggerSync(ctx, "u1", domain.ProviderActivity)
	require.Equal(t, domain.StatusFailed, out.Status)
	require.True(t, out.Retryable())

	cred, _ := h.store.Get(ctx, "u1", domain.ProviderActivity)
	require.NotNil(t, cred)
	require.Equal(t, "refresh", cred.RefreshToken)
}

func TestMidStreamFailureMergesFetchedRecords(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{
		p:       domain.ProviderActivity,
		records: []domain.NormalizedRecord{runRecord("r1", "2024-05-30", 7, 2), runRecord("r2", "2024-05-31", 7, 3)},
		err:     &provider.HTTPError{Provider: domain.ProviderActivity, StatusCode: 502},
	}
	h := newHarness(t, client)
	h.connect(t, domain.ProviderActivity, "access", "refresh", now.Add(time.Hour))

	out := h.orch.TriggerSync(ctx, "u1", domain.ProviderActivity)
	require.Equal(t, domain.StatusPartial, out.Status)
	require.Equal(t, 2, out.RecordsProcessed)
	require.InDelta(t, 2, domain.MetersToMiles(entry(t, h.store, "2024-05-30").RunningMeters), 1e-9)
	// 05-31 may continue on the page that failed.
	require.Equal(t, "2024-05-30", domain.FormatDate(*out.Watermark))
}

func TestFailedSleepWalkDoesNotAdvanceWatermarkPastUnreadDays(t *testing.T) {
	ctx := context.Background()
	var (
		mu         sync.Mutex
		sleepPaths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/activities" {
			fmt.Fprint(w, `[{"activityId":1,"activityType":{"typeKey":"running"},"distance":5000,"startTimeGMT":"2024-06-02 07:00:00"}]`)
			return
		}
		mu.Lock()
		sleepPaths = append(sleepPaths, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := provider.NewWearableClient(provider.Options{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Location:   time.UTC,
		Now:        func() time.Time { return now },
	})
	h := newHarnessWith(t, client)
	h.connect(t, domain.ProviderWearable, "access", "refresh", now.Add(time.Hour))

	for i := 0; i < 2; i++ {
		out := h.orch.TriggerSync(ctx, "u1", domain.ProviderWearable)
		require.Equal(t, domain.StatusPartial, out.Status, out.ErrorDetail)
		require.Nil(t, out.Watermark)
	}

	cred, err := h.store.Get(ctx, "u1", domain.ProviderWearable)
	require.NoError(t, err)
	require.Nil(t, cred.Watermark)
	require.Equal(t, []string{"/sleep/2024-05-03", "/sleep/2024-05-03"}, sleepPaths)
}

func TestResumeDateCapsWatermark(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{
		p: domain.ProviderActivity,
		records: []domain.NormalizedRecord{
			runRecord("r1", "2024-05-20", 7, 1),
			runRecord("r2", "2024-06-01", 7, 1),
		},
		err: &provider.IncompleteError{
			Resume: time.Date(2024, time.May, 25, 0, 0, 0, 0, time.UTC),
			Err:    &provider.HTTPError{Provider: domain.ProviderActivity, StatusCode: 502},
		},
	}
	h := newHarness(t, client)
	h.connect(t, domain.ProviderActivity, "access", "refresh", now.Add(time.Hour))

	out := h.orch.TriggerSync(ctx, "u1", domain.ProviderActivity)
	require.Equal(t, domain.StatusPartial, out.Status)
	require.Equal(t, "2024-05-24", domain.FormatDate(*out.Watermark))
	require.NotNil(t, entry(t, h.store, "2024-06-01"), "fetched records are still merged")

	client.err = nil
	h.orch.TriggerSync(ctx, "u1", domain.ProviderActivity)
	require.Equal(t, time.Date(2024, time.May, 24, 0, 0, 0, 0, time.UTC), client.sinces[1])
}

func TestRateLimitRecordsCooldown(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{p: domain.ProviderActivity, err: &domain.RateLimitedError{Provider: domain.ProviderActivity, RetryAfter: 15 * time.Minute}}
	h := newHarness(t, client)
	h.connect(t, domain.ProviderActivity, "access", "refresh", now.Add(time.Hour))

	out := h.orch.TriggerSync(ctx, "u1", domain.ProviderActivity)
	require.Equal(t, domain.StatusRateLimited, out.Status)
	require.Equal(t, 15*time.Minute, out.RetryAfter)
	require.Equal(t, 1, client.calls())

	again := h.orch.TriggerSync(ctx, "u1", domain.ProviderActivity)
	require.Equal(t, domain.StatusRateLimited, again.Status)
	require.Positive(t, again.RetryAfter)
	require.Equal(t, 1, client.calls(), "cooldown short-circuits before any provider call")
}

func TestUnauthorizedFetchMarksCredentialExpired(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{p: domain.ProviderActivity, err: domain.ErrUnauthorized}
	h := newHarness(t, client)
	h.connect(t, domain.ProviderActivity, "access", "refresh", now.Add(time.Hour))

	out := h.orch.TriggerSync(ctx, "u1", domain.ProviderActivity)
	require.Equal(t, domain.StatusAuthFailed, out.Status)

	cred, err := h.store.Get(ctx, "u1", domain.ProviderActivity)
	require.NoError(t, err)
	require.True(t, cred.Expired(now, 0))

	client.err = nil
	h.refresher.token = oauth.Token{AccessToken: "fresh", RefreshToken: "refresh", ExpiresAt: now.Add(time.Hour)}
	out = h.orch.TriggerSync(ctx, "u1", domain.ProviderActivity)
	require.Equal(t, domain.StatusSuccess, out.Status)
	require.Equal(t, 1, h.refresher.calls)
}

func TestCancellationKeepsFetchedWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &fakeClient{
		p:          domain.ProviderActivity,
		records:    []domain.NormalizedRecord{runRecord("r1", "2024-06-01", 7, 4), runRecord("r2", "2024-06-02", 7, 1)},
		afterFirst: cancel,
	}
	h := newHarness(t, client)
	h.connect(t, domain.ProviderActivity, "access", "refresh", now.Add(time.Hour))

	out := h.orch.TriggerSync(ctx, "u1", domain.ProviderActivity)
	require.Equal(t, domain.StatusPartial, out.Status)
	require.Equal(t, 1, out.RecordsProcessed)
	require.InDelta(t, 4, domain.MetersToMiles(entry(t, h.store, "2024-06-01").RunningMeters), 1e-9)
	require.Nil(t, entry(t, h.store, "2024-06-02"))
	require.Len(t, h.store.Outcomes(), 1)
}

// failingMerger reports every date as failed.
type failingMerger struct{}

func (failingMerger) Merge(_ context.Context, _ string, _ domain.Provider, _ domain.Ownership, records []domain.NormalizedRecord) (aggregate.Result, error) {
	return aggregate.Result{FailedDates: []time.Time{records[0].DateIn(time.UTC)}}, nil
}

func TestAllDatesFailingIsFailed(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{p: domain.ProviderActivity, records: []domain.NormalizedRecord{runRecord("r1", "2024-06-01", 7, 1)}}
	h := newHarness(t, client)
	h.orch.merger = failingMerger{}
	h.connect(t, domain.ProviderActivity, "access", "refresh", now.Add(time.Hour))

	out := h.orch.TriggerSync(ctx, "u1", domain.ProviderActivity)
	require.Equal(t, domain.StatusFailed, out.Status)
	require.Nil(t, out.Watermark)

	cred, _ := h.store.Get(ctx, "u1", domain.ProviderActivity)
	require.Nil(t, cred.Watermark)
}

func TestSyncAllReturnsOutcomePerProvider(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeClient{p: domain.ProviderActivity, records: []domain.NormalizedRecord{runRecord("r1", "2024-06-01", 7, 1)}})
	h.connect(t, domain.ProviderActivity, "access", "refresh", now.Add(time.Hour))

	outcomes := h.orch.SyncAll(ctx, "u1")
	require.Len(t, outcomes, 3)
	require.Equal(t, domain.StatusSuccess, outcomes[0].Status)
	// No client is registered for the other providers.
	require.Equal(t, domain.StatusFailed, outcomes[1].Status)
	require.Equal(t, domain.StatusFailed, outcomes[2].Status)
}

func TestStatusAndDisconnect(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeClient{p: domain.ProviderActivity})
	require.NoError(t, h.orch.Connect(ctx, domain.Credential{UserID: "u1", Provider: domain.ProviderNutrition, AccessToken: "a", RefreshToken: "r"}))

	status, err := h.orch.Status(ctx, "u1", domain.ProviderNutrition)
	require.NoError(t, err)
	require.True(t, status.Connected)

	require.NoError(t, h.orch.Disconnect(ctx, "u1", domain.ProviderNutrition))
	status, err = h.orch.Status(ctx, "u1", domain.ProviderNutrition)
	require.NoError(t, err)
	require.False(t, status.Connected)

	_, err = h.orch.Status(ctx, "u1", domain.Provider("OTHER"))
	require.ErrorIs(t, err, domain.ErrUnknownProvider)
}
