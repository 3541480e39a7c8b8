// Package syncer runs one provider sync for one user: credential check, token
// refresh, fetch, merge, and the outcome bookkeeping around them.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"example.com/healthsync/internal/aggregate"
	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/logging"
	"example.com/healthsync/internal/oauth"
	"example.com/healthsync/internal/observability"
	"example.com/healthsync/internal/provider"
	"example.com/healthsync/internal/ratelimit"
)

// Refresher renews access tokens.
type Refresher interface {
	Refresh(ctx context.Context, p domain.Provider, refreshToken string) (oauth.Token, error)
}

// Merger folds normalized records into daily entries.
type Merger interface {
	Merge(ctx context.Context, userID string, p domain.Provider, ownership domain.Ownership, records []domain.NormalizedRecord) (aggregate.Result, error)
}

// Sweeper clears values a provider wrote on dates a complete listing no
// longer returns records for.
type Sweeper interface {
	Sweep(ctx context.Context, userID string, p domain.Provider, ownership domain.Ownership, from, to time.Time, records []domain.NormalizedRecord) (int, error)
}

// Config tunes the orchestrator.
type Config struct {
	Ownership     domain.Ownership
	Location      *time.Location
	BackfillDays  int
	RefreshMargin time.Duration
	FetchBudget   time.Duration
	MergeTimeout  time.Duration
	Policy        ratelimit.Policy
}

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Credentials domain.CredentialStore
	Runs        domain.SyncRunStore
	Refresher   Refresher
	Merger      Merger
	Clients     []provider.Client
	// Cooldown defaults to an in-process store.
	Cooldown ratelimit.CooldownStore
}

// Orchestrator implements the per-(user, provider) sync state machine.
// Every invocation yields a SyncOutcome; provider and token failures never
// escape as errors.
type Orchestrator struct {
	creds     domain.CredentialStore
	runs      domain.SyncRunStore
	refresher Refresher
	merger    Merger
	clients   map[domain.Provider]provider.Client
	cooldown  ratelimit.CooldownStore
	cfg       Config

	inflight singleflight.Group
	now      func() time.Time
	newRunID func() string
}

func New(deps Deps, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Credentials == nil:
		return nil, errors.New("credential store is required")
	case deps.Runs == nil:
		return nil, errors.New("sync run store is required")
	case deps.Refresher == nil:
		return nil, errors.New("token refresher is required")
	case deps.Merger == nil:
		return nil, errors.New("merger is required")
	}
	clients := make(map[domain.Provider]provider.Client, len(deps.Clients))
	for _, c := range deps.Clients {
		clients[c.Provider()] = c
	}
	if deps.Cooldown == nil {
		deps.Cooldown = ratelimit.NewMemoryCooldown()
	}
	if cfg.Ownership == nil {
		cfg.Ownership = domain.DefaultOwnership()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.BackfillDays <= 0 {
		cfg.BackfillDays = 30
	}
	if cfg.FetchBudget <= 0 {
		cfg.FetchBudget = 2 * time.Minute
	}
	if cfg.MergeTimeout <= 0 {
		cfg.MergeTimeout = 30 * time.Second
	}
	if cfg.Policy == (ratelimit.Policy{}) {
		cfg.Policy = ratelimit.DefaultPolicy()
	}
	return &Orchestrator{
		creds:     deps.Credentials,
		runs:      deps.Runs,
		refresher: deps.Refresher,
		merger:    deps.Merger,
		clients:   clients,
		cooldown:  deps.Cooldown,
		cfg:       cfg,
		now:       time.Now,
		newRunID:  uuid.NewString,
	}, nil
}

// TriggerSync runs one sync. Concurrent calls for the same user and provider
// share a single run.
func (o *Orchestrator) TriggerSync(ctx context.Context, userID string, p domain.Provider) domain.SyncOutcome {
	key := userID + "|" + string(p)
	v, _, _ := o.inflight.Do(key, func() (interface{}, error) {
		return o.run(ctx, userID, p), nil
	})
	return v.(domain.SyncOutcome)
}

// run is a single pass through the state machine.
type run struct {
	userID string
	p      domain.Provider
	client provider.Client
	out    domain.SyncOutcome
	log    zerolog.Logger
}

func (o *Orchestrator) run(ctx context.Context, userID string, p domain.Provider) domain.SyncOutcome {
	runID := o.newRunID()
	ctx = logging.ContextWithCorrelationID(ctx, runID)
	r := &run{
		userID: userID,
		p:      p,
		out: domain.SyncOutcome{
			RunID:     runID,
			UserID:    userID,
			Provider:  p,
			StartedAt: o.now().UTC(),
		},
		log: logging.Ctx(ctx).With().
			Str("run_id", runID).
			Str("user_id", userID).
			Str("provider", p.Slug()).
			Logger(),
	}
	defer o.finish(ctx, r)

	client, ok := o.clients[p]
	if !ok {
		r.set(domain.StatusFailed, fmt.Errorf("%w: %q", domain.ErrUnknownProvider, p))
		return r.out
	}
	r.client = client

	if o.coolingDown(ctx, r) {
		return r.out
	}

	cred, ok := o.checkCredential(ctx, r)
	if !ok {
		return r.out
	}

	res := o.fetch(ctx, r, cred)
	if !o.classifyFetch(ctx, r, cred, res) {
		return r.out
	}
	o.merge(ctx, r, res)
	return r.out
}

func (r *run) set(status domain.SyncStatus, err error) {
	r.out.Status = status
	if err != nil {
		r.out.ErrorDetail = err.Error()
	}
}

func (o *Orchestrator) coolingDown(ctx context.Context, r *run) bool {
	left, err := o.cooldown.Remaining(ctx, r.p)
	if err != nil {
		r.log.Warn().Err(err).Msg("cooldown lookup failed")
		return false
	}
	if left <= 0 {
		return false
	}
	r.out.RetryAfter = left
	r.set(domain.StatusRateLimited, fmt.Errorf("%s cooling down for %s", r.p, left.Round(time.Second)))
	return true
}

// checkCredential loads the credential and refreshes it when it is close to
// expiry. The refreshed credential is persisted before it is used.
func (o *Orchestrator) checkCredential(ctx context.Context, r *run) (domain.Credential, bool) {
	cred, err := o.creds.Get(ctx, r.userID, r.p)
	if err != nil {
		r.set(domain.StatusFailed, fmt.Errorf("load credential: %w", err))
		return domain.Credential{}, false
	}
	if cred == nil {
		r.set(domain.StatusSkipped, domain.ErrNotConnected)
		return domain.Credential{}, false
	}

	now := o.now()
	if cred.Connected() && !cred.Expired(now, o.cfg.RefreshMargin) {
		return *cred, true
	}
	if !cred.CanRefresh() {
		r.set(domain.StatusAuthFailed, errors.New("access token expired and no refresh token is stored"))
		return domain.Credential{}, false
	}
	return o.refresh(ctx, r, *cred)
}

func (o *Orchestrator) refresh(ctx context.Context, r *run, cred domain.Credential) (domain.Credential, bool) {
	tok, err := o.refresher.Refresh(ctx, r.p, cred.RefreshToken)
	if err != nil {
		if !errors.Is(err, domain.ErrAuthRevoked) {
			r.set(domain.StatusFailed, err)
			return domain.Credential{}, false
		}
		// A concurrent worker may have rotated the refresh token first.
		latest, getErr := o.creds.Get(ctx, r.userID, r.p)
		if getErr == nil && latest != nil && latest.RefreshToken != cred.RefreshToken &&
			latest.Connected() && !latest.Expired(o.now(), o.cfg.RefreshMargin) {
			r.log.Info().Msg("refresh token rotated by a concurrent run")
			return *latest, true
		}
		if clearErr := o.creds.Clear(ctx, r.userID, r.p); clearErr != nil {
			r.log.Error().Err(clearErr).Msg("clear revoked credential")
		}
		r.set(domain.StatusAuthFailed, err)
		return domain.Credential{}, false
	}

	expires := tok.ExpiresAt
	next := cred
	next.AccessToken = tok.AccessToken
	next.RefreshToken = tok.RefreshToken
	next.ExpiresAt = &expires
	if err := o.creds.UpdateTokens(ctx, next, cred.AccessToken, cred.RefreshToken); err != nil {
		if errors.Is(err, domain.ErrCredentialChanged) {
			return o.reload(ctx, r)
		}
		r.set(domain.StatusFailed, fmt.Errorf("persist refreshed credential: %w", err))
		return domain.Credential{}, false
	}
	r.log.Debug().Time("expires_at", expires).Msg("access token refreshed")
	return next, true
}

// reload picks up a credential that changed underneath a refresh. A
// disconnect wins over the tokens this run obtained.
func (o *Orchestrator) reload(ctx context.Context, r *run) (domain.Credential, bool) {
	latest, err := o.creds.Get(ctx, r.userID, r.p)
	switch {
	case err != nil:
		r.set(domain.StatusFailed, fmt.Errorf("reload credential: %w", err))
	case latest == nil:
		r.log.Info().Msg("credential disconnected during refresh")
		r.set(domain.StatusSkipped, domain.ErrNotConnected)
	case latest.Connected() && !latest.Expired(o.now(), o.cfg.RefreshMargin):
		return *latest, true
	default:
		r.set(domain.StatusFailed, domain.ErrCredentialChanged)
	}
	return domain.Credential{}, false
}

// since is the start of the watermark date, but no earlier than the backfill window.
func (o *Orchestrator) since(watermark *time.Time) time.Time {
	today := domain.DateOf(o.now(), o.cfg.Location)
	floor := domain.StartOfDate(today.AddDate(0, 0, -o.cfg.BackfillDays), o.cfg.Location)
	if watermark == nil {
		return floor
	}
	if w := domain.StartOfDate(*watermark, o.cfg.Location); w.After(floor) {
		return w
	}
	return floor
}

type fetchResult struct {
	records []domain.NormalizedRecord
	// err ended the listing early.
	err error
	// fetched counts raw records, including those Normalize dropped.
	fetched int
	// since is the first date requested.
	since time.Time
	// resume is the first date an interrupted listing did not finish. Nil
	// when the listing ran to completion.
	resume *time.Time
}

// fetch drains the provider listing within the fetch budget.
func (o *Orchestrator) fetch(ctx context.Context, r *run, cred domain.Credential) fetchResult {
	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchBudget)
	defer cancel()

	since := o.since(cred.Watermark)
	r.log.Debug().Time("since", since).Msg("fetching provider records")

	res := fetchResult{since: domain.DateOf(since, o.cfg.Location)}
	for raw, err := range r.client.List(fetchCtx, cred.AccessToken, since) {
		if err != nil {
			res.err = err
			break
		}
		res.fetched++
		if rec := r.client.Normalize(raw); rec != nil {
			res.records = append(res.records, *rec)
		}
	}
	if res.err != nil {
		resume := o.resumeDate(res)
		res.resume = &resume
	}
	return res
}

// resumeDate is where the next cycle must pick up after an interrupted
// listing. Providers that walk days report it; for oldest-first feeds the
// date of the last record kept may be incomplete, so it is the resume point.
func (o *Orchestrator) resumeDate(res fetchResult) time.Time {
	if d, ok := provider.ResumeDate(res.err); ok {
		return d
	}
	if n := len(res.records); n > 0 {
		return res.records[n-1].DateIn(o.cfg.Location)
	}
	return res.since
}

// capWatermark keeps the watermark below the resume date of an interrupted
// fetch. Nil leaves the stored watermark where it is.
func capWatermark(merged *time.Time, fetched fetchResult) *time.Time {
	if merged == nil || fetched.resume == nil {
		return merged
	}
	limit := fetched.resume.AddDate(0, 0, -1)
	if limit.Before(fetched.since) {
		return nil
	}
	if merged.After(limit) {
		return &limit
	}
	return merged
}

// classifyFetch sets the outcome for a failed or interrupted fetch and
// reports whether the fetched records should be merged.
func (o *Orchestrator) classifyFetch(ctx context.Context, r *run, cred domain.Credential, res fetchResult) bool {
	err := res.err
	if ctx.Err() != nil {
		r.set(domain.StatusPartial, fmt.Errorf("%w: %v", domain.ErrPartialFetch, context.Cause(ctx)))
		return true
	}
	if err == nil {
		r.out.Status = domain.StatusSuccess
		return true
	}

	wait, limited := domain.RetryAfter(err)
	if limited {
		wait = o.cfg.Policy.Delay(wait, 1)
		r.out.RetryAfter = wait
		if blockErr := o.cooldown.Block(ctx, r.p, wait); blockErr != nil {
			r.log.Warn().Err(blockErr).Msg("record provider cooldown")
		}
	}

	if res.fetched > 0 {
		r.set(domain.StatusPartial, fmt.Errorf("%w: %v", domain.ErrPartialFetch, err))
		return true
	}

	switch {
	case limited:
		r.set(domain.StatusRateLimited, err)
	case errors.Is(err, domain.ErrUnauthorized):
		// Force a refresh on the next cycle.
		now := o.now().UTC()
		expired := cred
		expired.ExpiresAt = &now
		saveErr := o.creds.UpdateTokens(ctx, expired, cred.AccessToken, cred.RefreshToken)
		if saveErr != nil && !errors.Is(saveErr, domain.ErrCredentialChanged) {
			r.log.Error().Err(saveErr).Msg("mark credential expired")
		}
		r.set(domain.StatusAuthFailed, err)
	default:
		r.set(domain.StatusFailed, err)
	}
	return false
}

// merge runs on a context detached from cancellation so fetched work is kept.
func (o *Orchestrator) merge(ctx context.Context, r *run, fetched fetchResult) {
	records := fetched.records
	r.out.RecordsProcessed = len(records)
	mergeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.MergeTimeout)
	defer cancel()

	var res aggregate.Result
	if len(records) > 0 {
		var err error
		res, err = o.merger.Merge(mergeCtx, r.userID, r.p, o.cfg.Ownership, records)
		if err != nil {
			r.set(domain.StatusFailed, fmt.Errorf("merge: %w", err))
			return
		}
	}
	r.out.DaysUpdated = res.DaysUpdated
	r.out.Watermark = capWatermark(res.LastMergedDate, fetched)

	if sw, ok := o.merger.(Sweeper); ok && r.out.Status == domain.StatusSuccess && fetched.resume == nil {
		today := domain.DateOf(o.now(), o.cfg.Location)
		cleared, err := sw.Sweep(mergeCtx, r.userID, r.p, o.cfg.Ownership, fetched.since, today, records)
		if err != nil {
			r.log.Warn().Err(err).Msg("clear stale provider values")
		}
		r.out.DaysUpdated += cleared
	}

	if n := len(res.FailedDates); n > 0 {
		observability.RecordFailedDates(r.p, n)
		err := fmt.Errorf("%d of %d dates failed to merge", n, n+res.EntriesTouched)
		if res.EntriesTouched == 0 {
			r.set(domain.StatusFailed, err)
			return
		}
		if r.out.Status == domain.StatusSuccess {
			r.set(domain.StatusPartial, err)
		}
	}

	if err := o.creds.MarkSynced(mergeCtx, r.userID, r.p, o.now(), r.out.Watermark); err != nil {
		r.log.Error().Err(err).Msg("mark credential synced")
	}
}

// finish records the outcome on a detached context.
func (o *Orchestrator) finish(ctx context.Context, r *run) {
	r.out.FinishedAt = o.now().UTC()
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.MergeTimeout)
	defer cancel()
	if err := o.runs.RecordOutcome(recordCtx, r.out); err != nil {
		r.log.Error().Err(err).Msg("record sync outcome")
	}
	observability.RecordOutcome(r.out)

	ev := r.log.Info()
	if r.out.Status == domain.StatusFailed || r.out.Status == domain.StatusAuthFailed {
		ev = r.log.Warn()
	}
	ev = ev.Str("status", string(r.out.Status)).
		Int("records", r.out.RecordsProcessed).
		Int("days_updated", r.out.DaysUpdated).
		Dur("duration", r.out.Duration())
	if r.out.ErrorDetail != "" {
		ev = ev.Str("error", r.out.ErrorDetail)
	}
	if r.out.RetryAfter > 0 {
		ev = ev.Dur("retry_after", r.out.RetryAfter)
	}
	ev.Msg("sync finished")
}
