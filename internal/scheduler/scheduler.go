// Package scheduler periodically syncs every connected user and provider.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/logging"
)

var passDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "healthsync",
	Subsystem: "scheduler",
	Name:      "pass_duration_seconds",
	Help:      "Time taken to sync every connected credential once.",
	Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
})

func init() {
	prometheus.MustRegister(passDuration)
}

// Syncer runs a single provider sync.
type Syncer interface {
	TriggerSync(ctx context.Context, userID string, p domain.Provider) domain.SyncOutcome
}

// Lister enumerates connected credentials.
type Lister interface {
	ListConnected(ctx context.Context, p domain.Provider) ([]domain.Credential, error)
}

// Summary counts the outcomes of one pass.
type Summary struct {
	Runs     int
	ByStatus map[domain.SyncStatus]int
}

// Scheduler is a suture service that runs a pass every interval.
type Scheduler struct {
	creds       Lister
	syncer      Syncer
	interval    time.Duration
	concurrency int
}

func New(creds Lister, syncer Syncer, interval time.Duration, concurrency int) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Scheduler{creds: creds, syncer: syncer, interval: interval, concurrency: concurrency}
}

func (s *Scheduler) String() string { return "sync-scheduler" }

// Serve runs passes until ctx is cancelled.
func (s *Scheduler) Serve(ctx context.Context) error {
	log := logging.Component("scheduler")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		summary, err := s.RunOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("scheduler pass incomplete")
		}
		log.Info().Int("runs", summary.Runs).Interface("statuses", summary.ByStatus).Msg("scheduler pass finished")

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce syncs every connected credential with bounded parallelism. A
// provider whose credentials cannot be listed is skipped and reported.
func (s *Scheduler) RunOnce(ctx context.Context) (Summary, error) {
	start := time.Now()
	defer func() { passDuration.Observe(time.Since(start).Seconds()) }()

	summary := Summary{ByStatus: make(map[domain.SyncStatus]int)}
	var (
		mu   sync.Mutex
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, p := range domain.Providers() {
		creds, err := s.creds.ListConnected(ctx, p)
		if err != nil {
			errs = append(errs, fmt.Errorf("list %s credentials: %w", p.Slug(), err))
			continue
		}
		for _, cred := range creds {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				out := s.syncer.TriggerSync(gctx, cred.UserID, p)
				mu.Lock()
				summary.Runs++
				summary.ByStatus[out.Status]++
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return summary, errors.Join(errs...)
}
