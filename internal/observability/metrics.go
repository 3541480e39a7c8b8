// Package observability holds the sync-level Prometheus collectors.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"example.com/healthsync/internal/domain"
)

var (
	syncOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "sync",
		Name:      "outcomes_total",
		Help:      "Sync runs by provider and terminal status.",
	}, []string{"provider", "status"})
	syncDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "healthsync",
		Subsystem: "sync",
		Name:      "run_duration_seconds",
		Help:      "Wall time of sync runs.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"provider"})
	recordsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "sync",
		Name:      "records_processed_total",
		Help:      "Normalized provider records handed to the merge step.",
	}, []string{"provider"})
	lastSuccess = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "healthsync",
		Subsystem: "sync",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful sync per provider.",
	}, []string{"provider"})
	entryMergedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "healthsync",
		Subsystem: "persistence",
		Name:      "last_entry_merged_timestamp_seconds",
		Help:      "Unix timestamp of the most recent daily entry merge committed to Postgres.",
	})
	failedDates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "sync",
		Name:      "failed_dates_total",
		Help:      "Calendar dates whose merge failed after retry.",
	}, []string{"provider"})
)

func init() {
	prometheus.MustRegister(syncOutcomes, syncDuration, recordsProcessed, lastSuccess, entryMergedGauge, failedDates)
}

// RecordOutcome updates every run-level collector.
func RecordOutcome(o domain.SyncOutcome) {
	p := o.Provider.Slug()
	syncOutcomes.WithLabelValues(p, string(o.Status)).Inc()
	if d := o.Duration(); d > 0 {
		syncDuration.WithLabelValues(p).Observe(d.Seconds())
	}
	if o.RecordsProcessed > 0 {
		recordsProcessed.WithLabelValues(p).Add(float64(o.RecordsProcessed))
	}
	if o.Status == domain.StatusSuccess && !o.FinishedAt.IsZero() {
		lastSuccess.WithLabelValues(p).Set(float64(o.FinishedAt.Unix()))
	}
}

// RecordFailedDates counts dates left unmerged by a run.
func RecordFailedDates(p domain.Provider, n int) {
	if n <= 0 {
		return
	}
	failedDates.WithLabelValues(p.Slug()).Add(float64(n))
}

// RecordEntryMerged updates the merge watermark gauge.
func RecordEntryMerged(ts time.Time) {
	if ts.IsZero() {
		return
	}
	entryMergedGauge.Set(float64(ts.Unix()))
}
