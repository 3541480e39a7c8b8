package oauth

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"example.com/healthsync/internal/domain"
)

var (
	refreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "oauth",
		Name:      "refresh_total",
		Help:      "Token refresh attempts by provider and result.",
	}, []string{"provider", "result"})
	refreshDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "healthsync",
		Subsystem: "oauth",
		Name:      "refresh_duration_seconds",
		Help:      "Latency of token endpoint calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})
	exchangeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "oauth",
		Name:      "exchange_total",
		Help:      "Authorization code exchanges by provider and result.",
	}, []string{"provider", "result"})
)

func init() {
	prometheus.MustRegister(refreshTotal, refreshDuration, exchangeTotal)
}

func observeRefresh(provider domain.Provider, err error, elapsed time.Duration) {
	refreshTotal.WithLabelValues(provider.Slug(), result(err)).Inc()
	refreshDuration.WithLabelValues(provider.Slug()).Observe(elapsed.Seconds())
}

func observeExchange(provider domain.Provider, err error, elapsed time.Duration) {
	exchangeTotal.WithLabelValues(provider.Slug(), result(err)).Inc()
	refreshDuration.WithLabelValues(provider.Slug()).Observe(elapsed.Seconds())
}

func result(err error) string {
	switch {
	case errors.Is(err, domain.ErrAuthRevoked):
		return "revoked"
	case err != nil:
		return "transient"
	}
	return "success"
}
