package provider

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	gobreaker "github.com/sony/gobreaker/v2"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "provider",
		Name:      "requests_total",
		Help:      "Provider API requests by provider and status class.",
	}, []string{"provider", "class"})
	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "healthsync",
		Subsystem: "provider",
		Name:      "request_duration_seconds",
		Help:      "Latency of provider API requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})
	rateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "provider",
		Name:      "rate_limited_total",
		Help:      "429 responses by provider and whether the client waited and retried.",
	}, []string{"provider", "retried"})
	breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "healthsync",
		Subsystem: "provider",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per provider (0=closed, 1=half-open, 2=open).",
	}, []string{"provider"})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, rateLimitedTotal, breakerState)
}

func statusClass(code int) string {
	if code == 0 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return -1
}
