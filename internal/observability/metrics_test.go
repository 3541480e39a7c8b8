package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"example.com/healthsync/internal/domain"
)

func TestRecordOutcomeCountsByStatus(t *testing.T) {
	start := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)
	before := testutil.ToFloat64(syncOutcomes.WithLabelValues("nutrition", "PARTIAL"))

	RecordOutcome(domain.SyncOutcome{
		Provider:         domain.ProviderNutrition,
		Status:           domain.StatusPartial,
		RecordsProcessed: 3,
		StartedAt:        start,
		FinishedAt:       start.Add(2 * time.Second),
	})

	require.Equal(t, before+1, testutil.ToFloat64(syncOutcomes.WithLabelValues("nutrition", "PARTIAL")))
	require.GreaterOrEqual(t, testutil.ToFloat64(recordsProcessed.WithLabelValues("nutrition")), 3.0)
}

func TestRecordSuccessSetsGauge(t *testing.T) {
	finished := time.Date(2024, time.June, 1, 12, 0, 5, 0, time.UTC)
	RecordOutcome(domain.SyncOutcome{Provider: domain.ProviderActivity, Status: domain.StatusSuccess, StartedAt: finished.Add(-time.Second), FinishedAt: finished})
	require.Equal(t, float64(finished.Unix()), testutil.ToFloat64(lastSuccess.WithLabelValues("activity")))
}
