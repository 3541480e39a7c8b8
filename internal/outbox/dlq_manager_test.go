package outbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDLQBackoffDoublesAndCapsAtOneHour(t *testing.T) {
	m := NewDLQManager(nil, 10, time.Minute, 0, 0)
	require.Equal(t, time.Minute, m.backoffDelay(1))
	require.Equal(t, 2*time.Minute, m.backoffDelay(2))
	require.Equal(t, 32*time.Minute, m.backoffDelay(6))
	require.Equal(t, time.Hour, m.backoffDelay(7))
	require.Equal(t, time.Hour, m.backoffDelay(40))
}
