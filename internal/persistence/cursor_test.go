package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/healthsync/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	c := &domain.Cursor{OccurredAt: time.Date(2024, time.June, 1, 7, 0, 0, 123, time.UTC), ID: "42"}
	decoded, err := DecodeCursor(EncodeCursor(c))
	require.NoError(t, err)
	require.True(t, c.OccurredAt.Equal(decoded.OccurredAt))
	require.Equal(t, "42", decoded.ID)

	empty, err := DecodeCursor(" ")
	require.NoError(t, err)
	require.Nil(t, empty)

	_, err = DecodeCursor("%%%")
	require.Error(t, err)
}

func TestBeforeOrdersDescending(t *testing.T) {
	at := time.Date(2024, time.June, 1, 7, 0, 0, 0, time.UTC)
	c := &domain.Cursor{OccurredAt: at, ID: "5"}
	require.True(t, Before(c, at.Add(-time.Second), "9"))
	require.True(t, Before(c, at, "4"))
	require.False(t, Before(c, at, "5"))
	require.False(t, Before(c, at.Add(time.Second), "1"))
	require.True(t, Before(nil, at, "x"))
}
