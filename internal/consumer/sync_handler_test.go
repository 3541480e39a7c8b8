package consumer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/events"
)

type stubSyncer struct {
	triggered []domain.Provider
	all       []string
}

func (s *stubSyncer) TriggerSync(_ context.Context, userID string, p domain.Provider) domain.SyncOutcome {
	s.triggered = append(s.triggered, p)
	return domain.SyncOutcome{UserID: userID, Provider: p, Status: domain.StatusSuccess}
}

func (s *stubSyncer) SyncAll(_ context.Context, userID string) []domain.SyncOutcome {
	s.all = append(s.all, userID)
	return nil
}

func request(payload string) Message {
	return Message{Topic: "sync_requests", EventType: events.TypeSyncRequested, Payload: []byte(payload)}
}

func TestSyncRequestHandlerTriggersProvider(t *testing.T) {
	syncer := &stubSyncer{}
	h := NewSyncRequestHandler(syncer)

	require.NoError(t, h.Handle(context.Background(), request(`{"user_id":"u1","provider":"nutrition"}`)))
	require.Equal(t, []domain.Provider{domain.ProviderNutrition}, syncer.triggered)

	require.NoError(t, h.Handle(context.Background(), request(`{"user_id":"u2","provider":"all"}`)))
	require.NoError(t, h.Handle(context.Background(), request(`{"user_id":"u3"}`)))
	require.Equal(t, []string{"u2", "u3"}, syncer.all)
}

func TestSyncRequestHandlerRejectsInvalidRequests(t *testing.T) {
	h := NewSyncRequestHandler(&stubSyncer{})
	for _, payload := range []string{`not json`, `{"provider":"activity"}`, `{"user_id":"u1","provider":"fitbit"}`} {
		require.ErrorIs(t, h.Handle(context.Background(), request(payload)), ErrRejected, payload)
	}
}

func TestSyncRequestHandlerIgnoresOtherEvents(t *testing.T) {
	syncer := &stubSyncer{}
	msg := request(`{"user_id":"u1"}`)
	msg.EventType = events.TypeSyncCompleted
	require.NoError(t, NewSyncRequestHandler(syncer).Handle(context.Background(), msg))
	require.Empty(t, syncer.all)
}
