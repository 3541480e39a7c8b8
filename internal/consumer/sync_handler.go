package consumer

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/events"
	"example.com/healthsync/internal/logging"
)

// Syncer is the part of the orchestrator the handler drives.
type Syncer interface {
	TriggerSync(ctx context.Context, userID string, p domain.Provider) domain.SyncOutcome
	SyncAll(ctx context.Context, userID string) []domain.SyncOutcome
}

// SyncRequestHandler runs a sync for every sync.requested event. Other event
// types on the topic are acknowledged and ignored.
type SyncRequestHandler struct {
	syncer Syncer
}

func NewSyncRequestHandler(syncer Syncer) *SyncRequestHandler {
	return &SyncRequestHandler{syncer: syncer}
}

func (h *SyncRequestHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != events.TypeSyncRequested {
		return nil
	}
	var req events.SyncRequested
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return fmt.Errorf("%w: decode sync request: %v", ErrRejected, err)
	}
	if strings.TrimSpace(req.UserID) == "" {
		return fmt.Errorf("%w: sync request without user_id", ErrRejected)
	}

	var outcomes []domain.SyncOutcome
	switch name := strings.TrimSpace(req.Provider); {
	case name == "" || strings.EqualFold(name, "all"):
		outcomes = h.syncer.SyncAll(ctx, req.UserID)
	default:
		p, err := domain.ParseProvider(name)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRejected, err)
		}
		outcomes = []domain.SyncOutcome{h.syncer.TriggerSync(ctx, req.UserID, p)}
	}

	log := logging.Ctx(ctx)
	for _, out := range outcomes {
		log.Debug().
			Str("user_id", out.UserID).
			Str("provider", out.Provider.Slug()).
			Str("status", string(out.Status)).
			Msg("requested sync finished")
	}
	return nil
}
