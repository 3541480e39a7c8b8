package syncer

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"example.com/healthsync/internal/domain"
)

// SyncAll syncs every provider for the user concurrently. Outcomes follow
// domain.Providers order.
func (o *Orchestrator) SyncAll(ctx context.Context, userID string) []domain.SyncOutcome {
	providers := domain.Providers()
	outcomes := make([]domain.SyncOutcome, len(providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range providers {
		g.Go(func() error {
			outcomes[i] = o.TriggerSync(gctx, userID, p)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// Connect stores the credential produced by a completed OAuth handshake.
func (o *Orchestrator) Connect(ctx context.Context, cred domain.Credential) error {
	if cred.UserID == "" {
		return fmt.Errorf("user id required")
	}
	if !cred.Provider.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownProvider, cred.Provider)
	}
	if cred.AccessToken == "" {
		return fmt.Errorf("access token required")
	}
	if cred.ExpiresAt != nil {
		t := cred.ExpiresAt.UTC()
		cred.ExpiresAt = &t
	}
	return o.creds.Save(ctx, cred)
}

// Disconnect clears the user's credential for p.
func (o *Orchestrator) Disconnect(ctx context.Context, userID string, p domain.Provider) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownProvider, p)
	}
	return o.creds.Clear(ctx, userID, p)
}

// Status reports whether p is connected and when it last synced.
func (o *Orchestrator) Status(ctx context.Context, userID string, p domain.Provider) (domain.ConnectionStatus, error) {
	if !p.Valid() {
		return domain.ConnectionStatus{}, fmt.Errorf("%w: %q", domain.ErrUnknownProvider, p)
	}
	cred, err := o.creds.Get(ctx, userID, p)
	if err != nil {
		return domain.ConnectionStatus{}, err
	}
	status := domain.ConnectionStatus{Provider: p}
	if cred != nil {
		status.Connected = cred.Connected() || cred.CanRefresh()
		status.LastSyncAt = cred.LastSyncAt
		status.Watermark = cred.Watermark
	}
	return status, nil
}

// StatusAll reports every provider for the user.
func (o *Orchestrator) StatusAll(ctx context.Context, userID string) ([]domain.ConnectionStatus, error) {
	out := make([]domain.ConnectionStatus, 0, len(domain.Providers()))
	for _, p := range domain.Providers() {
		s, err := o.Status(ctx, userID, p)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
