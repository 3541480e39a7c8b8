package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/healthsync/internal/app"
	"example.com/healthsync/internal/logging"
	"example.com/healthsync/internal/outbox"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, "healthsync-dlqmanager", false)
	if err != nil {
		logging.Fatal().Err(err).Msg("startup failed")
	}
	defer rt.Close()
	cfg := rt.Config.DLQ

	tree := rt.Supervisor("healthsync-dlqmanager")
	tree.AddWorker(outbox.NewDLQManager(rt.Pool, cfg.MaxRetries, cfg.BaseDelay, cfg.BatchSize, cfg.PollInterval))

	logging.Info().Dur("interval", cfg.PollInterval).Int("max_retries", cfg.MaxRetries).Msg("dlq manager starting")
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("supervisor stopped")
	}
}
