package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/healthsync/internal/app"
	"example.com/healthsync/internal/consumer"
	"example.com/healthsync/internal/logging"
	"example.com/healthsync/internal/scheduler"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, "healthsync-worker", false)
	if err != nil {
		logging.Fatal().Err(err).Msg("startup failed")
	}
	defer rt.Close()
	cfg := rt.Config

	orch, err := rt.Orchestrator()
	if err != nil {
		logging.Fatal().Err(err).Msg("build sync orchestrator")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.Kafka.Brokers,
		GroupID:         cfg.Kafka.ConsumerGroupID,
		Topic:           cfg.Kafka.RequestTopic,
		MinBytes:        1e3,
		MaxBytes:        10e6,
		CommitInterval:  time.Second,
		ReadLagInterval: -1,
	})
	defer func() {
		if err := reader.Close(); err != nil {
			logging.Warn().Err(err).Msg("close kafka reader")
		}
	}()

	tree := rt.Supervisor("healthsync-worker")
	tree.AddWorker(consumer.NewProcessor(reader, consumer.NewSyncRequestHandler(orch),
		consumer.WithLogger(logging.Component("consumer").With().Str("topic", cfg.Kafka.RequestTopic).Logger())))
	if cfg.Scheduler.Enabled {
		tree.AddWorker(scheduler.New(rt.Repo, orch, cfg.Scheduler.Interval, cfg.Scheduler.Concurrency))
	}

	logging.Info().
		Str("topic", cfg.Kafka.RequestTopic).
		Str("group", cfg.Kafka.ConsumerGroupID).
		Bool("scheduler", cfg.Scheduler.Enabled).
		Msg("healthsync worker starting")
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("supervisor stopped")
	}
	logging.Info().Msg("healthsync worker stopped")
}
