package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/healthsync/internal/api"
	"example.com/healthsync/internal/app"
	"example.com/healthsync/internal/auth"
	"example.com/healthsync/internal/logging"
	"example.com/healthsync/internal/outbox"
	httptransport "example.com/healthsync/internal/transport/http"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, "healthsync-api", true)
	if err != nil {
		logging.Fatal().Err(err).Msg("startup failed")
	}
	defer rt.Close()
	cfg := rt.Config

	orch, err := rt.Orchestrator()
	if err != nil {
		logging.Fatal().Err(err).Msg("build sync orchestrator")
	}

	producer := outbox.NewKafkaProducer(cfg.Kafka.Brokers)
	defer func() {
		if err := producer.Close(); err != nil {
			logging.Warn().Err(err).Msg("close kafka producer")
		}
	}()
	registry := outbox.NewSchemaRegistryClient(cfg.Kafka.SchemaRegistryURL)
	store := outbox.NewPGStore(rt.Pool, time.Minute)
	dispatcher := outbox.NewDispatcher(store, producer, registry, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize)

	handler := api.NewHandler(orch, rt.Repo, rt.Repo, rt.Location).
		WithOAuth(rt.OAuth(), []byte(cfg.Auth.JWTSecret))
	authn := auth.NewMiddleware(auth.Config{Secret: cfg.Auth.JWTSecret, Issuer: cfg.Auth.JWTIssuer})
	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTP.Address,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}, handler.Routes(authn))

	tree := rt.Supervisor("healthsync-api")
	tree.AddWorker(dispatcher)
	tree.AddAPI(httptransport.NewService(server, 15*time.Second))

	logging.Info().Str("address", cfg.HTTP.Address).Msg("healthsync api starting")
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("supervisor stopped")
	}
	logging.Info().Msg("healthsync api stopped")
}
