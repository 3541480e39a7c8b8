// Package app wires configuration, storage and the sync engine for the
// healthsync binaries.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"example.com/healthsync/db/postgres/migrations"
	"example.com/healthsync/internal/aggregate"
	"example.com/healthsync/internal/config"
	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/logging"
	"example.com/healthsync/internal/oauth"
	"example.com/healthsync/internal/persistence/postgres"
	"example.com/healthsync/internal/provider"
	"example.com/healthsync/internal/ratelimit"
	"example.com/healthsync/internal/supervisor"
	"example.com/healthsync/internal/syncer"
	httptransport "example.com/healthsync/internal/transport/http"
)

// Runtime holds the infrastructure shared by a process.
type Runtime struct {
	Config   config.Config
	Pool     *pgxpool.Pool
	Repo     *postgres.Repository
	Location *time.Location

	redis *redis.Client
}

// Open loads configuration, initialises logging and connects to Postgres.
// Migrations are applied when migrate is set.
func Open(ctx context.Context, service string, migrate bool) (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Service: service})

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if migrate {
		if err := migrations.Apply(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}

	rt := &Runtime{Config: cfg, Pool: pool, Repo: postgres.NewRepository(pool), Location: loc}
	if cfg.Redis.Addr != "" {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	return rt, nil
}

func (r *Runtime) Close() {
	if r.redis != nil {
		if err := r.redis.Close(); err != nil {
			logging.Warn().Err(err).Msg("close redis client")
		}
	}
	r.Pool.Close()
}

// Policy is the retry policy shared by provider clients and the orchestrator.
func (r *Runtime) Policy() ratelimit.Policy {
	return ratelimit.Policy{
		Base:    r.Config.Sync.BackoffBase,
		Max:     r.Config.Sync.BackoffMax,
		MaxWait: r.Config.Sync.MaxRateLimitWait,
	}
}

// Cooldowns are shared through Redis when it is configured so every replica
// honours a provider's Retry-After.
func (r *Runtime) Cooldowns() ratelimit.CooldownStore {
	if r.redis == nil {
		return ratelimit.NewMemoryCooldown()
	}
	return ratelimit.NewRedisCooldown(r.redis, r.Config.Redis.KeyPrefix)
}

// OAuth runs both token grants against the configured provider endpoints.
func (r *Runtime) OAuth() *oauth.Refresher {
	endpoints := make(map[domain.Provider]oauth.Endpoint, len(domain.Providers()))
	for _, p := range domain.Providers() {
		pc := r.Config.Provider(p)
		endpoints[p] = oauth.Endpoint{
			AuthURL:      pc.AuthURL,
			TokenURL:     pc.TokenURL,
			ClientID:     pc.ClientID,
			ClientSecret: pc.ClientSecret,
			RedirectURL:  pc.RedirectURL,
			Scopes:       pc.Scopes,
		}
	}
	return oauth.NewRefresher(endpoints, &http.Client{Timeout: r.Config.Sync.RequestTimeout})
}

// Orchestrator builds the sync engine backed by Postgres.
func (r *Runtime) Orchestrator() (*syncer.Orchestrator, error) {
	ownership, err := r.Config.Ownership()
	if err != nil {
		return nil, err
	}
	agg, err := aggregate.New(r.Repo, r.Location)
	if err != nil {
		return nil, err
	}

	policy := r.Policy()
	httpClient := &http.Client{}
	clients := make([]provider.Client, 0, len(domain.Providers()))
	for _, p := range domain.Providers() {
		pc := r.Config.Provider(p)
		client, err := provider.New(p, provider.Options{
			BaseURL:        pc.BaseURL,
			PageSize:       pc.PageSize,
			HTTPClient:     httpClient,
			RequestTimeout: r.Config.Sync.RequestTimeout,
			Limiter:        ratelimit.NewLimiter(pc.RequestsPerSecond, pc.Burst),
			Policy:         policy,
			Location:       r.Location,
		})
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}

	return syncer.New(syncer.Deps{
		Credentials: r.Repo,
		Runs:        r.Repo,
		Refresher:   r.OAuth(),
		Merger:      agg,
		Clients:     clients,
		Cooldown:    r.Cooldowns(),
	}, syncer.Config{
		Ownership:     ownership,
		Location:      r.Location,
		BackfillDays:  r.Config.Sync.BackfillDays,
		RefreshMargin: r.Config.Sync.RefreshMargin,
		FetchBudget:   r.Config.Sync.FetchBudget,
		MergeTimeout:  r.Config.Sync.MergeTimeout,
		Policy:        policy,
	})
}

// Supervisor returns a tree with the metrics endpoint already attached.
func (r *Runtime) Supervisor(name string) *supervisor.Tree {
	tree := supervisor.New(name, supervisor.DefaultConfig())
	metrics := httptransport.NewServer(httptransport.ServerConfig{Address: r.Config.MetricsAddress}, promhttp.Handler())
	tree.AddWorker(httptransport.NewService(metrics, 10*time.Second))
	return tree
}
