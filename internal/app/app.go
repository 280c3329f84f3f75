// Package app assembles the store, gateway and services from configuration.
// It is shared by the HTTP server and the operator CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/adamstosho/GroChain-sub000/internal/commission"
	"github.com/adamstosho/GroChain-sub000/internal/config"
	"github.com/adamstosho/GroChain-sub000/internal/credit"
	"github.com/adamstosho/GroChain-sub000/internal/fees"
	"github.com/adamstosho/GroChain-sub000/internal/gateway"
	"github.com/adamstosho/GroChain-sub000/internal/settlement"
	"github.com/adamstosho/GroChain-sub000/internal/store"
	"github.com/adamstosho/GroChain-sub000/internal/tier"
)

// App holds the assembled components.
type App struct {
	Store       store.Store
	Postgres    *store.PostgresStore // nil when running in memory
	Gateway     gateway.Adapter
	Fees        *fees.Schedule
	Engine      *settlement.Engine
	Commissions *commission.Service
	Credit      *credit.Updater

	cleanup []func()
}

// Open connects the store and builds the services. Publisher may be nil.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, publisher settlement.Publisher) (*App, error) {
	a := &App{}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		a.cleanup = append(a.cleanup, pool.Close)
		a.Postgres = store.NewPostgresStore(pool)
		a.Store = a.Postgres
		logger.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				a.Close()
				return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
			}
			rdb := redis.NewClient(opt)
			a.cleanup = append(a.cleanup, func() { rdb.Close() })
			a.Store = store.NewCachedStore(a.Store, rdb, cfg.CacheTTL)
			logger.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		a.Store = store.NewMemoryStore()
	}

	if cfg.GatewayBaseURL != "" && cfg.GatewaySecretKey != "" {
		a.Gateway = gateway.NewHTTPClient(cfg.GatewayBaseURL, cfg.GatewaySecretKey, cfg.GatewayCallbackURL, cfg.GatewayTimeout)
	} else {
		logger.Warn("payment gateway not configured, using stub gateway")
		a.Gateway = gateway.NewStub()
	}

	schedule, err := fees.NewSchedule(cfg.PlatformFeeRate, cfg.DefaultCommissionRate, nil)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Fees = schedule
	a.Credit = credit.NewUpdater(a.Store, logger)

	opts := []settlement.Option{
		settlement.WithLogger(logger),
		settlement.WithCurrency(cfg.Currency),
		settlement.WithCommissionDueDays(cfg.CommissionDueDays),
	}
	if publisher != nil {
		opts = append(opts, settlement.WithPublisher(publisher))
	}
	if cfg.AsyncCredit {
		opts = append(opts, settlement.WithAsyncCredit(cfg.CreditTimeout))
	}
	a.Engine = settlement.NewEngine(a.Store, a.Gateway, tier.NewResolver(cfg.DefaultCommissionRate), schedule, a.Credit, opts...)

	// commission.Publisher and settlement.Publisher have the same method set.
	var cp commission.Publisher
	if publisher != nil {
		cp = publisher
	}
	a.Commissions = commission.NewService(a.Store, schedule, cp, logger)
	return a, nil
}

// Close drains background work and releases connections.
func (a *App) Close() {
	if a.Engine != nil {
		a.Engine.Wait()
	}
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
}
