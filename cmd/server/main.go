package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/adamstosho/GroChain-sub000/internal/api"
	"github.com/adamstosho/GroChain-sub000/internal/app"
	"github.com/adamstosho/GroChain-sub000/internal/auth"
	"github.com/adamstosho/GroChain-sub000/internal/config"
	"github.com/adamstosho/GroChain-sub000/internal/metrics"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET is required")
		os.Exit(1)
	}
	issuer, err := auth.NewIssuer(cfg.JWTSecret, "grochain", 24*time.Hour)
	if err != nil {
		slog.Error("auth setup failed", "err", err)
		os.Exit(1)
	}
	if cfg.WebhookSecret == "" {
		slog.Warn("WEBHOOK_SECRET not set, verify callbacks are not signature-checked")
	}

	// --- Ledger feed ---
	feedCtx, stopFeed := context.WithCancel(context.Background())
	defer stopFeed()
	feed := api.NewLedgerFeed(logger)
	go feed.Run(feedCtx)

	// --- Store and services ---
	a, err := app.Open(context.Background(), cfg, logger, feed)
	if err != nil {
		slog.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	if a.Postgres != nil {
		if err := a.Postgres.Migrate(context.Background()); err != nil {
			slog.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
	}

	srv := api.NewServer(api.Config{
		Engine:        a.Engine,
		Commissions:   a.Commissions,
		Credit:        a.Credit,
		Store:         a.Store,
		Issuer:        issuer,
		Feed:          feed,
		Limiter:       api.NewIPRateLimiter(cfg.VerifyRatePerSec, cfg.VerifyBurst),
		WebhookSecret: cfg.WebhookSecret,
		Logger:        logger,
	})

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+api.SignatureHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"grochain-settlement"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Mount("/api/v1", srv.Routes())

	// --- Server ---
	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("grochain settlement listening", "port", cfg.Port, "gateway", a.Gateway.Name())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("shutting down grochain settlement...")
	if err := httpSrv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	stopFeed()
	fmt.Println("grochain settlement stopped")
}
