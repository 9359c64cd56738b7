package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/daostar/grants-aggregator/internal/breaker"
	"github.com/daostar/grants-aggregator/internal/cache"
	"github.com/daostar/grants-aggregator/internal/config"
	"github.com/daostar/grants-aggregator/internal/enrich"
	"github.com/daostar/grants-aggregator/internal/grants"
	"github.com/daostar/grants-aggregator/internal/grants/sources"
	"github.com/daostar/grants-aggregator/internal/handler"
	"github.com/daostar/grants-aggregator/internal/middleware"
	"github.com/daostar/grants-aggregator/internal/price"
	"github.com/daostar/grants-aggregator/internal/store"
)

const healthTTL = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage backs the API-key and request-log surface only; the adapter
	// endpoints work without it, so a missing database degrades rather
	// than aborts.
	var db *store.Store
	if cfg.DatabaseURL != "" {
		var err error
		db, err = store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("database unavailable, running without storage", "error", err)
			db = nil
		} else if err := db.Migrate(ctx); err != nil {
			logger.Error("migrations failed, running without storage", "error", err)
			db.Close()
			db = nil
		} else {
			defer db.Close()
			logger.Info("database connected and migrated")
		}
	} else {
		logger.Warn("DATABASE_URL not set, API-key auth and request logging disabled")
	}

	// Redis backs the rate limiter; without it the limiter is disabled.
	rdb := connectRedis(ctx, cfg, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	c := cache.New(logger)
	prices := price.NewConverter(cfg.CoinGeckoBaseURL, cfg.CoinGeckoAPIKey, c, logger)
	enricher := enrich.NewClient(cfg.KarmaBaseURL, breaker.New(5, time.Minute), c, logger)

	reg := grants.NewRegistry()
	reg.Register(sources.NewOctant(cfg.OctantBaseURL, c, prices, cfg.OctantKnownGoodEpochs, logger))
	reg.Register(sources.NewGiveth(cfg.GivethBaseURL, c, logger))
	reg.Register(sources.NewDAOIP5(cfg.DAOIP5BaseURL, "stellar", c, logger))

	agg := grants.NewAggregator(reg, enricher, logger)

	var pinger grants.Pinger
	if db != nil {
		pinger = db
	}
	monitor := grants.NewHealthMonitor(reg, pinger, logger, healthTTL)

	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.FrontendOrigin))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", handler.Health())
	r.Get("/readyz", handler.Ready(db))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(rdb, cfg.RateLimitPerMinute, logger))
		if db != nil {
			r.Use(middleware.APIKeyAuth(db, cfg.RequireAPIKey, logger))
			r.Use(middleware.StoreRequests(db, logger))
		}

		r.Get("/systems", handler.ListSystems(agg))
		r.Get("/systems/{id}", handler.GetSystem(agg))
		r.Get("/pools", handler.ListPools(agg))
		r.Get("/pools/{id}", handler.GetPool(agg))
		r.Get("/applications", handler.ListApplications(agg))
		r.Get("/applications/{id}", handler.GetApplication(agg))

		r.Get("/health", handler.SystemHealth(monitor))
		r.Get("/health-quick", handler.QuickHealth(monitor))
		r.Get("/health/{adapter}", handler.AdapterHealth(monitor))

		if db != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.AdminAuth(cfg.AdminToken))
				r.Post("/keys", handler.CreateAPIKey(db))
				r.Get("/keys", handler.ListAPIKeys(db))
				r.Delete("/keys/{id}", handler.RevokeAPIKey(db))
				r.Get("/stats", handler.UsageStats(db))
			})
		}
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "sources", reg.Names())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gracefully")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

func connectRedis(ctx context.Context, cfg config.Config, logger *slog.Logger) *redis.Client {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("invalid REDIS_URL, rate limiting disabled", "error", err)
		return nil
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}

	rdb := redis.NewClient(opts)
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, rate limiting disabled", "error", err)
		rdb.Close()
		return nil
	}
	logger.Info("redis connected for rate limiting")
	return rdb
}
