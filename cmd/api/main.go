// API entrypoint: loads configuration, initializes dependencies and starts the
// HTTP server.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairvote/fairvote/internal/app/httpapi"
	"github.com/fairvote/fairvote/internal/app/voting"
	"github.com/fairvote/fairvote/internal/domain"
	"github.com/fairvote/fairvote/internal/platform/auth"
	"github.com/fairvote/fairvote/internal/platform/clock"
	"github.com/fairvote/fairvote/internal/platform/config"
	"github.com/fairvote/fairvote/internal/platform/health"
	"github.com/fairvote/fairvote/internal/platform/ids"
	"github.com/fairvote/fairvote/internal/platform/logger"
	"github.com/fairvote/fairvote/internal/platform/migrations"
	"github.com/fairvote/fairvote/internal/platform/ratelimit"
	postgresstorage "github.com/fairvote/fairvote/internal/platform/storage/postgres"
	redisstorage "github.com/fairvote/fairvote/internal/platform/storage/redis"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", "err", err)
	}

	// One shared connection pool for the whole lifecycle, also used for readiness.
	db, err := postgresstorage.Open(ctx, cfg.PostgresDSN())
	if err != nil {
		logger.Fatal("postgres connection failed", "err", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("failed to obtain sql.DB", "err", err)
	}
	defer sqlDB.Close()

	if cfg.AutoMigrate {
		// Automatic migrations only when enabled, to avoid surprises in production.
		if err := migrations.Run(db); err != nil {
			logger.Fatal("automatic migration failed", "err", err)
		}
	}

	// Redis backs sessions, the results cache and the vote throttle.
	redisClient, err := redisstorage.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatal("redis connection failed", "err", err)
	}
	defer redisClient.Close()

	elections := postgresstorage.NewElectionRepository(db)
	ballots := postgresstorage.NewBallotRepository(db)
	tallies := postgresstorage.NewTallyRepository(db)
	box := postgresstorage.NewBallotBox(db)
	cache := redisstorage.NewResultsCache(redisClient, cfg.ResultsCachePrefix, cfg.ResultsCacheTTL)
	clockSystem := clock.NewSystemClock()
	idGen := ids.NewGenerator()
	sessions := auth.NewSessions(redisClient, cfg.SessionKeyPrefix, cfg.SessionTTL, idGen)

	var throttle domain.Throttle = ratelimit.NewNoop()
	if cfg.RateLimitEnabled {
		window := time.Duration(cfg.RateLimitWindowSeconds) * time.Second
		throttle = ratelimit.NewRedisLimiter(redisClient, cfg.RateLimitMaxActions, window, cfg.RateLimitKeyPrefix)
	}

	service := voting.NewService(
		elections,
		ballots,
		tallies,
		box,
		cache,
		throttle,
		clockSystem,
		idGen,
	)

	mux := http.NewServeMux()
	checker := health.NewChecker(sqlDB, redisClient)

	// HTTP exposes the API, health checks and Prometheus metrics.
	api := httpapi.New(service, sessions, logger.L())
	api.Register(mux)
	mux.HandleFunc("/readyz", checker.ReadyHandler())
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info("api listening", "addr", cfg.HTTPAddress)
	if err := http.ListenAndServe(cfg.HTTPAddress, mux); err != nil {
		logger.Fatal("server error", "err", err)
	}
}
