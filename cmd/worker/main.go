package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chipline/sportsbook/internal/app"
	"github.com/chipline/sportsbook/internal/guard"
	"github.com/chipline/sportsbook/internal/infra"
	"github.com/chipline/sportsbook/internal/oddssync"
	"github.com/chipline/sportsbook/internal/provider"
	"github.com/chipline/sportsbook/internal/worker"
	"github.com/hibiken/asynq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("worker connected to postgres")

	metrics := infra.NewMetrics()
	repos := app.PostgresRepositories()
	settler, _ := app.NewSettlementEngine(pool, repos, metrics, logger)

	queue, err := worker.NewQueue(cfg.RedisURL, logger)
	if err != nil {
		return err
	}
	defer queue.Close()

	breaker := guard.NewCircuitBreaker(5, 30*time.Second)
	feed := provider.NewOddsAPIClient(cfg.OddsAPIBaseURL, cfg.OddsAPIKey, breaker, logger)
	syncer := oddssync.NewSyncer(feed, pool, repos.Events, queue, cfg.OddsAPISports, logger)

	redisOpt, serverCfg, err := worker.ServerConfig(cfg.RedisURL, cfg.WorkerConcurrency, logger)
	if err != nil {
		return err
	}
	srv := asynq.NewServer(redisOpt, serverCfg)
	mux := asynq.NewServeMux()
	worker.NewProcessor(settler, syncer, logger).Register(mux)

	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	defer srv.Shutdown()

	if cfg.OddsAPIKey != "" {
		sched, err := worker.NewScheduler(cfg.OddsSyncSchedule, queue, logger)
		if err != nil {
			return err
		}
		sched.Start()
		defer func() { <-sched.Stop().Done() }()
		logger.Info("odds sync scheduled", "schedule", cfg.OddsSyncSchedule, "sports", cfg.OddsAPISports)
	} else {
		logger.Warn("ODDS_API_KEY not set, odds sync disabled")
	}

	metricsSrv := infra.StartMetricsServer(cfg.MetricsPort, metrics, func(ctx context.Context) error {
		return infra.HealthCheck(ctx, pool)
	})
	logger.Info("worker started", "concurrency", cfg.WorkerConcurrency, "metrics_port", cfg.MetricsPort)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	logger.Info("worker stopped")
	return nil
}
