package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chipline/sportsbook/internal/infra"
	"github.com/chipline/sportsbook/internal/repository"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("outbox relay failed", "error", err)
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

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("outbox-relay connected to postgres")

	producer := infra.NewKafkaProducer(cfg.KafkaBrokerList(), cfg.KafkaEnabled, logger)
	defer producer.Close()

	metrics := infra.NewMetrics()
	metricsSrv := infra.StartMetricsServer(cfg.MetricsPort, metrics, func(ctx context.Context) error {
		return infra.HealthCheck(ctx, pool)
	})
	defer metricsSrv.Close()

	source := repository.NewOutboxSource(pool, repository.NewOutboxRepository())
	poller := infra.NewOutboxPoller(source, producer, cfg.KafkaTopicPrefix, metrics, logger,
		infra.WithPollInterval(cfg.OutboxPollInterval),
		infra.WithBatchSize(cfg.OutboxBatchSize),
	)

	poller.Run(ctx)
	logger.Info("outbox-relay shutting down")
	return nil
}
