package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/teeline/settlement/internal/infra"
	"github.com/teeline/settlement/internal/repository"
)

func main() {
	if err := run(); err != nil {
		slog.Error("outbox relay failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if cfg.StoreDriver != infra.StorePostgres {
		return fmt.Errorf("outbox relay needs STORE_DRIVER=%s", infra.StorePostgres)
	}

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("outbox-relay connected to postgres")

	var sinks []infra.Publisher

	producer := infra.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEnabled, logger)
	defer producer.Close()
	if cfg.KafkaEnabled {
		sinks = append(sinks, producer)
	}

	if cfg.RedisEnabled {
		client, err := infra.NewRedisClient(ctx, cfg.RedisURL, logger)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		sinks = append(sinks, infra.NewRedisStreamPublisher(client))
	}

	if len(sinks) == 0 {
		return fmt.Errorf("no relay sinks enabled; set KAFKA_ENABLED or REDIS_ENABLED")
	}

	store := repository.NewPgStore(pool)
	relay := infra.NewOutboxRelay(store.Outbox(), sinks, cfg.OutboxTopicPrefix,
		cfg.OutboxPollInterval, cfg.OutboxBatchSize, logger)
	relay.Run(ctx)
	return nil
}
