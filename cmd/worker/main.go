package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/lucashsu95/redis-seckill/internal/config"
	"github.com/lucashsu95/redis-seckill/internal/settlement"
	"github.com/lucashsu95/redis-seckill/internal/store"
	"github.com/lucashsu95/redis-seckill/internal/telemetry"
)

func main() {
	cfg := config.Load()
	if err := cfg.ValidateWorker(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	telemetry.InitLogger("seckill-worker")
	logger := telemetry.Logger

	shutdownTracer, err := telemetry.InitTracer("seckill-worker")
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer shutdownTracer()

	client := store.NewClient(store.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Ping(ctx, client, 10, 3*time.Second); err != nil {
		log.Fatalf("redis not available: %v", err)
	}
	logger.Info("connected to redis", slog.String("addr", cfg.Redis.Addr))

	worker, err := settlement.NewWorker(client, settlement.Options{
		Consumer:     cfg.Worker.ID,
		BatchSize:    cfg.Worker.BatchSize,
		PollInterval: cfg.Worker.PollInterval,
		ClaimMinIdle: cfg.Worker.ClaimMinIdle,
	}, logger)
	if err != nil {
		log.Fatalf("failed to create settlement worker: %v", err)
	}

	// Blocks until SIGINT/SIGTERM. Admitted-but-unsettled entries stay
	// durably queued across restarts.
	worker.Run(ctx)
}
