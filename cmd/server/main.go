package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lucashsu95/redis-seckill/internal/admission"
	"github.com/lucashsu95/redis-seckill/internal/catalog"
	"github.com/lucashsu95/redis-seckill/internal/config"
	"github.com/lucashsu95/redis-seckill/internal/handler"
	"github.com/lucashsu95/redis-seckill/internal/middleware"
	"github.com/lucashsu95/redis-seckill/internal/orders"
	"github.com/lucashsu95/redis-seckill/internal/settlement"
	"github.com/lucashsu95/redis-seckill/internal/store"
	"github.com/lucashsu95/redis-seckill/internal/telemetry"
	"github.com/lucashsu95/redis-seckill/internal/verify"
)

func main() {
	cfg := config.Load()
	if err := cfg.ValidateWorker(); err != nil {
		// The server hosts the drain endpoint, so it is a stream
		// consumer and needs an assigned identity like any worker.
		log.Fatalf("invalid configuration: %v", err)
	}

	telemetry.InitLogger("seckill-server")
	logger := telemetry.Logger

	shutdownTracer, err := telemetry.InitTracer("seckill-server")
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

	// --- Core components ---

	controller := admission.NewController(client, admission.Options{
		CooldownTTL:    cfg.Admission.CooldownTTL,
		AttemptTimeout: cfg.Admission.AttemptTimeout,
		Retries:        cfg.Admission.Retries,
	}, logger)

	worker, err := settlement.NewWorker(client, settlement.Options{
		Consumer:     cfg.Worker.ID,
		BatchSize:    cfg.Worker.BatchSize,
		PollInterval: cfg.Worker.PollInterval,
		ClaimMinIdle: cfg.Worker.ClaimMinIdle,
	}, logger)
	if err != nil {
		log.Fatalf("failed to create settlement worker: %v", err)
	}

	verifier := verify.NewVerifier(client)
	catalogSvc := catalog.NewService(client)
	ordersRepo := orders.NewRepository(client)

	// --- HTTP server ---

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.PrometheusMiddleware())

	h := handler.NewHandler(controller, worker, verifier, catalogSvc, ordersRepo, cfg.Server.DrainToken)
	h.RegisterRoutes(r)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Server.Port),
		Handler: r,
	}

	go func() {
		logger.Info("http server listening", slog.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}
}
