package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/freelance-marketplace/backend/internal/app"
	"github.com/freelance-marketplace/backend/internal/config"
	"github.com/freelance-marketplace/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize", zap.Error(err))
	}
	defer a.Close()

	// Metrics and health for the worker process
	srv := fiber.New(fiber.Config{DisableStartupMessage: true})
	srv.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })
	srv.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	go func() {
		if err := srv.Listen(fmt.Sprintf(":%s", cfg.WorkerPort)); err != nil {
			log.Error("worker metrics server stopped", zap.Error(err))
		}
	}()
	defer srv.Shutdown()

	log.Info("worker started",
		zap.Duration("reconcile_interval", cfg.ReconcileInterval()),
		zap.Duration("escrow_retry_interval", cfg.EscrowRetryInterval()),
	)

	reconcileTicker := time.NewTicker(cfg.ReconcileInterval())
	escrowTicker := time.NewTicker(cfg.EscrowRetryInterval())
	defer reconcileTicker.Stop()
	defer escrowTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-reconcileTicker.C:
			runReconcile(ctx, a.Reconciler, cfg.ReconcileBatchSize, log)
		case <-escrowTicker.C:
			runEscrowRetry(ctx, a.Reconciler, cfg.ReconcileBatchSize, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func runReconcile(ctx context.Context, r *services.Reconciler, batch int, log *zap.Logger) {
	n, err := r.RunOnce(ctx, batch)
	if err != nil {
		log.Error("reconcile pass failed", zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("reconciled tasks", zap.Int("count", n))
	}
}

func runEscrowRetry(ctx context.Context, r *services.Reconciler, batch int, log *zap.Logger) {
	n, err := r.RetryEscrowCreation(ctx, batch)
	if err != nil {
		log.Error("escrow retry pass failed", zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("escrows created on retry", zap.Int("count", n))
	}
}
