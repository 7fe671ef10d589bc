package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/freelance-marketplace/backend/internal/app"
	"github.com/freelance-marketplace/backend/internal/config"
	"github.com/freelance-marketplace/backend/internal/db"
	apphttp "github.com/freelance-marketplace/backend/internal/http"
	"github.com/freelance-marketplace/backend/internal/http/handlers"
	"github.com/freelance-marketplace/backend/internal/services"
	"github.com/freelance-marketplace/backend/internal/storage"
	"github.com/gofiber/fiber/v2"
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

	// Run migrations
	if err := db.RunMigrations(ctx, a.Pool, db.Migrations, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Object storage
	objects, err := storage.NewMinioStore(ctx, storage.Options{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		Bucket:    cfg.MinIO.Bucket,
		UseSSL:    cfg.MinIO.UseSSL,
		PublicURL: cfg.MinIO.PublicURL,
	}, log)
	if err != nil {
		log.Fatal("failed to connect to object storage", zap.Error(err))
	}
	maxUpload := int64(cfg.MaxUploadMB) << 20
	uploads := services.NewUploadService(objects, maxUpload, log)

	// Handlers
	wsHub := handlers.NewWSHub(cfg, a.Subscriber, log)
	if err := wsHub.Start(ctx); err != nil {
		log.Fatal("failed to subscribe to events", zap.Error(err))
	}
	h := apphttp.Handlers{
		Project:   handlers.NewProjectHandler(a.ProjectSvc, a.Milestones, log),
		Milestone: handlers.NewMilestoneHandler(a.Milestones, log),
		Escrow:    handlers.NewEscrowHandler(a.Ledger, log),
		Dispute:   handlers.NewDisputeHandler(a.Disputes, log),
		Webhook:   handlers.NewWebhookHandler(a.Webhooks, log),
		Account:   handlers.NewAccountHandler(a.Accounts, log),
		Upload:    handlers.NewUploadHandler(uploads, log),
		Stats:     handlers.NewStatsHandler(a.Stats, log),
		WSHub:     wsHub,
	}

	// Fiber app
	srv := fiber.New(fiber.Config{
		BodyLimit: int(maxUpload) + 1<<20,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(srv, cfg, log, a.Redis, h)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = srv.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := srv.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
