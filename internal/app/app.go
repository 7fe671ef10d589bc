// Package app wires infrastructure and services from configuration. The API,
// the worker and escrowctl share it.
package app

import (
	"context"
	"fmt"

	"github.com/freelance-marketplace/backend/internal/config"
	"github.com/freelance-marketplace/backend/internal/db"
	"github.com/freelance-marketplace/backend/internal/dedup"
	"github.com/freelance-marketplace/backend/internal/events"
	"github.com/freelance-marketplace/backend/internal/payments"
	"github.com/freelance-marketplace/backend/internal/repositories"
	"github.com/freelance-marketplace/backend/internal/services"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type App struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client

	Publisher  events.Publisher
	Subscriber events.Subscriber

	Projects   *repositories.ProjectRepo
	Tasks      *repositories.ReconcileRepo
	Ledger     *services.Ledger
	ProjectSvc *services.ProjectService
	Milestones *services.MilestoneService
	Disputes   *services.DisputeService
	Accounts   *services.AccountService
	Webhooks   *services.WebhookService
	Stats      *services.StatsService
	Reconciler *services.Reconciler

	closers []func()
}

// New connects to Postgres, Redis and the configured event backend and builds
// every service. Call Close when done.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{}

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		return nil, err
	}
	a.Pool = pool
	a.closers = append(a.closers, pool.Close)

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Redis = rdb
	a.closers = append(a.closers, func() { _ = rdb.Close() })

	if err := a.setupEvents(cfg, log); err != nil {
		a.Close()
		return nil, err
	}

	// Repositories
	a.Projects = repositories.NewProjectRepo(pool)
	a.Tasks = repositories.NewReconcileRepo(pool)
	accountRepo := repositories.NewAccountRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	statsRepo := repositories.NewStatsRepo(pool)

	// Services
	gateway := payments.NewInstrumented(payments.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, log))
	a.Ledger = services.NewLedger(a.Projects, accountRepo, a.Tasks, gateway, auditRepo, a.Publisher,
		services.LedgerConfig{Currency: cfg.PaymentCurrency, PayoutMethod: cfg.PayoutMethod}, log)
	a.ProjectSvc = services.NewProjectService(a.Projects, a.Ledger, auditRepo, a.Publisher, log)
	a.Milestones = services.NewMilestoneService(a.Projects, auditRepo, a.Publisher, log)
	a.Disputes = services.NewDisputeService(a.Projects, a.Ledger, auditRepo, a.Publisher, log)
	a.Accounts = services.NewAccountService(accountRepo, log)
	a.Webhooks = services.NewWebhookService(gateway, a.Ledger, a.Accounts,
		dedup.NewRedisDeduper(rdb, cfg.WebhookDedupTTL(), log), log)
	a.Stats = services.NewStatsService(statsRepo)
	a.Reconciler = services.NewReconciler(a.Projects, a.Tasks, a.Ledger, cfg.ReconcileMaxAttempts, log)

	return a, nil
}

func (a *App) setupEvents(cfg *config.Config, log *zap.Logger) error {
	switch cfg.EventsBackend {
	case "amqp":
		pub, err := events.NewAMQPPublisher(cfg.AMQPURL, log)
		if err != nil {
			return fmt.Errorf("amqp publisher: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		sub, err := events.NewAMQPSubscriber(cfg.AMQPURL, log)
		if err != nil {
			return fmt.Errorf("amqp subscriber: %w", err)
		}
		a.closers = append(a.closers, sub.Close)
		a.Publisher, a.Subscriber = pub, sub
	default:
		a.Publisher = events.NewRedisPublisher(a.Redis, log)
		a.Subscriber = events.NewRedisSubscriber(a.Redis, log)
	}
	log.Info("event backend ready", zap.String("backend", cfg.EventsBackend))
	return nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
