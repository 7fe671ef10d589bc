package http

import (
	"time"

	"github.com/freelance-marketplace/backend/internal/config"
	"github.com/freelance-marketplace/backend/internal/http/handlers"
	"github.com/freelance-marketplace/backend/internal/middleware"
	"github.com/freelance-marketplace/backend/internal/models"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Handlers struct {
	Project   *handlers.ProjectHandler
	Milestone *handlers.MilestoneHandler
	Escrow    *handlers.EscrowHandler
	Dispute   *handlers.DisputeHandler
	Webhook   *handlers.WebhookHandler
	Account   *handlers.AccountHandler
	Upload    *handlers.UploadHandler
	Stats     *handlers.StatsHandler
	WSHub     *handlers.WSHub
}

func SetupRouter(app *fiber.App, cfg *config.Config, log *zap.Logger, rdb *redis.Client, h Handlers) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")

	// Processor notifications (signature-verified, no bearer token)
	api.Post("/webhooks/payments", h.Webhook.Payments)

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))
	protected.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute))

	employer := middleware.RequireRole(models.RoleEmployer)
	freelancer := middleware.RequireRole(models.RoleFreelancer)
	admin := middleware.RequireRole(models.RoleAdmin)

	// User
	protected.Get("/me", h.Account.GetMe)
	protected.Get("/me/payout-account", freelancer, h.Account.GetPayoutAccount)
	protected.Put("/me/payout-account", freelancer, h.Account.ConnectPayoutAccount)

	// Uploads
	protected.Post("/uploads", h.Upload.Upload)

	// Projects
	protected.Post("/projects", employer, h.Project.CreateProject)
	protected.Get("/projects", h.Project.ListProjects)
	protected.Get("/projects/:id", h.Project.GetProject)
	protected.Get("/projects/:id/events", h.Project.GetProjectEvents)
	protected.Post("/projects/:id/milestones", employer, h.Project.AddMilestone)
	protected.Post("/projects/:id/applications", freelancer, h.Project.Apply)
	protected.Post("/projects/:id/applications/:applicationId/approve", employer, h.Project.ApproveApplication)
	protected.Post("/projects/:id/reject", employer, h.Project.RejectProject)
	protected.Post("/projects/:id/cancel", h.Project.CancelProject)

	// Milestones
	protected.Post("/milestones/:id/submit", freelancer, h.Milestone.Submit)
	protected.Post("/milestones/:id/approve", employer, h.Milestone.Approve)
	protected.Post("/milestones/:id/reject", employer, h.Milestone.Reject)

	// Escrow
	protected.Get("/projects/:id/escrow", h.Escrow.GetEscrow)
	protected.Post("/escrows/:id/milestones/:milestoneId/release", h.Escrow.ReleaseMilestone)
	protected.Post("/escrows/:id/refund", admin, h.Escrow.RefundEscrow)

	// Disputes
	protected.Post("/projects/:id/disputes", h.Dispute.Raise)
	protected.Post("/projects/:id/disputes/resolve", admin, h.Dispute.Resolve)
	protected.Get("/disputes", admin, h.Dispute.List)
	protected.Get("/disputes/:id", h.Dispute.Get)
	protected.Post("/disputes/:id/messages", h.Dispute.AddMessage)
	protected.Post("/disputes/:id/review", admin, h.Dispute.MarkInReview)
	protected.Post("/disputes/:id/dismiss", admin, h.Dispute.Dismiss)

	// Admin
	protected.Get("/admin/stats/payments", admin, h.Stats.PaymentStats)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(h.WSHub.HandleWS))
}
