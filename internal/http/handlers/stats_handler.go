package handlers

import (
	"github.com/freelance-marketplace/backend/internal/middleware"
	"github.com/freelance-marketplace/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type StatsHandler struct {
	statsService *services.StatsService
	log          *zap.Logger
}

func NewStatsHandler(statsService *services.StatsService, log *zap.Logger) *StatsHandler {
	return &StatsHandler{statsService: statsService, log: log}
}

func (h *StatsHandler) PaymentStats(c *fiber.Ctx) error {
	stats, err := h.statsService.PaymentStats(c.Context(), middleware.GetPrincipal(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return ok(c, stats)
}
