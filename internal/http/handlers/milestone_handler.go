package handlers

import (
	"github.com/freelance-marketplace/backend/internal/http/dto"
	"github.com/freelance-marketplace/backend/internal/middleware"
	"github.com/freelance-marketplace/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type MilestoneHandler struct {
	milestoneService *services.MilestoneService
	log              *zap.Logger
}

func NewMilestoneHandler(milestoneService *services.MilestoneService, log *zap.Logger) *MilestoneHandler {
	return &MilestoneHandler{milestoneService: milestoneService, log: log}
}

func (h *MilestoneHandler) Submit(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid milestone id")
	}
	var req dto.SubmitMilestoneRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	m, err := h.milestoneService.Submit(c.Context(), middleware.GetPrincipal(c), id, services.SubmissionInput{
		Description: req.Description,
		Attachments: req.Attachments,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return ok(c, m)
}

func (h *MilestoneHandler) Approve(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid milestone id")
	}
	var req dto.ApproveMilestoneRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
	}
	m, err := h.milestoneService.Approve(c.Context(), middleware.GetPrincipal(c), id, req.Comment)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return ok(c, m)
}

func (h *MilestoneHandler) Reject(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid milestone id")
	}
	var req dto.ReasonRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	m, err := h.milestoneService.Reject(c.Context(), middleware.GetPrincipal(c), id, req.Reason)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return ok(c, m)
}
