package handlers

import (
	"github.com/freelance-marketplace/backend/internal/http/dto"
	"github.com/freelance-marketplace/backend/internal/middleware"
	"github.com/freelance-marketplace/backend/internal/models"
	"github.com/freelance-marketplace/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type DisputeHandler struct {
	disputeService *services.DisputeService
	log            *zap.Logger
}

func NewDisputeHandler(disputeService *services.DisputeService, log *zap.Logger) *DisputeHandler {
	return &DisputeHandler{disputeService: disputeService, log: log}
}

func (h *DisputeHandler) Raise(c *fiber.Ctx) error {
	projectID, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid project id")
	}
	var req dto.RaiseDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	milestoneID, valid := parseOptionalID(req.MilestoneID)
	if !valid {
		return badRequest(c, "invalid milestone_id")
	}

	d, err := h.disputeService.Raise(c.Context(), middleware.GetPrincipal(c), projectID, services.RaiseDisputeInput{
		Type:        req.Type,
		Description: req.Description,
		Evidence:    req.Evidence,
		MilestoneID: milestoneID,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return created(c, d)
}

func (h *DisputeHandler) Resolve(c *fiber.Ctx) error {
	projectID, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid project id")
	}
	var req dto.ResolveDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	d, err := h.disputeService.Resolve(c.Context(), middleware.GetPrincipal(c), projectID, services.ResolveInput{
		Decision:     req.Decision,
		RefundAmount: req.RefundAmount,
		Notes:        req.Notes,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return ok(c, d)
}

func (h *DisputeHandler) Get(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid dispute id")
	}
	d, err := h.disputeService.Get(c.Context(), middleware.GetPrincipal(c), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return ok(c, d)
}

func (h *DisputeHandler) List(c *fiber.Ctx) error {
	limit, offset := paging(c)
	projectID, valid := parseOptionalID(optionalQuery(c, "project_id"))
	if !valid {
		return badRequest(c, "invalid project_id")
	}
	disputes, err := h.disputeService.List(c.Context(), services.DisputeFilter{
		Status:    optionalQuery(c, "status"),
		ProjectID: projectID,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	if disputes == nil {
		disputes = []models.Dispute{}
	}
	return ok(c, disputes)
}

func (h *DisputeHandler) AddMessage(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid dispute id")
	}
	var req dto.DisputeMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	msg, err := h.disputeService.AddMessage(c.Context(), middleware.GetPrincipal(c), id, req.Content, req.Attachments)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return created(c, msg)
}

func (h *DisputeHandler) MarkInReview(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid dispute id")
	}
	d, err := h.disputeService.MarkInReview(c.Context(), middleware.GetPrincipal(c), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return ok(c, d)
}

func (h *DisputeHandler) Dismiss(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid dispute id")
	}
	var req dto.DismissDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	d, err := h.disputeService.Dismiss(c.Context(), middleware.GetPrincipal(c), id, req.Notes)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return ok(c, d)
}
