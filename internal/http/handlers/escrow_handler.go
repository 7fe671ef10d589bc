package handlers

import (
	"github.com/freelance-marketplace/backend/internal/http/dto"
	"github.com/freelance-marketplace/backend/internal/middleware"
	"github.com/freelance-marketplace/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type EscrowHandler struct {
	ledger *services.Ledger
	log    *zap.Logger
}

func NewEscrowHandler(ledger *services.Ledger, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{ledger: ledger, log: log}
}

// GetEscrow returns the escrow of a project with its per-milestone funds.
func (h *EscrowHandler) GetEscrow(c *fiber.Ctx) error {
	projectID, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid project id")
	}
	view, err := h.ledger.GetEscrow(c.Context(), middleware.GetPrincipal(c), projectID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return ok(c, view)
}

func (h *EscrowHandler) ReleaseMilestone(c *fiber.Ctx) error {
	escrowID, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid escrow id")
	}
	milestoneID, valid := paramID(c, "milestoneId")
	if !valid {
		return badRequest(c, "invalid milestone id")
	}
	view, err := h.ledger.ReleaseMilestone(c.Context(), middleware.GetPrincipal(c), escrowID, milestoneID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return ok(c, view)
}

func (h *EscrowHandler) RefundEscrow(c *fiber.Ctx) error {
	escrowID, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid escrow id")
	}
	var req dto.ReasonRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	view, err := h.ledger.RefundEscrow(c.Context(), middleware.GetPrincipal(c), escrowID, req.Reason)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return ok(c, view)
}
