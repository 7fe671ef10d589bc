package handlers

import (
	"github.com/freelance-marketplace/backend/internal/http/dto"
	"github.com/freelance-marketplace/backend/internal/middleware"
	"github.com/freelance-marketplace/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type AccountHandler struct {
	accountService *services.AccountService
	log            *zap.Logger
}

func NewAccountHandler(accountService *services.AccountService, log *zap.Logger) *AccountHandler {
	return &AccountHandler{accountService: accountService, log: log}
}

func (h *AccountHandler) GetMe(c *fiber.Ctx) error {
	return ok(c, middleware.GetPrincipal(c))
}

func (h *AccountHandler) GetPayoutAccount(c *fiber.Ctx) error {
	acct, err := h.accountService.Get(c.Context(), middleware.GetPrincipal(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return ok(c, acct)
}

func (h *AccountHandler) ConnectPayoutAccount(c *fiber.Ctx) error {
	var req dto.ConnectAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	acct, err := h.accountService.Connect(c.Context(), middleware.GetPrincipal(c), req.AccountRef)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return ok(c, acct)
}
