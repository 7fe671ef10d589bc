package handlers

import (
	"errors"

	"github.com/freelance-marketplace/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type WebhookHandler struct {
	webhookService *services.WebhookService
	log            *zap.Logger
}

func NewWebhookHandler(webhookService *services.WebhookService, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{webhookService: webhookService, log: log}
}

// Payments receives processor notifications. A 2xx acknowledges the event;
// anything else makes the processor deliver it again.
func (h *WebhookHandler) Payments(c *fiber.Ctx) error {
	// fasthttp reuses the body buffer after the handler returns
	payload := append([]byte(nil), c.Body()...)
	sig := c.Get("Stripe-Signature")

	err := h.webhookService.Handle(c.Context(), payload, sig)
	if errors.Is(err, services.ErrInvalidWebhook) {
		return badRequest(c, "invalid webhook signature")
	}
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(fiber.Map{"received": true})
}
