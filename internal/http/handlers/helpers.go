package handlers

import (
	"strconv"

	"github.com/freelance-marketplace/backend/internal/apperrors"
	"github.com/freelance-marketplace/backend/internal/http/dto"
	"github.com/freelance-marketplace/backend/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// statusFor maps an error kind to the HTTP status returned to the caller.
func statusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindNotFound:
		return fiber.StatusNotFound
	case apperrors.KindAuthorization:
		return fiber.StatusForbidden
	case apperrors.KindState:
		return fiber.StatusConflict
	case apperrors.KindValidation:
		return fiber.StatusBadRequest
	case apperrors.KindExternalService:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func writeError(c *fiber.Ctx, log *zap.Logger, err error) error {
	kind := apperrors.KindOf(err)
	status := statusFor(kind)
	reqID := middleware.GetRequestID(c)

	msg := err.Error()
	switch kind {
	case apperrors.KindUnknown:
		log.Error("unhandled error", zap.String("request_id", reqID), zap.String("path", c.Path()), zap.Error(err))
		msg = "internal error"
	case apperrors.KindConsistency:
		// already logged with reconcile priority by the ledger
		msg = "payment recorded at the processor but not locally; it will be reconciled"
	case apperrors.KindExternalService:
		log.Warn("payment processor error", zap.String("request_id", reqID), zap.Error(err))
	}

	return c.Status(status).JSON(dto.ErrorResponse{Error: msg, Kind: kind.String(), RequestID: reqID})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg})
}

func paramID(c *fiber.Ctx, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params(name))
	return id, err == nil
}

func paging(c *fiber.Ctx) (limit, offset int) {
	limit = 20
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func optionalQuery(c *fiber.Ctx, key string) *string {
	if v := c.Query(key); v != "" {
		return &v
	}
	return nil
}

func ok(c *fiber.Ctx, data any) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: data})
}

func created(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: data})
}
