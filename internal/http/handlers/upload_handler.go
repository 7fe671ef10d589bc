package handlers

import (
	"github.com/freelance-marketplace/backend/internal/http/dto"
	"github.com/freelance-marketplace/backend/internal/middleware"
	"github.com/freelance-marketplace/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type UploadHandler struct {
	uploadService *services.UploadService
	log           *zap.Logger
}

func NewUploadHandler(uploadService *services.UploadService, log *zap.Logger) *UploadHandler {
	return &UploadHandler{uploadService: uploadService, log: log}
}

// Upload accepts a multipart form with "kind" and "file" fields.
func (h *UploadHandler) Upload(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return badRequest(c, "cannot read file")
	}
	defer f.Close()

	url, err := h.uploadService.Upload(c.Context(), middleware.GetPrincipal(c), services.UploadInput{
		Kind:        c.FormValue("kind"),
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        f,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return created(c, dto.UploadResponse{URL: url})
}
