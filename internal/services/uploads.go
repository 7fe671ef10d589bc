package services

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/freelance-marketplace/backend/internal/apperrors"
	"github.com/freelance-marketplace/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Upload kinds
const (
	UploadSubmission = "submission"
	UploadResume     = "resume"
	UploadEvidence   = "evidence"
)

type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

var allowedContentTypes = map[string]bool{
	"application/pdf": true,
	"application/zip": true,
	"image/png":       true,
	"image/jpeg":      true,
	"text/plain":      true,
}

type UploadService struct {
	store   ObjectStore
	maxSize int64
	log     *zap.Logger
}

func NewUploadService(store ObjectStore, maxSize int64, log *zap.Logger) *UploadService {
	return &UploadService{store: store, maxSize: maxSize, log: log}
}

type UploadInput struct {
	Kind        string
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Upload stores a file under the caller's prefix and returns its public URL,
// which is then referenced by submissions, applications and disputes.
func (s *UploadService) Upload(ctx context.Context, actor models.Principal, in UploadInput) (string, error) {
	switch in.Kind {
	case UploadSubmission, UploadEvidence:
	case UploadResume:
		if err := requireRole(actor, models.RoleFreelancer); err != nil {
			return "", err
		}
	default:
		return "", apperrors.Validation("unknown upload kind %q", in.Kind)
	}
	if in.Size <= 0 {
		return "", apperrors.Validation("file is empty")
	}
	if s.maxSize > 0 && in.Size > s.maxSize {
		return "", apperrors.Validation("file exceeds %d bytes", s.maxSize)
	}
	contentType := strings.TrimSpace(strings.Split(in.ContentType, ";")[0])
	if !allowedContentTypes[contentType] {
		return "", apperrors.Validation("content type %q is not allowed", in.ContentType)
	}

	key := fmt.Sprintf("%s/%s/%s%s", in.Kind, actor.UserID, uuid.New(), strings.ToLower(path.Ext(in.Filename)))
	url, err := s.store.Put(ctx, key, in.Body, in.Size, contentType)
	if err != nil {
		return "", apperrors.External("store upload", err)
	}
	s.log.Info("file uploaded",
		zap.String("user_id", actor.UserID.String()),
		zap.String("kind", in.Kind),
		zap.String("key", key),
	)
	return url, nil
}
