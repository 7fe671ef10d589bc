package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ApplicationStatusPending  = "pending"
	ApplicationStatusApproved = "approved"
	ApplicationStatusRejected = "rejected"
)

type Application struct {
	ID           uuid.UUID `json:"id"`
	ProjectID    uuid.UUID `json:"project_id"`
	FreelancerID uuid.UUID `json:"freelancer_id"`
	Proposal     string    `json:"proposal"`
	ResumeURL    *string   `json:"resume_url,omitempty"`
	Status       string    `json:"status"`
	AppliedAt    time.Time `json:"applied_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
