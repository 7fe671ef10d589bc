package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit actor types
const (
	ActorUser      = "user"
	ActorAdmin     = "admin"
	ActorSystem    = "system"
	ActorProcessor = "processor"
)

// Audited entity types
const (
	EntityProject     = "project"
	EntityMilestone   = "milestone"
	EntityEscrow      = "escrow"
	EntityApplication = "application"
	EntityDispute     = "dispute"
)

type AuditLog struct {
	ID          uuid.UUID  `json:"id"`
	ProjectID   *uuid.UUID `json:"project_id,omitempty"`
	ActorUserID *uuid.UUID `json:"actor_user_id,omitempty"`
	ActorType   string     `json:"actor_type"`
	Action      string     `json:"action"`
	EntityType  string     `json:"entity_type"`
	EntityID    *uuid.UUID `json:"entity_id,omitempty"`
	Meta        any        `json:"meta,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
