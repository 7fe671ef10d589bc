package models

import (
	"time"

	"github.com/freelance-marketplace/backend/internal/money"
	"github.com/google/uuid"
)

// Reconciliation task kinds
const (
	ReconcileMilestoneRelease  = "milestone_release"
	ReconcileEscrowRefund      = "escrow_refund"
	ReconcileDisputeSettlement = "dispute_settlement"
	ReconcileEscrowCreation    = "escrow_creation"
)

const (
	ReconcileStatusOpen   = "open"
	ReconcileStatusDone   = "done"
	ReconcileStatusManual = "manual"
)

// ReconcileTask records a processor side effect whose local write did not commit.
type ReconcileTask struct {
	ID           uuid.UUID    `json:"id"`
	Kind         string       `json:"kind"`
	ProjectID    uuid.UUID    `json:"project_id"`
	MilestoneID  *uuid.UUID   `json:"milestone_id,omitempty"`
	DisputeID    *uuid.UUID   `json:"dispute_id,omitempty"`
	ProcessorRef string       `json:"processor_ref"`
	Amount       money.Amount `json:"amount"`
	Reason       string       `json:"reason,omitempty"`
	ActorID      *uuid.UUID   `json:"actor_id,omitempty"`
	Status       string       `json:"status"`
	Attempts     int          `json:"attempts"`
	LastError    *string      `json:"last_error,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}
