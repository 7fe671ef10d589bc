package models

import (
	"time"

	"github.com/freelance-marketplace/backend/internal/money"
	"github.com/google/uuid"
)

const (
	EscrowStatusPending  = "pending"
	EscrowStatusFunded   = "funded"
	EscrowStatusReleased = "released"
	EscrowStatusRefunded = "refunded"
)

var ValidEscrowTransitions = map[string][]string{
	EscrowStatusPending:  {EscrowStatusFunded},
	EscrowStatusFunded:   {EscrowStatusReleased, EscrowStatusRefunded},
	EscrowStatusReleased: {},
	EscrowStatusRefunded: {},
}

func IsValidEscrowTransition(from, to string) bool {
	return containsStatus(ValidEscrowTransitions[from], to)
}

type Escrow struct {
	ID              uuid.UUID    `json:"id"`
	ProjectID       uuid.UUID    `json:"project_id"`
	Amount          money.Amount `json:"amount"`
	Currency        string       `json:"currency"`
	Status          string       `json:"status"`
	PaymentIntentID string       `json:"payment_intent_id"`
	ClientSecret    string       `json:"-"`
	FundingEventID  *string      `json:"funding_event_id,omitempty"`
	FundedAt        *time.Time   `json:"funded_at,omitempty"`
	RefundedAt      *time.Time   `json:"refunded_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// EscrowMilestone is the escrow-side view of a milestone's funds.
type EscrowMilestone struct {
	MilestoneID uuid.UUID    `json:"milestone_id"`
	Amount      money.Amount `json:"amount"`
	Refunded    money.Amount `json:"refunded"`
	Status      string       `json:"status"`
	TransferRef *string      `json:"transfer_ref,omitempty"`
	ReleaseDate *time.Time   `json:"release_date,omitempty"`
	ApprovedBy  *uuid.UUID   `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time   `json:"approved_at,omitempty"`
}

// EscrowView is the escrow plus its milestone records, as returned to clients.
type EscrowView struct {
	Escrow
	Milestones []EscrowMilestone `json:"milestones"`
}

type Refund struct {
	ID        uuid.UUID    `json:"id"`
	ProjectID uuid.UUID    `json:"project_id"`
	EscrowID  uuid.UUID    `json:"escrow_id"`
	DisputeID *uuid.UUID   `json:"dispute_id,omitempty"`
	Amount    money.Amount `json:"amount"`
	Reason    string       `json:"reason"`
	RefundRef string       `json:"refund_ref"`
	CreatedAt time.Time    `json:"created_at"`
}

// PaymentStats is the admin overview of money held on the platform.
type PaymentStats struct {
	Escrows       []StatusTotal `json:"escrows"`
	Projects      []StatusTotal `json:"projects"`
	TotalHeld     money.Amount  `json:"total_held"`
	TotalReleased money.Amount  `json:"total_released"`
	TotalRefunded money.Amount  `json:"total_refunded"`
	OpenDisputes  int           `json:"open_disputes"`
	OpenReconcile int           `json:"open_reconciliation_tasks"`
}

type StatusTotal struct {
	Status string       `json:"status"`
	Count  int          `json:"count"`
	Amount money.Amount `json:"amount"`
}
