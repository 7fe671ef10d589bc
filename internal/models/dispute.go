package models

import (
	"time"

	"github.com/freelance-marketplace/backend/internal/money"
	"github.com/google/uuid"
)

const (
	DisputeStatusOpen     = "open"
	DisputeStatusInReview = "in_review"
	DisputeStatusResolved = "resolved"
	DisputeStatusRejected = "rejected"
)

// Dispute categories
const (
	DisputeTypeQuality  = "quality"
	DisputeTypePayment  = "payment"
	DisputeTypeDeadline = "deadline"
	DisputeTypeOther    = "other"
)

var AllDisputeTypes = []string{DisputeTypeQuality, DisputeTypePayment, DisputeTypeDeadline, DisputeTypeOther}

func IsValidDisputeType(t string) bool {
	return containsStatus(AllDisputeTypes, t)
}

// Resolution decisions
const (
	DecisionEmployerFavor   = "employer_favor"
	DecisionFreelancerFavor = "freelancer_favor"
	DecisionCompromise      = "compromise"
	DecisionRefund          = "refund"

	// DecisionDismissed closes a rejected dispute without settlement.
	DecisionDismissed = "dismissed"
)

// DecisionProjectStatus maps a decision to the project's terminal status.
var DecisionProjectStatus = map[string]string{
	DecisionEmployerFavor:   ProjectStatusCancelled,
	DecisionRefund:          ProjectStatusCancelled,
	DecisionFreelancerFavor: ProjectStatusCompleted,
	DecisionCompromise:      ProjectStatusCompleted,
}

func IsValidDecision(d string) bool {
	_, ok := DecisionProjectStatus[d]
	return ok
}

// PaysFreelancer reports whether the funds left after the refund go to the
// freelancer. Under other decisions they stay held in escrow.
func PaysFreelancer(decision string) bool {
	return decision == DecisionFreelancerFavor || decision == DecisionCompromise
}

type Dispute struct {
	ID          uuid.UUID        `json:"id"`
	ProjectID   uuid.UUID        `json:"project_id"`
	MilestoneID *uuid.UUID       `json:"milestone_id,omitempty"`
	RaisedBy    uuid.UUID        `json:"raised_by"`
	Type        string           `json:"type"`
	Description string           `json:"description"`
	Evidence    []string         `json:"evidence"`
	Status      string           `json:"status"`
	Resolution  *Resolution      `json:"resolution,omitempty"`
	Settlement  *Settlement      `json:"settlement,omitempty"`
	Messages    []DisputeMessage `json:"messages"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// IsOpen reports whether the dispute still freezes the project.
func (d *Dispute) IsOpen() bool {
	return d.Status == DisputeStatusOpen || d.Status == DisputeStatusInReview
}

type Resolution struct {
	Decision     string       `json:"decision"`
	RefundAmount money.Amount `json:"refund_amount"`
	Notes        string       `json:"notes,omitempty"`
	ResolvedBy   uuid.UUID    `json:"resolved_by"`
	ResolvedAt   time.Time    `json:"resolved_at"`
}

// Settlement tracks processor side effects of a resolution that have already
// been committed, so a retried resolve never repeats them.
type Settlement struct {
	Decision     string       `json:"decision"`
	RefundAmount money.Amount `json:"refund_amount"`
	RefundRef    *string      `json:"refund_ref,omitempty"`
	PayoutAmount money.Amount `json:"payout_amount"`
	TransferRef  *string      `json:"transfer_ref,omitempty"`
	// HeldAmount stays in escrow for manual settlement.
	HeldAmount money.Amount `json:"held_amount"`
}

type DisputeMessage struct {
	ID          uuid.UUID `json:"id"`
	SenderID    uuid.UUID `json:"sender_id"`
	Content     string    `json:"content"`
	Attachments []string  `json:"attachments"`
	CreatedAt   time.Time `json:"created_at"`
}
