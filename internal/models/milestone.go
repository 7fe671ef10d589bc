package models

import (
	"time"

	"github.com/freelance-marketplace/backend/internal/money"
	"github.com/google/uuid"
)

// Milestone work statuses
const (
	MilestoneStatusPending   = "pending"
	MilestoneStatusSubmitted = "submitted"
	MilestoneStatusApproved  = "approved"
	MilestoneStatusRejected  = "rejected"
	MilestoneStatusPaid      = "paid"
	MilestoneStatusDisputed  = "disputed"
)

// Valid milestone transitions: from -> []to
var ValidMilestoneTransitions = map[string][]string{
	MilestoneStatusPending:   {MilestoneStatusSubmitted},
	MilestoneStatusSubmitted: {MilestoneStatusApproved, MilestoneStatusRejected, MilestoneStatusDisputed},
	MilestoneStatusApproved:  {MilestoneStatusPaid, MilestoneStatusDisputed},
	MilestoneStatusRejected:  {MilestoneStatusSubmitted, MilestoneStatusDisputed},
	// a rejected dispute restores the status held before it was raised
	MilestoneStatusDisputed: {MilestoneStatusSubmitted, MilestoneStatusApproved, MilestoneStatusRejected},
	MilestoneStatusPaid:     {},
}

func IsValidMilestoneTransition(from, to string) bool {
	return containsStatus(ValidMilestoneTransitions[from], to)
}

// CanSettleMilestone reports whether a dispute payout may mark the milestone
// paid. The payout covers outstanding work whatever its review status.
func CanSettleMilestone(status string) bool {
	_, known := ValidMilestoneTransitions[status]
	return known && status != MilestoneStatusPaid
}

// Funds statuses of the money facet attached to a milestone
const (
	FundsStatusPending  = "pending"
	FundsStatusReleased = "released"
	FundsStatusRefunded = "refunded"
)

var ValidFundsTransitions = map[string][]string{
	FundsStatusPending:  {FundsStatusReleased, FundsStatusRefunded},
	FundsStatusReleased: {},
	FundsStatusRefunded: {},
}

func IsValidFundsTransition(from, to string) bool {
	return containsStatus(ValidFundsTransitions[from], to)
}

// Milestone is one unit of contracted work. Its work state lives here, its
// money state lives in Funds once the project has an escrow. Both facets are
// persisted together as part of the project aggregate.
type Milestone struct {
	ID                  uuid.UUID    `json:"id"`
	ProjectID           uuid.UUID    `json:"project_id"`
	Position            int          `json:"position"`
	Title               string       `json:"title"`
	Description         string       `json:"description"`
	Amount              money.Amount `json:"amount"`
	DueDate             time.Time    `json:"due_date"`
	Status              string       `json:"status"`
	StatusBeforeDispute *string      `json:"-"`
	Submission          *Submission  `json:"submission,omitempty"`
	Feedback            *Feedback    `json:"feedback,omitempty"`
	PaymentID           *string      `json:"payment_id,omitempty"`
	Funds               *Funds       `json:"funds,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

type Submission struct {
	Description string    `json:"description"`
	Attachments []string  `json:"attachments"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type Feedback struct {
	Comment           string    `json:"comment"`
	RevisionRequested bool      `json:"revision_requested"`
	GivenBy           uuid.UUID `json:"given_by"`
	GivenAt           time.Time `json:"given_at"`
}

// Funds is the escrow-side record for a milestone.
type Funds struct {
	Amount      money.Amount `json:"amount"`
	Refunded    money.Amount `json:"refunded"`
	Status      string       `json:"status"`
	TransferRef *string      `json:"transfer_ref,omitempty"`
	ReleaseDate *time.Time   `json:"release_date,omitempty"`
	ApprovedBy  *uuid.UUID   `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time   `json:"approved_at,omitempty"`
}

// Releasable is what is still held for this milestone.
func (f *Funds) Releasable() money.Amount {
	if f == nil || f.Status != FundsStatusPending {
		return 0
	}
	return f.Amount - f.Refunded
}
