package dto

import (
	"time"

	"github.com/freelance-marketplace/backend/internal/money"
)

type MilestoneRequest struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Amount      money.Amount `json:"amount"`
	DueDate     time.Time    `json:"due_date"`
}

type CreateProjectRequest struct {
	Title          string             `json:"title"`
	Description    string             `json:"description"`
	Category       string             `json:"category"`
	Budget         money.Amount       `json:"budget"`
	Deadline       time.Time          `json:"deadline"`
	RequiredSkills []string           `json:"required_skills,omitempty"`
	Milestones     []MilestoneRequest `json:"milestones"`
}

type ApplyRequest struct {
	Proposal  string  `json:"proposal"`
	ResumeURL *string `json:"resume_url,omitempty"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type SubmitMilestoneRequest struct {
	Description string   `json:"description"`
	Attachments []string `json:"attachments,omitempty"`
}

type ApproveMilestoneRequest struct {
	Comment string `json:"comment,omitempty"`
}

type RaiseDisputeRequest struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Evidence    []string `json:"evidence,omitempty"`
	MilestoneID *string  `json:"milestone_id,omitempty"`
}

type DisputeMessageRequest struct {
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
}

type ResolveDisputeRequest struct {
	Decision     string        `json:"decision"`
	RefundAmount *money.Amount `json:"refund_amount,omitempty"`
	Notes        string        `json:"notes,omitempty"`
}

type DismissDisputeRequest struct {
	Notes string `json:"notes"`
}

type ConnectAccountRequest struct {
	AccountRef string `json:"account_ref"`
}
