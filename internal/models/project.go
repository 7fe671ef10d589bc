package models

import (
	"time"

	"github.com/freelance-marketplace/backend/internal/money"
	"github.com/google/uuid"
)

// Project statuses
const (
	ProjectStatusOpen       = "open"
	ProjectStatusActive     = "active"
	ProjectStatusInProgress = "in_progress"
	ProjectStatusCompleted  = "completed"
	ProjectStatusCancelled  = "cancelled"
	ProjectStatusRejected   = "rejected"
	ProjectStatusDisputed   = "disputed"
)

// Valid project transitions: from -> []to
var ValidProjectTransitions = map[string][]string{
	ProjectStatusOpen:       {ProjectStatusActive, ProjectStatusCancelled},
	ProjectStatusActive:     {ProjectStatusInProgress, ProjectStatusCompleted, ProjectStatusCancelled, ProjectStatusRejected, ProjectStatusDisputed},
	ProjectStatusInProgress: {ProjectStatusCompleted, ProjectStatusCancelled, ProjectStatusRejected, ProjectStatusDisputed},
	// a rejected dispute restores the status held before it was raised
	ProjectStatusDisputed:  {ProjectStatusCompleted, ProjectStatusCancelled, ProjectStatusActive, ProjectStatusInProgress},
	ProjectStatusCompleted: {},
	ProjectStatusCancelled: {},
	ProjectStatusRejected:  {},
}

func IsValidProjectTransition(from, to string) bool {
	return containsStatus(ValidProjectTransitions[from], to)
}

// IsProjectTerminal reports whether no further transitions are allowed.
func IsProjectTerminal(status string) bool {
	allowed, ok := ValidProjectTransitions[status]
	return ok && len(allowed) == 0
}

// IsProjectWorking reports whether milestone work may proceed.
func IsProjectWorking(status string) bool {
	return status == ProjectStatusActive || status == ProjectStatusInProgress
}

type Project struct {
	ID                  uuid.UUID    `json:"id"`
	EmployerID          uuid.UUID    `json:"employer_id"`
	FreelancerID        *uuid.UUID   `json:"freelancer_id,omitempty"`
	Title               string       `json:"title"`
	Description         string       `json:"description"`
	Category            string       `json:"category,omitempty"`
	Budget              money.Amount `json:"budget"`
	TotalPaid           money.Amount `json:"total_paid"`
	Deadline            time.Time    `json:"deadline"`
	Status              string       `json:"status"`
	StatusBeforeDispute *string      `json:"-"`
	RequiredSkills      []string     `json:"required_skills"`
	Rejection           *Rejection   `json:"rejection,omitempty"`
	Version             int64        `json:"version"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

type Rejection struct {
	Reason     string    `json:"reason"`
	RejectedBy uuid.UUID `json:"rejected_by"`
	RejectedAt time.Time `json:"rejected_at"`
}

func (p *Project) IsEmployer(userID uuid.UUID) bool {
	return p.EmployerID == userID
}

func (p *Project) IsFreelancer(userID uuid.UUID) bool {
	return p.FreelancerID != nil && *p.FreelancerID == userID
}

func (p *Project) IsParticipant(userID uuid.UUID) bool {
	return p.IsEmployer(userID) || p.IsFreelancer(userID)
}

func containsStatus(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
