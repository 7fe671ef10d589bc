package models

import (
	"time"

	"github.com/google/uuid"
)

// User roles issued by the identity provider
const (
	RoleEmployer   = "employer"
	RoleFreelancer = "freelancer"
	RoleAdmin      = "admin"
)

func IsValidRole(role string) bool {
	return role == RoleEmployer || role == RoleFreelancer || role == RoleAdmin
}

// Payout account onboarding statuses
const (
	AccountStatusNone    = "none"
	AccountStatusPending = "pending"
	AccountStatusActive  = "active"
)

// PayoutAccount is a freelancer's connected payment-processor account.
type PayoutAccount struct {
	UserID     uuid.UUID `json:"user_id"`
	AccountRef string    `json:"account_ref"`
	Status     string    `json:"status"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (a *PayoutAccount) CanReceive() bool {
	return a != nil && a.Status == AccountStatusActive && a.AccountRef != ""
}

// Principal is an authenticated caller as resolved by the identity provider.
type Principal struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role"`
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// SystemPrincipal acts for background jobs.
var SystemPrincipal = Principal{Role: RoleAdmin}
