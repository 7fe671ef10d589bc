package services

import (
	"context"

	"github.com/freelance-marketplace/backend/internal/models"
	"github.com/google/uuid"
)

// ProjectStore persists project aggregates. Update runs fn against the locked
// aggregate and commits everything fn changed in one transaction; if fn
// returns an error nothing is written.
type ProjectStore interface {
	Create(ctx context.Context, agg *models.ProjectAggregate) error
	Get(ctx context.Context, projectID uuid.UUID) (*models.ProjectAggregate, error)
	Update(ctx context.Context, projectID uuid.UUID, fn func(*models.ProjectAggregate) error) (*models.ProjectAggregate, error)
	List(ctx context.Context, f ProjectFilter) ([]models.Project, error)

	ProjectIDByEscrow(ctx context.Context, escrowID uuid.UUID) (uuid.UUID, error)
	ProjectIDByPaymentIntent(ctx context.Context, intentID string) (uuid.UUID, error)
	ProjectIDByMilestone(ctx context.Context, milestoneID uuid.UUID) (uuid.UUID, error)
	ProjectIDByDispute(ctx context.Context, disputeID uuid.UUID) (uuid.UUID, error)
	ListActiveWithoutEscrow(ctx context.Context, limit int) ([]uuid.UUID, error)
	ListDisputes(ctx context.Context, f DisputeFilter) ([]models.Dispute, error)
}

type ProjectFilter struct {
	Status       *string
	EmployerID   *uuid.UUID
	FreelancerID *uuid.UUID
	Category     *string
	Limit        int
	Offset       int
}

type DisputeFilter struct {
	Status    *string
	ProjectID *uuid.UUID
	Limit     int
	Offset    int
}

type AccountStore interface {
	GetPayoutAccount(ctx context.Context, userID uuid.UUID) (*models.PayoutAccount, error)
	UpsertPayoutAccount(ctx context.Context, acct *models.PayoutAccount) error
	SetStatusByRef(ctx context.Context, accountRef, status string) error
}

type AuditLogger interface {
	Log(ctx context.Context, entry models.AuditLog) error
	GetByProject(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

type ReconcileStore interface {
	Enqueue(ctx context.Context, task *models.ReconcileTask) error
	ListOpen(ctx context.Context, limit int) ([]models.ReconcileTask, error)
	MarkDone(ctx context.Context, id uuid.UUID) error
	MarkManual(ctx context.Context, id uuid.UUID, reason string) error
	RecordAttempt(ctx context.Context, id uuid.UUID, errMsg string) error
}

type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type StatsStore interface {
	PaymentStats(ctx context.Context) (*models.PaymentStats, error)
}
