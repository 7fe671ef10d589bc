package services

import (
	"context"
	"strings"
	"time"

	"github.com/freelance-marketplace/backend/internal/apperrors"
	"github.com/freelance-marketplace/backend/internal/events"
	"github.com/freelance-marketplace/backend/internal/models"
	"github.com/freelance-marketplace/backend/internal/money"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ProjectService struct {
	core
	ledger *Ledger
}

func NewProjectService(store ProjectStore, ledger *Ledger, audit AuditLogger, publisher events.Publisher, log *zap.Logger) *ProjectService {
	return &ProjectService{core: newCore(store, audit, publisher, log), ledger: ledger}
}

type CreateProjectInput struct {
	Title          string
	Description    string
	Category       string
	Budget         money.Amount
	Deadline       time.Time
	RequiredSkills []string
	Milestones     []MilestoneInput
}

// CreateProject opens a project. Milestone amounts must add up to the budget.
func (s *ProjectService) CreateProject(ctx context.Context, actor models.Principal, in CreateProjectInput) (*models.ProjectAggregate, error) {
	if err := requireRole(actor, models.RoleEmployer); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, apperrors.Validation("title is required")
	}
	if in.Budget < 0 {
		return nil, apperrors.Validation("budget must not be negative")
	}
	if in.Deadline.IsZero() {
		return nil, apperrors.Validation("deadline is required")
	}
	if len(in.Milestones) == 0 {
		return nil, apperrors.Validation("at least one milestone is required")
	}

	now := s.now()
	p := models.Project{
		ID:             uuid.New(),
		EmployerID:     actor.UserID,
		Title:          strings.TrimSpace(in.Title),
		Description:    in.Description,
		Category:       in.Category,
		Budget:         in.Budget,
		Deadline:       in.Deadline,
		Status:         models.ProjectStatusOpen,
		RequiredSkills: append([]string{}, in.RequiredSkills...),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	agg := &models.ProjectAggregate{Project: p}
	for i, mi := range in.Milestones {
		if err := mi.validate(); err != nil {
			return nil, err
		}
		agg.Milestones = append(agg.Milestones, newMilestone(p.ID, i, mi, now))
	}
	if sum := agg.MilestoneSum(); sum != in.Budget {
		return nil, apperrors.Validation("milestone amounts sum to %s but budget is %s", sum, in.Budget)
	}

	if err := s.store.Create(ctx, agg); err != nil {
		return nil, err
	}

	ch := &changes{actor: actor, now: now}
	ch.record(agg, models.EntityProject, p.ID, "project_created",
		map[string]any{"budget": p.Budget.String(), "milestones": len(agg.Milestones)})
	s.flush(ctx, ch)
	return agg, nil
}

// Apply records a freelancer's application. One application per freelancer
// and project.
func (s *ProjectService) Apply(ctx context.Context, actor models.Principal, projectID uuid.UUID, proposal string, resumeURL *string) (*models.Application, error) {
	if err := requireRole(actor, models.RoleFreelancer); err != nil {
		return nil, err
	}
	if strings.TrimSpace(proposal) == "" {
		return nil, apperrors.Validation("proposal is required")
	}

	var app *models.Application
	_, err := s.update(ctx, projectID, actor, func(agg *models.ProjectAggregate, ch *changes) error {
		p := &agg.Project
		if p.Status != models.ProjectStatusOpen {
			return apperrors.State("project is %s, applications are closed", p.Status)
		}
		if p.IsEmployer(actor.UserID) {
			return apperrors.Forbidden("employer cannot apply to own project")
		}
		if agg.ApplicationBy(actor.UserID) != nil {
			return apperrors.State("already applied to this project")
		}

		app = &models.Application{
			ID:           uuid.New(),
			ProjectID:    p.ID,
			FreelancerID: actor.UserID,
			Proposal:     proposal,
			ResumeURL:    resumeURL,
			Status:       models.ApplicationStatusPending,
			AppliedAt:    ch.now,
			UpdatedAt:    ch.now,
		}
		agg.Applications = append(agg.Applications, app)
		ch.record(agg, models.EntityApplication, app.ID, "application_submitted", nil)
		ch.emit(agg, events.EventApplicationReceived, map[string]any{
			"application_id": app.ID.String(),
			"freelancer_id":  actor.UserID.String(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// ApprovalResult carries the activated project and the outcome of opening
// its escrow. EscrowError is set when the processor could not be reached;
// the project stays active and escrow creation is retried later.
type ApprovalResult struct {
	Project     *models.ProjectAggregate
	Escrow      *models.EscrowView
	EscrowError error
}

// ApproveApplication assigns the freelancer, rejects every other application
// and activates the project, then opens the escrow.
func (s *ProjectService) ApproveApplication(ctx context.Context, actor models.Principal, projectID, applicationID uuid.UUID) (*ApprovalResult, error) {
	agg, err := s.update(ctx, projectID, actor, func(agg *models.ProjectAggregate, ch *changes) error {
		p := &agg.Project
		if !p.IsEmployer(actor.UserID) {
			return apperrors.Forbidden("only the project employer can approve applications")
		}
		if p.Status != models.ProjectStatusOpen {
			return apperrors.State("project is %s, applications are closed", p.Status)
		}
		app := agg.Application(applicationID)
		if app == nil {
			return apperrors.NotFound("application", applicationID)
		}
		if app.Status != models.ApplicationStatusPending {
			return apperrors.State("application is %s", app.Status)
		}
		if sum := agg.MilestoneSum(); sum != p.Budget {
			return apperrors.Validation("milestone amounts sum to %s but budget is %s", sum, p.Budget)
		}

		for _, other := range agg.Applications {
			if other.Status != models.ApplicationStatusPending {
				continue
			}
			other.Status = models.ApplicationStatusRejected
			if other.ID == app.ID {
				other.Status = models.ApplicationStatusApproved
			}
			other.UpdatedAt = ch.now
			ch.record(agg, models.EntityApplication, other.ID, "application_"+other.Status, nil)
		}
		freelancerID := app.FreelancerID
		p.FreelancerID = &freelancerID
		return ch.project(agg, models.ProjectStatusActive)
	})
	if err != nil {
		return nil, err
	}

	result := &ApprovalResult{Project: agg}
	view, err := s.ledger.CreateEscrow(ctx, projectID)
	if err != nil {
		s.log.Warn("escrow creation deferred",
			zap.String("project_id", projectID.String()),
			zap.Error(err),
		)
		result.EscrowError = err
		return result, nil
	}
	result.Escrow = view
	if latest, err := s.store.Get(ctx, projectID); err == nil {
		result.Project = latest
	}
	return result, nil
}

// RejectProject ends a working project at the employer's request. Funds still
// held in escrow go back to the employer.
func (s *ProjectService) RejectProject(ctx context.Context, actor models.Principal, projectID uuid.UUID, reason string) (*models.ProjectAggregate, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperrors.Validation("rejection reason is required")
	}

	var ref string
	var amount money.Amount
	agg, err := s.update(ctx, projectID, actor, func(agg *models.ProjectAggregate, ch *changes) error {
		p := &agg.Project
		if !p.IsEmployer(actor.UserID) {
			return apperrors.Forbidden("only the project employer can reject the project")
		}
		if !models.IsProjectWorking(p.Status) {
			return apperrors.State("project is %s, only active projects can be rejected", p.Status)
		}
		if e := agg.Escrow; e != nil && e.Status == models.EscrowStatusFunded && agg.HeldFunds() > 0 {
			r, held, err := s.ledger.refundHeld(ctx, agg, ch, "project rejected: "+reason)
			ref, amount = r, held
			if err != nil {
				return err
			}
		}
		p.Rejection = &models.Rejection{Reason: reason, RejectedBy: actor.UserID, RejectedAt: ch.now}
		return ch.project(agg, models.ProjectStatusRejected)
	})
	if err != nil {
		if ref != "" {
			return nil, s.ledger.consistency(ctx, "reject project", models.ReconcileTask{
				Kind:         models.ReconcileEscrowRefund,
				ProjectID:    projectID,
				ProcessorRef: ref,
				Amount:       amount,
				Reason:       "project rejected: " + reason,
				ActorID:      &actor.UserID,
			}, err)
		}
		return nil, err
	}
	return agg, nil
}

// CancelProject withdraws an open project.
func (s *ProjectService) CancelProject(ctx context.Context, actor models.Principal, projectID uuid.UUID) (*models.ProjectAggregate, error) {
	return s.update(ctx, projectID, actor, func(agg *models.ProjectAggregate, ch *changes) error {
		p := &agg.Project
		if !p.IsEmployer(actor.UserID) && !actor.IsAdmin() {
			return apperrors.Forbidden("only the project employer can cancel the project")
		}
		if p.Status != models.ProjectStatusOpen {
			return apperrors.State("project is %s, only open projects can be cancelled", p.Status)
		}
		for _, app := range agg.Applications {
			if app.Status == models.ApplicationStatusPending {
				app.Status = models.ApplicationStatusRejected
				app.UpdatedAt = ch.now
			}
		}
		return ch.project(agg, models.ProjectStatusCancelled)
	})
}

// GetProject returns the aggregate. Applications are only visible to the
// employer and admins; disputes and refunds to participants and admins.
func (s *ProjectService) GetProject(ctx context.Context, actor models.Principal, projectID uuid.UUID) (*models.ProjectAggregate, error) {
	agg, err := s.store.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	p := &agg.Project
	if actor.IsAdmin() || p.IsEmployer(actor.UserID) {
		return agg, nil
	}
	if p.IsFreelancer(actor.UserID) {
		agg.Applications = nil
		return agg, nil
	}
	if p.Status != models.ProjectStatusOpen {
		return nil, apperrors.Forbidden("project is not public")
	}
	own := agg.ApplicationBy(actor.UserID)
	agg.Applications = nil
	if own != nil {
		agg.Applications = []*models.Application{own}
	}
	agg.Escrow = nil
	agg.Disputes = nil
	agg.Refunds = nil
	return agg, nil
}

func (s *ProjectService) ListProjects(ctx context.Context, f ProjectFilter) ([]models.Project, error) {
	return s.store.List(ctx, f)
}

func (s *ProjectService) GetProjectEvents(ctx context.Context, actor models.Principal, projectID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	agg, err := s.store.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !agg.Project.IsParticipant(actor.UserID) && !actor.IsAdmin() {
		return nil, apperrors.Forbidden("only project participants can view events")
	}
	return s.audit.GetByProject(ctx, projectID, limit, offset)
}
