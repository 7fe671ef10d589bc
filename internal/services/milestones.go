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

// MilestoneService owns the work state of milestones. It never moves money.
type MilestoneService struct {
	core
}

func NewMilestoneService(store ProjectStore, audit AuditLogger, publisher events.Publisher, log *zap.Logger) *MilestoneService {
	return &MilestoneService{core: newCore(store, audit, publisher, log)}
}

type MilestoneInput struct {
	Title       string
	Description string
	Amount      money.Amount
	DueDate     time.Time
}

func (in MilestoneInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return apperrors.Validation("milestone title is required")
	}
	if in.Amount < 0 {
		return apperrors.Validation("milestone amount must not be negative")
	}
	if in.DueDate.IsZero() {
		return apperrors.Validation("milestone due date is required")
	}
	return nil
}

type SubmissionInput struct {
	Description string
	Attachments []string
}

// AddMilestone appends a milestone while the project is still open. The
// milestone total may not exceed the budget.
func (s *MilestoneService) AddMilestone(ctx context.Context, actor models.Principal, projectID uuid.UUID, in MilestoneInput) (*models.Milestone, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var added *models.Milestone
	_, err := s.update(ctx, projectID, actor, func(agg *models.ProjectAggregate, ch *changes) error {
		p := &agg.Project
		if !p.IsEmployer(actor.UserID) {
			return apperrors.Forbidden("only the project employer can add milestones")
		}
		if p.Status != models.ProjectStatusOpen {
			return apperrors.State("milestones can only be added while the project is open, project is %s", p.Status)
		}
		if sum := agg.MilestoneSum() + in.Amount; sum > p.Budget {
			return apperrors.Validation("milestone amounts would total %s, exceeding budget %s", sum, p.Budget)
		}

		m := newMilestone(p.ID, len(agg.Milestones), in, ch.now)
		agg.Milestones = append(agg.Milestones, m)
		ch.record(agg, models.EntityMilestone, m.ID, "milestone_added", map[string]any{"amount": m.Amount.String()})
		added = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// Submit records the freelancer's work and moves the milestone to submitted.
// A rejected milestone may be resubmitted.
func (s *MilestoneService) Submit(ctx context.Context, actor models.Principal, milestoneID uuid.UUID, in SubmissionInput) (*models.Milestone, error) {
	if strings.TrimSpace(in.Description) == "" {
		return nil, apperrors.Validation("submission description is required")
	}
	return s.mutate(ctx, actor, milestoneID, func(agg *models.ProjectAggregate, m *models.Milestone, ch *changes) error {
		if !agg.Project.IsFreelancer(actor.UserID) {
			return apperrors.Forbidden("only the assigned freelancer can submit milestones")
		}
		if m.Status != models.MilestoneStatusPending && m.Status != models.MilestoneStatusRejected {
			return apperrors.State("milestone is %s, only pending or rejected milestones can be submitted", m.Status)
		}
		if err := ch.milestone(agg, m, models.MilestoneStatusSubmitted); err != nil {
			return err
		}
		m.Submission = &models.Submission{
			Description: in.Description,
			Attachments: append([]string{}, in.Attachments...),
			SubmittedAt: ch.now,
		}
		if agg.Project.Status == models.ProjectStatusActive {
			return ch.project(agg, models.ProjectStatusInProgress)
		}
		return nil
	})
}

// Approve accepts submitted work. Payment is a separate release.
func (s *MilestoneService) Approve(ctx context.Context, actor models.Principal, milestoneID uuid.UUID, comment string) (*models.Milestone, error) {
	return s.mutate(ctx, actor, milestoneID, func(agg *models.ProjectAggregate, m *models.Milestone, ch *changes) error {
		if !agg.Project.IsEmployer(actor.UserID) {
			return apperrors.Forbidden("only the project employer can approve milestones")
		}
		if m.Status != models.MilestoneStatusSubmitted {
			return apperrors.State("milestone is %s, only submitted milestones can be approved", m.Status)
		}
		if err := ch.milestone(agg, m, models.MilestoneStatusApproved); err != nil {
			return err
		}
		if comment != "" {
			m.Feedback = &models.Feedback{Comment: comment, GivenBy: actor.UserID, GivenAt: ch.now}
		}
		return nil
	})
}

// Reject sends submitted work back with the employer's reason.
func (s *MilestoneService) Reject(ctx context.Context, actor models.Principal, milestoneID uuid.UUID, reason string) (*models.Milestone, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperrors.Validation("rejection reason is required")
	}
	return s.mutate(ctx, actor, milestoneID, func(agg *models.ProjectAggregate, m *models.Milestone, ch *changes) error {
		if !agg.Project.IsEmployer(actor.UserID) {
			return apperrors.Forbidden("only the project employer can reject milestones")
		}
		if m.Status != models.MilestoneStatusSubmitted {
			return apperrors.State("milestone is %s, only submitted milestones can be rejected", m.Status)
		}
		if err := ch.milestone(agg, m, models.MilestoneStatusRejected); err != nil {
			return err
		}
		m.Feedback = &models.Feedback{
			Comment:           reason,
			RevisionRequested: true,
			GivenBy:           actor.UserID,
			GivenAt:           ch.now,
		}
		return nil
	})
}

func (s *MilestoneService) mutate(
	ctx context.Context,
	actor models.Principal,
	milestoneID uuid.UUID,
	fn func(*models.ProjectAggregate, *models.Milestone, *changes) error,
) (*models.Milestone, error) {
	projectID, err := s.store.ProjectIDByMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}

	agg, err := s.update(ctx, projectID, actor, func(agg *models.ProjectAggregate, ch *changes) error {
		m := agg.Milestone(milestoneID)
		if m == nil {
			return apperrors.NotFound("milestone", milestoneID)
		}
		if !models.IsProjectWorking(agg.Project.Status) {
			return apperrors.State("project is %s, milestone work is not allowed", agg.Project.Status)
		}
		return fn(agg, m, ch)
	})
	if err != nil {
		return nil, err
	}
	return agg.Milestone(milestoneID), nil
}

func newMilestone(projectID uuid.UUID, position int, in MilestoneInput, now time.Time) *models.Milestone {
	return &models.Milestone{
		ID:          uuid.New(),
		ProjectID:   projectID,
		Position:    position,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Amount:      in.Amount,
		DueDate:     in.DueDate,
		Status:      models.MilestoneStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
