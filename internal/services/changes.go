package services

import (
	"context"
	"fmt"
	"time"

	"github.com/freelance-marketplace/backend/internal/apperrors"
	"github.com/freelance-marketplace/backend/internal/events"
	"github.com/freelance-marketplace/backend/internal/metrics"
	"github.com/freelance-marketplace/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// processorPrincipal attributes webhook-driven changes.
var processorPrincipal = models.Principal{Role: models.ActorProcessor}

// changes collects the audit entries and events produced inside one aggregate
// update. They are flushed only after the update committed.
type changes struct {
	actor       models.Principal
	now         time.Time
	audits      []models.AuditLog
	events      []events.Event
	transitions [][2]string
}

func (c *changes) reset(now time.Time) {
	c.now = now
	c.audits = nil
	c.events = nil
	c.transitions = nil
}

func (c *changes) actorType() string {
	switch {
	case c.actor.UserID == uuid.Nil && c.actor.Role == models.ActorProcessor:
		return models.ActorProcessor
	case c.actor.UserID == uuid.Nil:
		return models.ActorSystem
	case c.actor.IsAdmin():
		return models.ActorAdmin
	default:
		return models.ActorUser
	}
}

func (c *changes) actorID() *uuid.UUID {
	if c.actor.UserID == uuid.Nil {
		return nil
	}
	id := c.actor.UserID
	return &id
}

func (c *changes) project(agg *models.ProjectAggregate, to string) error {
	p := &agg.Project
	if !models.IsValidProjectTransition(p.Status, to) {
		return apperrors.State("project cannot move from %s to %s", p.Status, to)
	}
	old := p.Status
	p.Status = to
	p.UpdatedAt = c.now

	c.record(agg, models.EntityProject, p.ID, fmt.Sprintf("project_status_%s_to_%s", old, to),
		map[string]any{"old_status": old, "new_status": to})
	c.emit(agg, events.EventProjectStatusChanged, map[string]any{"old_status": old, "new_status": to})
	c.transitions = append(c.transitions, [2]string{models.EntityProject, to})
	return nil
}

func (c *changes) milestone(agg *models.ProjectAggregate, m *models.Milestone, to string) error {
	if !models.IsValidMilestoneTransition(m.Status, to) {
		return apperrors.State("milestone is %s, cannot move to %s", m.Status, to)
	}
	c.setMilestone(agg, m, to)
	return nil
}

// settleMilestone marks a milestone paid by a dispute payout.
func (c *changes) settleMilestone(agg *models.ProjectAggregate, m *models.Milestone) error {
	if !models.CanSettleMilestone(m.Status) {
		return apperrors.State("milestone is %s, cannot be settled", m.Status)
	}
	c.setMilestone(agg, m, models.MilestoneStatusPaid)
	m.StatusBeforeDispute = nil
	return nil
}

func (c *changes) setMilestone(agg *models.ProjectAggregate, m *models.Milestone, to string) {
	old := m.Status
	m.Status = to
	m.UpdatedAt = c.now

	c.record(agg, models.EntityMilestone, m.ID, fmt.Sprintf("milestone_status_%s_to_%s", old, to),
		map[string]any{"old_status": old, "new_status": to})
	c.emit(agg, events.EventMilestoneStatusChanged, map[string]any{
		"milestone_id": m.ID.String(), "old_status": old, "new_status": to,
	})
	c.transitions = append(c.transitions, [2]string{models.EntityMilestone, to})
}

func (c *changes) escrow(agg *models.ProjectAggregate, to string) error {
	e := agg.Escrow
	if e == nil {
		return apperrors.State("project has no escrow")
	}
	if !models.IsValidEscrowTransition(e.Status, to) {
		return apperrors.State("escrow is %s, cannot move to %s", e.Status, to)
	}
	old := e.Status
	e.Status = to
	e.UpdatedAt = c.now

	c.record(agg, models.EntityEscrow, e.ID, fmt.Sprintf("escrow_status_%s_to_%s", old, to),
		map[string]any{"old_status": old, "new_status": to})
	c.transitions = append(c.transitions, [2]string{models.EntityEscrow, to})
	return nil
}

func (c *changes) funds(agg *models.ProjectAggregate, m *models.Milestone, to string) error {
	f := m.Funds
	if f == nil {
		return apperrors.State("milestone %s has no escrowed funds", m.ID)
	}
	if !models.IsValidFundsTransition(f.Status, to) {
		return apperrors.State("milestone funds already %s", f.Status)
	}
	old := f.Status
	f.Status = to

	c.record(agg, models.EntityMilestone, m.ID, fmt.Sprintf("funds_%s_to_%s", old, to),
		map[string]any{"old_status": old, "new_status": to, "amount": f.Amount.String()})
	c.transitions = append(c.transitions, [2]string{"funds", to})
	return nil
}

func (c *changes) record(agg *models.ProjectAggregate, entityType string, entityID uuid.UUID, action string, meta map[string]any) {
	projectID := agg.Project.ID
	id := entityID
	c.audits = append(c.audits, models.AuditLog{
		ProjectID:   &projectID,
		ActorUserID: c.actorID(),
		ActorType:   c.actorType(),
		Action:      action,
		EntityType:  entityType,
		EntityID:    &id,
		Meta:        meta,
		CreatedAt:   c.now,
	})
}

func (c *changes) emit(agg *models.ProjectAggregate, eventType string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["project_id"] = agg.Project.ID.String()
	c.events = append(c.events, events.Event{
		Type:       eventType,
		ProjectID:  agg.Project.ID.String(),
		Recipients: participants(&agg.Project),
		Payload:    payload,
		OccurredAt: c.now,
	})
}

func participants(p *models.Project) []string {
	out := []string{p.EmployerID.String()}
	if p.FreelancerID != nil {
		out = append(out, p.FreelancerID.String())
	}
	return out
}

// core holds what every aggregate-mutating service needs.
type core struct {
	store     ProjectStore
	audit     AuditLogger
	publisher events.Publisher
	log       *zap.Logger
	now       func() time.Time
}

func newCore(store ProjectStore, audit AuditLogger, publisher events.Publisher, log *zap.Logger) core {
	return core{
		store:     store,
		audit:     audit,
		publisher: publisher,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// update runs fn inside the store's serialized section and flushes the
// collected audit entries and events once the write committed.
func (c *core) update(ctx context.Context, projectID uuid.UUID, actor models.Principal, fn func(*models.ProjectAggregate, *changes) error) (*models.ProjectAggregate, error) {
	ch := &changes{actor: actor}
	agg, err := c.store.Update(ctx, projectID, func(agg *models.ProjectAggregate) error {
		ch.reset(c.now())
		return fn(agg, ch)
	})
	if err != nil {
		return nil, err
	}
	c.flush(ctx, ch)
	return agg, nil
}

func (c *core) flush(ctx context.Context, ch *changes) {
	for _, entry := range ch.audits {
		_ = c.audit.Log(ctx, entry)
	}
	for _, ev := range ch.events {
		if err := c.publisher.Publish(ctx, events.StreamProject, ev); err != nil {
			c.log.Warn("event publish failed", zap.String("type", ev.Type), zap.Error(err))
		}
	}
	for _, t := range ch.transitions {
		metrics.RecordTransition(t[0], t[1])
	}
}

func requireAdmin(actor models.Principal) error {
	if !actor.IsAdmin() {
		return apperrors.Forbidden("admin role required")
	}
	return nil
}

func requireRole(actor models.Principal, role string) error {
	if actor.Role != role {
		return apperrors.Forbidden("%s role required", role)
	}
	return nil
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }
