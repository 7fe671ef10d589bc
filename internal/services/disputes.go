package services

import (
	"context"
	"strings"

	"github.com/freelance-marketplace/backend/internal/apperrors"
	"github.com/freelance-marketplace/backend/internal/events"
	"github.com/freelance-marketplace/backend/internal/models"
	"github.com/freelance-marketplace/backend/internal/money"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DisputeService freezes a project while a dispute is open and settles the
// escrow according to the admin's resolution.
type DisputeService struct {
	core
	ledger *Ledger
}

func NewDisputeService(store ProjectStore, ledger *Ledger, audit AuditLogger, publisher events.Publisher, log *zap.Logger) *DisputeService {
	return &DisputeService{core: newCore(store, audit, publisher, log), ledger: ledger}
}

type RaiseDisputeInput struct {
	Type        string
	Description string
	Evidence    []string
	MilestoneID *uuid.UUID
}

// Raise opens a dispute on a working project and puts it into disputed.
func (s *DisputeService) Raise(ctx context.Context, actor models.Principal, projectID uuid.UUID, in RaiseDisputeInput) (*models.Dispute, error) {
	if !models.IsValidDisputeType(in.Type) {
		return nil, apperrors.Validation("invalid dispute type %q, must be one of: %s", in.Type, strings.Join(models.AllDisputeTypes, ", "))
	}
	if strings.TrimSpace(in.Description) == "" {
		return nil, apperrors.Validation("dispute description is required")
	}

	var d *models.Dispute
	_, err := s.update(ctx, projectID, actor, func(agg *models.ProjectAggregate, ch *changes) error {
		p := &agg.Project
		if !p.IsParticipant(actor.UserID) {
			return apperrors.Forbidden("only project participants can raise a dispute")
		}
		if agg.ActiveDispute() != nil {
			return apperrors.State("project already has an open dispute")
		}
		if !models.IsProjectWorking(p.Status) {
			return apperrors.State("project is %s, disputes can only be raised on active projects", p.Status)
		}

		d = &models.Dispute{
			ID:          uuid.New(),
			ProjectID:   p.ID,
			RaisedBy:    actor.UserID,
			Type:        in.Type,
			Description: in.Description,
			Evidence:    append([]string{}, in.Evidence...),
			Status:      models.DisputeStatusOpen,
			CreatedAt:   ch.now,
			UpdatedAt:   ch.now,
		}

		if in.MilestoneID != nil {
			m := agg.Milestone(*in.MilestoneID)
			if m == nil {
				return apperrors.NotFound("milestone", *in.MilestoneID)
			}
			before := m.Status
			if err := ch.milestone(agg, m, models.MilestoneStatusDisputed); err != nil {
				return err
			}
			m.StatusBeforeDispute = &before
			id := m.ID
			d.MilestoneID = &id
		}

		before := p.Status
		if err := ch.project(agg, models.ProjectStatusDisputed); err != nil {
			return err
		}
		p.StatusBeforeDispute = &before

		agg.Disputes = append(agg.Disputes, d)
		ch.record(agg, models.EntityDispute, d.ID, "dispute_raised", map[string]any{"type": d.Type})
		ch.emit(agg, events.EventDisputeRaised, map[string]any{"dispute_id": d.ID.String(), "type": d.Type})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// AddMessage appends to the conversation of an unresolved dispute.
func (s *DisputeService) AddMessage(ctx context.Context, actor models.Principal, disputeID uuid.UUID, content string, attachments []string) (*models.DisputeMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.Validation("message content is required")
	}

	var msg models.DisputeMessage
	_, err := s.mutate(ctx, actor, disputeID, func(agg *models.ProjectAggregate, d *models.Dispute, ch *changes) error {
		if !agg.Project.IsParticipant(actor.UserID) && !actor.IsAdmin() {
			return apperrors.Forbidden("only participants can post to this dispute")
		}
		if !d.IsOpen() {
			return apperrors.State("dispute is %s", d.Status)
		}
		msg = models.DisputeMessage{
			ID:          uuid.New(),
			SenderID:    actor.UserID,
			Content:     content,
			Attachments: append([]string{}, attachments...),
			CreatedAt:   ch.now,
		}
		d.Messages = append(d.Messages, msg)
		d.UpdatedAt = ch.now
		ch.emit(agg, events.EventDisputeUpdated, map[string]any{"dispute_id": d.ID.String(), "message_id": msg.ID.String()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkInReview records that an admin picked the dispute up.
func (s *DisputeService) MarkInReview(ctx context.Context, actor models.Principal, disputeID uuid.UUID) (*models.Dispute, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.mutate(ctx, actor, disputeID, func(agg *models.ProjectAggregate, d *models.Dispute, ch *changes) error {
		if d.Status != models.DisputeStatusOpen {
			return apperrors.State("dispute is %s", d.Status)
		}
		d.Status = models.DisputeStatusInReview
		d.UpdatedAt = ch.now
		ch.record(agg, models.EntityDispute, d.ID, "dispute_in_review", nil)
		ch.emit(agg, events.EventDisputeUpdated, map[string]any{"dispute_id": d.ID.String(), "status": d.Status})
		return nil
	})
}

// Dismiss rejects the dispute without a settlement and restores the project
// and milestone to the statuses they held before it was raised.
func (s *DisputeService) Dismiss(ctx context.Context, actor models.Principal, disputeID uuid.UUID, notes string) (*models.Dispute, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.mutate(ctx, actor, disputeID, func(agg *models.ProjectAggregate, d *models.Dispute, ch *changes) error {
		if !d.IsOpen() {
			return apperrors.State("dispute is %s", d.Status)
		}
		p := &agg.Project
		if p.Status != models.ProjectStatusDisputed || p.StatusBeforeDispute == nil {
			return apperrors.State("project is %s", p.Status)
		}

		if d.MilestoneID != nil {
			if m := agg.Milestone(*d.MilestoneID); m != nil && m.Status == models.MilestoneStatusDisputed && m.StatusBeforeDispute != nil {
				if err := ch.milestone(agg, m, *m.StatusBeforeDispute); err != nil {
					return err
				}
				m.StatusBeforeDispute = nil
			}
		}
		if err := ch.project(agg, *p.StatusBeforeDispute); err != nil {
			return err
		}
		p.StatusBeforeDispute = nil

		d.Status = models.DisputeStatusRejected
		d.Resolution = &models.Resolution{
			Decision:   models.DecisionDismissed,
			Notes:      notes,
			ResolvedBy: actor.UserID,
			ResolvedAt: ch.now,
		}
		d.UpdatedAt = ch.now
		ch.record(agg, models.EntityDispute, d.ID, "dispute_rejected", map[string]any{"notes": notes})
		ch.emit(agg, events.EventDisputeResolved, map[string]any{"dispute_id": d.ID.String(), "decision": models.DecisionDismissed})
		return nil
	})
}

type ResolveInput struct {
	Decision string
	// RefundAmount is optional; nil means the decision's default.
	RefundAmount *money.Amount
	Notes        string
}

// Resolve settles the open dispute of a project. The refund, if any, is
// committed first and the resolution then makes the project terminal. When
// the decision favours the freelancer the funds still held are paid out
// afterwards; a payout that cannot be made yet is queued for reconciliation
// and the resolution stands. Other decisions leave any unrefunded remainder
// held and flag it for manual settlement. A failure before the resolution is
// recorded leaves the dispute open and Resolve can be called again without
// repeating the refund.
func (s *DisputeService) Resolve(ctx context.Context, actor models.Principal, projectID uuid.UUID, in ResolveInput) (*models.Dispute, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if !models.IsValidDecision(in.Decision) {
		return nil, apperrors.Validation("invalid decision %q", in.Decision)
	}

	var disputeID uuid.UUID
	var refundRef string
	var refundAmount money.Amount

	_, err := s.update(ctx, projectID, actor, func(agg *models.ProjectAggregate, ch *changes) error {
		d, err := disputeToResolve(agg)
		if err != nil {
			return err
		}
		disputeID = d.ID

		if d.Settlement == nil {
			st, err := planSettlement(agg, d, in)
			if err != nil {
				return err
			}
			d.Settlement = st
		} else if d.Settlement.Decision != in.Decision {
			return apperrors.State("dispute settlement already started as %s", d.Settlement.Decision)
		}
		st := d.Settlement
		if st.RefundRef != nil || st.RefundAmount == 0 {
			return nil
		}

		refundAmount = st.RefundAmount
		ref, err := s.ledger.refundForDispute(ctx, agg, ch, d, refundAmount)
		refundRef = ref
		if err != nil {
			return err
		}
		st.RefundRef = strPtr(ref)
		d.UpdatedAt = ch.now
		return nil
	})
	if err != nil {
		if refundRef != "" {
			return nil, s.ledger.consistency(ctx, "resolve dispute refund", models.ReconcileTask{
				Kind:         models.ReconcileEscrowRefund,
				ProjectID:    projectID,
				DisputeID:    &disputeID,
				ProcessorRef: refundRef,
				Amount:       refundAmount,
				Reason:       "dispute resolution",
				ActorID:      &actor.UserID,
			}, err)
		}
		return nil, err
	}

	agg, err := s.update(ctx, projectID, actor, func(agg *models.ProjectAggregate, ch *changes) error {
		d, err := disputeToResolve(agg)
		if err != nil {
			return err
		}
		if d.ID != disputeID {
			return apperrors.State("dispute changed during resolution")
		}
		st := d.Settlement

		d.Status = models.DisputeStatusResolved
		d.Resolution = &models.Resolution{
			Decision:     in.Decision,
			RefundAmount: st.RefundAmount,
			Notes:        in.Notes,
			ResolvedBy:   actor.UserID,
			ResolvedAt:   ch.now,
		}
		d.UpdatedAt = ch.now

		p := &agg.Project
		if err := ch.project(agg, models.DecisionProjectStatus[in.Decision]); err != nil {
			return err
		}
		p.StatusBeforeDispute = nil

		ch.record(agg, models.EntityDispute, d.ID, "dispute_resolved", map[string]any{
			"decision":      in.Decision,
			"refund_amount": st.RefundAmount.String(),
			"payout_amount": st.PayoutAmount.String(),
			"held_amount":   st.HeldAmount.String(),
		})
		ch.emit(agg, events.EventDisputeResolved, map[string]any{
			"dispute_id":    d.ID.String(),
			"decision":      in.Decision,
			"refund_amount": st.RefundAmount.String(),
			"payout_amount": st.PayoutAmount.String(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	d := agg.Dispute(disputeID)
	switch st := d.Settlement; {
	case st.PayoutAmount > 0:
		if err := s.ledger.settleDispute(ctx, actor, projectID, disputeID); err != nil {
			s.log.Warn("dispute payout deferred",
				zap.String("dispute_id", disputeID.String()),
				zap.String("amount", st.PayoutAmount.String()),
				zap.Error(err),
			)
		}
		if latest, err := s.store.Get(ctx, projectID); err == nil {
			d = latest.Dispute(disputeID)
		}
	case st.HeldAmount > 0:
		s.ledger.flagManual(ctx, models.ReconcileTask{
			Kind:      models.ReconcileDisputeSettlement,
			ProjectID: projectID,
			DisputeID: &disputeID,
			Amount:    st.HeldAmount,
			Reason:    "remainder held after " + in.Decision,
			ActorID:   &actor.UserID,
		})
	}
	return d, nil
}

func (s *DisputeService) Get(ctx context.Context, actor models.Principal, disputeID uuid.UUID) (*models.Dispute, error) {
	projectID, err := s.store.ProjectIDByDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	agg, err := s.store.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !agg.Project.IsParticipant(actor.UserID) && !actor.IsAdmin() {
		return nil, apperrors.Forbidden("only participants can view this dispute")
	}
	d := agg.Dispute(disputeID)
	if d == nil {
		return nil, apperrors.NotFound("dispute", disputeID)
	}
	return d, nil
}

func (s *DisputeService) List(ctx context.Context, f DisputeFilter) ([]models.Dispute, error) {
	return s.store.ListDisputes(ctx, f)
}

func (s *DisputeService) mutate(
	ctx context.Context,
	actor models.Principal,
	disputeID uuid.UUID,
	fn func(*models.ProjectAggregate, *models.Dispute, *changes) error,
) (*models.Dispute, error) {
	projectID, err := s.store.ProjectIDByDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	agg, err := s.update(ctx, projectID, actor, func(agg *models.ProjectAggregate, ch *changes) error {
		d := agg.Dispute(disputeID)
		if d == nil {
			return apperrors.NotFound("dispute", disputeID)
		}
		return fn(agg, d, ch)
	})
	if err != nil {
		return nil, err
	}
	return agg.Dispute(disputeID), nil
}

func disputeToResolve(agg *models.ProjectAggregate) (*models.Dispute, error) {
	if agg.Project.Status != models.ProjectStatusDisputed {
		return nil, apperrors.State("project is %s, only disputed projects can be resolved", agg.Project.Status)
	}
	d := agg.ActiveDispute()
	if d == nil {
		return nil, apperrors.State("project has no open dispute")
	}
	return d, nil
}

// refundFor applies the decision's refund rules to the requested amount.
func refundFor(decision string, requested *money.Amount, held money.Amount) (money.Amount, error) {
	if requested != nil && *requested < 0 {
		return 0, apperrors.Validation("refund amount must not be negative")
	}
	if requested != nil && *requested > held {
		return 0, apperrors.Validation("refund amount %s exceeds held funds %s", *requested, held)
	}

	switch decision {
	case models.DecisionEmployerFavor, models.DecisionRefund:
		if requested == nil {
			return held, nil
		}
		return *requested, nil
	case models.DecisionFreelancerFavor:
		if requested != nil && *requested != 0 {
			return 0, apperrors.Validation("freelancer_favor cannot refund the employer")
		}
		return 0, nil
	case models.DecisionCompromise:
		if requested == nil || *requested == 0 || *requested == held {
			return 0, apperrors.Validation("compromise needs a refund amount between zero and the held funds %s", held)
		}
		return *requested, nil
	}
	return 0, apperrors.Validation("invalid decision %q", decision)
}

// planSettlement splits the held funds into the employer's refund and the
// remainder. A dispute refund already recorded by reconciliation is reused.
func planSettlement(agg *models.ProjectAggregate, d *models.Dispute, in ResolveInput) (*models.Settlement, error) {
	remainder := agg.HeldFunds()
	st := &models.Settlement{Decision: in.Decision}
	if r := disputeRefund(agg, d.ID); r != nil {
		st.RefundAmount = r.Amount
		st.RefundRef = strPtr(r.RefundRef)
	} else {
		amount, err := refundFor(in.Decision, in.RefundAmount, remainder)
		if err != nil {
			return nil, err
		}
		st.RefundAmount = amount
		remainder -= amount
	}
	if models.PaysFreelancer(in.Decision) {
		st.PayoutAmount = remainder
	} else {
		st.HeldAmount = remainder
	}
	return st, nil
}

func disputeRefund(agg *models.ProjectAggregate, disputeID uuid.UUID) *models.Refund {
	for _, r := range agg.Refunds {
		if r.DisputeID != nil && *r.DisputeID == disputeID {
			return r
		}
	}
	return nil
}
