package services

import (
	"context"
	"strings"

	"github.com/freelance-marketplace/backend/internal/apperrors"
	"github.com/freelance-marketplace/backend/internal/events"
	"github.com/freelance-marketplace/backend/internal/metrics"
	"github.com/freelance-marketplace/backend/internal/models"
	"github.com/freelance-marketplace/backend/internal/money"
	"github.com/freelance-marketplace/backend/internal/payments"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// How released funds reach the freelancer.
const (
	PayoutMethodTransfer = "transfer"
	PayoutMethodPayout   = "payout"
)

type LedgerConfig struct {
	Currency     string
	PayoutMethod string
}

// Ledger owns the money state of a project: the escrow and the funds facet of
// every milestone. It is the only service that moves money.
type Ledger struct {
	core
	accounts  AccountStore
	reconcile ReconcileStore
	gateway   payments.Gateway
	cfg       LedgerConfig
}

func NewLedger(
	store ProjectStore,
	accounts AccountStore,
	reconcile ReconcileStore,
	gateway payments.Gateway,
	audit AuditLogger,
	publisher events.Publisher,
	cfg LedgerConfig,
	log *zap.Logger,
) *Ledger {
	if cfg.Currency == "" {
		cfg.Currency = "inr"
	}
	if cfg.PayoutMethod == "" {
		cfg.PayoutMethod = PayoutMethodTransfer
	}
	return &Ledger{
		core:      newCore(store, audit, publisher, log),
		accounts:  accounts,
		reconcile: reconcile,
		gateway:   gateway,
		cfg:       cfg,
	}
}

// CreateEscrow opens the escrow for a working project and asks the processor
// for a payment intent covering the budget. Calling it again once the escrow
// exists returns the existing escrow.
func (l *Ledger) CreateEscrow(ctx context.Context, projectID uuid.UUID) (*models.EscrowView, error) {
	var intent *payments.PaymentIntent
	var budget money.Amount

	agg, err := l.update(ctx, projectID, models.SystemPrincipal, func(agg *models.ProjectAggregate, ch *changes) error {
		if agg.Escrow != nil {
			return nil
		}
		p := &agg.Project
		if !models.IsProjectWorking(p.Status) {
			return apperrors.State("escrow can only be created for an active project, project is %s", p.Status)
		}
		if sum := agg.MilestoneSum(); sum != p.Budget {
			return apperrors.Validation("milestone amounts sum to %s but budget is %s", sum, p.Budget)
		}

		e := &models.Escrow{
			ID:        escrowID(p.ID),
			ProjectID: p.ID,
			Amount:    p.Budget,
			Currency:  l.cfg.Currency,
			Status:    models.EscrowStatusPending,
			CreatedAt: ch.now,
			UpdatedAt: ch.now,
		}
		budget = p.Budget

		if p.Budget > 0 && intent == nil {
			pi, err := l.gateway.CreatePaymentIntent(ctx, payments.PaymentIntentInput{
				Amount:   p.Budget,
				Currency: l.cfg.Currency,
				Metadata: map[string]string{
					payments.MetaType:      payments.MetaTypeEscrow,
					payments.MetaProjectID: p.ID.String(),
					payments.MetaEscrowID:  e.ID.String(),
				},
				IdempotencyKey: payments.IdempotencyKey("escrow", p.ID),
			})
			if err != nil {
				return err
			}
			intent = pi
		}
		if intent != nil {
			e.PaymentIntentID = intent.ID
			e.ClientSecret = intent.ClientSecret
		}

		agg.Escrow = e
		for _, m := range agg.Milestones {
			m.Funds = &models.Funds{Amount: m.Amount, Status: models.FundsStatusPending}
		}
		ch.record(agg, models.EntityEscrow, e.ID, "escrow_created",
			map[string]any{"amount": e.Amount.String(), "payment_intent_id": e.PaymentIntentID})
		ch.emit(agg, events.EventEscrowCreated, map[string]any{"escrow_id": e.ID.String(), "amount": e.Amount.String()})

		if p.Budget == 0 {
			// nothing to collect
			if err := ch.escrow(agg, models.EscrowStatusFunded); err != nil {
				return err
			}
			e.FundedAt = timePtr(ch.now)
		}
		return nil
	})
	if err != nil {
		if intent != nil {
			return nil, l.consistency(ctx, "create escrow", models.ReconcileTask{
				Kind:         models.ReconcileEscrowCreation,
				ProjectID:    projectID,
				ProcessorRef: intent.ID,
				Amount:       budget,
			}, err)
		}
		return nil, err
	}
	return agg.EscrowView(), nil
}

// escrowID is stable per project so a retried creation sends the processor
// the same parameters under the same idempotency key.
func escrowID(projectID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("escrow:"+projectID.String()))
}

// FundingNotice is the processor's report that the funding payment succeeded.
type FundingNotice struct {
	EventID         string
	PaymentIntentID string
	Amount          money.Amount
	Currency        string
}

// ConfirmFunding moves the escrow from pending to funded. An escrow id that
// matches nothing falls back to the payment intent. Unknown escrows and
// repeated notices are logged no-ops.
func (l *Ledger) ConfirmFunding(ctx context.Context, id uuid.UUID, n FundingNotice) error {
	projectID, err := l.store.ProjectIDByEscrow(ctx, id)
	if apperrors.IsNotFound(err) {
		if n.PaymentIntentID != "" {
			return l.ConfirmFundingByIntent(ctx, n)
		}
		l.log.Warn("funding confirmation for unknown escrow", zap.String("escrow_id", id.String()))
		return nil
	}
	if err != nil {
		return err
	}
	return l.confirm(ctx, projectID, id, n)
}

// ConfirmFundingByIntent resolves the escrow through its payment intent.
func (l *Ledger) ConfirmFundingByIntent(ctx context.Context, n FundingNotice) error {
	projectID, err := l.store.ProjectIDByPaymentIntent(ctx, n.PaymentIntentID)
	if apperrors.IsNotFound(err) {
		l.log.Warn("funding confirmation for unknown payment intent", zap.String("intent_id", n.PaymentIntentID))
		return nil
	}
	if err != nil {
		return err
	}
	return l.confirm(ctx, projectID, uuid.Nil, n)
}

func (l *Ledger) confirm(ctx context.Context, projectID, escrowID uuid.UUID, n FundingNotice) error {
	var funded, closed bool

	_, err := l.update(ctx, projectID, processorPrincipal, func(agg *models.ProjectAggregate, ch *changes) error {
		funded, closed = false, false
		e := agg.Escrow
		if e == nil || (escrowID != uuid.Nil && e.ID != escrowID) {
			l.log.Warn("funding confirmation for missing escrow", zap.String("project_id", projectID.String()))
			return nil
		}
		fields := []zap.Field{zap.String("escrow_id", e.ID.String()), zap.String("event_id", n.EventID)}

		if n.PaymentIntentID != "" && e.PaymentIntentID != n.PaymentIntentID {
			l.log.Warn("funding event for a different payment intent", append(fields, zap.String("intent_id", n.PaymentIntentID))...)
			return nil
		}
		if e.Status != models.EscrowStatusPending {
			l.log.Info("escrow already funded, ignoring repeated confirmation", append(fields, zap.String("status", e.Status))...)
			return nil
		}
		if n.Amount < e.Amount {
			l.log.Error("funding payment below escrow amount",
				append(fields, zap.String("received", n.Amount.String()), zap.String("expected", e.Amount.String()))...)
			return nil
		}
		if n.Currency != "" && !strings.EqualFold(n.Currency, e.Currency) {
			l.log.Error("funding payment currency mismatch",
				append(fields, zap.String("received", n.Currency), zap.String("expected", e.Currency))...)
			return nil
		}

		if err := ch.escrow(agg, models.EscrowStatusFunded); err != nil {
			return err
		}
		e.FundedAt = timePtr(ch.now)
		if n.EventID != "" {
			e.FundingEventID = strPtr(n.EventID)
		}
		ch.emit(agg, events.EventEscrowFunded, map[string]any{"escrow_id": e.ID.String(), "amount": e.Amount.String()})
		funded = true
		closed = models.IsProjectTerminal(agg.Project.Status)
		return nil
	})
	if err != nil {
		return err
	}

	if funded && closed {
		l.flagManual(ctx, models.ReconcileTask{
			Kind:         models.ReconcileEscrowRefund,
			ProjectID:    projectID,
			ProcessorRef: n.PaymentIntentID,
			Amount:       n.Amount,
			Reason:       "escrow funded after project closed",
		})
	}
	return nil
}

// ReleaseMilestone pays an approved milestone's held funds to the freelancer
// and marks the milestone paid in the same write.
func (l *Ledger) ReleaseMilestone(ctx context.Context, actor models.Principal, escrowID, milestoneID uuid.UUID) (*models.EscrowView, error) {
	projectID, err := l.store.ProjectIDByEscrow(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	var ref string
	var amount money.Amount
	agg, err := l.update(ctx, projectID, actor, func(agg *models.ProjectAggregate, ch *changes) error {
		p := &agg.Project
		if !p.IsEmployer(actor.UserID) && !actor.IsAdmin() {
			return apperrors.Forbidden("only the project employer can release milestone funds")
		}
		if p.Status == models.ProjectStatusDisputed {
			return apperrors.State("project is disputed, fund movement is frozen")
		}
		if !models.IsProjectWorking(p.Status) {
			return apperrors.State("project is %s", p.Status)
		}

		e := agg.Escrow
		if e == nil || e.ID != escrowID {
			return apperrors.NotFound("escrow", escrowID)
		}
		if e.Status != models.EscrowStatusFunded {
			return apperrors.State("escrow is %s, must be funded before release", e.Status)
		}
		m := agg.Milestone(milestoneID)
		if m == nil {
			return apperrors.NotFound("milestone", milestoneID)
		}
		if m.Funds == nil || m.Funds.Status != models.FundsStatusPending {
			return apperrors.State("milestone funds are not held")
		}
		if m.Status != models.MilestoneStatusApproved {
			return apperrors.State("milestone is %s, must be approved before release", m.Status)
		}

		if amount = m.Funds.Releasable(); amount > 0 {
			dest, err := l.payoutDestination(ctx, p)
			if err != nil {
				return err
			}
			r, err := l.pay(ctx, amount, e.Currency, dest, p.ID,
				payments.IdempotencyKey("release", m.ID),
				map[string]string{"milestone_id": m.ID.String(), payments.MetaProjectID: p.ID.String()})
			if err != nil {
				return err
			}
			ref = r
		}
		return l.applyRelease(agg, ch, m, ref, actor.UserID)
	})
	if err != nil {
		if ref != "" {
			return nil, l.consistency(ctx, "release milestone", models.ReconcileTask{
				Kind:         models.ReconcileMilestoneRelease,
				ProjectID:    projectID,
				MilestoneID:  &milestoneID,
				ProcessorRef: ref,
				Amount:       amount,
				ActorID:      &actor.UserID,
			}, err)
		}
		return nil, err
	}
	return agg.EscrowView(), nil
}

// RefundEscrow returns every held fund to the employer and closes the escrow.
func (l *Ledger) RefundEscrow(ctx context.Context, actor models.Principal, escrowID uuid.UUID, reason string) (*models.EscrowView, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	projectID, err := l.store.ProjectIDByEscrow(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	var ref string
	var amount money.Amount
	agg, err := l.update(ctx, projectID, actor, func(agg *models.ProjectAggregate, ch *changes) error {
		p := &agg.Project
		if p.Status == models.ProjectStatusDisputed {
			return apperrors.State("project is disputed, refunds go through dispute resolution")
		}
		if models.IsProjectTerminal(p.Status) {
			return apperrors.State("project is %s", p.Status)
		}
		e := agg.Escrow
		if e == nil || e.ID != escrowID {
			return apperrors.NotFound("escrow", escrowID)
		}
		r, held, err := l.refundHeld(ctx, agg, ch, reason)
		ref, amount = r, held
		if err != nil {
			return err
		}
		if models.IsProjectWorking(p.Status) {
			return ch.project(agg, models.ProjectStatusCancelled)
		}
		return nil
	})
	if err != nil {
		if ref != "" {
			return nil, l.consistency(ctx, "refund escrow", models.ReconcileTask{
				Kind:         models.ReconcileEscrowRefund,
				ProjectID:    projectID,
				ProcessorRef: ref,
				Amount:       amount,
				Reason:       reason,
				ActorID:      &actor.UserID,
			}, err)
		}
		return nil, err
	}
	return agg.EscrowView(), nil
}

// refundHeld refunds everything still held and marks the escrow refunded.
// It runs inside the caller's update.
func (l *Ledger) refundHeld(ctx context.Context, agg *models.ProjectAggregate, ch *changes, reason string) (string, money.Amount, error) {
	e := agg.Escrow
	if e == nil || e.Status != models.EscrowStatusFunded {
		status := "missing"
		if e != nil {
			status = e.Status
		}
		return "", 0, apperrors.State("escrow is %s, must be funded to refund", status)
	}
	held := agg.HeldFunds()
	if held == 0 {
		return "", 0, apperrors.State("escrow holds no funds")
	}

	ref, err := l.gateway.CreateRefund(ctx, payments.RefundInput{
		PaymentIntentID: e.PaymentIntentID,
		Amount:          held,
		Reason:          reason,
		Metadata:        map[string]string{payments.MetaEscrowID: e.ID.String()},
		IdempotencyKey:  payments.IdempotencyKey("refund", e.ID, held.Minor()),
	})
	if err != nil {
		return "", 0, err
	}
	return ref, held, l.applyRefund(agg, ch, ref, held, reason, nil, true)
}

// refundForDispute refunds part or all of the held funds as ordered by a
// dispute resolution.
func (l *Ledger) refundForDispute(ctx context.Context, agg *models.ProjectAggregate, ch *changes, d *models.Dispute, amount money.Amount) (string, error) {
	e := agg.Escrow
	if e == nil || e.Status != models.EscrowStatusFunded {
		return "", apperrors.State("escrow must be funded to refund")
	}
	if amount > agg.HeldFunds() {
		return "", apperrors.Validation("refund %s exceeds held funds %s", amount, agg.HeldFunds())
	}

	ref, err := l.gateway.CreateRefund(ctx, payments.RefundInput{
		PaymentIntentID: e.PaymentIntentID,
		Amount:          amount,
		Reason:          "dispute resolution",
		Metadata:        map[string]string{payments.MetaEscrowID: e.ID.String(), "dispute_id": d.ID.String()},
		IdempotencyKey:  payments.IdempotencyKey("dispute", d.ID, "refund"),
	})
	if err != nil {
		return "", err
	}
	return ref, l.applyRefund(agg, ch, ref, amount, "dispute resolution", &d.ID, false)
}

// settleDispute pays the freelancer's share of a dispute that was just
// resolved. A payout that cannot be made now is queued for the reconciler.
func (l *Ledger) settleDispute(ctx context.Context, actor models.Principal, projectID, disputeID uuid.UUID) error {
	ref, amount, err := l.payDispute(ctx, actor, projectID, disputeID, "", actor.UserID)
	if err == nil {
		return nil
	}
	task := models.ReconcileTask{
		Kind:         models.ReconcileDisputeSettlement,
		ProjectID:    projectID,
		DisputeID:    &disputeID,
		ProcessorRef: ref,
		Amount:       amount,
		Reason:       "dispute payout",
		ActorID:      &actor.UserID,
	}
	if ref != "" {
		return l.consistency(ctx, "settle dispute", task, err)
	}
	task.Status = models.ReconcileStatusOpen
	l.enqueue(ctx, task)
	return err
}

// SettleDispute retries the payout of a resolved dispute. A transfer the task
// already carries is recorded instead of being made again.
func (l *Ledger) SettleDispute(ctx context.Context, task models.ReconcileTask) error {
	if task.DisputeID == nil {
		return apperrors.Validation("settlement task without dispute")
	}
	resolver := uuid.Nil
	if task.ActorID != nil {
		resolver = *task.ActorID
	}
	_, _, err := l.payDispute(ctx, models.SystemPrincipal, task.ProjectID, *task.DisputeID, task.ProcessorRef, resolver)
	return err
}

// payDispute transfers the payout share of a resolved dispute and marks the
// milestones it covers paid. ref is a transfer already made for it, if any.
func (l *Ledger) payDispute(ctx context.Context, actor models.Principal, projectID, disputeID uuid.UUID, ref string, resolver uuid.UUID) (string, money.Amount, error) {
	var amount money.Amount
	_, err := l.update(ctx, projectID, actor, func(agg *models.ProjectAggregate, ch *changes) error {
		d := agg.Dispute(disputeID)
		if d == nil {
			return apperrors.NotFound("dispute", disputeID)
		}
		st := d.Settlement
		if d.Status != models.DisputeStatusResolved || st == nil {
			return apperrors.State("dispute is %s, payout follows resolution", d.Status)
		}
		if st.TransferRef != nil || st.PayoutAmount == 0 {
			return nil
		}
		e := agg.Escrow
		if e == nil || e.Status != models.EscrowStatusFunded {
			return apperrors.State("escrow must be funded to settle")
		}
		if held := agg.HeldFunds(); held != st.PayoutAmount {
			return apperrors.State("escrow holds %s, settlement expects %s", held, st.PayoutAmount)
		}
		amount = st.PayoutAmount

		if ref == "" {
			dest, err := l.payoutDestination(ctx, &agg.Project)
			if err != nil {
				return err
			}
			r, err := l.pay(ctx, amount, e.Currency, dest, agg.Project.ID,
				payments.IdempotencyKey("dispute", d.ID, "settle"),
				map[string]string{"dispute_id": d.ID.String(), payments.MetaProjectID: agg.Project.ID.String()})
			if err != nil {
				return err
			}
			ref = r
		}
		return l.applySettlement(agg, ch, d, ref, resolver)
	})
	return ref, amount, err
}

// applySettlement releases every held fund under one transfer. Each milestone
// it pays moves to paid with it.
func (l *Ledger) applySettlement(agg *models.ProjectAggregate, ch *changes, d *models.Dispute, ref string, resolver uuid.UUID) error {
	var paid money.Amount
	for _, m := range agg.Milestones {
		if m.Funds == nil || m.Funds.Status != models.FundsStatusPending {
			continue
		}
		amount := m.Funds.Releasable()
		if err := ch.funds(agg, m, models.FundsStatusReleased); err != nil {
			return err
		}
		f := m.Funds
		f.TransferRef = strPtr(ref)
		f.ReleaseDate = timePtr(ch.now)
		f.ApprovedAt = timePtr(ch.now)
		if resolver != uuid.Nil {
			f.ApprovedBy = &resolver
		}
		if err := ch.settleMilestone(agg, m); err != nil {
			return err
		}
		m.PaymentID = strPtr(ref)
		paid += amount
		ch.emit(agg, events.EventMilestonePaid, map[string]any{
			"milestone_id": m.ID.String(),
			"amount":       amount.String(),
			"transfer_ref": ref,
		})
	}
	agg.Project.TotalPaid += paid

	d.Settlement.TransferRef = strPtr(ref)
	d.UpdatedAt = ch.now
	ch.record(agg, models.EntityDispute, d.ID, "dispute_settled",
		map[string]any{"payout_amount": paid.String(), "transfer_ref": ref})
	return l.settleIfComplete(agg, ch)
}

func (l *Ledger) applyRelease(agg *models.ProjectAggregate, ch *changes, m *models.Milestone, ref string, approver uuid.UUID) error {
	amount := m.Funds.Releasable()
	if err := ch.funds(agg, m, models.FundsStatusReleased); err != nil {
		return err
	}
	f := m.Funds
	if ref != "" {
		f.TransferRef = strPtr(ref)
		m.PaymentID = strPtr(ref)
	}
	f.ReleaseDate = timePtr(ch.now)
	f.ApprovedAt = timePtr(ch.now)
	if approver != uuid.Nil {
		f.ApprovedBy = &approver
	}
	if err := ch.milestone(agg, m, models.MilestoneStatusPaid); err != nil {
		return err
	}
	agg.Project.TotalPaid += amount

	ch.emit(agg, events.EventMilestonePaid, map[string]any{
		"milestone_id": m.ID.String(),
		"amount":       amount.String(),
		"transfer_ref": ref,
	})
	return l.settleIfComplete(agg, ch)
}

// applyRefund spreads a refund over the held funds, latest milestone first,
// and appends it to the refund history. A full refund closes the escrow as
// refunded regardless of earlier releases.
func (l *Ledger) applyRefund(agg *models.ProjectAggregate, ch *changes, ref string, amount money.Amount, reason string, disputeID *uuid.UUID, full bool) error {
	e := agg.Escrow
	remaining := amount
	for i := len(agg.Milestones) - 1; i >= 0 && remaining > 0; i-- {
		m := agg.Milestones[i]
		held := m.Funds.Releasable()
		if held == 0 {
			continue
		}
		take := min(held, remaining)
		m.Funds.Refunded += take
		remaining -= take
		if m.Funds.Refunded == m.Funds.Amount {
			if err := ch.funds(agg, m, models.FundsStatusRefunded); err != nil {
				return err
			}
		}
	}
	if remaining > 0 {
		return apperrors.Validation("refund %s exceeds held funds", amount)
	}

	agg.Refunds = append(agg.Refunds, &models.Refund{
		ID:        uuid.New(),
		ProjectID: agg.Project.ID,
		EscrowID:  e.ID,
		DisputeID: disputeID,
		Amount:    amount,
		Reason:    reason,
		RefundRef: ref,
		CreatedAt: ch.now,
	})
	ch.record(agg, models.EntityEscrow, e.ID, "escrow_refund",
		map[string]any{"amount": amount.String(), "refund_ref": ref, "reason": reason})
	ch.emit(agg, events.EventEscrowRefunded, map[string]any{
		"escrow_id":  e.ID.String(),
		"amount":     amount.String(),
		"refund_ref": ref,
	})

	if full {
		if err := ch.escrow(agg, models.EscrowStatusRefunded); err != nil {
			return err
		}
		e.RefundedAt = timePtr(ch.now)
		return nil
	}
	return l.settleIfComplete(agg, ch)
}

// settleIfComplete closes a funded escrow once nothing is held any more and
// completes a working project whose funds were all paid out.
func (l *Ledger) settleIfComplete(agg *models.ProjectAggregate, ch *changes) error {
	e := agg.Escrow
	if e == nil || e.Status != models.EscrowStatusFunded || agg.PendingFunds() > 0 {
		return nil
	}
	if agg.ReleasedFunds() == 0 && len(agg.Refunds) > 0 {
		if err := ch.escrow(agg, models.EscrowStatusRefunded); err != nil {
			return err
		}
		e.RefundedAt = timePtr(ch.now)
		return nil
	}
	if err := ch.escrow(agg, models.EscrowStatusReleased); err != nil {
		return err
	}
	if models.IsProjectWorking(agg.Project.Status) {
		return ch.project(agg, models.ProjectStatusCompleted)
	}
	return nil
}

func (l *Ledger) payoutDestination(ctx context.Context, p *models.Project) (string, error) {
	if p.FreelancerID == nil {
		return "", apperrors.State("project has no assigned freelancer")
	}
	acct, err := l.accounts.GetPayoutAccount(ctx, *p.FreelancerID)
	if apperrors.IsNotFound(err) {
		return "", apperrors.Validation("freelancer has not connected a payout account")
	}
	if err != nil {
		return "", err
	}
	if !acct.CanReceive() {
		return "", apperrors.Validation("freelancer payout account is %s, must be active", acct.Status)
	}
	return acct.AccountRef, nil
}

func (l *Ledger) pay(ctx context.Context, amount money.Amount, currency, dest string, projectID uuid.UUID, key string, meta map[string]string) (string, error) {
	in := payments.TransferInput{
		Amount:         amount,
		Currency:       currency,
		Destination:    dest,
		Group:          "project:" + projectID.String(),
		Metadata:       meta,
		IdempotencyKey: key,
	}
	if l.cfg.PayoutMethod == PayoutMethodPayout {
		return l.gateway.CreatePayout(ctx, in)
	}
	return l.gateway.CreateTransfer(ctx, in)
}

// consistency reports a processor side effect whose local write failed and
// queues it for reconciliation.
func (l *Ledger) consistency(ctx context.Context, op string, task models.ReconcileTask, cause error) error {
	err := apperrors.Consistency(op, cause)
	metrics.ConsistencyErrors.WithLabelValues(task.Kind).Inc()
	l.log.Error("local write failed after processor side effect",
		zap.String("priority", "reconcile"),
		zap.String("kind", task.Kind),
		zap.String("project_id", task.ProjectID.String()),
		zap.String("processor_ref", task.ProcessorRef),
		zap.Error(cause),
	)
	task.Status = models.ReconcileStatusOpen
	l.enqueue(ctx, task)
	return err
}

func (l *Ledger) flagManual(ctx context.Context, task models.ReconcileTask) {
	l.log.Error("processor state needs manual reconciliation",
		zap.String("priority", "reconcile"),
		zap.String("kind", task.Kind),
		zap.String("project_id", task.ProjectID.String()),
		zap.String("processor_ref", task.ProcessorRef),
		zap.String("reason", task.Reason),
	)
	task.Status = models.ReconcileStatusManual
	l.enqueue(ctx, task)
}

func (l *Ledger) enqueue(ctx context.Context, task models.ReconcileTask) {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if err := l.reconcile.Enqueue(context.WithoutCancel(ctx), &task); err != nil {
		l.log.Error("failed to enqueue reconciliation task",
			zap.String("priority", "reconcile"),
			zap.String("kind", task.Kind),
			zap.String("processor_ref", task.ProcessorRef),
			zap.Error(err),
		)
	}
}

// ReapplyRelease records a release the processor already executed.
func (l *Ledger) ReapplyRelease(ctx context.Context, task models.ReconcileTask) error {
	if task.MilestoneID == nil {
		return apperrors.Validation("release task without milestone")
	}
	actor := models.SystemPrincipal
	approver := uuid.Nil
	if task.ActorID != nil {
		approver = *task.ActorID
	}

	_, err := l.update(ctx, task.ProjectID, actor, func(agg *models.ProjectAggregate, ch *changes) error {
		m := agg.Milestone(*task.MilestoneID)
		if m == nil {
			return apperrors.NotFound("milestone", *task.MilestoneID)
		}
		if m.Funds != nil && m.Funds.Status == models.FundsStatusReleased {
			if m.Funds.TransferRef != nil && *m.Funds.TransferRef == task.ProcessorRef {
				return nil
			}
			return apperrors.State("milestone funds released under a different transfer")
		}
		if agg.Escrow == nil || agg.Escrow.Status != models.EscrowStatusFunded {
			return apperrors.State("escrow is not funded")
		}
		if m.Status != models.MilestoneStatusApproved {
			return apperrors.State("milestone is %s, expected approved", m.Status)
		}
		return l.applyRelease(agg, ch, m, task.ProcessorRef, approver)
	})
	return err
}

// ReapplyRefund records a refund the processor already executed.
func (l *Ledger) ReapplyRefund(ctx context.Context, task models.ReconcileTask) error {
	_, err := l.update(ctx, task.ProjectID, models.SystemPrincipal, func(agg *models.ProjectAggregate, ch *changes) error {
		for _, r := range agg.Refunds {
			if r.RefundRef == task.ProcessorRef {
				return nil
			}
		}
		if agg.Escrow == nil || agg.Escrow.Status != models.EscrowStatusFunded {
			return apperrors.State("escrow is not funded")
		}
		full := task.DisputeID == nil
		if err := l.applyRefund(agg, ch, task.ProcessorRef, task.Amount, task.Reason, task.DisputeID, full); err != nil {
			return err
		}
		if full && models.IsProjectWorking(agg.Project.Status) {
			return ch.project(agg, models.ProjectStatusCancelled)
		}
		return nil
	})
	return err
}

// GetEscrow returns the escrow view to project participants and admins.
func (l *Ledger) GetEscrow(ctx context.Context, actor models.Principal, projectID uuid.UUID) (*models.EscrowView, error) {
	agg, err := l.store.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !agg.Project.IsParticipant(actor.UserID) && !actor.IsAdmin() {
		return nil, apperrors.Forbidden("only project participants can view the escrow")
	}
	if agg.Escrow == nil {
		return nil, apperrors.NotFound("escrow for project", projectID)
	}
	return agg.EscrowView(), nil
}
