package services

import (
	"context"
	"testing"

	"github.com/freelance-marketplace/backend/internal/apperrors"
	"github.com/freelance-marketplace/backend/internal/models"
	"github.com/freelance-marketplace/backend/internal/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisputeFreezesAndRefundResolution(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	agg := e.fundedProject(t, "1000")
	m := agg.Milestones[0]

	_, err := e.milestones.Submit(ctx, e.freelancer, m.ID, SubmissionInput{Description: "delivered"})
	require.NoError(t, err)

	d, err := e.disputes.Raise(ctx, e.employer, agg.Project.ID, RaiseDisputeInput{
		Type:        models.DisputeTypeQuality,
		Description: "work does not match the brief",
	})
	require.NoError(t, err)
	assert.Equal(t, models.DisputeStatusOpen, d.Status)

	agg = e.reload(t, agg.Project.ID)
	assert.Equal(t, models.ProjectStatusDisputed, agg.Project.Status)
	assert.Equal(t, models.ProjectStatusInProgress, *agg.Project.StatusBeforeDispute)

	_, err = e.milestones.Approve(ctx, e.employer, m.ID, "")
	assert.True(t, apperrors.IsState(err), "approve while disputed: %v", err)
	_, err = e.ledger.ReleaseMilestone(ctx, e.employer, agg.Escrow.ID, m.ID)
	assert.True(t, apperrors.IsState(err), "release while disputed: %v", err)
	_, err = e.ledger.RefundEscrow(ctx, e.admin, agg.Escrow.ID, "bypass")
	assert.True(t, apperrors.IsState(err), "refund while disputed: %v", err)
	assert.Zero(t, e.gateway.moneyCalls())

	refund := amt("500")
	_, err = e.disputes.Resolve(ctx, e.employer, agg.Project.ID, ResolveInput{Decision: models.DecisionRefund, RefundAmount: &refund})
	assert.True(t, apperrors.IsAuthorization(err), "employer resolve: %v", err)

	resolved, err := e.disputes.Resolve(ctx, e.admin, agg.Project.ID, ResolveInput{
		Decision:     models.DecisionRefund,
		RefundAmount: &refund,
		Notes:        "half the work was usable",
	})
	require.NoError(t, err)
	assert.Equal(t, models.DisputeStatusResolved, resolved.Status)
	require.NotNil(t, resolved.Resolution)
	assert.Equal(t, models.DecisionRefund, resolved.Resolution.Decision)
	assert.Equal(t, refund, resolved.Resolution.RefundAmount)
	assert.Equal(t, e.admin.UserID, resolved.Resolution.ResolvedBy)

	require.Len(t, e.gateway.refunds, 1)
	assert.Equal(t, refund, e.gateway.refunds[0].Amount)
	assert.Empty(t, e.gateway.transfers)

	agg = e.reload(t, agg.Project.ID)
	assert.Equal(t, models.ProjectStatusCancelled, agg.Project.Status)
	assert.Nil(t, agg.Project.StatusBeforeDispute)
	require.Len(t, agg.Refunds, 1)
	assert.Equal(t, resolved.ID, *agg.Refunds[0].DisputeID)
	assert.Equal(t, amt("500"), agg.HeldFunds())
	assert.Equal(t, amt("500"), resolved.Settlement.HeldAmount)
	assert.Zero(t, resolved.Settlement.PayoutAmount)
	assert.Equal(t, models.EscrowStatusFunded, agg.Escrow.Status)

	tasks := e.tasks.all()
	require.Len(t, tasks, 1)
	assert.Equal(t, models.ReconcileDisputeSettlement, tasks[0].Kind)
	assert.Equal(t, models.ReconcileStatusManual, tasks[0].Status)
	assert.Equal(t, amt("500"), tasks[0].Amount)
}

func TestEmployerFavorNeverPaysUnapprovedWork(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	agg := e.fundedProject(t, "1000")
	m := agg.Milestones[0]

	_, err := e.disputes.Raise(ctx, e.employer, agg.Project.ID, RaiseDisputeInput{Type: models.DisputeTypeDeadline, Description: "nothing delivered"})
	require.NoError(t, err)
	refund := amt("500")
	resolved, err := e.disputes.Resolve(ctx, e.admin, agg.Project.ID, ResolveInput{Decision: models.DecisionEmployerFavor, RefundAmount: &refund})
	require.NoError(t, err)
	assert.Equal(t, models.DisputeStatusResolved, resolved.Status)

	assert.Empty(t, e.gateway.transfers)
	assert.Empty(t, e.gateway.payouts)
	agg = e.reload(t, agg.Project.ID)
	assert.Equal(t, models.ProjectStatusCancelled, agg.Project.Status)
	assert.Equal(t, models.MilestoneStatusPending, agg.Milestone(m.ID).Status)
	assert.Equal(t, models.FundsStatusPending, agg.Milestone(m.ID).Funds.Status)
	assert.Equal(t, amt("500"), agg.Milestone(m.ID).Funds.Refunded)
	assert.Zero(t, agg.Project.TotalPaid)
}

func TestCompromisePaysOutstandingMilestones(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	agg := e.fundedProject(t, "400", "600")
	first := agg.Milestones[0]
	_, err := e.milestones.Submit(ctx, e.freelancer, first.ID, SubmissionInput{Description: "v1"})
	require.NoError(t, err)

	_, err = e.disputes.Raise(ctx, e.freelancer, agg.Project.ID, RaiseDisputeInput{
		Type:        models.DisputeTypePayment,
		Description: "review stalled",
		MilestoneID: &first.ID,
	})
	require.NoError(t, err)
	refund := amt("300")
	resolved, err := e.disputes.Resolve(ctx, e.admin, agg.Project.ID, ResolveInput{Decision: models.DecisionCompromise, RefundAmount: &refund})
	require.NoError(t, err)
	require.NotNil(t, resolved.Settlement.TransferRef)
	assert.Equal(t, amt("700"), resolved.Settlement.PayoutAmount)

	require.Len(t, e.gateway.transfers, 1)
	assert.Equal(t, amt("700"), e.gateway.transfers[0].Amount)

	agg = e.reload(t, agg.Project.ID)
	assert.Equal(t, models.ProjectStatusCompleted, agg.Project.Status)
	assert.Equal(t, models.EscrowStatusReleased, agg.Escrow.Status)
	assert.Equal(t, amt("700"), agg.Project.TotalPaid)
	for _, m := range agg.Milestones {
		if m.Funds.Status == models.FundsStatusReleased {
			assert.Equal(t, models.MilestoneStatusPaid, m.Status, "milestone %d", m.Position)
			assert.Equal(t, *m.Funds.TransferRef, *m.PaymentID)
		}
	}
	assert.Nil(t, agg.Milestone(first.ID).StatusBeforeDispute)
}

func TestResolvedDisputeIsImmutable(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	agg := e.fundedProject(t, "700")
	m := agg.Milestones[0]
	e.approveMilestone(t, m.ID)

	_, err := e.disputes.Raise(ctx, e.freelancer, agg.Project.ID, RaiseDisputeInput{Type: models.DisputeTypePayment, Description: "release is overdue"})
	require.NoError(t, err)
	resolved, err := e.disputes.Resolve(ctx, e.admin, agg.Project.ID, ResolveInput{Decision: models.DecisionFreelancerFavor})
	require.NoError(t, err)
	calls := e.gateway.moneyCalls()

	agg = e.reload(t, agg.Project.ID)
	assert.Equal(t, models.ProjectStatusCompleted, agg.Project.Status)
	assert.Equal(t, amt("700"), agg.Project.TotalPaid)

	_, err = e.disputes.Resolve(ctx, e.admin, agg.Project.ID, ResolveInput{Decision: models.DecisionRefund})
	assert.True(t, apperrors.IsState(err), "second resolve: %v", err)
	_, err = e.disputes.Dismiss(ctx, e.admin, resolved.ID, "")
	assert.True(t, apperrors.IsState(err), "dismiss resolved: %v", err)
	_, err = e.disputes.AddMessage(ctx, e.employer, resolved.ID, "one more thing", nil)
	assert.True(t, apperrors.IsState(err), "message on resolved: %v", err)
	_, err = e.ledger.ReleaseMilestone(ctx, e.employer, agg.Escrow.ID, m.ID)
	assert.True(t, apperrors.IsState(err), "release after resolution: %v", err)
	_, err = e.ledger.RefundEscrow(ctx, e.admin, agg.Escrow.ID, "late")
	assert.True(t, apperrors.IsState(err), "refund after resolution: %v", err)
	assert.Equal(t, calls, e.gateway.moneyCalls())

	after, err := e.disputes.Get(ctx, e.admin, resolved.ID)
	require.NoError(t, err)
	assert.Equal(t, resolved.Resolution, after.Resolution)
}

func TestDismissRestoresStatuses(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	agg := e.fundedProject(t, "400", "600")
	m := agg.Milestones[0]
	_, err := e.milestones.Submit(ctx, e.freelancer, m.ID, SubmissionInput{Description: "v1"})
	require.NoError(t, err)

	d, err := e.disputes.Raise(ctx, e.freelancer, agg.Project.ID, RaiseDisputeInput{
		Type:        models.DisputeTypeDeadline,
		Description: "employer is not reviewing",
		MilestoneID: &m.ID,
	})
	require.NoError(t, err)
	agg = e.reload(t, agg.Project.ID)
	assert.Equal(t, models.MilestoneStatusDisputed, agg.Milestone(m.ID).Status)

	_, err = e.disputes.Raise(ctx, e.employer, agg.Project.ID, RaiseDisputeInput{Type: models.DisputeTypeOther, Description: "counter"})
	assert.True(t, apperrors.IsState(err), "second dispute: %v", err)

	_, err = e.disputes.MarkInReview(ctx, e.admin, d.ID)
	require.NoError(t, err)
	_, err = e.disputes.AddMessage(ctx, e.employer, d.ID, "reviewing now", nil)
	require.NoError(t, err)

	dismissed, err := e.disputes.Dismiss(ctx, e.admin, d.ID, "no grounds")
	require.NoError(t, err)
	assert.Equal(t, models.DisputeStatusRejected, dismissed.Status)
	assert.Equal(t, models.DecisionDismissed, dismissed.Resolution.Decision)
	assert.Len(t, dismissed.Messages, 1)

	agg = e.reload(t, agg.Project.ID)
	assert.Equal(t, models.ProjectStatusInProgress, agg.Project.Status)
	assert.Equal(t, models.MilestoneStatusSubmitted, agg.Milestone(m.ID).Status)
	assert.Nil(t, agg.Milestone(m.ID).StatusBeforeDispute)
	assert.Zero(t, e.gateway.moneyCalls())

	_, err = e.milestones.Approve(ctx, e.employer, m.ID, "")
	require.NoError(t, err)
}

func TestRaiseDisputeValidation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	open := e.openProject(t, "100")

	_, err := e.disputes.Raise(ctx, e.employer, open.Project.ID, RaiseDisputeInput{Type: "fraud", Description: "x"})
	assert.True(t, apperrors.IsValidation(err), "bad type: %v", err)

	_, err = e.disputes.Raise(ctx, e.employer, open.Project.ID, RaiseDisputeInput{Type: models.DisputeTypeOther, Description: "x"})
	assert.True(t, apperrors.IsState(err), "open project: %v", err)

	active := e.activeProject(t, "100")
	outsider := models.Principal{UserID: e.admin.UserID, Role: models.RoleEmployer}
	_, err = e.disputes.Raise(ctx, outsider, active.Project.ID, RaiseDisputeInput{Type: models.DisputeTypeOther, Description: "x"})
	assert.True(t, apperrors.IsAuthorization(err), "outsider: %v", err)
}

func TestResolveStandsWhenPayoutAccountPending(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	agg := e.fundedProject(t, "1000")
	m := agg.Milestones[0]
	_, err := e.disputes.Raise(ctx, e.employer, agg.Project.ID, RaiseDisputeInput{Type: models.DisputeTypeQuality, Description: "partial"})
	require.NoError(t, err)

	require.NoError(t, e.accounts.SetStatusByRef(ctx, "acct_freelancer", models.AccountStatusPending))
	refund := amt("300")
	resolved, err := e.disputes.Resolve(ctx, e.admin, agg.Project.ID, ResolveInput{Decision: models.DecisionCompromise, RefundAmount: &refund})
	require.NoError(t, err)
	assert.Equal(t, models.DisputeStatusResolved, resolved.Status)
	assert.Nil(t, resolved.Settlement.TransferRef)
	require.Len(t, e.gateway.refunds, 1)
	assert.Empty(t, e.gateway.transfers)

	agg = e.reload(t, agg.Project.ID)
	assert.Equal(t, models.ProjectStatusCompleted, agg.Project.Status)
	assert.Equal(t, amt("700"), agg.HeldFunds())
	assert.Equal(t, models.MilestoneStatusPending, agg.Milestone(m.ID).Status)

	tasks := e.tasks.all()
	require.Len(t, tasks, 1)
	assert.Equal(t, models.ReconcileDisputeSettlement, tasks[0].Kind)
	assert.Equal(t, models.ReconcileStatusOpen, tasks[0].Status)
	assert.Equal(t, resolved.ID, *tasks[0].DisputeID)

	// still pending: the reconciler retries without paying
	done, err := e.reconciler.RunOnce(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, done)
	assert.Empty(t, e.gateway.transfers)

	e.connectFreelancer(t)
	done, err = e.reconciler.RunOnce(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, done)
	require.Len(t, e.gateway.transfers, 1)
	assert.Equal(t, amt("700"), e.gateway.transfers[0].Amount)
	assert.Len(t, e.gateway.refunds, 1)

	agg = e.reload(t, agg.Project.ID)
	assert.Zero(t, agg.HeldFunds())
	assert.Equal(t, models.EscrowStatusReleased, agg.Escrow.Status)
	assert.Equal(t, models.MilestoneStatusPaid, agg.Milestone(m.ID).Status)
	assert.NotNil(t, agg.Dispute(resolved.ID).Settlement.TransferRef)

	_, err = e.disputes.Resolve(ctx, e.admin, agg.Project.ID, ResolveInput{Decision: models.DecisionCompromise, RefundAmount: &refund})
	assert.True(t, apperrors.IsState(err), "resolve again: %v", err)
}

func TestDisputePayoutCommitFailureIsReconciled(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	agg := e.fundedProject(t, "900")
	e.approveMilestone(t, agg.Milestones[0].ID)
	_, err := e.disputes.Raise(ctx, e.freelancer, agg.Project.ID, RaiseDisputeInput{Type: models.DisputeTypePayment, Description: "not released"})
	require.NoError(t, err)

	// settlement plan and resolution commit, the payout write fails
	e.store.failAfterCommits(2, 1)
	resolved, err := e.disputes.Resolve(ctx, e.admin, agg.Project.ID, ResolveInput{Decision: models.DecisionFreelancerFavor})
	require.NoError(t, err)
	assert.Equal(t, models.DisputeStatusResolved, resolved.Status)
	require.Len(t, e.gateway.transfers, 1)

	tasks := e.tasks.all()
	require.Len(t, tasks, 1)
	assert.Equal(t, models.ReconcileDisputeSettlement, tasks[0].Kind)
	assert.Equal(t, e.gateway.byKey[e.gateway.transfers[0].IdempotencyKey], tasks[0].ProcessorRef)

	done, err := e.reconciler.RunOnce(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, done)
	assert.Len(t, e.gateway.transfers, 1)

	agg = e.reload(t, agg.Project.ID)
	assert.Equal(t, models.MilestoneStatusPaid, agg.Milestones[0].Status)
	assert.Equal(t, tasks[0].ProcessorRef, *agg.Milestones[0].PaymentID)
	assert.Equal(t, amt("900"), agg.Project.TotalPaid)
}

func TestRefundFor(t *testing.T) {
	held := amt("1000")
	ptr := func(s string) *money.Amount { a := amt(s); return &a }
	negative := money.Amount(-100)

	tests := []struct {
		name      string
		decision  string
		requested *money.Amount
		want      money.Amount
		wantErr   bool
	}{
		{"employer favor defaults to everything", models.DecisionEmployerFavor, nil, held, false},
		{"refund with amount", models.DecisionRefund, ptr("500"), amt("500"), false},
		{"refund defaults to everything", models.DecisionRefund, nil, held, false},
		{"freelancer favor refunds nothing", models.DecisionFreelancerFavor, nil, 0, false},
		{"freelancer favor rejects refund", models.DecisionFreelancerFavor, ptr("1"), 0, true},
		{"compromise split", models.DecisionCompromise, ptr("250"), amt("250"), false},
		{"compromise needs amount", models.DecisionCompromise, nil, 0, true},
		{"compromise cannot be full", models.DecisionCompromise, ptr("1000"), 0, true},
		{"above held", models.DecisionRefund, ptr("1000.01"), 0, true},
		{"negative", models.DecisionRefund, &negative, 0, true},
		{"unknown decision", "coin_flip", nil, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := refundFor(tt.decision, tt.requested, held)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
