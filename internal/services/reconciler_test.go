package services

import (
	"context"
	"errors"
	"testing"

	"github.com/freelance-marketplace/backend/internal/apperrors"
	"github.com/freelance-marketplace/backend/internal/models"
	"github.com/freelance-marketplace/backend/internal/payments"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefundCommitFailureIsReconciled(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	agg := e.fundedProject(t, "300", "200")

	e.store.failNextCommits(1)
	_, err := e.ledger.RefundEscrow(ctx, e.admin, agg.Escrow.ID, "client left")
	require.Error(t, err)
	assert.True(t, apperrors.IsConsistency(err), "got %v", err)

	agg = e.reload(t, agg.Project.ID)
	assert.Equal(t, models.EscrowStatusFunded, agg.Escrow.Status)
	assert.Empty(t, agg.Refunds)

	done, err := e.reconciler.RunOnce(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, done)

	agg = e.reload(t, agg.Project.ID)
	assert.Equal(t, models.EscrowStatusRefunded, agg.Escrow.Status)
	assert.Equal(t, models.ProjectStatusCancelled, agg.Project.Status)
	require.Len(t, agg.Refunds, 1)
	assert.Equal(t, e.gateway.byKey[e.gateway.refunds[0].IdempotencyKey], agg.Refunds[0].RefundRef)

	// a second pass finds nothing to do and does not refund again
	done, err = e.reconciler.RunOnce(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, done)
	assert.Len(t, e.gateway.refunds, 1)
}

func TestReconcilerGivesUpAfterMaxAttempts(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	missing := uuid.New()
	require.NoError(t, e.tasks.Enqueue(ctx, &models.ReconcileTask{
		ID:           uuid.New(),
		Kind:         models.ReconcileMilestoneRelease,
		ProjectID:    uuid.New(),
		MilestoneID:  &missing,
		ProcessorRef: "tr_lost",
		Status:       models.ReconcileStatusOpen,
	}))

	for i := 0; i < 3; i++ {
		done, err := e.reconciler.RunOnce(ctx, 10)
		require.NoError(t, err)
		assert.Zero(t, done)
	}

	tasks := e.tasks.all()
	require.Len(t, tasks, 1)
	assert.Equal(t, models.ReconcileStatusManual, tasks[0].Status)
	assert.Equal(t, 2, tasks[0].Attempts)
	require.NotNil(t, tasks[0].LastError)
}

func TestReconcilerMarksUnknownKindsManual(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, e.tasks.Enqueue(ctx, &models.ReconcileTask{
		ID:           uuid.New(),
		Kind:         "chargeback",
		ProjectID:    uuid.New(),
		ProcessorRef: "dp_1",
		Status:       models.ReconcileStatusOpen,
	}))

	done, err := e.reconciler.RunOnce(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, done)
	assert.Equal(t, models.ReconcileStatusManual, e.tasks.all()[0].Status)
}

func TestEscrowCreationCommitFailureIsReconciled(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	agg := e.openProject(t, "600")
	app, err := e.projects.Apply(ctx, e.freelancer, agg.Project.ID, "hi", nil)
	require.NoError(t, err)

	e.gateway.failNext = errors.New("timeout")
	res, err := e.projects.ApproveApplication(ctx, e.employer, agg.Project.ID, app.ID)
	require.NoError(t, err)
	require.Error(t, res.EscrowError)

	e.store.failNextCommits(1)
	_, err = e.ledger.CreateEscrow(ctx, agg.Project.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsConsistency(err), "got %v", err)
	require.Len(t, e.gateway.intents, 1)

	tasks := e.tasks.all()
	require.Len(t, tasks, 1)
	assert.Equal(t, models.ReconcileEscrowCreation, tasks[0].Kind)

	done, err := e.reconciler.RunOnce(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, done)

	agg = e.reload(t, agg.Project.ID)
	require.NotNil(t, agg.Escrow)
	assert.Equal(t, tasks[0].ProcessorRef, agg.Escrow.PaymentIntentID)
	assert.Len(t, e.gateway.intents, 1)
}

func TestEscrowCreationRetryAfterLostReply(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	agg := e.openProject(t, "450")
	app, err := e.projects.Apply(ctx, e.freelancer, agg.Project.ID, "hi", nil)
	require.NoError(t, err)

	// the processor creates the intent but the reply never arrives
	e.gateway.lostReply = errors.New("timeout")
	res, err := e.projects.ApproveApplication(ctx, e.employer, agg.Project.ID, app.ID)
	require.NoError(t, err)
	require.Error(t, res.EscrowError)
	require.Len(t, e.gateway.intents, 1)

	created, err := e.reconciler.RetryEscrowCreation(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Len(t, e.gateway.intents, 1)

	agg = e.reload(t, agg.Project.ID)
	require.NotNil(t, agg.Escrow)
	first := e.gateway.intents[0]
	assert.Equal(t, e.gateway.byKey[first.IdempotencyKey], agg.Escrow.PaymentIntentID)
	assert.Equal(t, agg.Escrow.ID.String(), first.Metadata[payments.MetaEscrowID])
}
