package services

import (
	"context"
	"sync"
	"testing"

	"github.com/freelance-marketplace/backend/internal/apperrors"
	"github.com/freelance-marketplace/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// race starts every fn at once and returns their errors in order.
func race(fns ...func() error) []error {
	errs := make([]error, len(fns))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, fn := range fns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs[i] = fn()
		}()
	}
	close(start)
	wg.Wait()
	return errs
}

// winner asserts that exactly one call succeeded and every other one was
// refused with a state error. It returns the index of the winner.
func winner(t *testing.T, errs []error) int {
	t.Helper()
	won := -1
	for i, err := range errs {
		if err == nil {
			require.Equal(t, -1, won, "more than one call succeeded")
			won = i
			continue
		}
		assert.True(t, apperrors.IsState(err), "call %d: %v", i, err)
	}
	require.NotEqual(t, -1, won, "no call succeeded")
	return won
}

const raceRounds = 20

func TestConcurrentReleasesPayOnce(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	agg := e.fundedProject(t, "1000")
	m := agg.Milestones[0]
	e.approveMilestone(t, m.ID)

	release := func() error {
		_, err := e.ledger.ReleaseMilestone(ctx, e.employer, agg.Escrow.ID, m.ID)
		return err
	}
	winner(t, race(release, release, release, release, release))

	require.Len(t, e.gateway.transfers, 1)
	agg = e.reload(t, agg.Project.ID)
	assert.Equal(t, models.MilestoneStatusPaid, agg.Milestone(m.ID).Status)
	assert.Equal(t, models.FundsStatusReleased, agg.Milestone(m.ID).Funds.Status)
	assert.Equal(t, amt("1000"), agg.Project.TotalPaid)
	assert.Equal(t, 1, countActions(e.audit.actions(), "funds_pending_to_released"))
}

func TestRefundRacingRelease(t *testing.T) {
	for round := 0; round < raceRounds; round++ {
		e := newTestEnv(t)
		ctx := context.Background()
		agg := e.fundedProject(t, "1000")
		m := agg.Milestones[0]
		e.approveMilestone(t, m.ID)

		won := winner(t, race(
			func() error {
				_, err := e.ledger.ReleaseMilestone(ctx, e.employer, agg.Escrow.ID, m.ID)
				return err
			},
			func() error {
				_, err := e.ledger.RefundEscrow(ctx, e.admin, agg.Escrow.ID, "client left")
				return err
			},
		))
		require.Equal(t, 1, e.gateway.moneyCalls(), "round %d", round)

		agg = e.reload(t, agg.Project.ID)
		funds := agg.Milestone(m.ID).Funds
		if won == 0 {
			assert.Equal(t, models.EscrowStatusReleased, agg.Escrow.Status)
			assert.Equal(t, models.ProjectStatusCompleted, agg.Project.Status)
			assert.Equal(t, models.FundsStatusReleased, funds.Status)
			assert.Empty(t, agg.Refunds)
			continue
		}
		assert.Equal(t, models.EscrowStatusRefunded, agg.Escrow.Status)
		assert.Equal(t, models.ProjectStatusCancelled, agg.Project.Status)
		assert.Equal(t, models.FundsStatusRefunded, funds.Status)
		assert.Equal(t, models.MilestoneStatusApproved, agg.Milestone(m.ID).Status)
		assert.Zero(t, agg.Project.TotalPaid)
	}
}

func TestDisputeRacingRelease(t *testing.T) {
	for round := 0; round < raceRounds; round++ {
		e := newTestEnv(t)
		ctx := context.Background()
		agg := e.fundedProject(t, "1000")
		m := agg.Milestones[0]
		e.approveMilestone(t, m.ID)

		won := winner(t, race(
			func() error {
				_, err := e.ledger.ReleaseMilestone(ctx, e.employer, agg.Escrow.ID, m.ID)
				return err
			},
			func() error {
				_, err := e.disputes.Raise(ctx, e.freelancer, agg.Project.ID, RaiseDisputeInput{
					Type:        models.DisputeTypePayment,
					Description: "release is overdue",
				})
				return err
			},
		))

		agg = e.reload(t, agg.Project.ID)
		if won == 0 {
			assert.Len(t, e.gateway.transfers, 1, "round %d", round)
			assert.Equal(t, models.ProjectStatusCompleted, agg.Project.Status)
			assert.Empty(t, agg.Disputes)
			continue
		}
		assert.Zero(t, e.gateway.moneyCalls(), "round %d", round)
		assert.Equal(t, models.ProjectStatusDisputed, agg.Project.Status)
		assert.Equal(t, models.FundsStatusPending, agg.Milestone(m.ID).Funds.Status)
		require.NotNil(t, agg.ActiveDispute())
	}
}
