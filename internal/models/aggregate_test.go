package models

import (
	"testing"

	"github.com/freelance-marketplace/backend/internal/money"
	"github.com/google/uuid"
)

func testAggregate() *ProjectAggregate {
	ref := "tr_1"
	return &ProjectAggregate{
		Project: Project{ID: uuid.New(), Budget: 100000, Status: ProjectStatusActive, RequiredSkills: []string{"go"}},
		Milestones: []*Milestone{
			{ID: uuid.New(), Amount: 40000, Status: MilestoneStatusPaid,
				Funds: &Funds{Amount: 40000, Status: FundsStatusReleased, TransferRef: &ref}},
			{ID: uuid.New(), Amount: 60000, Status: MilestoneStatusSubmitted,
				Submission: &Submission{Attachments: []string{"a.pdf"}},
				Funds:      &Funds{Amount: 60000, Refunded: 10000, Status: FundsStatusPending}},
		},
		Escrow: &Escrow{ID: uuid.New(), Amount: 100000, Status: EscrowStatusFunded},
	}
}

func TestAggregateFundsTotals(t *testing.T) {
	a := testAggregate()

	if got := a.MilestoneSum(); got != money.Amount(100000) {
		t.Errorf("MilestoneSum = %v", got)
	}
	if got := a.HeldFunds(); got != money.Amount(50000) {
		t.Errorf("HeldFunds = %v, want 500.00", got)
	}
	if got := a.ReleasedFunds(); got != money.Amount(40000) {
		t.Errorf("ReleasedFunds = %v, want 400.00", got)
	}
	if got := a.PendingFunds(); got != 1 {
		t.Errorf("PendingFunds = %d, want 1", got)
	}

	v := a.EscrowView()
	if len(v.Milestones) != 2 || v.Milestones[0].Status != FundsStatusReleased {
		t.Errorf("unexpected escrow view %+v", v.Milestones)
	}
}

func TestAggregateCloneIsDeep(t *testing.T) {
	a := testAggregate()
	c := a.Clone()

	c.Project.RequiredSkills[0] = "rust"
	c.Milestones[1].Funds.Status = FundsStatusReleased
	c.Milestones[1].Submission.Attachments[0] = "b.pdf"
	*c.Milestones[0].Funds.TransferRef = "tr_2"
	c.Escrow.Status = EscrowStatusReleased

	if a.Project.RequiredSkills[0] != "go" {
		t.Errorf("skills shared with clone")
	}
	if a.Milestones[1].Funds.Status != FundsStatusPending {
		t.Errorf("funds shared with clone")
	}
	if a.Milestones[1].Submission.Attachments[0] != "a.pdf" {
		t.Errorf("attachments shared with clone")
	}
	if *a.Milestones[0].Funds.TransferRef != "tr_1" {
		t.Errorf("transfer ref shared with clone")
	}
	if a.Escrow.Status != EscrowStatusFunded {
		t.Errorf("escrow shared with clone")
	}
}

func TestHeldFundsRequiresFundedEscrow(t *testing.T) {
	a := testAggregate()
	a.Escrow.Status = EscrowStatusPending
	if got := a.HeldFunds(); got != 0 {
		t.Errorf("HeldFunds on unfunded escrow = %v, want 0", got)
	}
}
