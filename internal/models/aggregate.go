package models

import (
	"github.com/freelance-marketplace/backend/internal/money"
	"github.com/google/uuid"
)

// ProjectAggregate is the unit of serialization: the project, its milestones
// with their funds, the escrow, applications, disputes and refund history.
// Every write to any of these goes through one store transaction.
type ProjectAggregate struct {
	Project      Project        `json:"project"`
	Milestones   []*Milestone   `json:"milestones"`
	Escrow       *Escrow        `json:"escrow,omitempty"`
	Applications []*Application `json:"applications,omitempty"`
	Disputes     []*Dispute     `json:"disputes,omitempty"`
	Refunds      []*Refund      `json:"refunds,omitempty"`
}

func (a *ProjectAggregate) Milestone(id uuid.UUID) *Milestone {
	for _, m := range a.Milestones {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (a *ProjectAggregate) Application(id uuid.UUID) *Application {
	for _, app := range a.Applications {
		if app.ID == id {
			return app
		}
	}
	return nil
}

func (a *ProjectAggregate) ApplicationBy(freelancerID uuid.UUID) *Application {
	for _, app := range a.Applications {
		if app.FreelancerID == freelancerID {
			return app
		}
	}
	return nil
}

func (a *ProjectAggregate) Dispute(id uuid.UUID) *Dispute {
	for _, d := range a.Disputes {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// ActiveDispute returns the unresolved dispute, if any.
func (a *ProjectAggregate) ActiveDispute() *Dispute {
	for _, d := range a.Disputes {
		if d.IsOpen() {
			return d
		}
	}
	return nil
}

// ResolvedDispute returns the dispute whose resolution closed the project.
func (a *ProjectAggregate) ResolvedDispute() *Dispute {
	for _, d := range a.Disputes {
		if d.Status == DisputeStatusResolved {
			return d
		}
	}
	return nil
}

func (a *ProjectAggregate) MilestoneSum() money.Amount {
	var sum money.Amount
	for _, m := range a.Milestones {
		sum += m.Amount
	}
	return sum
}

// HeldFunds is the funded amount not yet released or refunded.
func (a *ProjectAggregate) HeldFunds() money.Amount {
	if a.Escrow == nil || a.Escrow.Status != EscrowStatusFunded {
		return 0
	}
	var sum money.Amount
	for _, m := range a.Milestones {
		sum += m.Funds.Releasable()
	}
	return sum
}

// ReleasedFunds is the amount already paid out to the freelancer.
func (a *ProjectAggregate) ReleasedFunds() money.Amount {
	var sum money.Amount
	for _, m := range a.Milestones {
		if m.Funds != nil && m.Funds.Status == FundsStatusReleased {
			sum += m.Funds.Amount - m.Funds.Refunded
		}
	}
	return sum
}

// PendingFunds counts milestones whose funds are still held.
func (a *ProjectAggregate) PendingFunds() int {
	n := 0
	for _, m := range a.Milestones {
		if m.Funds != nil && m.Funds.Status == FundsStatusPending {
			n++
		}
	}
	return n
}

func (a *ProjectAggregate) EscrowView() *EscrowView {
	if a.Escrow == nil {
		return nil
	}
	v := &EscrowView{Escrow: *a.Escrow, Milestones: make([]EscrowMilestone, 0, len(a.Milestones))}
	for _, m := range a.Milestones {
		if m.Funds == nil {
			continue
		}
		v.Milestones = append(v.Milestones, EscrowMilestone{
			MilestoneID: m.ID,
			Amount:      m.Funds.Amount,
			Refunded:    m.Funds.Refunded,
			Status:      m.Funds.Status,
			TransferRef: m.Funds.TransferRef,
			ReleaseDate: m.Funds.ReleaseDate,
			ApprovedBy:  m.Funds.ApprovedBy,
			ApprovedAt:  m.Funds.ApprovedAt,
		})
	}
	return v
}

// Clone returns a deep copy so callers can mutate it without touching the original.
func (a *ProjectAggregate) Clone() *ProjectAggregate {
	c := &ProjectAggregate{Project: a.Project}
	c.Project.FreelancerID = clonePtr(a.Project.FreelancerID)
	c.Project.StatusBeforeDispute = clonePtr(a.Project.StatusBeforeDispute)
	c.Project.RequiredSkills = append([]string(nil), a.Project.RequiredSkills...)
	c.Project.Rejection = clonePtr(a.Project.Rejection)

	for _, m := range a.Milestones {
		mc := *m
		mc.StatusBeforeDispute = clonePtr(m.StatusBeforeDispute)
		mc.PaymentID = clonePtr(m.PaymentID)
		mc.Feedback = clonePtr(m.Feedback)
		if m.Submission != nil {
			s := *m.Submission
			s.Attachments = append([]string(nil), m.Submission.Attachments...)
			mc.Submission = &s
		}
		if m.Funds != nil {
			f := *m.Funds
			f.TransferRef = clonePtr(m.Funds.TransferRef)
			f.ReleaseDate = clonePtr(m.Funds.ReleaseDate)
			f.ApprovedBy = clonePtr(m.Funds.ApprovedBy)
			f.ApprovedAt = clonePtr(m.Funds.ApprovedAt)
			mc.Funds = &f
		}
		c.Milestones = append(c.Milestones, &mc)
	}

	if a.Escrow != nil {
		e := *a.Escrow
		e.FundingEventID = clonePtr(a.Escrow.FundingEventID)
		e.FundedAt = clonePtr(a.Escrow.FundedAt)
		e.RefundedAt = clonePtr(a.Escrow.RefundedAt)
		c.Escrow = &e
	}

	for _, app := range a.Applications {
		ac := *app
		ac.ResumeURL = clonePtr(app.ResumeURL)
		c.Applications = append(c.Applications, &ac)
	}

	for _, d := range a.Disputes {
		dc := *d
		dc.MilestoneID = clonePtr(d.MilestoneID)
		dc.Evidence = append([]string(nil), d.Evidence...)
		dc.Resolution = clonePtr(d.Resolution)
		if d.Settlement != nil {
			s := *d.Settlement
			s.RefundRef = clonePtr(d.Settlement.RefundRef)
			s.TransferRef = clonePtr(d.Settlement.TransferRef)
			dc.Settlement = &s
		}
		dc.Messages = nil
		for _, msg := range d.Messages {
			msg.Attachments = append([]string(nil), msg.Attachments...)
			dc.Messages = append(dc.Messages, msg)
		}
		c.Disputes = append(c.Disputes, &dc)
	}

	for _, r := range a.Refunds {
		rc := *r
		rc.DisputeID = clonePtr(r.DisputeID)
		c.Refunds = append(c.Refunds, &rc)
	}
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
