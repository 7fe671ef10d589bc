package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/freelance-marketplace/backend/internal/apperrors"
	"github.com/freelance-marketplace/backend/internal/models"
	"github.com/freelance-marketplace/backend/internal/money"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const projectColumns = `p.id, p.employer_id, p.freelancer_id, p.title, p.description, p.category,
	p.budget, p.total_paid, p.deadline, p.status, p.status_before_dispute, p.required_skills,
	p.rejection_reason, p.rejected_by, p.rejected_at, p.version, p.created_at, p.updated_at`

const disputeColumns = `d.id, d.project_id, d.milestone_id, d.raised_by, d.type, d.description,
	d.evidence, d.status, d.resolution, d.settlement, d.created_at, d.updated_at`

func loadAggregate(ctx context.Context, q querier, projectID uuid.UUID, forUpdate bool) (*models.ProjectAggregate, error) {
	query := `SELECT ` + projectColumns + ` FROM projects p WHERE p.id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanProject(q.QueryRow(ctx, query, projectID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("project", projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	agg := &models.ProjectAggregate{Project: *p}

	if agg.Milestones, err = loadMilestones(ctx, q, projectID); err != nil {
		return nil, err
	}
	if agg.Escrow, err = loadEscrow(ctx, q, projectID); err != nil {
		return nil, err
	}
	if agg.Applications, err = loadApplications(ctx, q, projectID); err != nil {
		return nil, err
	}
	if agg.Disputes, err = loadDisputes(ctx, q, projectID); err != nil {
		return nil, err
	}
	if agg.Refunds, err = loadRefunds(ctx, q, projectID); err != nil {
		return nil, err
	}
	return agg, nil
}

func scanProject(row pgx.Row) (*models.Project, error) {
	var p models.Project
	var reason *string
	var rejectedBy *uuid.UUID
	var rejectedAt *time.Time
	err := row.Scan(&p.ID, &p.EmployerID, &p.FreelancerID, &p.Title, &p.Description, &p.Category,
		&p.Budget, &p.TotalPaid, &p.Deadline, &p.Status, &p.StatusBeforeDispute, &p.RequiredSkills,
		&reason, &rejectedBy, &rejectedAt, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if reason != nil && rejectedBy != nil && rejectedAt != nil {
		p.Rejection = &models.Rejection{Reason: *reason, RejectedBy: *rejectedBy, RejectedAt: *rejectedAt}
	}
	return &p, nil
}

func loadMilestones(ctx context.Context, q querier, projectID uuid.UUID) ([]*models.Milestone, error) {
	rows, err := q.Query(ctx, `
		SELECT id, project_id, position, title, description, amount, due_date, status, status_before_dispute,
		       submission, feedback, payment_id,
		       funds_amount, funds_refunded, funds_status, transfer_ref, release_date, approved_by, approved_at,
		       created_at, updated_at
		FROM milestones WHERE project_id = $1
		ORDER BY position
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("load milestones: %w", err)
	}
	defer rows.Close()

	var out []*models.Milestone
	for rows.Next() {
		var m models.Milestone
		var fundsAmount *money.Amount
		var fundsStatus *string
		var f models.Funds
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Position, &m.Title, &m.Description, &m.Amount, &m.DueDate, &m.Status, &m.StatusBeforeDispute,
			&m.Submission, &m.Feedback, &m.PaymentID,
			&fundsAmount, &f.Refunded, &fundsStatus, &f.TransferRef, &f.ReleaseDate, &f.ApprovedBy, &f.ApprovedAt,
			&m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		if fundsStatus != nil && fundsAmount != nil {
			f.Amount = *fundsAmount
			f.Status = *fundsStatus
			m.Funds = &f
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func loadEscrow(ctx context.Context, q querier, projectID uuid.UUID) (*models.Escrow, error) {
	var e models.Escrow
	var intentID *string
	err := q.QueryRow(ctx, `
		SELECT id, project_id, amount, currency, status, payment_intent_id, client_secret,
		       funding_event_id, funded_at, refunded_at, created_at, updated_at
		FROM escrows WHERE project_id = $1
	`, projectID).Scan(&e.ID, &e.ProjectID, &e.Amount, &e.Currency, &e.Status, &intentID, &e.ClientSecret,
		&e.FundingEventID, &e.FundedAt, &e.RefundedAt, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load escrow: %w", err)
	}
	if intentID != nil {
		e.PaymentIntentID = *intentID
	}
	return &e, nil
}

func loadApplications(ctx context.Context, q querier, projectID uuid.UUID) ([]*models.Application, error) {
	rows, err := q.Query(ctx, `
		SELECT id, project_id, freelancer_id, proposal, resume_url, status, applied_at, updated_at
		FROM applications WHERE project_id = $1
		ORDER BY applied_at
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("load applications: %w", err)
	}
	defer rows.Close()

	var out []*models.Application
	for rows.Next() {
		var a models.Application
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.FreelancerID, &a.Proposal, &a.ResumeURL, &a.Status, &a.AppliedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func scanDispute(row pgx.Row) (*models.Dispute, error) {
	var d models.Dispute
	err := row.Scan(&d.ID, &d.ProjectID, &d.MilestoneID, &d.RaisedBy, &d.Type, &d.Description,
		&d.Evidence, &d.Status, &d.Resolution, &d.Settlement, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Messages = []models.DisputeMessage{}
	return &d, nil
}

func loadDisputes(ctx context.Context, q querier, projectID uuid.UUID) ([]*models.Dispute, error) {
	rows, err := q.Query(ctx, `SELECT `+disputeColumns+` FROM disputes d WHERE d.project_id = $1 ORDER BY d.created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("load disputes: %w", err)
	}
	var out []*models.Dispute
	byID := map[uuid.UUID]*models.Dispute{}
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, d)
		byID[d.ID] = d
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	rows, err = q.Query(ctx, `
		SELECT m.id, m.dispute_id, m.sender_id, m.content, m.attachments, m.created_at
		FROM dispute_messages m
		JOIN disputes d ON d.id = m.dispute_id
		WHERE d.project_id = $1
		ORDER BY m.created_at
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("load dispute messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var msg models.DisputeMessage
		var disputeID uuid.UUID
		if err := rows.Scan(&msg.ID, &disputeID, &msg.SenderID, &msg.Content, &msg.Attachments, &msg.CreatedAt); err != nil {
			return nil, err
		}
		if d := byID[disputeID]; d != nil {
			d.Messages = append(d.Messages, msg)
		}
	}
	return out, rows.Err()
}

func loadRefunds(ctx context.Context, q querier, projectID uuid.UUID) ([]*models.Refund, error) {
	rows, err := q.Query(ctx, `
		SELECT id, project_id, escrow_id, dispute_id, amount, reason, refund_ref, created_at
		FROM refunds WHERE project_id = $1
		ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("load refunds: %w", err)
	}
	defer rows.Close()

	var out []*models.Refund
	for rows.Next() {
		var r models.Refund
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.EscrowID, &r.DisputeID, &r.Amount, &r.Reason, &r.RefundRef, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// saveChildren upserts every child row of the aggregate in one batch.
// Messages and refunds are append-only.
func saveChildren(ctx context.Context, q querier, agg *models.ProjectAggregate) error {
	b := &pgx.Batch{}

	for _, m := range agg.Milestones {
		var fundsAmount *money.Amount
		var fundsStatus *string
		var f models.Funds
		if m.Funds != nil {
			f = *m.Funds
			fundsAmount = &f.Amount
			fundsStatus = &f.Status
		}
		b.Queue(`
			INSERT INTO milestones (id, project_id, position, title, description, amount, due_date, status, status_before_dispute,
			                        submission, feedback, payment_id,
			                        funds_amount, funds_refunded, funds_status, transfer_ref, release_date, approved_by, approved_at,
			                        created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status, status_before_dispute = EXCLUDED.status_before_dispute,
				submission = EXCLUDED.submission, feedback = EXCLUDED.feedback, payment_id = EXCLUDED.payment_id,
				funds_amount = EXCLUDED.funds_amount, funds_refunded = EXCLUDED.funds_refunded, funds_status = EXCLUDED.funds_status,
				transfer_ref = EXCLUDED.transfer_ref, release_date = EXCLUDED.release_date,
				approved_by = EXCLUDED.approved_by, approved_at = EXCLUDED.approved_at,
				updated_at = EXCLUDED.updated_at
		`, m.ID, m.ProjectID, m.Position, m.Title, m.Description, m.Amount, m.DueDate, m.Status, m.StatusBeforeDispute,
			m.Submission, m.Feedback, m.PaymentID,
			fundsAmount, f.Refunded, fundsStatus, f.TransferRef, f.ReleaseDate, f.ApprovedBy, f.ApprovedAt,
			m.CreatedAt, m.UpdatedAt)
	}

	if e := agg.Escrow; e != nil {
		var intentID *string
		if e.PaymentIntentID != "" {
			intentID = &e.PaymentIntentID
		}
		b.Queue(`
			INSERT INTO escrows (id, project_id, amount, currency, status, payment_intent_id, client_secret,
			                     funding_event_id, funded_at, refunded_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status, payment_intent_id = EXCLUDED.payment_intent_id,
				client_secret = EXCLUDED.client_secret, funding_event_id = EXCLUDED.funding_event_id,
				funded_at = EXCLUDED.funded_at, refunded_at = EXCLUDED.refunded_at, updated_at = EXCLUDED.updated_at
		`, e.ID, e.ProjectID, e.Amount, e.Currency, e.Status, intentID, e.ClientSecret,
			e.FundingEventID, e.FundedAt, e.RefundedAt, e.CreatedAt, e.UpdatedAt)
	}

	for _, a := range agg.Applications {
		b.Queue(`
			INSERT INTO applications (id, project_id, freelancer_id, proposal, resume_url, status, applied_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
		`, a.ID, a.ProjectID, a.FreelancerID, a.Proposal, a.ResumeURL, a.Status, a.AppliedAt, a.UpdatedAt)
	}

	for _, d := range agg.Disputes {
		b.Queue(`
			INSERT INTO disputes (id, project_id, milestone_id, raised_by, type, description, evidence, status,
			                      resolution, settlement, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status, resolution = EXCLUDED.resolution,
				settlement = EXCLUDED.settlement, updated_at = EXCLUDED.updated_at
		`, d.ID, d.ProjectID, d.MilestoneID, d.RaisedBy, d.Type, d.Description, d.Evidence, d.Status,
			d.Resolution, d.Settlement, d.CreatedAt, d.UpdatedAt)

		for _, msg := range d.Messages {
			b.Queue(`
				INSERT INTO dispute_messages (id, dispute_id, sender_id, content, attachments, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (id) DO NOTHING
			`, msg.ID, d.ID, msg.SenderID, msg.Content, msg.Attachments, msg.CreatedAt)
		}
	}

	for _, r := range agg.Refunds {
		b.Queue(`
			INSERT INTO refunds (id, project_id, escrow_id, dispute_id, amount, reason, refund_ref, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, r.ProjectID, r.EscrowID, r.DisputeID, r.Amount, r.Reason, r.RefundRef, r.CreatedAt)
	}

	if b.Len() == 0 {
		return nil
	}
	br := q.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return mapWriteErr("save project", err)
		}
	}
	return br.Close()
}
