package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/freelance-marketplace/backend/internal/apperrors"
	"github.com/freelance-marketplace/backend/internal/models"
	"github.com/freelance-marketplace/backend/internal/services"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// ProjectRepo stores project aggregates across the projects, milestones,
// escrows, applications, disputes and refunds tables.
type ProjectRepo struct {
	pool *pgxpool.Pool
}

func NewProjectRepo(pool *pgxpool.Pool) *ProjectRepo {
	return &ProjectRepo{pool: pool}
}

func (r *ProjectRepo) Create(ctx context.Context, agg *models.ProjectAggregate) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	p := &agg.Project
	_, err = tx.Exec(ctx, `
		INSERT INTO projects (id, employer_id, title, description, category, budget, deadline, status, required_skills, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, p.ID, p.EmployerID, p.Title, p.Description, p.Category, p.Budget, p.Deadline, p.Status, p.RequiredSkills, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return mapWriteErr("insert project", err)
	}
	if err := saveChildren(ctx, tx, agg); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *ProjectRepo) Get(ctx context.Context, projectID uuid.UUID) (*models.ProjectAggregate, error) {
	return loadAggregate(ctx, r.pool, projectID, false)
}

// Update locks the project row, hands the aggregate to fn and writes back
// whatever fn changed before committing.
func (r *ProjectRepo) Update(ctx context.Context, projectID uuid.UUID, fn func(*models.ProjectAggregate) error) (*models.ProjectAggregate, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	agg, err := loadAggregate(ctx, tx, projectID, true)
	if err != nil {
		return nil, err
	}
	version := agg.Project.Version
	if err := fn(agg); err != nil {
		return nil, err
	}

	p := &agg.Project
	tag, err := tx.Exec(ctx, `
		UPDATE projects SET
			freelancer_id = $1, title = $2, description = $3, category = $4, budget = $5,
			total_paid = $6, deadline = $7, status = $8, status_before_dispute = $9,
			required_skills = $10, rejection_reason = $11, rejected_by = $12, rejected_at = $13,
			version = version + 1, updated_at = $14
		WHERE id = $15 AND version = $16
	`, p.FreelancerID, p.Title, p.Description, p.Category, p.Budget,
		p.TotalPaid, p.Deadline, p.Status, p.StatusBeforeDispute,
		p.RequiredSkills, rejectionReason(p), rejectedBy(p), rejectedAt(p),
		p.UpdatedAt, p.ID, version)
	if err != nil {
		return nil, mapWriteErr("update project", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, apperrors.State("project %s was modified concurrently", p.ID)
	}
	if err := saveChildren(ctx, tx, agg); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	p.Version = version + 1
	return agg, nil
}

func (r *ProjectRepo) List(ctx context.Context, f services.ProjectFilter) ([]models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects p`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.Status != nil {
		where = append(where, fmt.Sprintf("p.status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}
	if f.EmployerID != nil {
		where = append(where, fmt.Sprintf("p.employer_id = $%d", argIdx))
		args = append(args, *f.EmployerID)
		argIdx++
	}
	if f.FreelancerID != nil {
		where = append(where, fmt.Sprintf("p.freelancer_id = $%d", argIdx))
		args = append(args, *f.FreelancerID)
		argIdx++
	}
	if f.Category != nil {
		where = append(where, fmt.Sprintf("p.category = $%d", argIdx))
		args = append(args, *f.Category)
		argIdx++
	}
	query += whereClause(where)

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY p.created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

func (r *ProjectRepo) ProjectIDByEscrow(ctx context.Context, escrowID uuid.UUID) (uuid.UUID, error) {
	return r.lookup(ctx, `SELECT project_id FROM escrows WHERE id = $1`, "escrow", escrowID)
}

func (r *ProjectRepo) ProjectIDByPaymentIntent(ctx context.Context, intentID string) (uuid.UUID, error) {
	return r.lookup(ctx, `SELECT project_id FROM escrows WHERE payment_intent_id = $1`, "payment intent", intentID)
}

func (r *ProjectRepo) ProjectIDByMilestone(ctx context.Context, milestoneID uuid.UUID) (uuid.UUID, error) {
	return r.lookup(ctx, `SELECT project_id FROM milestones WHERE id = $1`, "milestone", milestoneID)
}

func (r *ProjectRepo) ProjectIDByDispute(ctx context.Context, disputeID uuid.UUID) (uuid.UUID, error) {
	return r.lookup(ctx, `SELECT project_id FROM disputes WHERE id = $1`, "dispute", disputeID)
}

func (r *ProjectRepo) lookup(ctx context.Context, query, entity string, key any) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, query, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, apperrors.NotFound(entity, key)
	}
	return id, err
}

func (r *ProjectRepo) ListActiveWithoutEscrow(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT p.id FROM projects p
		LEFT JOIN escrows e ON e.project_id = p.id
		WHERE p.status IN ('active', 'in_progress') AND e.id IS NULL
		ORDER BY p.updated_at LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *ProjectRepo) ListDisputes(ctx context.Context, f services.DisputeFilter) ([]models.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes d`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.Status != nil {
		where = append(where, fmt.Sprintf("d.status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}
	if f.ProjectID != nil {
		where = append(where, fmt.Sprintf("d.project_id = $%d", argIdx))
		args = append(args, *f.ProjectID)
		argIdx++
	}
	query += whereClause(where)

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY d.created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var disputes []models.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		disputes = append(disputes, *d)
	}
	return disputes, rows.Err()
}

func whereClause(where []string) string {
	if len(where) == 0 {
		return ""
	}
	query := " WHERE "
	for i, w := range where {
		if i > 0 {
			query += " AND "
		}
		query += w
	}
	return query
}

// mapWriteErr turns constraint violations into state errors.
func mapWriteErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperrors.State("%s: duplicate %s", op, pgErr.ConstraintName)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func rejectionReason(p *models.Project) *string {
	if p.Rejection == nil {
		return nil
	}
	return &p.Rejection.Reason
}

func rejectedBy(p *models.Project) *uuid.UUID {
	if p.Rejection == nil {
		return nil
	}
	return &p.Rejection.RejectedBy
}

func rejectedAt(p *models.Project) any {
	if p.Rejection == nil {
		return nil
	}
	return p.Rejection.RejectedAt
}
