package repositories

import (
	"context"

	"github.com/freelance-marketplace/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ReconcileRepo struct {
	pool *pgxpool.Pool
}

func NewReconcileRepo(pool *pgxpool.Pool) *ReconcileRepo {
	return &ReconcileRepo{pool: pool}
}

// Enqueue records a task once per project and processor reference.
func (r *ReconcileRepo) Enqueue(ctx context.Context, t *models.ReconcileTask) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reconciliation_tasks (id, kind, project_id, milestone_id, dispute_id, processor_ref, amount, reason, actor_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (kind, project_id, processor_ref) DO NOTHING
	`, t.ID, t.Kind, t.ProjectID, t.MilestoneID, t.DisputeID, t.ProcessorRef, t.Amount, t.Reason, t.ActorID, t.Status)
	return err
}

// ListOpen returns the oldest open tasks.
func (r *ReconcileRepo) ListOpen(ctx context.Context, limit int) ([]models.ReconcileTask, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, kind, project_id, milestone_id, dispute_id, processor_ref, amount, reason, actor_id,
		       status, attempts, last_error, created_at, updated_at
		FROM reconciliation_tasks
		WHERE status = 'open'
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []models.ReconcileTask
	for rows.Next() {
		var t models.ReconcileTask
		if err := rows.Scan(&t.ID, &t.Kind, &t.ProjectID, &t.MilestoneID, &t.DisputeID, &t.ProcessorRef, &t.Amount, &t.Reason, &t.ActorID,
			&t.Status, &t.Attempts, &t.LastError, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *ReconcileRepo) MarkDone(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE reconciliation_tasks SET status = 'done', updated_at = now() WHERE id = $1
	`, id)
	return err
}

func (r *ReconcileRepo) MarkManual(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE reconciliation_tasks SET status = 'manual', last_error = $1, updated_at = now() WHERE id = $2
	`, reason, id)
	return err
}

func (r *ReconcileRepo) RecordAttempt(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE reconciliation_tasks SET attempts = attempts + 1, last_error = $1, updated_at = now() WHERE id = $2
	`, errMsg, id)
	return err
}
