package repositories

import (
	"context"

	"github.com/freelance-marketplace/backend/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type StatsRepo struct {
	pool *pgxpool.Pool
}

func NewStatsRepo(pool *pgxpool.Pool) *StatsRepo {
	return &StatsRepo{pool: pool}
}

func (r *StatsRepo) PaymentStats(ctx context.Context) (*models.PaymentStats, error) {
	st := &models.PaymentStats{Escrows: []models.StatusTotal{}, Projects: []models.StatusTotal{}}

	var err error
	if st.Escrows, err = r.totals(ctx, `
		SELECT status, count(*), COALESCE(sum(amount), 0)::bigint FROM escrows GROUP BY status ORDER BY status
	`); err != nil {
		return nil, err
	}
	if st.Projects, err = r.totals(ctx, `
		SELECT status, count(*), COALESCE(sum(budget), 0)::bigint FROM projects GROUP BY status ORDER BY status
	`); err != nil {
		return nil, err
	}

	err = r.pool.QueryRow(ctx, `
		SELECT
			COALESCE(sum(m.funds_amount - m.funds_refunded) FILTER (WHERE m.funds_status = 'pending' AND e.status = 'funded'), 0)::bigint,
			COALESCE(sum(m.funds_amount - m.funds_refunded) FILTER (WHERE m.funds_status = 'released'), 0)::bigint
		FROM milestones m
		JOIN escrows e ON e.project_id = m.project_id
	`).Scan(&st.TotalHeld, &st.TotalReleased)
	if err != nil {
		return nil, err
	}

	err = r.pool.QueryRow(ctx, `
		SELECT
			(SELECT COALESCE(sum(amount), 0)::bigint FROM refunds),
			(SELECT count(*) FROM disputes WHERE status IN ('open', 'in_review')),
			(SELECT count(*) FROM reconciliation_tasks WHERE status = 'open')
	`).Scan(&st.TotalRefunded, &st.OpenDisputes, &st.OpenReconcile)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (r *StatsRepo) totals(ctx context.Context, query string) ([]models.StatusTotal, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.StatusTotal{}
	for rows.Next() {
		var t models.StatusTotal
		if err := rows.Scan(&t.Status, &t.Count, &t.Amount); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
