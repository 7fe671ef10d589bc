package services

import (
	"context"

	"github.com/freelance-marketplace/backend/internal/metrics"
	"github.com/freelance-marketplace/backend/internal/models"
	"go.uber.org/zap"
)

// Reconciler replays processor side effects whose local write failed and
// retries escrow creation for projects that went active without one.
type Reconciler struct {
	store       ProjectStore
	tasks       ReconcileStore
	ledger      *Ledger
	maxAttempts int
	log         *zap.Logger
}

func NewReconciler(store ProjectStore, tasks ReconcileStore, ledger *Ledger, maxAttempts int, log *zap.Logger) *Reconciler {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Reconciler{store: store, tasks: tasks, ledger: ledger, maxAttempts: maxAttempts, log: log}
}

// RunOnce handles up to limit open tasks and reports how many were settled.
func (r *Reconciler) RunOnce(ctx context.Context, limit int) (int, error) {
	tasks, err := r.tasks.ListOpen(ctx, limit)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		log := r.log.With(
			zap.String("task_id", task.ID.String()),
			zap.String("kind", task.Kind),
			zap.String("project_id", task.ProjectID.String()),
			zap.String("processor_ref", task.ProcessorRef),
		)

		var applyErr error
		switch task.Kind {
		case models.ReconcileMilestoneRelease:
			applyErr = r.ledger.ReapplyRelease(ctx, task)
		case models.ReconcileEscrowRefund:
			applyErr = r.ledger.ReapplyRefund(ctx, task)
		case models.ReconcileEscrowCreation:
			_, applyErr = r.ledger.CreateEscrow(ctx, task.ProjectID)
		case models.ReconcileDisputeSettlement:
			applyErr = r.ledger.SettleDispute(ctx, task)
		default:
			if err := r.tasks.MarkManual(ctx, task.ID, "needs manual settlement"); err != nil {
				log.Error("failed to mark task manual", zap.Error(err))
			}
			metrics.ReconcileTasks.WithLabelValues(task.Kind, "manual").Inc()
			log.Warn("reconciliation task needs manual handling", zap.String("priority", "reconcile"))
			continue
		}

		if applyErr == nil {
			if err := r.tasks.MarkDone(ctx, task.ID); err != nil {
				log.Error("failed to mark task done", zap.Error(err))
				continue
			}
			metrics.ReconcileTasks.WithLabelValues(task.Kind, "done").Inc()
			log.Info("reconciliation task applied")
			done++
			continue
		}

		if task.Attempts+1 >= r.maxAttempts {
			_ = r.tasks.MarkManual(ctx, task.ID, applyErr.Error())
			metrics.ReconcileTasks.WithLabelValues(task.Kind, "manual").Inc()
			log.Error("reconciliation gave up", zap.String("priority", "reconcile"), zap.Error(applyErr))
			continue
		}
		_ = r.tasks.RecordAttempt(ctx, task.ID, applyErr.Error())
		metrics.ReconcileTasks.WithLabelValues(task.Kind, "retry").Inc()
		log.Warn("reconciliation attempt failed", zap.Error(applyErr))
	}
	return done, nil
}

// RetryEscrowCreation opens escrows for active projects that have none.
func (r *Reconciler) RetryEscrowCreation(ctx context.Context, limit int) (int, error) {
	ids, err := r.store.ListActiveWithoutEscrow(ctx, limit)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return created, ctx.Err()
		}
		if _, err := r.ledger.CreateEscrow(ctx, id); err != nil {
			r.log.Warn("escrow creation retry failed", zap.String("project_id", id.String()), zap.Error(err))
			continue
		}
		created++
	}
	return created, nil
}
