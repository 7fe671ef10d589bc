package repositories

import (
	"context"
	"errors"

	"github.com/freelance-marketplace/backend/internal/apperrors"
	"github.com/freelance-marketplace/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

func (r *AccountRepo) GetPayoutAccount(ctx context.Context, userID uuid.UUID) (*models.PayoutAccount, error) {
	var a models.PayoutAccount
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, account_ref, status, updated_at FROM payout_accounts WHERE user_id = $1
	`, userID).Scan(&a.UserID, &a.AccountRef, &a.Status, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("payout account", userID)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepo) UpsertPayoutAccount(ctx context.Context, a *models.PayoutAccount) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payout_accounts (user_id, account_ref, status, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id) DO UPDATE SET account_ref = $2, status = $3, updated_at = now()
	`, a.UserID, a.AccountRef, a.Status)
	if err != nil {
		return mapWriteErr("upsert payout account", err)
	}
	return nil
}

func (r *AccountRepo) SetStatusByRef(ctx context.Context, accountRef, status string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payout_accounts SET status = $1, updated_at = now() WHERE account_ref = $2
	`, status, accountRef)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("payout account", accountRef)
	}
	return nil
}
