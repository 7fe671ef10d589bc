package services

import (
	"context"
	"strings"
	"time"

	"github.com/freelance-marketplace/backend/internal/apperrors"
	"github.com/freelance-marketplace/backend/internal/models"
	"go.uber.org/zap"
)

// AccountService tracks freelancers' connected payout accounts.
type AccountService struct {
	accounts AccountStore
	log      *zap.Logger
}

func NewAccountService(accounts AccountStore, log *zap.Logger) *AccountService {
	return &AccountService{accounts: accounts, log: log}
}

// Connect links a processor account to the freelancer. It stays pending until
// the processor reports onboarding finished.
func (s *AccountService) Connect(ctx context.Context, actor models.Principal, accountRef string) (*models.PayoutAccount, error) {
	if err := requireRole(actor, models.RoleFreelancer); err != nil {
		return nil, err
	}
	accountRef = strings.TrimSpace(accountRef)
	if !strings.HasPrefix(accountRef, "acct_") {
		return nil, apperrors.Validation("account reference must be a connected account id")
	}

	acct := &models.PayoutAccount{
		UserID:     actor.UserID,
		AccountRef: accountRef,
		Status:     models.AccountStatusPending,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := s.accounts.UpsertPayoutAccount(ctx, acct); err != nil {
		return nil, err
	}
	s.log.Info("payout account connected", zap.String("user_id", actor.UserID.String()), zap.String("account_ref", accountRef))
	return acct, nil
}

func (s *AccountService) Get(ctx context.Context, actor models.Principal) (*models.PayoutAccount, error) {
	acct, err := s.accounts.GetPayoutAccount(ctx, actor.UserID)
	if apperrors.IsNotFound(err) {
		return &models.PayoutAccount{UserID: actor.UserID, Status: models.AccountStatusNone}, nil
	}
	return acct, err
}

// SyncStatus applies an onboarding update reported by the processor.
func (s *AccountService) SyncStatus(ctx context.Context, accountRef string, active, pending bool) error {
	status := models.AccountStatusNone
	switch {
	case active:
		status = models.AccountStatusActive
	case pending:
		status = models.AccountStatusPending
	}
	err := s.accounts.SetStatusByRef(ctx, accountRef, status)
	if apperrors.IsNotFound(err) {
		s.log.Info("status update for unknown payout account", zap.String("account_ref", accountRef))
		return nil
	}
	return err
}
