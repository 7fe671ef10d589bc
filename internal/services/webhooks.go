package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/freelance-marketplace/backend/internal/metrics"
	"github.com/freelance-marketplace/backend/internal/payments"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidWebhook marks notifications that failed verification.
var ErrInvalidWebhook = errors.New("invalid webhook")

// WebhookService verifies processor notifications and routes them to the
// ledger. Deliveries are at-least-once; the event id is remembered only after
// handling succeeded.
type WebhookService struct {
	gateway  payments.Gateway
	ledger   *Ledger
	accounts *AccountService
	dedup    Deduper
	log      *zap.Logger
}

func NewWebhookService(gateway payments.Gateway, ledger *Ledger, accounts *AccountService, dedup Deduper, log *zap.Logger) *WebhookService {
	return &WebhookService{gateway: gateway, ledger: ledger, accounts: accounts, dedup: dedup, log: log}
}

func (s *WebhookService) Handle(ctx context.Context, payload []byte, signature string) error {
	ev, err := s.gateway.VerifyWebhook(payload, signature)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "invalid").Inc()
		s.log.Warn("webhook verification failed", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrInvalidWebhook, err)
	}

	key := "webhook:" + ev.ID
	if seen, err := s.dedup.Seen(ctx, key); err == nil && seen {
		metrics.WebhookEvents.WithLabelValues(ev.Type, "duplicate").Inc()
		s.log.Info("skipped duplicated webhook event", zap.String("event_id", ev.ID), zap.String("type", ev.Type))
		return nil
	}

	if err := s.dispatch(ctx, ev); err != nil {
		metrics.WebhookEvents.WithLabelValues(ev.Type, "error").Inc()
		s.log.Error("webhook handling failed", zap.String("event_id", ev.ID), zap.String("type", ev.Type), zap.Error(err))
		return err
	}

	_ = s.dedup.Mark(ctx, key)
	metrics.WebhookEvents.WithLabelValues(ev.Type, "ok").Inc()
	return nil
}

func (s *WebhookService) dispatch(ctx context.Context, ev *payments.WebhookEvent) error {
	switch ev.Type {
	case payments.EventPaymentSucceeded:
		if ev.Metadata[payments.MetaType] != payments.MetaTypeEscrow {
			s.log.Info("ignoring payment for non-escrow intent", zap.String("intent_id", ev.PaymentIntentID))
			return nil
		}
		notice := FundingNotice{
			EventID:         ev.ID,
			PaymentIntentID: ev.PaymentIntentID,
			Amount:          ev.AmountReceived,
			Currency:        ev.Currency,
		}
		if escrowID, err := uuid.Parse(ev.Metadata[payments.MetaEscrowID]); err == nil {
			return s.ledger.ConfirmFunding(ctx, escrowID, notice)
		}
		return s.ledger.ConfirmFundingByIntent(ctx, notice)

	case payments.EventPaymentFailed:
		s.log.Warn("escrow funding payment failed", zap.String("intent_id", ev.PaymentIntentID))
		return nil

	case payments.EventAccountUpdated:
		return s.accounts.SyncStatus(ctx, ev.AccountRef, ev.AccountActive, ev.AccountPending)

	default:
		s.log.Debug("ignoring webhook event", zap.String("type", ev.Type))
		return nil
	}
}
