package payments

import (
	"context"

	"github.com/freelance-marketplace/backend/internal/money"
)

// Webhook event types consumed from the processor.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
	EventAccountUpdated   = "account.updated"
)

// Metadata keys attached to payment intents.
const (
	MetaType      = "type"
	MetaProjectID = "project_id"
	MetaEscrowID  = "escrow_id"

	MetaTypeEscrow = "escrow"
)

// Gateway is the payment processor contract. Amounts cross it in minor units.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, in PaymentIntentInput) (*PaymentIntent, error)
	CreateTransfer(ctx context.Context, in TransferInput) (string, error)
	CreatePayout(ctx context.Context, in TransferInput) (string, error)
	CreateRefund(ctx context.Context, in RefundInput) (string, error)
	VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

type PaymentIntentInput struct {
	Amount         money.Amount
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

type PaymentIntent struct {
	ID           string
	ClientSecret string
}

type TransferInput struct {
	Amount         money.Amount
	Currency       string
	Destination    string
	Group          string
	Metadata       map[string]string
	IdempotencyKey string
}

// RefundInput refunds the whole payment when Amount is zero.
type RefundInput struct {
	PaymentIntentID string
	Amount          money.Amount
	Reason          string
	Metadata        map[string]string
	IdempotencyKey  string
}

// WebhookEvent is the verified, decoded part of a processor notification
// that the ledger cares about.
type WebhookEvent struct {
	ID              string
	Type            string
	PaymentIntentID string
	AmountReceived  money.Amount
	Currency        string
	Metadata        map[string]string
	AccountRef      string
	AccountActive   bool
	AccountPending  bool
}
