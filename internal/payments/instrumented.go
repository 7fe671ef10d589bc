package payments

import (
	"context"
	"time"

	"github.com/freelance-marketplace/backend/internal/metrics"
)

// Instrumented records latency and outcome of every processor call.
type Instrumented struct {
	next Gateway
}

func NewInstrumented(next Gateway) *Instrumented {
	return &Instrumented{next: next}
}

func (g *Instrumented) CreatePaymentIntent(ctx context.Context, in PaymentIntentInput) (*PaymentIntent, error) {
	start := time.Now()
	pi, err := g.next.CreatePaymentIntent(ctx, in)
	metrics.RecordGatewayCall("create_payment_intent", err, time.Since(start))
	return pi, err
}

func (g *Instrumented) CreateTransfer(ctx context.Context, in TransferInput) (string, error) {
	start := time.Now()
	ref, err := g.next.CreateTransfer(ctx, in)
	metrics.RecordGatewayCall("create_transfer", err, time.Since(start))
	return ref, err
}

func (g *Instrumented) CreatePayout(ctx context.Context, in TransferInput) (string, error) {
	start := time.Now()
	ref, err := g.next.CreatePayout(ctx, in)
	metrics.RecordGatewayCall("create_payout", err, time.Since(start))
	return ref, err
}

func (g *Instrumented) CreateRefund(ctx context.Context, in RefundInput) (string, error) {
	start := time.Now()
	ref, err := g.next.CreateRefund(ctx, in)
	metrics.RecordGatewayCall("create_refund", err, time.Since(start))
	return ref, err
}

func (g *Instrumented) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	start := time.Now()
	ev, err := g.next.VerifyWebhook(payload, signature)
	metrics.RecordGatewayCall("verify_webhook", err, time.Since(start))
	return ev, err
}
