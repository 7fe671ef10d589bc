package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/freelance-marketplace/backend/internal/apperrors"
	"github.com/freelance-marketplace/backend/internal/money"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

// StripeGateway talks to Stripe through an injected client.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	log           *zap.Logger
}

func NewStripeGateway(secretKey, webhookSecret string, log *zap.Logger) *StripeGateway {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return NewStripeGatewayWithClient(sc, webhookSecret, log)
}

func NewStripeGatewayWithClient(api *client.API, webhookSecret string, log *zap.Logger) *StripeGateway {
	return &StripeGateway{api: api, webhookSecret: webhookSecret, log: log}
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, in PaymentIntentInput) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(in.Amount.Minor()),
		Currency: stripe.String(strings.ToLower(in.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	setCommon(params.AddMetadata, &params.Params, in.Metadata, in.IdempotencyKey)

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, apperrors.External("create payment intent", err)
	}
	g.log.Info("payment intent created", zap.String("intent_id", pi.ID), zap.Int64("amount", pi.Amount))
	return &PaymentIntent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (g *StripeGateway) CreateTransfer(ctx context.Context, in TransferInput) (string, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(in.Amount.Minor()),
		Currency:    stripe.String(strings.ToLower(in.Currency)),
		Destination: stripe.String(in.Destination),
	}
	if in.Group != "" {
		params.TransferGroup = stripe.String(in.Group)
	}
	params.Context = ctx
	setCommon(params.AddMetadata, &params.Params, in.Metadata, in.IdempotencyKey)

	tr, err := g.api.Transfers.New(params)
	if err != nil {
		return "", apperrors.External("create transfer", err)
	}
	g.log.Info("transfer created", zap.String("transfer_id", tr.ID), zap.String("destination", in.Destination))
	return tr.ID, nil
}

// CreatePayout pays out from the connected account's balance to its bank.
func (g *StripeGateway) CreatePayout(ctx context.Context, in TransferInput) (string, error) {
	params := &stripe.PayoutParams{
		Amount:   stripe.Int64(in.Amount.Minor()),
		Currency: stripe.String(strings.ToLower(in.Currency)),
	}
	params.Context = ctx
	params.SetStripeAccount(in.Destination)
	setCommon(params.AddMetadata, &params.Params, in.Metadata, in.IdempotencyKey)

	po, err := g.api.Payouts.New(params)
	if err != nil {
		return "", apperrors.External("create payout", err)
	}
	g.log.Info("payout created", zap.String("payout_id", po.ID), zap.String("account", in.Destination))
	return po.ID, nil
}

func (g *StripeGateway) CreateRefund(ctx context.Context, in RefundInput) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(in.PaymentIntentID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if in.Amount > 0 {
		params.Amount = stripe.Int64(in.Amount.Minor())
	}
	meta := map[string]string{}
	for k, v := range in.Metadata {
		meta[k] = v
	}
	if in.Reason != "" {
		meta["reason"] = in.Reason
	}
	params.Context = ctx
	setCommon(params.AddMetadata, &params.Params, meta, in.IdempotencyKey)

	re, err := g.api.Refunds.New(params)
	if err != nil {
		return "", apperrors.External("create refund", err)
	}
	g.log.Info("refund created", zap.String("refund_id", re.ID), zap.String("intent_id", in.PaymentIntentID))
	return re.ID, nil
}

func (g *StripeGateway) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	return ParseStripeWebhook(payload, signature, g.webhookSecret)
}

// ParseStripeWebhook verifies the Stripe-Signature header and decodes the event.
func ParseStripeWebhook(payload []byte, signature, secret string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, apperrors.External("verify webhook", err)
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil {
		return out, nil
	}

	switch out.Type {
	case EventPaymentSucceeded, EventPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, apperrors.Validation("decode payment intent: %v", err)
		}
		out.PaymentIntentID = pi.ID
		out.AmountReceived = money.Amount(pi.AmountReceived)
		out.Currency = string(pi.Currency)
		out.Metadata = pi.Metadata
	case EventAccountUpdated:
		var acct stripe.Account
		if err := json.Unmarshal(event.Data.Raw, &acct); err != nil {
			return nil, apperrors.Validation("decode account: %v", err)
		}
		out.AccountRef = acct.ID
		out.AccountActive = acct.ChargesEnabled && acct.PayoutsEnabled
		out.AccountPending = !out.AccountActive && acct.DetailsSubmitted
	}
	return out, nil
}

func setCommon(addMetadata func(key, value string), p *stripe.Params, meta map[string]string, idempotencyKey string) {
	for k, v := range meta {
		addMetadata(k, v)
	}
	if idempotencyKey != "" {
		p.SetIdempotencyKey(idempotencyKey)
	}
}

// IdempotencyKey builds the processor idempotency key for a money movement.
func IdempotencyKey(parts ...any) string {
	s := make([]string, len(parts))
	for i, p := range parts {
		s[i] = fmt.Sprint(p)
	}
	return strings.Join(s, ":")
}
