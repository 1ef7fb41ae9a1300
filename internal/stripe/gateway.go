// Package stripe takes card payments through Stripe PaymentIntents.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"

	"aurum/api/internal/payment"
)

const ProviderName = "stripe"

type paymentIntents interface {
	Create(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
	Retrieve(ctx context.Context, id string, params *stripe.PaymentIntentRetrieveParams) (*stripe.PaymentIntent, error)
	Cancel(ctx context.Context, id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

type refunds interface {
	Create(ctx context.Context, params *stripe.RefundCreateParams) (*stripe.Refund, error)
}

// Gateway implements payment.Provider on top of stripe-go.
type Gateway struct {
	intents       paymentIntents
	refunds       refunds
	webhookSecret string
}

func NewGateway(secretKey, webhookSecret string) *Gateway {
	sc := stripe.NewClient(secretKey)
	return &Gateway{intents: sc.V1PaymentIntents, refunds: sc.V1Refunds, webhookSecret: webhookSecret}
}

func (g *Gateway) Name() string { return ProviderName }

// CreatePayment opens a PaymentIntent tagged with the order id. The order id
// doubles as idempotency key so a retried checkout never opens two intents.
func (g *Gateway) CreatePayment(ctx context.Context, req payment.Request) (*payment.Session, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:       stripe.Int64(req.AmountCents),
		Currency:     stripe.String(strings.ToLower(req.Currency)),
		Description:  stripe.String(req.Description),
		ReceiptEmail: stripe.String(req.Email),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.AddMetadata("order_id", req.OrderID)
	params.AddMetadata("order_number", req.OrderNumber)
	params.SetIdempotencyKey("aurum-order-" + req.OrderID)

	pi, err := g.intents.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return &payment.Session{Provider: ProviderName, Ref: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (g *Gateway) FetchPayment(ctx context.Context, ref string) (*payment.Status, error) {
	pi, err := g.intents.Retrieve(ctx, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("retrieve payment intent %s: %w", ref, err)
	}
	return intentStatus(pi), nil
}

// intentStatus maps a PaymentIntent onto the provider-neutral status. The
// PaymentIntent id is the transaction id payments are deduplicated on.
func intentStatus(pi *stripe.PaymentIntent) *payment.Status {
	st := &payment.Status{
		Ref:         pi.ID,
		State:       payment.StatePending,
		AmountCents: pi.Amount,
		Currency:    strings.ToUpper(string(pi.Currency)),
		OrderID:     pi.Metadata["order_id"],
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		st.State = payment.StatePaid
		st.TransactionID = pi.ID
		if pi.AmountReceived > 0 {
			st.AmountCents = pi.AmountReceived
		}
	case stripe.PaymentIntentStatusCanceled:
		st.State = payment.StateFailed
	}
	return st
}

// CancelPayment cancels an unpaid PaymentIntent. Stripe refuses once the
// intent has succeeded or is processing.
func (g *Gateway) CancelPayment(ctx context.Context, ref string) error {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	if _, err := g.intents.Cancel(ctx, ref, params); err != nil {
		return fmt.Errorf("cancel payment intent %s: %w", ref, err)
	}
	return nil
}

func (g *Gateway) Refund(ctx context.Context, transactionID string, amountCents int64, _ string) error {
	if transactionID == "" {
		return errors.New("refund needs a payment intent id")
	}
	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(transactionID),
		Amount:        stripe.Int64(amountCents),
	}
	params.SetIdempotencyKey("aurum-refund-" + transactionID)
	if _, err := g.refunds.Create(ctx, params); err != nil {
		return fmt.Errorf("create refund: %w", err)
	}
	return nil
}
