package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"aurum/api/internal/db"
	"aurum/api/internal/order"
	"aurum/api/internal/payment"
	"aurum/api/internal/repository"
)

const maxWebhookBody = 65536

// Handler serves the Stripe client confirmation and webhook endpoints.
type Handler struct {
	gateway *Gateway
	db      *db.DB
	orders  *order.Service
}

func NewHandler(g *Gateway, d *db.DB, orders *order.Service) *Handler {
	return &Handler{gateway: g, db: d, orders: orders}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Confirm handles POST /api/checkout/stripe/confirm after stripe.js reports
// success. The PaymentIntent is re-read from Stripe; the client's word is
// never trusted.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID         string `json:"orderId"`
		PaymentIntentID string `json:"paymentIntentId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" || req.PaymentIntentID == "" {
		respondError(w, http.StatusBadRequest, "orderId and paymentIntentId are required")
		return
	}

	pi, err := h.gateway.intents.Retrieve(r.Context(), req.PaymentIntentID, nil)
	if err != nil {
		log.Error().Err(err).Str("pi", req.PaymentIntentID).Msg("stripe: retrieve payment intent")
		respondError(w, http.StatusBadGateway, "could not verify payment with Stripe")
		return
	}
	if pi.Metadata["order_id"] != req.OrderID {
		respondError(w, http.StatusBadRequest, "payment does not belong to this order")
		return
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"paid":   false,
			"status": string(pi.Status),
		})
		return
	}

	res, err := h.confirm(r.Context(), pi, order.SourceClient)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, order.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, order.ErrAmountMismatch):
			status = http.StatusUnprocessableEntity
		}
		respondError(w, status, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"paid":        true,
		"outcome":     res.Outcome,
		"orderStatus": res.Order.Status,
	})
}

func (h *Handler) confirm(ctx context.Context, pi *stripe.PaymentIntent, source string) (*order.Result, error) {
	st := intentStatus(pi)
	if st.OrderID == "" {
		return nil, fmt.Errorf("payment intent %s has no order_id metadata", pi.ID)
	}
	return h.orders.ConfirmPayment(ctx, order.Confirmation{
		OrderID:       st.OrderID,
		Provider:      ProviderName,
		TransactionID: st.TransactionID,
		AmountCents:   st.AmountCents,
		Currency:      st.Currency,
		Source:        source,
	})
}

// Webhook handles POST /api/webhooks/stripe.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "could not read body")
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		respondError(w, http.StatusBadRequest, "missing signature")
		return
	}
	event, err := webhook.ConstructEventWithOptions(body, sigHeader, h.gateway.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                5 * time.Minute,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		log.Warn().Err(err).Msg("stripe: webhook signature rejected")
		respondError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	payment.ProcessWebhook(r.Context(), w, h.db, ProviderName, event.ID, string(event.Type), func(ctx context.Context) error {
		return h.handleEvent(ctx, &event)
	})
}

func (h *Handler) handleEvent(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return fmt.Errorf("decode payment intent: %w", err)
		}
		_, err := h.confirm(ctx, &pi, order.SourceWebhook)
		if errors.Is(err, order.ErrNotFound) {
			// Not one of ours; retrying will not help.
			log.Warn().Str("pi", pi.ID).Msg("stripe: payment for unknown order")
			return nil
		}
		return err

	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return fmt.Errorf("decode payment intent: %w", err)
		}
		reason := "payment failed"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			reason = "payment failed: " + pi.LastPaymentError.Msg
		}
		orderID := pi.Metadata["order_id"]
		log.Info().Str("order_id", orderID).Str("pi", pi.ID).Str("reason", reason).Msg("stripe: payment failed")
		if orderID == "" {
			return nil
		}
		err := h.orders.Note(ctx, orderID, order.SourceWebhook, reason)
		if errors.Is(err, order.ErrNotFound) {
			return nil
		}
		return err

	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return fmt.Errorf("decode charge: %w", err)
		}
		if ch.PaymentIntent == nil || !ch.Refunded {
			// Partial refunds are left for an operator.
			return nil
		}
		return h.markRefunded(ctx, ch.PaymentIntent.ID)

	default:
		log.Debug().Str("type", string(event.Type)).Msg("stripe: ignored webhook event")
		return nil
	}
}

func (h *Handler) markRefunded(ctx context.Context, piID string) error {
	p, err := repository.PaymentByProviderTxn(ctx, h.db, ProviderName, piID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn().Str("pi", piID).Msg("stripe: refund for unknown payment")
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := repository.MarkPaymentRefunded(ctx, h.db, ProviderName, piID); err != nil {
		return err
	}
	_, err = h.orders.MarkRefunded(ctx, p.OrderID, order.SourceWebhook, "refunded in Stripe")
	if errors.Is(err, order.ErrNotPaid) || errors.Is(err, order.ErrInvalidTransition) {
		log.Warn().Err(err).Str("order_id", p.OrderID).Msg("stripe: refund does not apply to order")
		return nil
	}
	return err
}
