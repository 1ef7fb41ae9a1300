package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"aurum/api/internal/db"
	"aurum/api/internal/money"
	"aurum/api/internal/order"
	"aurum/api/internal/payment"
	"aurum/api/internal/repository"
)

const maxWebhookBody = 65536

// Handler serves the PayPal capture and webhook endpoints.
type Handler struct {
	client *Client
	db     *db.DB
	orders *order.Service
}

func NewHandler(c *Client, d *db.DB, orders *order.Service) *Handler {
	return &Handler{client: c, db: d, orders: orders}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Capture handles POST /api/checkout/paypal/capture once the buyer approves
// the payment in the PayPal popup.
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID       string `json:"orderId"`
		PayPalOrderID string `json:"paypalOrderId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" || req.PayPalOrderID == "" {
		respondError(w, http.StatusBadRequest, "orderId and paypalOrderId are required")
		return
	}
	o, err := h.orders.Get(r.Context(), req.OrderID)
	if errors.Is(err, order.ErrNotFound) {
		respondError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "could not load order")
		return
	}
	if o.Provider != ProviderName || o.ProviderRef != req.PayPalOrderID {
		respondError(w, http.StatusBadRequest, "payment does not belong to this order")
		return
	}

	res, err := h.captureAndConfirm(r.Context(), req.PayPalOrderID, order.SourceClient)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, order.ErrAmountMismatch):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, errNotCompleted):
			status = http.StatusAccepted
		}
		log.Error().Err(err).Str("order_id", req.OrderID).Msg("paypal: capture")
		respondError(w, status, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"paid":        true,
		"outcome":     res.Outcome,
		"orderStatus": res.Order.Status,
	})
}

var errNotCompleted = errors.New("paypal payment not completed")

func (h *Handler) captureAndConfirm(ctx context.Context, ppOrderID, source string) (*order.Result, error) {
	st, err := h.client.Capture(ctx, ppOrderID)
	if err != nil {
		return nil, err
	}
	if st.State != payment.StatePaid {
		return nil, fmt.Errorf("%w: %s", errNotCompleted, st.State)
	}
	orderID := st.OrderID
	if orderID == "" {
		o, err := repository.OrderByProviderRef(ctx, h.db, ProviderName, ppOrderID)
		if err != nil {
			return nil, fmt.Errorf("find order for paypal order %s: %w", ppOrderID, err)
		}
		orderID = o.ID
	}
	return h.orders.ConfirmPayment(ctx, order.Confirmation{
		OrderID:       orderID,
		Provider:      ProviderName,
		TransactionID: st.TransactionID,
		AmountCents:   st.AmountCents,
		Currency:      st.Currency,
		Source:        source,
	})
}

type webhookEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

// Webhook handles POST /api/webhooks/paypal.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "could not read body")
		return
	}
	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil || ev.ID == "" {
		respondError(w, http.StatusBadRequest, "invalid event")
		return
	}
	if err := h.client.VerifyWebhook(r.Context(), r.Header, body); err != nil {
		log.Warn().Err(err).Str("event_id", ev.ID).Msg("paypal: webhook signature rejected")
		respondError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	payment.ProcessWebhook(r.Context(), w, h.db, ProviderName, ev.ID, ev.EventType, func(ctx context.Context) error {
		return h.handleEvent(ctx, &ev)
	})
}

func (h *Handler) handleEvent(ctx context.Context, ev *webhookEvent) error {
	switch ev.EventType {
	case "CHECKOUT.ORDER.APPROVED":
		var o ppOrder
		if err := json.Unmarshal(ev.Resource, &o); err != nil {
			return fmt.Errorf("decode order: %w", err)
		}
		_, err := h.captureAndConfirm(ctx, o.ID, order.SourceWebhook)
		switch {
		case errors.Is(err, order.ErrNotFound), errors.Is(err, repository.ErrNotFound):
			log.Warn().Str("paypal_order", o.ID).Msg("paypal: approval for unknown order")
			return nil
		case errors.Is(err, errNotCompleted):
			// PAYMENT.CAPTURE.COMPLETED follows once the capture clears.
			log.Info().Str("paypal_order", o.ID).Err(err).Msg("paypal: capture pending")
			return nil
		}
		return err

	case "PAYMENT.CAPTURE.COMPLETED":
		var cp struct {
			capture
			SupplementaryData struct {
				RelatedIDs struct {
					OrderID string `json:"order_id"`
				} `json:"related_ids"`
			} `json:"supplementary_data"`
		}
		if err := json.Unmarshal(ev.Resource, &cp); err != nil {
			return fmt.Errorf("decode capture: %w", err)
		}
		st, err := cp.status()
		if err != nil {
			return err
		}
		if st.State != payment.StatePaid {
			return nil
		}
		orderID := st.OrderID
		if orderID == "" {
			o, err := repository.OrderByProviderRef(ctx, h.db, ProviderName, cp.SupplementaryData.RelatedIDs.OrderID)
			if errors.Is(err, repository.ErrNotFound) {
				log.Warn().Str("capture_id", cp.ID).Msg("paypal: capture for unknown order")
				return nil
			}
			if err != nil {
				return err
			}
			orderID = o.ID
		}
		_, err = h.orders.ConfirmPayment(ctx, order.Confirmation{
			OrderID:       orderID,
			Provider:      ProviderName,
			TransactionID: st.TransactionID,
			AmountCents:   st.AmountCents,
			Currency:      st.Currency,
			Source:        order.SourceWebhook,
		})
		if errors.Is(err, order.ErrNotFound) {
			return nil
		}
		return err

	case "PAYMENT.CAPTURE.REFUNDED":
		var rf struct {
			ID                     string `json:"id"`
			Amount                 amount `json:"amount"`
			Links                  []link `json:"links"`
			SellerPayableBreakdown struct {
				TotalRefundedAmount amount `json:"total_refunded_amount"`
			} `json:"seller_payable_breakdown"`
		}
		if err := json.Unmarshal(ev.Resource, &rf); err != nil {
			return fmt.Errorf("decode refund: %w", err)
		}
		captureID := capturedFrom(rf.Links)
		if captureID == "" {
			return fmt.Errorf("refund %s has no capture link", rf.ID)
		}
		// The breakdown total covers earlier partial refunds of the same capture.
		refunded := rf.SellerPayableBreakdown.TotalRefundedAmount
		if refunded.Value == "" {
			refunded = rf.Amount
		}
		cents, err := money.ParseCents(refunded.Value)
		if err != nil {
			return fmt.Errorf("refund %s amount: %w", rf.ID, err)
		}
		return h.markRefunded(ctx, captureID, rf.ID, cents)

	case "PAYMENT.CAPTURE.DENIED":
		log.Warn().Str("event_id", ev.ID).Msg("paypal: capture denied")
		return nil

	default:
		log.Debug().Str("type", ev.EventType).Msg("paypal: ignored webhook event")
		return nil
	}
}

// capturedFrom extracts the capture id from a refund's "up" link.
func capturedFrom(links []link) string {
	for _, l := range links {
		if l.Rel != "up" {
			continue
		}
		if i := strings.Index(l.Href, "/captures/"); i >= 0 {
			return strings.Trim(l.Href[i+len("/captures/"):], "/")
		}
	}
	return ""
}

// markRefunded records a capture refunded in PayPal once refundedCents covers
// the whole capture. Partial refunds are noted on the order and left for an
// operator.
func (h *Handler) markRefunded(ctx context.Context, captureID, refundID string, refundedCents int64) error {
	p, err := repository.PaymentByProviderTxn(ctx, h.db, ProviderName, captureID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn().Str("capture_id", captureID).Msg("paypal: refund for unknown capture")
		return nil
	}
	if err != nil {
		return err
	}
	if refundedCents < p.AmountCents {
		log.Warn().Str("order_id", p.OrderID).Str("capture_id", captureID).Str("refund_id", refundID).
			Int64("refunded_cents", refundedCents).Int64("captured_cents", p.AmountCents).
			Msg("paypal: partial refund left for review")
		note := fmt.Sprintf("partial PayPal refund %s of %s", refundID, money.Format(refundedCents, p.Currency))
		err := h.orders.Note(ctx, p.OrderID, order.SourceWebhook, note)
		if errors.Is(err, order.ErrNotFound) {
			return nil
		}
		return err
	}
	if _, err := repository.MarkPaymentRefunded(ctx, h.db, ProviderName, captureID); err != nil {
		return err
	}
	_, err = h.orders.MarkRefunded(ctx, p.OrderID, order.SourceWebhook, "refunded in PayPal")
	if errors.Is(err, order.ErrNotPaid) || errors.Is(err, order.ErrInvalidTransition) {
		log.Warn().Err(err).Str("order_id", p.OrderID).Msg("paypal: refund does not apply to order")
		return nil
	}
	return err
}
