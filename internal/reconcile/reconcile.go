// Package reconcile settles pending orders whose payment outcome never reached
// us, either because the webhook was lost or the buyer closed the browser
// before the client callback.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"aurum/api/internal/db"
	"aurum/api/internal/metrics"
	"aurum/api/internal/order"
	"aurum/api/internal/payment"
	"aurum/api/internal/repository"
)

const (
	batchSize = 100
	// Orders younger than this are left to the client and webhook paths.
	pollAfter = 2 * time.Minute
)

const expiredNote = "payment window expired"

// Summary counts what one pass did.
type Summary struct {
	Checked   int `json:"checked"`
	Confirmed int `json:"confirmed"`
	Captured  int `json:"captured"`
	Cancelled int `json:"cancelled"`
	Errors    int `json:"errors"`
}

type Reconciler struct {
	db        *db.DB
	orders    *order.Service
	providers payment.Registry
	now       func() time.Time
}

func New(d *db.DB, orders *order.Service, providers payment.Registry) *Reconciler {
	return &Reconciler{db: d, orders: orders, providers: providers, now: time.Now}
}

// Run reconciles every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		sum, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("reconcile pass")
		} else if sum.Confirmed+sum.Cancelled > 0 {
			log.Info().Interface("summary", sum).Msg("reconcile pass")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce walks the oldest pending orders once.
func (r *Reconciler) RunOnce(ctx context.Context) (Summary, error) {
	var sum Summary
	pending, err := repository.PendingOrders(ctx, r.db, batchSize)
	if err != nil {
		return sum, err
	}
	now := r.now()
	for i := range pending {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		o := &pending[i]
		if now.Sub(o.CreatedAt) < pollAfter {
			continue
		}
		sum.Checked++
		action, err := r.reconcile(ctx, o, now)
		if err != nil {
			sum.Errors++
			metrics.ReconcileActions.WithLabelValues("error").Inc()
			log.Warn().Err(err).Str("order_id", o.ID).Str("provider", o.Provider).Msg("reconcile order")
			continue
		}
		switch action {
		case actionConfirmed:
			sum.Confirmed++
		case actionCaptured:
			sum.Captured++
			sum.Confirmed++
		case actionCancelled:
			sum.Cancelled++
		}
		metrics.ReconcileActions.WithLabelValues(action).Inc()
	}
	return sum, nil
}

const (
	actionConfirmed = "confirmed"
	actionCaptured  = "captured"
	actionCancelled = "cancelled"
	actionWaiting   = "waiting"
	actionSkipped   = "skipped"
)

func (r *Reconciler) reconcile(ctx context.Context, o *repository.Order, now time.Time) (string, error) {
	expired := !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)

	if o.ProviderRef == "" {
		if !expired {
			return actionWaiting, nil
		}
		return r.expire(ctx, o)
	}
	provider, err := r.providers.Get(o.Provider)
	if err != nil {
		if !expired {
			return actionWaiting, nil
		}
		return r.expire(ctx, o)
	}

	// Fetch errors leave the order for the next pass.
	st, err := provider.FetchPayment(ctx, o.ProviderRef)
	if err != nil {
		return "", err
	}
	action := actionConfirmed
	if st.State == payment.StateApproved {
		capturer, ok := provider.(payment.Capturer)
		if !ok {
			return actionWaiting, nil
		}
		if st, err = capturer.Capture(ctx, o.ProviderRef); err != nil {
			return "", err
		}
		action = actionCaptured
	}
	if st.State == payment.StatePaid {
		res, err := r.orders.ConfirmPayment(ctx, order.Confirmation{
			OrderID:       o.ID,
			Provider:      provider.Name(),
			TransactionID: st.TransactionID,
			AmountCents:   st.AmountCents,
			Currency:      st.Currency,
			Source:        order.SourceReconciler,
		})
		if err != nil {
			return "", err
		}
		if res.Outcome != order.OutcomeConfirmed {
			return actionSkipped, nil
		}
		log.Info().Str("order_id", o.ID).Str("provider", provider.Name()).Str("txn_id", st.TransactionID).Msg("reconciler confirmed payment")
		return action, nil
	}
	if !expired {
		return actionWaiting, nil
	}
	// Close the session first so the buyer cannot pay a cancelled order. A
	// session the provider refuses to close may still be paid, so the order
	// waits for the next pass.
	if c, ok := provider.(payment.Canceler); ok && st.State != payment.StateFailed {
		if err := c.CancelPayment(ctx, o.ProviderRef); err != nil {
			return "", err
		}
	}
	return r.expire(ctx, o)
}

func (r *Reconciler) expire(ctx context.Context, o *repository.Order) (string, error) {
	_, err := r.orders.Transition(ctx, o.ID, order.StatusCancelled, order.SourceReconciler, expiredNote)
	// The order moved on since it was listed.
	if errors.Is(err, order.ErrInvalidTransition) || errors.Is(err, order.ErrConflict) || errors.Is(err, order.ErrRefundRequired) {
		return actionSkipped, nil
	}
	if err != nil {
		return "", err
	}
	log.Info().Str("order_id", o.ID).Time("expired_at", o.ExpiresAt).Msg("reconciler cancelled unpaid order")
	return actionCancelled, nil
}
