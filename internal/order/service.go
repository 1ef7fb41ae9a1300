package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"aurum/api/internal/db"
	"aurum/api/internal/mail"
	"aurum/api/internal/metrics"
	"aurum/api/internal/payment"
	"aurum/api/internal/repository"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("order was modified concurrently")
	ErrAmountMismatch    = errors.New("payment does not match order total")
	ErrRefundRequired    = errors.New("order is paid and must be refunded")
	ErrNotPaid           = errors.New("order has no payment to refund")
)

// Outcome says what ConfirmPayment did with a payment.
type Outcome string

const (
	OutcomeConfirmed   Outcome = "confirmed"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeAlreadyPaid Outcome = "already_paid"
	OutcomeLatePayment Outcome = "late_payment"
)

// Confirmation reports money captured by a provider for an order.
type Confirmation struct {
	OrderID       string
	Provider      string
	TransactionID string
	AmountCents   int64
	Currency      string
	Source        string
}

type Result struct {
	Order   *repository.Order
	Outcome Outcome
}

const confirmAttempts = 3

type Service struct {
	db        *db.DB
	providers payment.Registry
	now       func() time.Time
	// loaded runs inside confirmOnce after the order is read. Nil outside tests.
	loaded func(ctx context.Context, q db.Querier, o *repository.Order) error
}

func NewService(d *db.DB, providers payment.Registry) *Service {
	return &Service{db: d, providers: providers, now: time.Now}
}

func (s *Service) Get(ctx context.Context, id string) (*repository.Order, error) {
	return load(ctx, s.db, id)
}

func load(ctx context.Context, q db.Querier, id string) (*repository.Order, error) {
	o, err := repository.OrderByID(ctx, q, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", id, err)
	}
	return o, nil
}

func save(ctx context.Context, q db.Querier, o *repository.Order) error {
	err := repository.UpdateOrderState(ctx, q, o)
	if errors.Is(err, repository.ErrVersionConflict) {
		return ErrConflict
	}
	return err
}

// record moves o to status and appends the matching history entry.
func (s *Service) record(o *repository.Order, status, source, note string) {
	o.Status = status
	o.History = append(o.History, repository.StatusChange{
		Status: status,
		At:     s.now().UTC(),
		Source: source,
		Note:   note,
	})
}

// releaseReservations gives back stock held by o, and its coupon use when the
// order was never paid.
func releaseReservations(ctx context.Context, q db.Querier, o *repository.Order) error {
	for _, it := range o.Items {
		if err := repository.ReleaseStock(ctx, q, it.ProductID, it.Quantity); err != nil {
			return fmt.Errorf("release stock: %w", err)
		}
	}
	if o.CouponCode != "" && o.PaymentStatus != PaymentPaid {
		if err := repository.ReleaseCoupon(ctx, q, o.CouponCode); err != nil {
			return fmt.Errorf("release coupon: %w", err)
		}
	}
	return nil
}

type transitionOptions struct {
	trackingNumber string
}

type Option func(*transitionOptions)

// WithTrackingNumber stores a carrier tracking number with the transition.
func WithTrackingNumber(n string) Option {
	return func(o *transitionOptions) { o.trackingNumber = n }
}

// Transition moves an order along the state machine. Orders are confirmed
// only by ConfirmPayment, refunds go through Refund or MarkRefunded, and paid
// orders are cancelled with Cancel.
func (s *Service) Transition(ctx context.Context, id, to, source, note string, opts ...Option) (*repository.Order, error) {
	if !ValidStatus(to) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if to == StatusConfirmed {
		return nil, fmt.Errorf("%w: orders are confirmed by a recorded payment", ErrInvalidTransition)
	}
	if to == StatusRefunded {
		return nil, ErrRefundRequired
	}
	var topts transitionOptions
	for _, opt := range opts {
		opt(&topts)
	}

	var out *repository.Order
	var from string
	err := s.db.InTx(ctx, func(q db.Querier) error {
		o, err := load(ctx, q, id)
		if err != nil {
			return err
		}
		from = o.Status
		if !CanTransition(o.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
		}
		if to == StatusCancelled {
			if o.PaymentStatus == PaymentPaid {
				return ErrRefundRequired
			}
			if err := releaseReservations(ctx, q, o); err != nil {
				return err
			}
		}
		if topts.trackingNumber != "" {
			o.TrackingNumber = topts.trackingNumber
		}
		s.record(o, to, source, note)
		if err := save(ctx, q, o); err != nil {
			return err
		}
		if notify[to] {
			if err := mail.EnqueueOrderNotice(ctx, q, o, note); err != nil {
				return fmt.Errorf("enqueue notice: %w", err)
			}
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.StatusTransitions.WithLabelValues(to, source).Inc()
	log.Info().Str("order_id", id).Str("from", from).Str("to", to).Str("source", source).Msg("order status changed")
	return out, nil
}

// ConfirmPayment is the only path from pending to confirmed. Client capture
// callbacks, webhooks and the reconciler all report payments here; the
// unique (provider, transaction id) on payments makes repeats no-ops.
func (s *Service) ConfirmPayment(ctx context.Context, c Confirmation) (*Result, error) {
	if c.OrderID == "" || c.Provider == "" || c.TransactionID == "" {
		return nil, errors.New("confirmation needs order id, provider and transaction id")
	}
	var res *Result
	var err error
	for attempt := 1; attempt <= confirmAttempts; attempt++ {
		res, err = s.confirmOnce(ctx, c)
		if !errors.Is(err, ErrConflict) {
			break
		}
		log.Debug().Str("order_id", c.OrderID).Int("attempt", attempt).Msg("confirm payment lost a race, retrying")
	}
	outcome := "error"
	if err == nil {
		outcome = string(res.Outcome)
	}
	metrics.PaymentConfirmations.WithLabelValues(c.Provider, c.Source, outcome).Inc()
	if err != nil {
		return nil, err
	}

	ev := log.Info()
	switch res.Outcome {
	case OutcomeAlreadyPaid:
		ev = log.Warn().Bool("double_payment", true)
	case OutcomeLatePayment:
		ev = log.Warn().Bool("needs_refund", true)
	}
	ev.Str("order_id", c.OrderID).Str("provider", c.Provider).Str("txn_id", c.TransactionID).
		Str("source", c.Source).Str("outcome", string(res.Outcome)).Msg("payment confirmation")
	return res, nil
}

func (s *Service) confirmOnce(ctx context.Context, c Confirmation) (*Result, error) {
	var res Result
	err := s.db.InTx(ctx, func(q db.Querier) error {
		o, err := load(ctx, q, c.OrderID)
		if err != nil {
			return err
		}
		if s.loaded != nil {
			if err := s.loaded(ctx, q, o); err != nil {
				return err
			}
		}
		inserted, err := repository.InsertPayment(ctx, q, &repository.Payment{
			OrderID:       o.ID,
			Provider:      c.Provider,
			TransactionID: c.TransactionID,
			AmountCents:   c.AmountCents,
			Currency:      strings.ToUpper(c.Currency),
			Status:        "captured",
			Source:        c.Source,
		})
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		if !inserted {
			res = Result{Order: o, Outcome: OutcomeDuplicate}
			return nil
		}
		if c.AmountCents != o.TotalCents || !strings.EqualFold(c.Currency, o.Currency) {
			return fmt.Errorf("%w: got %d %s, order %s expects %d %s",
				ErrAmountMismatch, c.AmountCents, c.Currency, o.Number, o.TotalCents, o.Currency)
		}

		switch {
		case o.Status == StatusPending:
			o.PaymentStatus = PaymentPaid
			s.record(o, StatusConfirmed, c.Source, c.Provider+" payment "+c.TransactionID)
			if err := save(ctx, q, o); err != nil {
				return err
			}
			if err := mail.EnqueueOrderNotice(ctx, q, o, ""); err != nil {
				return fmt.Errorf("enqueue confirmation: %w", err)
			}
			res = Result{Order: o, Outcome: OutcomeConfirmed}
		case Paid(o.Status):
			res = Result{Order: o, Outcome: OutcomeAlreadyPaid}
		default:
			// Money arrived after the order was closed; keep the order closed
			// and flag it for a refund.
			o.PaymentStatus = PaymentPaid
			s.record(o, o.Status, c.Source, "needs_refund: late "+c.Provider+" payment "+c.TransactionID)
			if err := save(ctx, q, o); err != nil {
				return err
			}
			res = Result{Order: o, Outcome: OutcomeLatePayment}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Cancel cancels an order. A paid order is refunded through its provider
// first.
func (s *Service) Cancel(ctx context.Context, id, source, note string) (*repository.Order, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus != PaymentPaid {
		return s.Transition(ctx, id, StatusCancelled, source, note)
	}
	if !CanTransition(o.Status, StatusCancelled) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, StatusCancelled)
	}
	return s.refund(ctx, o, StatusCancelled, source, note)
}

// Refund returns every captured payment of a paid order through its provider
// and moves the order to refunded. A late payment on a cancelled order is
// refunded without changing its status.
func (s *Service) Refund(ctx context.Context, id, source, note string) (*repository.Order, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus != PaymentPaid {
		return nil, ErrNotPaid
	}
	if !IsTerminal(o.Status) && !CanTransition(o.Status, StatusRefunded) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, StatusRefunded)
	}
	return s.refund(ctx, o, StatusRefunded, source, note)
}

func (s *Service) refund(ctx context.Context, o *repository.Order, target, source, note string) (*repository.Order, error) {
	payments, err := repository.PaymentsByOrder(ctx, s.db, o.ID)
	if err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}
	for _, p := range payments {
		if !p.RefundedAt.IsZero() {
			continue
		}
		prov, err := s.providers.Get(p.Provider)
		if err != nil {
			return nil, err
		}
		if err := prov.Refund(ctx, p.TransactionID, p.AmountCents, p.Currency); err != nil {
			return nil, fmt.Errorf("refund %s %s: %w", p.Provider, p.TransactionID, err)
		}
		if _, err := repository.MarkPaymentRefunded(ctx, s.db, p.Provider, p.TransactionID); err != nil {
			return nil, fmt.Errorf("mark payment refunded: %w", err)
		}
		log.Info().Str("order_id", o.ID).Str("provider", p.Provider).Str("txn_id", p.TransactionID).Msg("payment refunded")
	}
	return s.markRefunded(ctx, o.ID, target, source, note)
}

// MarkRefunded records a refund that already happened at the provider, for
// example one reported by a webhook. Repeated calls are no-ops.
func (s *Service) MarkRefunded(ctx context.Context, id, source, note string) (*repository.Order, error) {
	return s.markRefunded(ctx, id, StatusRefunded, source, note)
}

func (s *Service) markRefunded(ctx context.Context, id, target, source, note string) (*repository.Order, error) {
	var out *repository.Order
	changed := false
	err := s.db.InTx(ctx, func(q db.Querier) error {
		o, err := load(ctx, q, id)
		if err != nil {
			return err
		}
		out = o
		if o.PaymentStatus == PaymentRefunded {
			return nil
		}
		if o.PaymentStatus != PaymentPaid {
			return ErrNotPaid
		}
		switch {
		case IsTerminal(o.Status):
			s.record(o, o.Status, source, strings.TrimSpace("refunded "+note))
		case CanTransition(o.Status, target):
			if target == StatusCancelled {
				if err := releaseReservations(ctx, q, o); err != nil {
					return err
				}
			}
			s.record(o, target, source, note)
		default:
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, target)
		}
		o.PaymentStatus = PaymentRefunded
		if err := save(ctx, q, o); err != nil {
			return err
		}
		if err := mail.EnqueueOrderNotice(ctx, q, o, note); err != nil {
			return fmt.Errorf("enqueue notice: %w", err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		metrics.StatusTransitions.WithLabelValues(out.Status, source).Inc()
		log.Info().Str("order_id", id).Str("status", out.Status).Str("source", source).Msg("order refunded")
	}
	return out, nil
}

// Note appends a history entry without changing the status, e.g. a failed
// payment attempt.
func (s *Service) Note(ctx context.Context, id, source, note string) error {
	return s.db.InTx(ctx, func(q db.Querier) error {
		o, err := load(ctx, q, id)
		if err != nil {
			return err
		}
		s.record(o, o.Status, source, note)
		return save(ctx, q, o)
	})
}
