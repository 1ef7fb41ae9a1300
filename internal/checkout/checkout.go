package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"aurum/api/internal/db"
	"aurum/api/internal/metrics"
	"aurum/api/internal/order"
	"aurum/api/internal/payment"
	"aurum/api/internal/qrcode"
	"aurum/api/internal/repository"
)

var (
	ErrEmptyCart       = errors.New("cart is empty")
	ErrOutOfStock      = errors.New("not enough stock")
	ErrUnavailable     = errors.New("product is not available")
	ErrInvalidCoupon   = errors.New("invalid coupon")
	ErrInvalidQuantity = errors.New("quantity must be between 1 and 10")
)

// MaxLineQuantity bounds a single cart or order line.
const MaxLineQuantity = 10

type Item struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=1,max=10"`
}

type PlaceOrderInput struct {
	UserID          string
	Email           string
	Name            string
	Items           []Item
	CouponCode      string
	Provider        string
	ShippingAddress repository.Address
	ReturnURL       string
	CancelURL       string
}

type Placed struct {
	Order         *repository.Order `json:"order"`
	Payment       *payment.Session  `json:"payment"`
	TrackingToken string            `json:"trackingToken"`
}

type Service struct {
	db        *db.DB
	orders    *order.Service
	providers payment.Registry
	tracker   *qrcode.Signer
	settings  Settings
	now       func() time.Time
}

func NewService(d *db.DB, orders *order.Service, providers payment.Registry, tracker *qrcode.Signer, s Settings) *Service {
	return &Service{db: d, orders: orders, providers: providers, tracker: tracker, settings: s, now: time.Now}
}

// Quote prices items against current catalog prices without reserving anything.
func (s *Service) Quote(ctx context.Context, items []Item, couponCode string) (*Quote, error) {
	return s.quote(ctx, s.db, items, couponCode)
}

func (s *Service) quote(ctx context.Context, q db.Querier, items []Item, couponCode string) (*Quote, error) {
	items, err := mergeItems(items)
	if err != nil {
		return nil, err
	}
	lines := make([]Line, 0, len(items))
	for _, it := range items {
		p, err := repository.ProductByID(ctx, q, it.ProductID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && !p.Active) {
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, it.ProductID)
		}
		if err != nil {
			return nil, err
		}
		if p.Stock < it.Quantity {
			return nil, fmt.Errorf("%w: %s has %d left", ErrOutOfStock, p.Name, p.Stock)
		}
		lines = append(lines, Line{
			ProductID:      p.ID,
			Slug:           p.Slug,
			Name:           p.Name,
			UnitPriceCents: p.PriceCents,
			Quantity:       it.Quantity,
		})
	}

	var coupon *repository.Coupon
	if code := strings.TrimSpace(couponCode); code != "" {
		c, err := repository.CouponByCode(ctx, q, code)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown code %q", ErrInvalidCoupon, code)
		}
		if err != nil {
			return nil, err
		}
		coupon = c
	}
	quote := Price(lines, nil, s.settings)
	if coupon != nil {
		if why := couponUsable(coupon, quote.SubtotalCents, s.now()); why != "" {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCoupon, why)
		}
		quote = Price(lines, coupon, s.settings)
	}
	return &quote, nil
}

// mergeItems folds repeated products into one line and checks quantities.
func mergeItems(items []Item) ([]Item, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}
	idx := map[string]int{}
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Quantity < 1 {
			return nil, ErrInvalidQuantity
		}
		if i, ok := idx[it.ProductID]; ok {
			out[i].Quantity += it.Quantity
		} else {
			idx[it.ProductID] = len(out)
			out = append(out, it)
		}
	}
	for _, it := range out {
		if it.Quantity > MaxLineQuantity {
			return nil, ErrInvalidQuantity
		}
	}
	return out, nil
}

// PlaceOrder reserves stock, redeems the coupon and writes a pending order in
// one transaction, then opens a payment session with the chosen provider.
// When the user has no explicit items, their server-side cart is used and
// cleared on success.
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*Placed, error) {
	provider, err := s.providers.Get(in.Provider)
	if err != nil {
		return nil, err
	}

	items := in.Items
	fromCart := false
	if len(items) == 0 && in.UserID != "" {
		lines, err := repository.CartLines(ctx, s.db, in.UserID)
		if err != nil {
			return nil, fmt.Errorf("load cart: %w", err)
		}
		for _, l := range lines {
			items = append(items, Item{ProductID: l.Product.ID, Quantity: l.Quantity})
		}
		fromCart = true
	}

	now := s.now().UTC()
	o := &repository.Order{
		Email:           strings.TrimSpace(in.Email),
		CustomerName:    strings.TrimSpace(in.Name),
		UserID:          in.UserID,
		Status:          order.StatusPending,
		PaymentStatus:   order.PaymentUnpaid,
		ShippingAddress: in.ShippingAddress,
		ExpiresAt:       now.Add(s.settings.OrderExpiry),
		History: []repository.StatusChange{{
			Status: order.StatusPending,
			At:     now,
			Source: order.SourceCheckout,
		}},
	}
	err = s.db.InTx(ctx, func(q db.Querier) error {
		quote, err := s.quote(ctx, q, items, in.CouponCode)
		if err != nil {
			return err
		}
		for _, l := range quote.Lines {
			if err := repository.ReserveStock(ctx, q, l.ProductID, l.Quantity); err != nil {
				if errors.Is(err, repository.ErrInsufficientStock) {
					return fmt.Errorf("%w: %s", ErrOutOfStock, l.Name)
				}
				return fmt.Errorf("reserve stock: %w", err)
			}
			o.Items = append(o.Items, repository.OrderItem{
				ProductID:      l.ProductID,
				Name:           l.Name,
				UnitPriceCents: l.UnitPriceCents,
				Quantity:       l.Quantity,
				LineTotalCents: l.LineTotalCents,
			})
		}
		if quote.CouponCode != "" {
			if err := repository.RedeemCoupon(ctx, q, quote.CouponCode); err != nil {
				if errors.Is(err, repository.ErrCouponExhausted) {
					return fmt.Errorf("%w: coupon has been fully redeemed", ErrInvalidCoupon)
				}
				return err
			}
		}
		o.Currency = quote.Currency
		o.CouponCode = quote.CouponCode
		o.SubtotalCents = quote.SubtotalCents
		o.DiscountCents = quote.DiscountCents
		o.ShippingCents = quote.ShippingCents
		o.TaxCents = quote.TaxCents
		o.TotalCents = quote.TotalCents
		o.Provider = provider.Name()
		return repository.InsertOrder(ctx, q, o)
	})
	if err != nil {
		return nil, err
	}

	session, err := provider.CreatePayment(ctx, payment.Request{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		Email:       o.Email,
		AmountCents: o.TotalCents,
		Currency:    o.Currency,
		Description: "Aurum order " + o.Number,
		ReturnURL:   in.ReturnURL,
		CancelURL:   in.CancelURL,
	})
	if err != nil {
		if _, cerr := s.orders.Transition(ctx, o.ID, order.StatusCancelled, order.SourceCheckout, "payment session failed"); cerr != nil {
			log.Error().Err(cerr).Str("order_id", o.ID).Msg("cancel order after payment session failure")
		}
		return nil, fmt.Errorf("create %s payment: %w", provider.Name(), err)
	}
	if err := repository.SetOrderProvider(ctx, s.db, o.ID, provider.Name(), session.Ref); err != nil {
		return nil, fmt.Errorf("store payment ref: %w", err)
	}
	o.ProviderRef = session.Ref

	if fromCart {
		if err := repository.ClearCart(ctx, s.db, in.UserID); err != nil {
			log.Warn().Err(err).Str("user_id", in.UserID).Msg("clear cart after checkout")
		}
	}

	metrics.OrdersCreated.WithLabelValues(provider.Name()).Inc()
	log.Info().Str("order_id", o.ID).Str("number", o.Number).Str("provider", provider.Name()).
		Int64("total_cents", o.TotalCents).Msg("order placed")
	return &Placed{Order: o, Payment: session, TrackingToken: s.tracker.Token(o.ID)}, nil
}
