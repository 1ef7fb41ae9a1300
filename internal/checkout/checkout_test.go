package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aurum/api/internal/db"
	"aurum/api/internal/db/dbtest"
	"aurum/api/internal/order"
	"aurum/api/internal/payment"
	"aurum/api/internal/payment/paymenttest"
	"aurum/api/internal/qrcode"
	"aurum/api/internal/repository"
)

var testSettings = Settings{
	Currency:                   "USD",
	TaxRate:                    decimal.RequireFromString("8.25"),
	ShippingFlatCents:          1500,
	FreeShippingThresholdCents: 20000,
	OrderExpiry:                30 * time.Minute,
}

func newService(t *testing.T) (*Service, *db.DB, *paymenttest.Fake) {
	t.Helper()
	d := dbtest.New(t)
	fake := paymenttest.New("stripe")
	reg := payment.NewRegistry(fake)
	svc := NewService(d, order.NewService(d, reg), reg, qrcode.NewSigner("tracking-secret", "https://shop.example.com"), testSettings)
	return svc, d, fake
}

func address() repository.Address {
	return repository.Address{Name: "Ada", Line1: "1 Main St", City: "Porto", PostalCode: "4000", Country: "PT"}
}

func TestPriceAppliesDiscountShippingAndTax(t *testing.T) {
	lines := []Line{{UnitPriceCents: 4999, Quantity: 2}, {UnitPriceCents: 1000, Quantity: 1}}

	q := Price(lines, nil, testSettings)
	assert.Equal(t, int64(10998), q.SubtotalCents)
	assert.Equal(t, int64(1500), q.ShippingCents)
	assert.Equal(t, int64(907), q.TaxCents) // 8.25% of 109.98 = 9.07335
	assert.Equal(t, int64(10998+1500+907), q.TotalCents)

	pct := &repository.Coupon{Code: "TEN", Kind: repository.CouponPercent, Value: 10}
	q = Price(lines, pct, testSettings)
	assert.Equal(t, int64(1100), q.DiscountCents) // 10% of 109.98 rounds half-up
	assert.Equal(t, int64(817), q.TaxCents)       // 8.25% of 98.98 = 8.16585
	assert.Equal(t, "TEN", q.CouponCode)

	big := &repository.Coupon{Code: "ALL", Kind: repository.CouponFixed, Value: 50000}
	q = Price(lines, big, testSettings)
	assert.Equal(t, q.SubtotalCents, q.DiscountCents)
	assert.Zero(t, q.TaxCents)
	assert.Equal(t, int64(1500), q.TotalCents)
}

func TestPriceFreeShippingUsesDiscountedSubtotal(t *testing.T) {
	lines := []Line{{UnitPriceCents: 21000, Quantity: 1}}
	q := Price(lines, nil, testSettings)
	assert.Zero(t, q.ShippingCents)

	q = Price(lines, &repository.Coupon{Kind: repository.CouponFixed, Value: 2000}, testSettings)
	assert.Equal(t, int64(1500), q.ShippingCents)
}

func TestQuoteRejectsBadCoupons(t *testing.T) {
	ctx := context.Background()
	svc, d, _ := newService(t)
	p := dbtest.Product(t, d, "opal-ring", 5000, 5)
	require.NoError(t, repository.CreateCoupon(ctx, d, &repository.Coupon{
		Code: "BIGSPEND", Kind: repository.CouponPercent, Value: 15, MinSubtotalCents: 100000, Active: true,
	}))
	require.NoError(t, repository.CreateCoupon(ctx, d, &repository.Coupon{
		Code: "OLD", Kind: repository.CouponFixed, Value: 500, Active: true, ExpiresAt: time.Now().Add(-time.Hour),
	}))

	items := []Item{{ProductID: p.ID, Quantity: 1}}
	for _, code := range []string{"NOPE", "BIGSPEND", "old"} {
		_, err := svc.Quote(ctx, items, code)
		assert.ErrorIs(t, err, ErrInvalidCoupon, code)
	}

	q, err := svc.Quote(ctx, items, "")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), q.SubtotalCents)
}

func TestQuoteValidatesItems(t *testing.T) {
	ctx := context.Background()
	svc, d, _ := newService(t)
	p := dbtest.Product(t, d, "tennis-bracelet", 90000, 1)

	_, err := svc.Quote(ctx, nil, "")
	assert.ErrorIs(t, err, ErrEmptyCart)
	_, err = svc.Quote(ctx, []Item{{ProductID: p.ID, Quantity: 2}}, "")
	assert.ErrorIs(t, err, ErrOutOfStock)
	_, err = svc.Quote(ctx, []Item{{ProductID: "missing", Quantity: 1}}, "")
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = svc.Quote(ctx, []Item{{ProductID: p.ID, Quantity: 6}, {ProductID: p.ID, Quantity: 5}}, "")
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestPlaceOrderReservesStockAndOpensSession(t *testing.T) {
	ctx := context.Background()
	svc, d, fake := newService(t)
	p := dbtest.Product(t, d, "emerald-studs", 12000, 3)
	require.NoError(t, repository.CreateCoupon(ctx, d, &repository.Coupon{
		Code: "WELCOME", Kind: repository.CouponPercent, Value: 10, MaxUses: 1, Active: true,
	}))

	placed, err := svc.PlaceOrder(ctx, PlaceOrderInput{
		Email: "ada@example.com", Name: "Ada", Provider: "stripe", CouponCode: "welcome",
		Items:           []Item{{ProductID: p.ID, Quantity: 2}},
		ShippingAddress: address(),
	})
	require.NoError(t, err)
	o := placed.Order
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, int64(24000), o.SubtotalCents)
	assert.Equal(t, int64(2400), o.DiscountCents)
	assert.Zero(t, o.ShippingCents)
	assert.Equal(t, "stripe_ref_1", placed.Payment.Ref)
	assert.Equal(t, o.TotalCents, fake.Sessions["stripe_ref_1"].AmountCents)
	assert.NotEmpty(t, placed.TrackingToken)

	stored, err := repository.OrderByProviderRef(ctx, d, "stripe", "stripe_ref_1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, stored.ID)
	require.Len(t, stored.History, 1)
	assert.Equal(t, order.SourceCheckout, stored.History[0].Source)

	prod, err := repository.ProductByID(ctx, d, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, prod.Stock)

	_, err = svc.PlaceOrder(ctx, PlaceOrderInput{
		Email: "grace@example.com", Name: "Grace", Provider: "stripe", CouponCode: "WELCOME",
		Items: []Item{{ProductID: p.ID, Quantity: 1}}, ShippingAddress: address(),
	})
	assert.ErrorIs(t, err, ErrInvalidCoupon)

	prod, err = repository.ProductByID(ctx, d, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, prod.Stock, "failed checkout rolls back its reservation")
}

func TestPlaceOrderFromCartClearsIt(t *testing.T) {
	ctx := context.Background()
	svc, d, _ := newService(t)
	uid := dbtest.User(t, d, "cart@example.com", "USER")
	p := dbtest.Product(t, d, "charm", 3000, 5)
	require.NoError(t, repository.SetCartItem(ctx, d, uid, p.ID, 2))

	placed, err := svc.PlaceOrder(ctx, PlaceOrderInput{
		UserID: uid, Email: "cart@example.com", Name: "Cart", Provider: "stripe", ShippingAddress: address(),
	})
	require.NoError(t, err)
	assert.Equal(t, uid, placed.Order.UserID)
	require.Len(t, placed.Order.Items, 1)
	assert.Equal(t, 2, placed.Order.Items[0].Quantity)

	lines, err := repository.CartLines(ctx, d, uid)
	require.NoError(t, err)
	assert.Empty(t, lines)

	_, err = svc.PlaceOrder(ctx, PlaceOrderInput{
		UserID: uid, Email: "cart@example.com", Name: "Cart", Provider: "stripe", ShippingAddress: address(),
	})
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestPlaceOrderCancelsWhenProviderFails(t *testing.T) {
	ctx := context.Background()
	svc, d, fake := newService(t)
	p := dbtest.Product(t, d, "cameo", 8000, 1)
	fake.CreateErr = errors.New("stripe unavailable")

	_, err := svc.PlaceOrder(ctx, PlaceOrderInput{
		Email: "ada@example.com", Name: "Ada", Provider: "stripe",
		Items: []Item{{ProductID: p.ID, Quantity: 1}}, ShippingAddress: address(),
	})
	require.Error(t, err)

	list, _, err := repository.ListOrders(ctx, d, repository.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, order.StatusCancelled, list[0].Status)

	prod, err := repository.ProductByID(ctx, d, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, prod.Stock)
}

func TestPlaceOrderUnknownProvider(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.PlaceOrder(context.Background(), PlaceOrderInput{Provider: "bitcoin"})
	assert.ErrorIs(t, err, payment.ErrUnknownProvider)
}
