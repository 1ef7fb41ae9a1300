package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aurum/api/internal/db"
	"aurum/api/internal/db/dbtest"
	"aurum/api/internal/repository"
)

func newOrder(productID string, qty int, unit int64) *repository.Order {
	return &repository.Order{
		Email:         "Buyer@Example.com",
		CustomerName:  "Buyer",
		Status:        "pending",
		PaymentStatus: "unpaid",
		Currency:      "USD",
		SubtotalCents: unit * int64(qty),
		TotalCents:    unit * int64(qty),
		ShippingAddress: repository.Address{
			Name: "Buyer", Line1: "1 Main St", City: "Lisbon", PostalCode: "1000", Country: "PT",
		},
		History:   []repository.StatusChange{{Status: "pending", At: time.Now().UTC(), Source: "checkout"}},
		ExpiresAt: time.Now().Add(30 * time.Minute),
		Items: []repository.OrderItem{{
			ProductID: productID, Name: "ring", UnitPriceCents: unit, Quantity: qty, LineTotalCents: unit * int64(qty),
		}},
	}
}

func TestListProductsFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	d := dbtest.New(t)
	rings := dbtest.Category(t, d, "rings")

	cheap := dbtest.Product(t, d, "silver-band", 4000, 3)
	dear := &repository.Product{Slug: "diamond-solitaire", Name: "Diamond Solitaire", CategoryID: rings.ID,
		Material: "Platinum", Gemstone: "diamond", PriceCents: 250000, Stock: 1, Active: true, Featured: true}
	require.NoError(t, repository.CreateProduct(ctx, d, dear))
	hidden := dbtest.Product(t, d, "retired", 1000, 5)
	require.NoError(t, repository.DeactivateProduct(ctx, d, hidden.ID))

	list, total, err := repository.ListProducts(ctx, d, repository.ProductFilter{Sort: "price_asc"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, list, 2)
	assert.Equal(t, cheap.ID, list[0].ID)

	list, total, err = repository.ListProducts(ctx, d, repository.ProductFilter{CategorySlug: "rings"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "rings", list[0].CategorySlug)

	list, _, err = repository.ListProducts(ctx, d, repository.ProductFilter{Search: "DIAMOND", Material: "platinum"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, dear.ID, list[0].ID)

	_, total, err = repository.ListProducts(ctx, d, repository.ProductFilter{IncludeInactive: true})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	_, err = repository.ProductBySlug(ctx, d, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestReserveStockNeverGoesNegative(t *testing.T) {
	ctx := context.Background()
	d := dbtest.New(t)
	p := dbtest.Product(t, d, "pearl-drop", 9000, 2)

	require.NoError(t, repository.ReserveStock(ctx, d, p.ID, 2))
	assert.ErrorIs(t, repository.ReserveStock(ctx, d, p.ID, 1), repository.ErrInsufficientStock)

	require.NoError(t, repository.ReleaseStock(ctx, d, p.ID, 2))
	got, err := repository.ProductByID(ctx, d, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Stock)
}

func TestCartUpsertAndClear(t *testing.T) {
	ctx := context.Background()
	d := dbtest.New(t)
	uid := dbtest.User(t, d, "cart@example.com", "USER")
	p := dbtest.Product(t, d, "hoops", 5000, 10)

	require.NoError(t, repository.SetCartItem(ctx, d, uid, p.ID, 1))
	require.NoError(t, repository.SetCartItem(ctx, d, uid, p.ID, 3))
	lines, err := repository.CartLines(ctx, d, uid)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 3, lines[0].Quantity)
	assert.Equal(t, p.ID, lines[0].Product.ID)

	require.NoError(t, repository.ClearCart(ctx, d, uid))
	qty, err := repository.CartQuantity(ctx, d, uid, p.ID)
	require.NoError(t, err)
	assert.Zero(t, qty)
}

func TestWishlistAddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	d := dbtest.New(t)
	uid := dbtest.User(t, d, "wish@example.com", "USER")
	p := dbtest.Product(t, d, "locket", 12000, 1)

	require.NoError(t, repository.AddWishlistItem(ctx, d, uid, p.ID))
	require.NoError(t, repository.AddWishlistItem(ctx, d, uid, p.ID))
	list, err := repository.WishlistProducts(ctx, d, uid)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRedeemCouponHonorsMaxUses(t *testing.T) {
	ctx := context.Background()
	d := dbtest.New(t)
	require.NoError(t, repository.CreateCoupon(ctx, d, &repository.Coupon{
		Code: "once", Kind: repository.CouponPercent, Value: 10, MaxUses: 1, Active: true,
	}))

	require.NoError(t, repository.RedeemCoupon(ctx, d, "ONCE"))
	assert.ErrorIs(t, repository.RedeemCoupon(ctx, d, "once"), repository.ErrCouponExhausted)

	require.NoError(t, repository.ReleaseCoupon(ctx, d, "once"))
	c, err := repository.CouponByCode(ctx, d, "Once")
	require.NoError(t, err)
	assert.Zero(t, c.UsedCount)
}

func TestInsertOrderRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := dbtest.New(t)
	p := dbtest.Product(t, d, "cuff", 7000, 4)

	o := newOrder(p.ID, 2, 7000)
	require.NoError(t, repository.InsertOrder(ctx, d, o))
	assert.NotEmpty(t, o.Number)

	got, err := repository.OrderByID(ctx, d, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "buyer@example.com", got.Email)
	assert.Equal(t, int64(14000), got.TotalCents)
	assert.Equal(t, "Lisbon", got.ShippingAddress.City)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 2, got.Items[0].Quantity)
	require.Len(t, got.History, 1)
	assert.Equal(t, "checkout", got.History[0].Source)
	assert.Equal(t, 1, got.Version)
}

func TestUpdateOrderStateDetectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	d := dbtest.New(t)
	p := dbtest.Product(t, d, "chain", 3000, 4)
	o := newOrder(p.ID, 1, 3000)
	require.NoError(t, repository.InsertOrder(ctx, d, o))

	first, err := repository.OrderByID(ctx, d, o.ID)
	require.NoError(t, err)
	second, err := repository.OrderByID(ctx, d, o.ID)
	require.NoError(t, err)

	first.Status = "confirmed"
	first.History = append(first.History, repository.StatusChange{Status: "confirmed", At: time.Now(), Source: "webhook"})
	require.NoError(t, repository.UpdateOrderState(ctx, d, first))
	assert.Equal(t, 2, first.Version)

	second.Status = "cancelled"
	assert.ErrorIs(t, repository.UpdateOrderState(ctx, d, second), repository.ErrVersionConflict)

	got, err := repository.OrderByID(ctx, d, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "confirmed", got.Status)
	assert.Len(t, got.History, 2)
}

func TestSetOrderProviderAndLookup(t *testing.T) {
	ctx := context.Background()
	d := dbtest.New(t)
	p := dbtest.Product(t, d, "brooch", 3000, 4)
	o := newOrder(p.ID, 1, 3000)
	require.NoError(t, repository.InsertOrder(ctx, d, o))

	require.NoError(t, repository.SetOrderProvider(ctx, d, o.ID, "stripe", "pi_123"))
	got, err := repository.OrderByProviderRef(ctx, d, "stripe", "pi_123")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = repository.OrderByProviderRef(ctx, d, "paypal", "pi_123")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestInsertPaymentDedupesOnTransactionID(t *testing.T) {
	ctx := context.Background()
	d := dbtest.New(t)
	p := dbtest.Product(t, d, "anklet", 2000, 4)
	o := newOrder(p.ID, 1, 2000)
	require.NoError(t, repository.InsertOrder(ctx, d, o))

	pay := func(source string) bool {
		ok, err := repository.InsertPayment(ctx, d, &repository.Payment{
			OrderID: o.ID, Provider: "paypal", TransactionID: "CAP-1", AmountCents: 2000,
			Currency: "USD", Status: "captured", Source: source,
		})
		require.NoError(t, err)
		return ok
	}
	assert.True(t, pay("client"))
	assert.False(t, pay("webhook"))

	list, err := repository.PaymentsByOrder(ctx, d, o.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "client", list[0].Source)

	changed, err := repository.MarkPaymentRefunded(ctx, d, "paypal", "CAP-1")
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = repository.MarkPaymentRefunded(ctx, d, "paypal", "CAP-1")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestWebhookEventClaim(t *testing.T) {
	ctx := context.Background()
	d := dbtest.New(t)

	ok, err := repository.InsertWebhookEvent(ctx, d, "stripe", "evt_1", "payment_intent.succeeded")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repository.InsertWebhookEvent(ctx, d, "stripe", "evt_1", "payment_intent.succeeded")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repository.InsertWebhookEvent(ctx, d, "paypal", "evt_1", "PAYMENT.CAPTURE.COMPLETED")
	require.NoError(t, err)
	assert.True(t, ok, "event ids are scoped per provider")

	require.NoError(t, repository.DeleteWebhookEvent(ctx, d, "stripe", "evt_1"))
	ok, err = repository.InsertWebhookEvent(ctx, d, "stripe", "evt_1", "payment_intent.succeeded")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOutboxDueAndRetry(t *testing.T) {
	ctx := context.Background()
	d := dbtest.New(t)

	id, err := repository.EnqueueMessage(ctx, d, repository.MessageContact, "shop@example.com", "Hello", "")
	require.NoError(t, err)

	due, err := repository.DueMessages(ctx, d, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "{}", due[0].Payload)

	next := time.Now().Add(time.Hour)
	require.NoError(t, repository.MarkMessageAttempt(ctx, d, id, "smtp down", next, false))
	due, err = repository.DueMessages(ctx, d, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = repository.DueMessages(ctx, d, next.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Attempts)
	assert.Equal(t, "smtp down", due[0].LastError)

	require.NoError(t, repository.MarkMessageSent(ctx, d, id, time.Now()))
	n, err := repository.PendingMessageCount(ctx, d)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStatsSumsPaidRevenue(t *testing.T) {
	ctx := context.Background()
	d := dbtest.New(t)
	p := dbtest.Product(t, d, "signet", 1000, 10)

	paid := newOrder(p.ID, 2, 1000)
	require.NoError(t, repository.InsertOrder(ctx, d, paid))
	paid.Status, paid.PaymentStatus = "confirmed", "paid"
	require.NoError(t, repository.UpdateOrderState(ctx, d, paid))
	require.NoError(t, repository.InsertOrder(ctx, d, newOrder(p.ID, 1, 1000)))

	st, err := repository.Stats(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), st.PaidRevenueCents)
	assert.Equal(t, 1, st.PaidOrders)
	assert.Equal(t, 1, st.ByStatus["pending"])
	assert.Equal(t, 1, st.ByStatus["confirmed"])

	list, total, err := repository.ListOrders(ctx, d, repository.OrderFilter{Status: "pending"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, list, 1)

	pending, err := repository.PendingOrders(ctx, d, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

var _ db.Querier = (*db.DB)(nil)
