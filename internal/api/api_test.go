package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aurum/api/internal/auth"
	"aurum/api/internal/checkout"
	"aurum/api/internal/config"
	"aurum/api/internal/db"
	"aurum/api/internal/db/dbtest"
	"aurum/api/internal/order"
	"aurum/api/internal/payment"
	"aurum/api/internal/payment/paymenttest"
	"aurum/api/internal/qrcode"
	"aurum/api/internal/reconcile"
	"aurum/api/internal/repository"
)

const testSecret = "api-test-secret-0123456789"

type env struct {
	t       *testing.T
	db      *db.DB
	fake    *paymenttest.Fake
	orders  *order.Service
	tracker *qrcode.Signer
	handler http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	d := dbtest.New(t)
	fake := paymenttest.New("stripe")
	reg := payment.NewRegistry(fake)
	orders := order.NewService(d, reg)
	tracker := qrcode.NewSigner(testSecret, "https://shop.example.com")
	cfg := &config.Config{
		JWTSecret:      testSecret,
		TokenTTL:       time.Hour,
		Currency:       "USD",
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
		SMTP:           config.SMTPConfig{StoreInbox: "store@aurum.example"},
	}
	co := checkout.NewService(d, orders, reg, tracker, checkout.Settings{
		Currency:                   "USD",
		TaxRate:                    decimal.Zero,
		ShippingFlatCents:          1000,
		FreeShippingThresholdCents: 50000,
		OrderExpiry:                30 * time.Minute,
	})
	srv := NewServer(Deps{
		Config:     cfg,
		DB:         d,
		Orders:     orders,
		Checkout:   co,
		Tracker:    tracker,
		Reconciler: reconcile.New(d, orders, reg),
	})
	return &env{t: t, db: d, fake: fake, orders: orders, tracker: tracker, handler: srv.Routes()}
}

func (e *env) token(userID, role string) string {
	tok, err := auth.NewToken(userID, role, testSecret, time.Hour)
	require.NoError(e.t, err)
	return tok
}

func (e *env) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeInto(t *testing.T, rr *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), dst), rr.Body.String())
}

func shipTo() repository.Address {
	return repository.Address{Name: "Mia", Line1: "9 Via Roma", City: "Milano", PostalCode: "20121", Country: "IT"}
}

func TestRegisterLoginAndMe(t *testing.T) {
	e := newEnv(t)

	rr := e.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Mia", "email": "Mia@Example.com", "password": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var reg authResponse
	decodeInto(t, rr, &reg)
	assert.Equal(t, "mia@example.com", reg.User.Email)
	assert.Equal(t, auth.RoleUser, reg.User.Role)

	rr = e.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Mia", "email": "mia@example.com", "password": "correct-horse",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = e.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Bo", "email": "bo@example.com", "password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "mia@example.com", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = e.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "mia@example.com", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, rr.Code)
	var login authResponse
	decodeInto(t, rr, &login)

	rr = e.do(http.MethodGet, "/api/me", login.Token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var me userView
	decodeInto(t, rr, &me)
	assert.Equal(t, reg.User.ID, me.ID)

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/api/me", "", nil).Code)
}

func TestCatalogEndpoints(t *testing.T) {
	e := newEnv(t)
	rings := dbtest.Category(t, e.db, "rings")
	p := dbtest.Product(t, e.db, "diamond-solitaire", 250000, 2)
	p.CategoryID = rings.ID
	require.NoError(t, repository.UpdateProduct(context.Background(), e.db, p))
	dbtest.Product(t, e.db, "silver-hoops", 4500, 10)
	hidden := dbtest.Product(t, e.db, "retired-brooch", 9000, 1)
	require.NoError(t, repository.DeactivateProduct(context.Background(), e.db, hidden.ID))

	rr := e.do(http.MethodGet, "/api/products?sort=price_asc", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var page struct {
		Items []repository.Product `json:"items"`
		Total int                  `json:"total"`
	}
	decodeInto(t, rr, &page)
	require.Equal(t, 2, page.Total)
	assert.Equal(t, "silver-hoops", page.Items[0].Slug)

	rr = e.do(http.MethodGet, "/api/products?category=rings&min_price=1000.00", "", nil)
	decodeInto(t, rr, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "diamond-solitaire", page.Items[0].Slug)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/products?sort=random", "", nil).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/products/diamond-solitaire", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/products/retired-brooch", "", nil).Code)

	rr = e.do(http.MethodGet, "/api/categories", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"slug":"rings"`)
}

func TestCartAndWishlist(t *testing.T) {
	e := newEnv(t)
	tok := e.token(dbtest.User(t, e.db, "cart@example.com", auth.RoleUser), auth.RoleUser)
	p := dbtest.Product(t, e.db, "pearl-necklace", 8000, 20)

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/api/cart", "", nil).Code)

	rr := e.do(http.MethodPost, "/api/cart/items", tok, map[string]interface{}{"productId": p.ID, "quantity": 3})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rr = e.do(http.MethodPost, "/api/cart/items", tok, map[string]interface{}{"productId": p.ID, "quantity": 4})
	var cart cartView
	decodeInto(t, rr, &cart)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 7, cart.Items[0].Quantity)
	assert.Equal(t, int64(56000), cart.SubtotalCents)

	rr = e.do(http.MethodPost, "/api/cart/items", tok, map[string]interface{}{"productId": p.ID, "quantity": 4})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "more than 10 per line")

	rr = e.do(http.MethodPut, "/api/cart/items/"+p.ID, tok, map[string]int{"quantity": 0})
	decodeInto(t, rr, &cart)
	assert.Empty(t, cart.Items)

	for i := 0; i < 2; i++ {
		rr = e.do(http.MethodPost, "/api/wishlist/"+p.ID, tok, nil)
		require.Equal(t, http.StatusOK, rr.Code)
	}
	var wished []repository.Product
	decodeInto(t, rr, &wished)
	assert.Len(t, wished, 1)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPost, "/api/wishlist/missing", tok, nil).Code)
}

func TestGuestCheckoutAndTracking(t *testing.T) {
	e := newEnv(t)
	p := dbtest.Product(t, e.db, "gold-cuff", 12000, 1)

	rr := e.do(http.MethodPost, "/api/checkout/quote", "", map[string]interface{}{
		"items": []map[string]interface{}{{"productId": p.ID, "quantity": 1}},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var q checkout.Quote
	decodeInto(t, rr, &q)
	assert.Equal(t, int64(13000), q.TotalCents)

	body := map[string]interface{}{
		"email":           "guest@example.com",
		"items":           []map[string]interface{}{{"productId": p.ID, "quantity": 1}},
		"provider":        "stripe",
		"shippingAddress": shipTo(),
	}
	rr = e.do(http.MethodPost, "/api/checkout", "", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var placed checkout.Placed
	decodeInto(t, rr, &placed)
	assert.Equal(t, order.StatusPending, placed.Order.Status)
	assert.NotEmpty(t, placed.Payment.ClientSecret)

	rr = e.do(http.MethodPost, "/api/checkout", "", body)
	assert.Equal(t, http.StatusConflict, rr.Code, "last unit already reserved")

	delete(body, "email")
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/api/checkout", "", body).Code)

	rr = e.do(http.MethodGet, "/api/orders/track?token="+url.QueryEscape(placed.TrackingToken), "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var view trackingView
	decodeInto(t, rr, &view)
	assert.Equal(t, placed.Order.Number, view.Number)
	assert.NotContains(t, rr.Body.String(), "guest@example.com")

	rr = e.do(http.MethodGet, "/api/orders/track/qr.png?token="+url.QueryEscape(placed.TrackingToken), "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/orders/track?token=forged.00", "", nil).Code)
}

func TestCustomerOrders(t *testing.T) {
	e := newEnv(t)
	uid := dbtest.User(t, e.db, "buyer@example.com", auth.RoleUser)
	tok := e.token(uid, auth.RoleUser)
	other := e.token(dbtest.User(t, e.db, "other@example.com", auth.RoleUser), auth.RoleUser)
	p := dbtest.Product(t, e.db, "topaz-studs", 6000, 5)

	rr := e.do(http.MethodPost, "/api/cart/items", tok, map[string]interface{}{"productId": p.ID, "quantity": 2})
	require.Equal(t, http.StatusOK, rr.Code)
	rr = e.do(http.MethodPost, "/api/checkout", tok, map[string]interface{}{"provider": "stripe", "shippingAddress": shipTo()})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var placed checkout.Placed
	decodeInto(t, rr, &placed)
	assert.Equal(t, "buyer@example.com", placed.Order.Email)
	assert.Equal(t, 2, placed.Order.Items[0].Quantity)

	rr = e.do(http.MethodGet, "/api/orders", tok, nil)
	var page struct {
		Total int `json:"total"`
	}
	decodeInto(t, rr, &page)
	assert.Equal(t, 1, page.Total)

	path := "/api/orders/" + placed.Order.ID
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, path, other, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, path, tok, nil).Code)

	rr = e.do(http.MethodPost, path+"/cancel", tok, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	p2, err := repository.ProductByID(context.Background(), e.db, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, p2.Stock)

	assert.Equal(t, http.StatusConflict, e.do(http.MethodPost, path+"/cancel", tok, nil).Code)
}

func TestAdminOrderFlow(t *testing.T) {
	e := newEnv(t)
	admin := e.token(dbtest.User(t, e.db, "admin@example.com", auth.RoleAdmin), auth.RoleAdmin)
	user := e.token(dbtest.User(t, e.db, "u@example.com", auth.RoleUser), auth.RoleUser)
	p := dbtest.Product(t, e.db, "onyx-signet", 30000, 3)

	rr := e.do(http.MethodPost, "/api/checkout", "", map[string]interface{}{
		"email": "g@example.com", "name": "G", "provider": "stripe", "shippingAddress": shipTo(),
		"items": []map[string]interface{}{{"productId": p.ID, "quantity": 1}},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var placed checkout.Placed
	decodeInto(t, rr, &placed)

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/api/admin/orders", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/api/admin/orders", user, nil).Code)

	status := func(to, tracking string) *httptest.ResponseRecorder {
		return e.do(http.MethodPost, "/api/admin/orders/"+placed.Order.ID+"/status", admin,
			map[string]string{"status": to, "trackingNumber": tracking})
	}
	assert.Equal(t, http.StatusConflict, status(order.StatusShipped, "").Code, "pending cannot ship")
	assert.Equal(t, http.StatusConflict, status(order.StatusConfirmed, "").Code, "only a payment confirms")

	_, err := e.orders.ConfirmPayment(context.Background(), order.Confirmation{
		OrderID: placed.Order.ID, Provider: "stripe", TransactionID: "pi_admin",
		AmountCents: placed.Order.TotalCents, Currency: placed.Order.Currency, Source: order.SourceWebhook,
	})
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, status(order.StatusProcessing, "").Code)
	rr = status(order.StatusShipped, "1Z999")
	require.Equal(t, http.StatusOK, rr.Code)
	var o repository.Order
	decodeInto(t, rr, &o)
	assert.Equal(t, "1Z999", o.TrackingNumber)

	rr = e.do(http.MethodPost, "/api/admin/orders/"+placed.Order.ID+"/refund", admin, map[string]string{"note": "damaged"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	decodeInto(t, rr, &o)
	assert.Equal(t, order.StatusRefunded, o.Status)
	assert.Equal(t, []string{"pi_admin"}, e.fake.Refunds)

	rr = e.do(http.MethodGet, "/api/admin/orders/"+placed.Order.ID, admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var detail struct {
		Payments []repository.Payment `json:"payments"`
		History  []repository.StatusChange
	}
	decodeInto(t, rr, &detail)
	require.Len(t, detail.Payments, 1)
	assert.False(t, detail.Payments[0].RefundedAt.IsZero())

	rr = e.do(http.MethodGet, "/api/admin/orders?status=refunded", admin, nil)
	assert.Contains(t, rr.Body.String(), placed.Order.Number)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/admin/orders?status=lost", admin, nil).Code)

	rr = e.do(http.MethodGet, "/api/admin/stats", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var stats struct {
		ByStatus       map[string]int `json:"byStatus"`
		RefundedCents  int64          `json:"refundedCents"`
		PendingEmails  int            `json:"pendingEmails"`
		ProductsOnSale int            `json:"productsOnSale"`
	}
	decodeInto(t, rr, &stats)
	assert.Equal(t, 1, stats.ByStatus[order.StatusRefunded])
	assert.Equal(t, placed.Order.TotalCents, stats.RefundedCents)
	assert.Positive(t, stats.PendingEmails)
	assert.Equal(t, 1, stats.ProductsOnSale)
}

func TestAdminCatalogAndCoupons(t *testing.T) {
	e := newEnv(t)
	admin := e.token(dbtest.User(t, e.db, "admin@example.com", auth.RoleAdmin), auth.RoleAdmin)

	rr := e.do(http.MethodPost, "/api/admin/categories", admin, map[string]interface{}{"slug": "necklaces", "name": "Necklaces"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	product := map[string]interface{}{
		"slug": "lapis-pendant", "name": "Lapis Pendant", "category": "necklaces", "material": "silver",
		"gemstone": "lapis", "priceCents": 7900, "stock": 4, "images": []string{"https://cdn.example.com/lapis.jpg"},
	}
	rr = e.do(http.MethodPost, "/api/admin/products", admin, product)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var p repository.Product
	decodeInto(t, rr, &p)
	assert.Equal(t, "necklaces", p.CategorySlug)
	assert.True(t, p.Active)

	assert.Equal(t, http.StatusConflict, e.do(http.MethodPost, "/api/admin/products", admin, product).Code)

	product["priceCents"] = 8900
	product["category"] = "unknown"
	assert.Equal(t, http.StatusUnprocessableEntity, e.do(http.MethodPut, "/api/admin/products/"+p.ID, admin, product).Code)
	product["category"] = "necklaces"
	rr = e.do(http.MethodPut, "/api/admin/products/"+p.ID, admin, product)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeInto(t, rr, &p)
	assert.Equal(t, int64(8900), p.PriceCents)

	assert.Equal(t, http.StatusNoContent, e.do(http.MethodDelete, "/api/admin/products/"+p.ID, admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/products/lapis-pendant", "", nil).Code)

	rr = e.do(http.MethodPost, "/api/admin/coupons", admin, map[string]interface{}{"code": "spring10", "kind": "percent", "value": 10})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	c, err := repository.CouponByCode(context.Background(), e.db, "SPRING10")
	require.NoError(t, err)
	assert.True(t, c.Active)

	rr = e.do(http.MethodPost, "/api/admin/coupons", admin, map[string]interface{}{"code": "bad", "kind": "percent", "value": 150})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestContactQueuesEmail(t *testing.T) {
	e := newEnv(t)
	rr := e.do(http.MethodPost, "/api/contact", "", map[string]string{
		"name": "Ivy", "email": "ivy@example.com", "subject": "Ring sizing", "message": "Do you resize rings?",
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	due, err := repository.DueMessages(context.Background(), e.db, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, repository.MessageContact, due[0].Kind)
	assert.Equal(t, "store@aurum.example", due[0].Recipient)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/api/contact", "", map[string]string{"name": "x"}).Code)
}

func TestAdminReconcileAndHealth(t *testing.T) {
	e := newEnv(t)
	admin := e.token(dbtest.User(t, e.db, "admin@example.com", auth.RoleAdmin), auth.RoleAdmin)

	rr := e.do(http.MethodPost, "/api/admin/reconcile", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var sum reconcile.Summary
	decodeInto(t, rr, &sum)
	assert.Zero(t, sum.Checked)

	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/healthz", "", nil).Code)
	rr = e.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "aurum_http_request_duration_seconds")
}

func TestRateLimitOnAuth(t *testing.T) {
	e := newEnv(t)
	srv := NewServer(Deps{Config: &config.Config{JWTSecret: testSecret, RateLimitRPS: 0.001, RateLimitBurst: 2}, DB: e.db})
	h := srv.Routes()
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(`{}`))
		req.RemoteAddr = "203.0.113.7:5555"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusBadRequest, http.StatusBadRequest, http.StatusTooManyRequests}, codes, fmt.Sprint(codes))
}
