package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"aurum/api/internal/db"
)

type Address struct {
	Name       string `json:"name" validate:"required,max=120"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2,omitempty" validate:"max=200"`
	City       string `json:"city" validate:"required,max=120"`
	State      string `json:"state,omitempty" validate:"max=120"`
	PostalCode string `json:"postalCode" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,len=2"`
	Phone      string `json:"phone,omitempty" validate:"max=40"`
}

// StatusChange is one entry of an order's append-only status history.
type StatusChange struct {
	Status string    `json:"status"`
	At     time.Time `json:"at"`
	Source string    `json:"source"`
	Note   string    `json:"note,omitempty"`
}

type OrderItem struct {
	ID             string `json:"id"`
	OrderID        string `json:"orderId"`
	ProductID      string `json:"productId"`
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unitPriceCents"`
	Quantity       int    `json:"quantity"`
	LineTotalCents int64  `json:"lineTotalCents"`
}

type Order struct {
	ID              string         `json:"id"`
	Number          string         `json:"number"`
	UserID          string         `json:"userId,omitempty"`
	Email           string         `json:"email"`
	CustomerName    string         `json:"customerName"`
	Status          string         `json:"status"`
	PaymentStatus   string         `json:"paymentStatus"`
	Currency        string         `json:"currency"`
	SubtotalCents   int64          `json:"subtotalCents"`
	DiscountCents   int64          `json:"discountCents"`
	ShippingCents   int64          `json:"shippingCents"`
	TaxCents        int64          `json:"taxCents"`
	TotalCents      int64          `json:"totalCents"`
	CouponCode      string         `json:"couponCode,omitempty"`
	ShippingAddress Address        `json:"shippingAddress"`
	Provider        string         `json:"provider,omitempty"`
	ProviderRef     string         `json:"providerRef,omitempty"`
	TrackingNumber  string         `json:"trackingNumber,omitempty"`
	History         []StatusChange `json:"history"`
	Version         int            `json:"-"`
	ExpiresAt       time.Time      `json:"expiresAt"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	Items           []OrderItem    `json:"items"`
}

const orderColumns = `id, number, user_id, email, customer_name, status, payment_status, currency, subtotal_cents,
	discount_cents, shipping_cents, tax_cents, total_cents, coupon_code, shipping_address, provider, provider_ref,
	tracking_number, status_history, version, expires_at, created_at, updated_at`

func scanOrder(s scanner) (*Order, error) {
	var o Order
	var userID sql.NullString
	var address, history, expiresAt, createdAt, updatedAt string
	err := s.Scan(&o.ID, &o.Number, &userID, &o.Email, &o.CustomerName, &o.Status, &o.PaymentStatus, &o.Currency,
		&o.SubtotalCents, &o.DiscountCents, &o.ShippingCents, &o.TaxCents, &o.TotalCents, &o.CouponCode, &address,
		&o.Provider, &o.ProviderRef, &o.TrackingNumber, &history, &o.Version, &expiresAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	o.UserID = userID.String
	if err := json.Unmarshal([]byte(address), &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	if err := json.Unmarshal([]byte(history), &o.History); err != nil {
		return nil, fmt.Errorf("decode status history: %w", err)
	}
	o.ExpiresAt = db.ParseTime(expiresAt)
	o.CreatedAt = db.ParseTime(createdAt)
	o.UpdatedAt = db.ParseTime(updatedAt)
	return &o, nil
}

// NewOrderNumber returns a short human-facing order number.
func NewOrderNumber(now time.Time) string {
	return "AU-" + now.UTC().Format("060102") + "-" + strings.ToUpper(uuid.New().String()[:6])
}

// InsertOrder writes the order and its items. ID, Number, timestamps and
// Version are filled in when empty.
func InsertOrder(ctx context.Context, q db.Querier, o *Order) error {
	now := time.Now().UTC()
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.Number == "" {
		o.Number = NewOrderNumber(now)
	}
	o.CreatedAt, o.UpdatedAt = now, now
	o.Version = 1
	address, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return err
	}
	history, err := json.Marshal(historyOrEmpty(o.History))
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Number, nullString(o.UserID), strings.ToLower(o.Email), o.CustomerName, o.Status, o.PaymentStatus, o.Currency,
		o.SubtotalCents, o.DiscountCents, o.ShippingCents, o.TaxCents, o.TotalCents, o.CouponCode, string(address),
		o.Provider, o.ProviderRef, o.TrackingNumber, string(history), o.Version, db.FormatTime(o.ExpiresAt),
		db.FormatTime(now), db.FormatTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	for i := range o.Items {
		it := &o.Items[i]
		it.ID = uuid.New().String()
		it.OrderID = o.ID
		_, err := q.ExecContext(ctx, `INSERT INTO order_items (id, order_id, product_id, name, unit_price_cents, quantity, line_total_cents)
			VALUES (?, ?, ?, ?, ?, ?, ?)`, it.ID, it.OrderID, it.ProductID, it.Name, it.UnitPriceCents, it.Quantity, it.LineTotalCents)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func historyOrEmpty(h []StatusChange) []StatusChange {
	if h == nil {
		return []StatusChange{}
	}
	return h
}

// OrderByID loads an order with its items.
func OrderByID(ctx context.Context, q db.Querier, id string) (*Order, error) {
	o, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if o.Items, err = OrderItems(ctx, q, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

// OrderByProviderRef finds the order a payment session was opened for.
func OrderByProviderRef(ctx context.Context, q db.Querier, provider, ref string) (*Order, error) {
	o, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE provider = ? AND provider_ref = ?`, provider, ref))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if o.Items, err = OrderItems(ctx, q, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func OrderItems(ctx context.Context, q db.Querier, orderID string) ([]OrderItem, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, order_id, product_id, name, unit_price_cents, quantity, line_total_cents
		FROM order_items WHERE order_id = ? ORDER BY name`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []OrderItem{}
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Name, &it.UnitPriceCents, &it.Quantity, &it.LineTotalCents); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// OrderFilter narrows ListOrders. Empty fields are ignored.
type OrderFilter struct {
	UserID        string
	Status        string
	CreatedBefore time.Time
	Limit         int
	Offset        int
}

// ListOrders returns orders newest first without items, plus the total count.
func ListOrders(ctx context.Context, q db.Querier, f OrderFilter) ([]Order, int, error) {
	where := []string{"1 = 1"}
	args := []interface{}{}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, db.FormatTime(f.CreatedBefore))
	}
	cond := " WHERE " + strings.Join(where, " AND ")

	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	rows, err := q.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders`+cond+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	list := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, *o)
	}
	return list, total, rows.Err()
}

// UpdateOrderState persists status, payment status, history and tracking
// number if the row still has the version the caller read. The stored version
// is bumped and copied back into o.
func UpdateOrderState(ctx context.Context, q db.Querier, o *Order) error {
	history, err := json.Marshal(historyOrEmpty(o.History))
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := q.ExecContext(ctx, `UPDATE orders SET status = ?, payment_status = ?, status_history = ?, tracking_number = ?,
		version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		o.Status, o.PaymentStatus, string(history), o.TrackingNumber, db.FormatTime(now), o.ID, o.Version)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	o.Version++
	o.UpdatedAt = now
	return nil
}

// SetOrderProvider records the payment session opened for an order.
func SetOrderProvider(ctx context.Context, q db.Querier, orderID, provider, ref string) error {
	_, err := q.ExecContext(ctx, `UPDATE orders SET provider = ?, provider_ref = ?, updated_at = ? WHERE id = ?`,
		provider, ref, db.FormatTime(time.Now()), orderID)
	return err
}

type OrderStats struct {
	ByStatus         map[string]int `json:"byStatus"`
	PaidRevenueCents int64          `json:"paidRevenueCents"`
	PaidOrders       int            `json:"paidOrders"`
	RefundedCents    int64          `json:"refundedCents"`
}

func Stats(ctx context.Context, q db.Querier) (*OrderStats, error) {
	st := &OrderStats{ByStatus: map[string]int{}}
	rows, err := q.QueryContext(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		st.ByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	err = q.QueryRowContext(ctx, `SELECT COUNT(*), CAST(COALESCE(SUM(total_cents), 0) AS BIGINT) FROM orders WHERE payment_status = 'paid'`).
		Scan(&st.PaidOrders, &st.PaidRevenueCents)
	if err != nil {
		return nil, err
	}
	err = q.QueryRowContext(ctx, `SELECT CAST(COALESCE(SUM(total_cents), 0) AS BIGINT) FROM orders WHERE payment_status = 'refunded'`).
		Scan(&st.RefundedCents)
	return st, err
}

// PendingOrders returns pending orders oldest first for the reconciler.
func PendingOrders(ctx context.Context, q db.Querier, limit int) ([]Order, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE status = 'pending' ORDER BY created_at LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *o)
	}
	return list, rows.Err()
}
