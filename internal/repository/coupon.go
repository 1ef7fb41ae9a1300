package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"aurum/api/internal/db"
)

const (
	CouponPercent = "percent"
	CouponFixed   = "fixed"
)

// Coupon discounts an order. Value is a whole percent for CouponPercent and
// cents for CouponFixed. MaxUses 0 means unlimited.
type Coupon struct {
	Code             string    `json:"code"`
	Kind             string    `json:"kind"`
	Value            int64     `json:"value"`
	MinSubtotalCents int64     `json:"minSubtotalCents"`
	MaxUses          int       `json:"maxUses"`
	UsedCount        int       `json:"usedCount"`
	ExpiresAt        time.Time `json:"expiresAt,omitempty"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"createdAt"`
}

func CouponByCode(ctx context.Context, q db.Querier, code string) (*Coupon, error) {
	var c Coupon
	var expiresAt, createdAt string
	var active int
	err := q.QueryRowContext(ctx, `SELECT code, kind, value, min_subtotal_cents, max_uses, used_count, expires_at, active, created_at
		FROM coupons WHERE code = ?`, strings.ToUpper(code)).
		Scan(&c.Code, &c.Kind, &c.Value, &c.MinSubtotalCents, &c.MaxUses, &c.UsedCount, &expiresAt, &active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.ExpiresAt = db.ParseTime(expiresAt)
	c.CreatedAt = db.ParseTime(createdAt)
	c.Active = active == 1
	return &c, nil
}

func CreateCoupon(ctx context.Context, q db.Querier, c *Coupon) error {
	c.Code = strings.ToUpper(c.Code)
	c.CreatedAt = time.Now().UTC()
	expires := ""
	if !c.ExpiresAt.IsZero() {
		expires = db.FormatTime(c.ExpiresAt)
	}
	_, err := q.ExecContext(ctx, `INSERT INTO coupons (code, kind, value, min_subtotal_cents, max_uses, used_count, expires_at, active, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		c.Code, c.Kind, c.Value, c.MinSubtotalCents, c.MaxUses, expires, boolInt(c.Active), db.FormatTime(c.CreatedAt))
	return err
}

// RedeemCoupon counts one use, failing once max_uses is reached.
func RedeemCoupon(ctx context.Context, q db.Querier, code string) error {
	res, err := q.ExecContext(ctx, `UPDATE coupons SET used_count = used_count + 1
		WHERE code = ? AND (max_uses = 0 OR used_count < max_uses)`, strings.ToUpper(code))
	if err != nil {
		return err
	}
	if n, err := rowsAffected(res); err != nil {
		return err
	} else if n == 0 {
		return ErrCouponExhausted
	}
	return nil
}

// ReleaseCoupon gives a use back when an unpaid order is cancelled.
func ReleaseCoupon(ctx context.Context, q db.Querier, code string) error {
	_, err := q.ExecContext(ctx, `UPDATE coupons SET used_count = used_count - 1 WHERE code = ? AND used_count > 0`, strings.ToUpper(code))
	return err
}
