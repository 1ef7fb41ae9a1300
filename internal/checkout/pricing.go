// Package checkout prices carts and turns them into pending orders with an
// open payment session.
package checkout

import (
	"time"

	"github.com/shopspring/decimal"

	"aurum/api/internal/money"
	"aurum/api/internal/repository"
)

// Settings are the store's pricing rules.
type Settings struct {
	Currency                   string
	TaxRate                    decimal.Decimal
	ShippingFlatCents          int64
	FreeShippingThresholdCents int64
	OrderExpiry                time.Duration
}

type Line struct {
	ProductID      string `json:"productId"`
	Slug           string `json:"slug"`
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unitPriceCents"`
	Quantity       int    `json:"quantity"`
	LineTotalCents int64  `json:"lineTotalCents"`
}

type Quote struct {
	Lines         []Line `json:"lines"`
	Currency      string `json:"currency"`
	CouponCode    string `json:"couponCode,omitempty"`
	SubtotalCents int64  `json:"subtotalCents"`
	DiscountCents int64  `json:"discountCents"`
	ShippingCents int64  `json:"shippingCents"`
	TaxCents      int64  `json:"taxCents"`
	TotalCents    int64  `json:"totalCents"`
}

// Price totals lines. The discount never exceeds the subtotal, shipping is
// free once the discounted subtotal reaches the threshold, and tax applies to
// the discounted subtotal only.
func Price(lines []Line, coupon *repository.Coupon, s Settings) Quote {
	q := Quote{Lines: lines, Currency: s.Currency}
	for i := range q.Lines {
		l := &q.Lines[i]
		l.LineTotalCents = l.UnitPriceCents * int64(l.Quantity)
		q.SubtotalCents += l.LineTotalCents
	}
	if coupon != nil {
		q.CouponCode = coupon.Code
		switch coupon.Kind {
		case repository.CouponPercent:
			q.DiscountCents = money.Percent(q.SubtotalCents, decimal.NewFromInt(coupon.Value))
		case repository.CouponFixed:
			q.DiscountCents = coupon.Value
		}
		if q.DiscountCents > q.SubtotalCents {
			q.DiscountCents = q.SubtotalCents
		}
	}
	discounted := q.SubtotalCents - q.DiscountCents
	q.ShippingCents = s.ShippingFlatCents
	if len(lines) == 0 || (s.FreeShippingThresholdCents > 0 && discounted >= s.FreeShippingThresholdCents) {
		q.ShippingCents = 0
	}
	q.TaxCents = money.Percent(discounted, s.TaxRate)
	q.TotalCents = discounted + q.ShippingCents + q.TaxCents
	return q
}

// couponUsable reports why a coupon cannot apply to subtotal, or "".
func couponUsable(c *repository.Coupon, subtotal int64, now time.Time) string {
	switch {
	case !c.Active:
		return "coupon is not active"
	case !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt):
		return "coupon has expired"
	case c.MaxUses > 0 && c.UsedCount >= c.MaxUses:
		return "coupon has been fully redeemed"
	case subtotal < c.MinSubtotalCents:
		return "order total is below the coupon minimum"
	}
	return ""
}
