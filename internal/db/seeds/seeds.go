// Package seeds loads a demo catalog, two accounts and a coupon.
package seeds

import (
	"context"
	"fmt"

	"aurum/api/internal/auth"
	"aurum/api/internal/db"
	"aurum/api/internal/repository"
)

// Password for both seed accounts.
const Password = "aurum-demo-123"

// Run clears store data and inserts fresh seed data.
// Safe to run multiple times (resets to seed state).
func Run(ctx context.Context, d *db.DB) error {
	return d.InTx(ctx, func(q db.Querier) error {
		if err := clear(ctx, q); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
		if err := insert(ctx, q); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		return nil
	})
}

func clear(ctx context.Context, q db.Querier) error {
	tables := []string{
		"outbox", "webhook_events", "payments", "order_items", "orders",
		"wishlist_items", "cart_items", "coupons", "products", "categories", "users",
	}
	for _, t := range tables {
		if _, err := q.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("delete %s: %w", t, err)
		}
	}
	return nil
}

type seedProduct struct {
	slug, name, description string
	material, gemstone      string
	price, compareAt        int64
	stock                   int
	featured                bool
}

var catalog = []struct {
	slug, name, description string
	products                []seedProduct
}{
	{"rings", "Rings", "Solitaires, bands and stackables.", []seedProduct{
		{"classic-solitaire", "Classic Solitaire", "A round brilliant diamond on a slim 18k band.", "gold", "diamond", 189000, 0, 4, true},
		{"eternity-band", "Eternity Band", "Channel-set diamonds all the way round.", "platinum", "diamond", 245000, 275000, 2, false},
		{"signet-ring", "Signet Ring", "Oval face ready for engraving.", "silver", "", 14900, 0, 12, false},
	}},
	{"necklaces", "Necklaces", "Pendants and chains.", []seedProduct{
		{"pearl-strand", "Pearl Strand", "Akoya pearls, hand knotted on silk.", "gold", "pearl", 98000, 0, 3, true},
		{"emerald-pendant", "Emerald Pendant", "Pear-cut emerald in a yellow gold halo.", "gold", "emerald", 132000, 149000, 1, false},
		{"box-chain", "Box Chain", "45cm sterling box chain.", "silver", "", 6900, 0, 25, false},
	}},
	{"earrings", "Earrings", "Studs, hoops and drops.", []seedProduct{
		{"diamond-studs", "Diamond Studs", "Half-carat total weight in four-prong settings.", "gold", "diamond", 112000, 0, 6, true},
		{"sapphire-drops", "Sapphire Drops", "Ceylon sapphires below a diamond accent.", "white gold", "sapphire", 156000, 0, 2, false},
		{"huggie-hoops", "Huggie Hoops", "Small hoops for everyday wear.", "silver", "", 8900, 11900, 18, false},
	}},
	{"bracelets", "Bracelets", "Tennis, cuff and charm bracelets.", []seedProduct{
		{"tennis-bracelet", "Tennis Bracelet", "Three carats of matched round diamonds.", "white gold", "diamond", 420000, 0, 1, true},
		{"open-cuff", "Open Cuff", "Hammered finish, adjustable fit.", "gold", "", 54000, 0, 7, false},
	}},
}

func insert(ctx context.Context, q db.Querier) error {
	hash, err := auth.HashPassword(Password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	users := []struct{ name, email, role string }{
		{"Store Admin", "admin@aurum.local", auth.RoleAdmin},
		{"Ana Costa", "ana@aurum.local", auth.RoleUser},
	}
	for _, u := range users {
		if _, err := repository.CreateUser(ctx, q, u.name, u.email, hash, u.role); err != nil {
			return fmt.Errorf("insert user %s: %w", u.email, err)
		}
	}

	for i, c := range catalog {
		cat := &repository.Category{Slug: c.slug, Name: c.name, Description: c.description, Position: i}
		if err := repository.CreateCategory(ctx, q, cat); err != nil {
			return fmt.Errorf("insert category %s: %w", c.slug, err)
		}
		for _, sp := range c.products {
			p := &repository.Product{
				Slug:           sp.slug,
				Name:           sp.name,
				Description:    sp.description,
				CategoryID:     cat.ID,
				Material:       sp.material,
				Gemstone:       sp.gemstone,
				PriceCents:     sp.price,
				CompareAtCents: sp.compareAt,
				Stock:          sp.stock,
				Images:         []string{"/images/products/" + sp.slug + ".jpg"},
				Featured:       sp.featured,
				Active:         true,
			}
			if err := repository.CreateProduct(ctx, q, p); err != nil {
				return fmt.Errorf("insert product %s: %w", sp.slug, err)
			}
		}
	}

	coupon := &repository.Coupon{Code: "WELCOME10", Kind: repository.CouponPercent, Value: 10, Active: true}
	if err := repository.CreateCoupon(ctx, q, coupon); err != nil {
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}
