package repository

import (
	"context"
	"time"

	"aurum/api/internal/db"
)

func WishlistProducts(ctx context.Context, q db.Querier, userID string) ([]Product, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+productColumns+productFrom+`
		JOIN wishlist_items wi ON wi.product_id = p.id WHERE wi.user_id = ? ORDER BY wi.added_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

// AddWishlistItem is a no-op when the product is already wishlisted.
func AddWishlistItem(ctx context.Context, q db.Querier, userID, productID string) error {
	_, err := q.ExecContext(ctx, `INSERT INTO wishlist_items (user_id, product_id, added_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id, product_id) DO NOTHING`, userID, productID, db.FormatTime(time.Now()))
	return err
}

func RemoveWishlistItem(ctx context.Context, q db.Querier, userID, productID string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM wishlist_items WHERE user_id = ? AND product_id = ?`, userID, productID)
	return err
}
