package repository

import (
	"context"
	"database/sql"
	"time"

	"aurum/api/internal/db"
)

type CartLine struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

func CartLines(ctx context.Context, q db.Querier, userID string) ([]CartLine, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+productColumns+`, ci.quantity`+productFrom+`
		JOIN cart_items ci ON ci.product_id = p.id WHERE ci.user_id = ? ORDER BY ci.added_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []CartLine{}
	for rows.Next() {
		var qty int
		p, err := scanProduct(rowWithExtra{rows, &qty})
		if err != nil {
			return nil, err
		}
		lines = append(lines, CartLine{Product: *p, Quantity: qty})
	}
	return lines, rows.Err()
}

// rowWithExtra appends trailing destinations to a product scan.
type rowWithExtra struct {
	s     scanner
	extra interface{}
}

func (r rowWithExtra) Scan(dest ...interface{}) error {
	return r.s.Scan(append(dest, r.extra)...)
}

// CartQuantity returns the quantity of productID in the user's cart, 0 if absent.
func CartQuantity(ctx context.Context, q db.Querier, userID, productID string) (int, error) {
	var qty int
	err := q.QueryRowContext(ctx, `SELECT quantity FROM cart_items WHERE user_id = ? AND product_id = ?`, userID, productID).Scan(&qty)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return qty, err
}

func SetCartItem(ctx context.Context, q db.Querier, userID, productID string, quantity int) error {
	_, err := q.ExecContext(ctx, `INSERT INTO cart_items (user_id, product_id, quantity, added_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, product_id) DO UPDATE SET quantity = excluded.quantity`,
		userID, productID, quantity, db.FormatTime(time.Now()))
	return err
}

func RemoveCartItem(ctx context.Context, q db.Querier, userID, productID string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = ? AND product_id = ?`, userID, productID)
	return err
}

func ClearCart(ctx context.Context, q db.Querier, userID string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = ?`, userID)
	return err
}
