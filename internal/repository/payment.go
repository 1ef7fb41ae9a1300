package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"aurum/api/internal/db"
)

type Payment struct {
	ID            string    `json:"id"`
	OrderID       string    `json:"orderId"`
	Provider      string    `json:"provider"`
	TransactionID string    `json:"transactionId"`
	AmountCents   int64     `json:"amountCents"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	Source        string    `json:"source"`
	CreatedAt     time.Time `json:"createdAt"`
	RefundedAt    time.Time `json:"refundedAt,omitempty"`
}

const paymentColumns = `id, order_id, provider, transaction_id, amount_cents, currency, status, source, created_at, refunded_at`

func scanPayment(s scanner) (*Payment, error) {
	var p Payment
	var createdAt, refundedAt string
	if err := s.Scan(&p.ID, &p.OrderID, &p.Provider, &p.TransactionID, &p.AmountCents, &p.Currency, &p.Status,
		&p.Source, &createdAt, &refundedAt); err != nil {
		return nil, err
	}
	p.CreatedAt = db.ParseTime(createdAt)
	p.RefundedAt = db.ParseTime(refundedAt)
	return &p, nil
}

// InsertPayment records a captured payment. inserted is false when a row for
// the same (provider, transaction id) already exists; nothing is written then.
func InsertPayment(ctx context.Context, q db.Querier, p *Payment) (inserted bool, err error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = time.Now().UTC()
	res, err := q.ExecContext(ctx, `INSERT INTO payments (id, order_id, provider, transaction_id, amount_cents, currency, status, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (provider, transaction_id) DO NOTHING`,
		p.ID, p.OrderID, p.Provider, p.TransactionID, p.AmountCents, p.Currency, p.Status, p.Source, db.FormatTime(p.CreatedAt))
	if err != nil {
		return false, err
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func PaymentByProviderTxn(ctx context.Context, q db.Querier, provider, txnID string) (*Payment, error) {
	p, err := scanPayment(q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE provider = ? AND transaction_id = ?`,
		provider, txnID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return p, err
}

func PaymentsByOrder(ctx context.Context, q db.Querier, orderID string) ([]Payment, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = ? ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

// MarkPaymentRefunded sets refunded_at once. It reports whether the row changed.
func MarkPaymentRefunded(ctx context.Context, q db.Querier, provider, txnID string) (bool, error) {
	res, err := q.ExecContext(ctx, `UPDATE payments SET status = 'refunded', refunded_at = ?
		WHERE provider = ? AND transaction_id = ? AND refunded_at = ''`, db.FormatTime(time.Now()), provider, txnID)
	if err != nil {
		return false, err
	}
	n, err := rowsAffected(res)
	return n > 0, err
}
