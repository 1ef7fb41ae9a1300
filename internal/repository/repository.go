// Package repository holds the SQL for every table. Functions take a
// db.Querier so callers decide whether they run inside a transaction.
package repository

import (
	"database/sql"
	"errors"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrVersionConflict   = errors.New("version conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrCouponExhausted   = errors.New("coupon exhausted")
)

type scanner interface {
	Scan(dest ...interface{}) error
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}
