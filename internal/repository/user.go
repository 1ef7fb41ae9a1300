package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"aurum/api/internal/db"
)

type UserRow struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

const userColumns = `id, name, email, password_hash, role, created_at`

func scanUser(s scanner) (*UserRow, error) {
	var u UserRow
	var createdAt string
	if err := s.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &createdAt); err != nil {
		return nil, err
	}
	u.CreatedAt = db.ParseTime(createdAt)
	return &u, nil
}

func UserByEmail(ctx context.Context, q db.Querier, email string) (*UserRow, error) {
	u, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, strings.ToLower(email)))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return u, err
}

func UserByID(ctx context.Context, q db.Querier, id string) (*UserRow, error) {
	u, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return u, err
}

func CreateUser(ctx context.Context, q db.Querier, name, email, passwordHash, role string) (string, error) {
	id := uuid.New().String()
	_, err := q.ExecContext(ctx, `INSERT INTO users (id, name, email, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, name, strings.ToLower(email), passwordHash, role, db.FormatTime(time.Now()),
	)
	return id, err
}
