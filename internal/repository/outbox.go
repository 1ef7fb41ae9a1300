package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"aurum/api/internal/db"
)

// Message kinds.
const (
	MessageOrderConfirmation = "order_confirmation"
	MessageStatusUpdate      = "status_update"
	MessageContact           = "contact"
)

type OutboxMessage struct {
	ID            string
	Kind          string
	Recipient     string
	Subject       string
	Payload       string
	Attempts      int
	NextAttemptAt time.Time
	SentAt        time.Time
	Failed        bool
	LastError     string
	CreatedAt     time.Time
}

// EnqueueMessage stores a message for the dispatcher. Callers pass the
// transaction that made the change the message reports on.
func EnqueueMessage(ctx context.Context, q db.Querier, kind, recipient, subject, payload string) (string, error) {
	id := uuid.New().String()
	now := db.FormatTime(time.Now())
	if payload == "" {
		payload = "{}"
	}
	_, err := q.ExecContext(ctx, `INSERT INTO outbox (id, kind, recipient, subject, payload, attempts, next_attempt_at, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)`, id, kind, recipient, subject, payload, now, now)
	return id, err
}

// DueMessages returns unsent, not failed messages whose next attempt is at or
// before now, oldest first.
func DueMessages(ctx context.Context, q db.Querier, now time.Time, limit int) ([]OutboxMessage, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, kind, recipient, subject, payload, attempts, next_attempt_at, sent_at, failed, last_error, created_at
		FROM outbox WHERE sent_at = '' AND failed = 0 AND next_attempt_at <= ? ORDER BY created_at LIMIT ?`,
		db.FormatTime(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		var next, sent, created string
		var failed int
		if err := rows.Scan(&m.ID, &m.Kind, &m.Recipient, &m.Subject, &m.Payload, &m.Attempts, &next, &sent, &failed,
			&m.LastError, &created); err != nil {
			return nil, err
		}
		m.NextAttemptAt = db.ParseTime(next)
		m.SentAt = db.ParseTime(sent)
		m.CreatedAt = db.ParseTime(created)
		m.Failed = failed == 1
		list = append(list, m)
	}
	return list, rows.Err()
}

func MarkMessageSent(ctx context.Context, q db.Querier, id string, at time.Time) error {
	_, err := q.ExecContext(ctx, `UPDATE outbox SET sent_at = ?, attempts = attempts + 1, last_error = '' WHERE id = ?`,
		db.FormatTime(at), id)
	return err
}

// MarkMessageAttempt records a failed send. With giveUp the message is
// parked as failed; otherwise it is retried at next.
func MarkMessageAttempt(ctx context.Context, q db.Querier, id, lastErr string, next time.Time, giveUp bool) error {
	_, err := q.ExecContext(ctx, `UPDATE outbox SET attempts = attempts + 1, last_error = ?, next_attempt_at = ?, failed = ? WHERE id = ?`,
		lastErr, db.FormatTime(next), boolInt(giveUp), id)
	return err
}

// PendingMessageCount counts messages still waiting to be sent.
func PendingMessageCount(ctx context.Context, q db.Querier) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE sent_at = '' AND failed = 0`).Scan(&n)
	return n, err
}
