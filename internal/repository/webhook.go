package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"aurum/api/internal/db"
)

// InsertWebhookEvent claims a provider event. It returns false if the event
// was already received.
func InsertWebhookEvent(ctx context.Context, q db.Querier, provider, eventID, eventType string) (bool, error) {
	res, err := q.ExecContext(ctx, `INSERT INTO webhook_events (id, provider, event_id, event_type, processed, received_at)
		VALUES (?, ?, ?, ?, 0, ?) ON CONFLICT (provider, event_id) DO NOTHING`,
		uuid.New().String(), provider, eventID, eventType, db.FormatTime(time.Now()))
	if err != nil {
		return false, err
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// WebhookEventProcessed reports whether a claimed event finished processing.
// A missing claim reads as not processed.
func WebhookEventProcessed(ctx context.Context, q db.Querier, provider, eventID string) (bool, error) {
	var processed int
	err := q.QueryRowContext(ctx, `SELECT processed FROM webhook_events WHERE provider = ? AND event_id = ?`, provider, eventID).
		Scan(&processed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return processed == 1, nil
}

// ReclaimWebhookEvent takes over an unprocessed claim received before
// staleBefore, left behind by a delivery that never finished.
func ReclaimWebhookEvent(ctx context.Context, q db.Querier, provider, eventID string, staleBefore time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, `UPDATE webhook_events SET received_at = ?
		WHERE provider = ? AND event_id = ? AND processed = 0 AND received_at < ?`,
		db.FormatTime(time.Now()), provider, eventID, db.FormatTime(staleBefore))
	if err != nil {
		return false, err
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func MarkWebhookEventProcessed(ctx context.Context, q db.Querier, provider, eventID string) error {
	_, err := q.ExecContext(ctx, `UPDATE webhook_events SET processed = 1 WHERE provider = ? AND event_id = ?`, provider, eventID)
	return err
}

// DeleteWebhookEvent forgets an event whose processing failed so the
// provider's retry is handled again.
func DeleteWebhookEvent(ctx context.Context, q db.Querier, provider, eventID string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM webhook_events WHERE provider = ? AND event_id = ?`, provider, eventID)
	return err
}
