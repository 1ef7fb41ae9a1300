package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aurum/api/internal/db"
	"aurum/api/internal/db/dbtest"
)

func deliver(d *db.DB, eventID string, process func(context.Context) error) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	ProcessWebhook(context.Background(), rr, d, "stripe", eventID, "payment_intent.succeeded", process)
	return rr
}

func TestWebhookRedeliveryWhileProcessingIsRetried(t *testing.T) {
	d := dbtest.New(t)

	var concurrent *httptest.ResponseRecorder
	first := deliver(d, "evt_1", func(context.Context) error {
		concurrent = deliver(d, "evt_1", func(context.Context) error {
			t.Fatal("second delivery must not process")
			return nil
		})
		return errors.New("provider timeout")
	})
	assert.Equal(t, http.StatusInternalServerError, first.Code)
	require.NotNil(t, concurrent)
	assert.Equal(t, http.StatusConflict, concurrent.Code, concurrent.Body.String())

	calls := 0
	retry := deliver(d, "evt_1", func(context.Context) error { calls++; return nil })
	assert.Equal(t, http.StatusOK, retry.Code)
	assert.JSONEq(t, `{"status":"processed"}`, retry.Body.String())
	assert.Equal(t, 1, calls)

	dup := deliver(d, "evt_1", func(context.Context) error { calls++; return nil })
	assert.Equal(t, http.StatusOK, dup.Code)
	assert.JSONEq(t, `{"status":"duplicate"}`, dup.Body.String())
	assert.Equal(t, 1, calls)
}

func TestWebhookStaleClaimIsTakenOver(t *testing.T) {
	d := dbtest.New(t)
	_, err := d.ExecContext(context.Background(), `INSERT INTO webhook_events (id, provider, event_id, event_type, processed, received_at)
		VALUES ('w1', 'stripe', 'evt_2', 'payment_intent.succeeded', 0, ?)`, db.FormatTime(time.Now().Add(-time.Hour)))
	require.NoError(t, err)

	calls := 0
	rr := deliver(d, "evt_2", func(context.Context) error { calls++; return nil })
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 1, calls)

	var processed int
	require.NoError(t, d.QueryRowContext(context.Background(),
		`SELECT processed FROM webhook_events WHERE event_id = 'evt_2'`).Scan(&processed))
	assert.Equal(t, 1, processed)
}
