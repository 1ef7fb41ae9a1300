package db_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aurum/api/internal/db"
	"aurum/api/internal/db/dbtest"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	d, err := db.OpenSQLite(filepath.Join(t.TempDir(), "nested", "aurum.db"))
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, db.Migrate(ctx, d))
	v1, err := db.SchemaVersion(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, 3, v1)

	require.NoError(t, db.Migrate(ctx, d))
	v2, err := db.SchemaVersion(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	d := dbtest.New(t)
	now := db.FormatTime(time.Now())

	boom := errors.New("boom")
	err := d.InTx(ctx, func(q db.Querier) error {
		_, err := q.ExecContext(ctx, `INSERT INTO categories (id, slug, name) VALUES (?, ?, ?)`, "c1", "rings", "Rings")
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, d.QueryRowContext(ctx, `SELECT COUNT(*) FROM categories`).Scan(&n))
	assert.Zero(t, n)

	err = d.InTx(ctx, func(q db.Querier) error {
		_, err := q.ExecContext(ctx, `INSERT INTO users (id, name, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
			"u1", "Ada", "ada@example.com", "x", now)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, d.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestTimeRoundTripKeepsOrder(t *testing.T) {
	a := time.Date(2026, 1, 2, 3, 4, 5, 6000, time.FixedZone("x", 3600))
	b := a.Add(time.Millisecond)
	assert.Less(t, db.FormatTime(a), db.FormatTime(b))
	assert.True(t, db.ParseTime(db.FormatTime(a)).Equal(a))
	assert.True(t, db.ParseTime("").IsZero())
	assert.Equal(t, 2026, db.ParseTime("2026-03-01 10:00:00").Year())
}
