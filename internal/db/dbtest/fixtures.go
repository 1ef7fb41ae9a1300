package dbtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"aurum/api/internal/db"
	"aurum/api/internal/repository"
)

// Category inserts a category with the given slug.
func Category(t testing.TB, d *db.DB, slug string) *repository.Category {
	t.Helper()
	c := &repository.Category{Slug: slug, Name: slug}
	require.NoError(t, repository.CreateCategory(context.Background(), d, c))
	return c
}

// Product inserts an active product.
func Product(t testing.TB, d *db.DB, slug string, priceCents int64, stock int) *repository.Product {
	t.Helper()
	p := &repository.Product{
		Slug:       slug,
		Name:       slug,
		Material:   "gold",
		PriceCents: priceCents,
		Stock:      stock,
		Active:     true,
	}
	require.NoError(t, repository.CreateProduct(context.Background(), d, p))
	return p
}

// User inserts a user with a throwaway password hash and returns its id.
func User(t testing.TB, d *db.DB, email, role string) string {
	t.Helper()
	id, err := repository.CreateUser(context.Background(), d, email, email, "x", role)
	require.NoError(t, err)
	return id
}
