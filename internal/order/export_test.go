package order

import (
	"context"

	"aurum/api/internal/db"
	"aurum/api/internal/repository"
)

// SetLoadedHook installs fn to run inside ConfirmPayment's transaction right
// after the order is read.
func SetLoadedHook(s *Service, fn func(ctx context.Context, q db.Querier, o *repository.Order) error) {
	s.loaded = fn
}
