package cache

import (
	"context"
	"time"

	"nhathuocpos/backend/internal/domain"
)

// ProductCache is a read-through cache for the catalog snapshot. The
// service invalidates it on every catalog or stock mutation, checkout
// included.
type ProductCache interface {
	Get(ctx context.Context) ([]domain.Product, bool, error)
	Set(ctx context.Context, products []domain.Product, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopProductCache struct{}

func (NoopProductCache) Get(_ context.Context) ([]domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopProductCache) Set(_ context.Context, _ []domain.Product, _ time.Duration) error {
	return nil
}

func (NoopProductCache) Invalidate(_ context.Context) error {
	return nil
}
