package cache

import (
	"context"
	"time"

	"fournil/backend/internal/domain"
)

const CatalogKey = "fournil:catalog:v1"

type CatalogCache interface {
	Get(ctx context.Context) (*domain.CatalogSnapshot, bool, error)
	Set(ctx context.Context, value *domain.CatalogSnapshot, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context) (*domain.CatalogSnapshot, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) Set(_ context.Context, _ *domain.CatalogSnapshot, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) Invalidate(_ context.Context) error {
	return nil
}
