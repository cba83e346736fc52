// Package catalog serves the read-only product and client catalog with a
// read-through cache in front of the repository.
package catalog

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"fournil/backend/internal/cache"
	"fournil/backend/internal/domain"
	"fournil/backend/internal/store"
)

type Source struct {
	repo  store.CatalogStore
	cache cache.CatalogCache
	ttl   time.Duration
}

func NewSource(repo store.CatalogStore, catalogCache cache.CatalogCache, ttl time.Duration) *Source {
	if catalogCache == nil {
		catalogCache = cache.NoopCatalogCache{}
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Source{repo: repo, cache: catalogCache, ttl: ttl}
}

func (s *Source) Catalog(ctx context.Context) (*domain.Catalog, error) {
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return domain.NewCatalog(snapshot.Products, snapshot.Clients), nil
}

// Snapshot returns the cached catalog, loading it from the repository on a
// miss. Cache failures only cost a repository read.
func (s *Source) Snapshot(ctx context.Context) (*domain.CatalogSnapshot, error) {
	cached, ok, err := s.cache.Get(ctx)
	if err != nil {
		log.Printf("[catalog] WARN: cache read failed: %v", err)
	}
	if ok && cached != nil {
		return cached, nil
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	clients, err := s.repo.ListClients(ctx)
	if err != nil {
		return nil, err
	}
	snapshot := &domain.CatalogSnapshot{Products: products, Clients: clients}
	if err := s.cache.Set(ctx, snapshot, s.ttl); err != nil {
		log.Printf("[catalog] WARN: cache write failed: %v", err)
	}
	return snapshot, nil
}

// Import upserts every product and client of snapshot and drops the cache.
func (s *Source) Import(ctx context.Context, snapshot domain.CatalogSnapshot) (int, int, error) {
	for _, p := range snapshot.Products {
		if err := validateProduct(p); err != nil {
			return 0, 0, err
		}
	}
	for _, c := range snapshot.Clients {
		if strings.TrimSpace(c.ID) == "" || strings.TrimSpace(c.Name) == "" {
			return 0, 0, fmt.Errorf("%w: client id and name are required", store.ErrInvalidInput)
		}
		if c.PriceTier != "" && c.PriceTier != domain.PriceTierClient && c.PriceTier != domain.PriceTierShop {
			return 0, 0, fmt.Errorf("%w: client %s has unknown price tier %q", store.ErrInvalidInput, c.ID, c.PriceTier)
		}
		for _, line := range c.DefaultOrder {
			if !line.Split.Valid() {
				return 0, 0, fmt.Errorf("%w: client %s default order has negative quantities", store.ErrInvalidInput, c.ID)
			}
		}
	}

	products, clients := 0, 0
	for _, p := range snapshot.Products {
		if err := s.repo.UpsertProduct(ctx, p); err != nil {
			return products, clients, err
		}
		products++
	}
	for _, c := range snapshot.Clients {
		if c.PriceTier == "" {
			c.PriceTier = domain.PriceTierClient
		}
		if err := s.repo.UpsertClient(ctx, c); err != nil {
			return products, clients, err
		}
		clients++
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		log.Printf("[catalog] WARN: cache invalidate failed: %v", err)
	}
	return products, clients, nil
}

func validateProduct(p domain.Product) error {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: product id and name are required", store.ErrInvalidInput)
	}
	if p.ClientPrice.IsNegative() || p.ShopPrice.IsNegative() {
		return fmt.Errorf("%w: product %s has a negative price", store.ErrInvalidInput, p.ID)
	}
	for _, entry := range p.Recipe {
		if strings.TrimSpace(entry.MaterialID) == "" || entry.QuantityPerUnit.IsNegative() {
			return fmt.Errorf("%w: product %s has an invalid recipe entry", store.ErrInvalidInput, p.ID)
		}
	}
	return nil
}
