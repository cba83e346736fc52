package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fournil/backend/internal/domain"
	"fournil/backend/internal/store"
	"fournil/backend/internal/store/memory"
)

type fakeCache struct {
	value       *domain.CatalogSnapshot
	gets        int
	sets        int
	invalidated int
	getErr      error
}

func (c *fakeCache) Get(context.Context) (*domain.CatalogSnapshot, bool, error) {
	c.gets++
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	return c.value, c.value != nil, nil
}

func (c *fakeCache) Set(_ context.Context, value *domain.CatalogSnapshot, _ time.Duration) error {
	c.sets++
	c.value = value
	return nil
}

func (c *fakeCache) Invalidate(context.Context) error {
	c.invalidated++
	c.value = nil
	return nil
}

func TestSnapshotReadsThroughCache(t *testing.T) {
	cache := &fakeCache{}
	src := NewSource(memory.NewSeeded(), cache, time.Minute)

	first, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, first.Products)
	assert.Equal(t, 1, cache.sets)

	second, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second, "second read should be served from cache")
	assert.Equal(t, 1, cache.sets)
}

func TestSnapshotSurvivesCacheFailure(t *testing.T) {
	cache := &fakeCache{getErr: errors.New("redis down")}
	src := NewSource(memory.NewSeeded(), cache, time.Minute)

	snapshot, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, snapshot.Products)
}

func TestImportUpsertsAndInvalidates(t *testing.T) {
	cache := &fakeCache{}
	src := NewSource(memory.NewSeeded(), cache, time.Minute)
	_, err := src.Snapshot(context.Background())
	require.NoError(t, err)

	products, clients, err := src.Import(context.Background(), domain.CatalogSnapshot{
		Products: []domain.Product{{ID: "kouign", Name: "Kouign-amann", ClientPrice: decimal.RequireFromString("3.50"), Active: true}},
		Clients:  []domain.Client{{ID: "bar-plage", Name: "Bar de la Plage", Active: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, products)
	assert.Equal(t, 1, clients)
	assert.Equal(t, 1, cache.invalidated)

	cat, err := src.Catalog(context.Background())
	require.NoError(t, err)
	_, ok := cat.Product("kouign")
	assert.True(t, ok)
	client, ok := cat.Client("bar-plage")
	require.True(t, ok)
	assert.Equal(t, domain.PriceTierClient, client.PriceTier, "empty tier defaults to client")
}

func TestImportValidatesBeforeWriting(t *testing.T) {
	cases := map[string]domain.CatalogSnapshot{
		"missing product name": {Products: []domain.Product{{ID: "x"}}},
		"negative price":       {Products: []domain.Product{{ID: "x", Name: "X", ShopPrice: decimal.NewFromInt(-1)}}},
		"bad recipe":           {Products: []domain.Product{{ID: "x", Name: "X", Recipe: []domain.RecipeEntry{{MaterialID: ""}}}}},
		"unknown tier":         {Clients: []domain.Client{{ID: "c", Name: "C", PriceTier: "vip"}}},
		"negative default":     {Clients: []domain.Client{{ID: "c", Name: "C", DefaultOrder: []domain.DefaultOrderLine{{ProductID: "baguette", Split: domain.RunSplit{A: -1}}}}}},
	}
	for name, snapshot := range cases {
		t.Run(name, func(t *testing.T) {
			cache := &fakeCache{}
			src := NewSource(memory.NewSeeded(), cache, time.Minute)
			products, clients, err := src.Import(context.Background(), snapshot)
			require.ErrorIs(t, err, store.ErrInvalidInput)
			assert.Zero(t, products)
			assert.Zero(t, clients)
			assert.Zero(t, cache.invalidated)
		})
	}
}
