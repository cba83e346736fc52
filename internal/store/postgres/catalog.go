package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"fournil/backend/internal/domain"
	"fournil/backend/internal/store"
)

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, client_price, shop_price, active, recipe
		FROM products
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var (
			p      domain.Product
			recipe []byte
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.ClientPrice, &p.ShopPrice, &p.Active, &recipe); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(recipe, &p.Recipe); err != nil {
			return nil, fmt.Errorf("decode recipe of %s: %w", p.ID, err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, address, email, price_tier, default_order, active
		FROM clients
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clients := make([]domain.Client, 0, 64)
	for rows.Next() {
		var (
			c            domain.Client
			defaultOrder []byte
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Address, &c.Email, &c.PriceTier, &defaultOrder, &c.Active); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(defaultOrder, &c.DefaultOrder); err != nil {
			return nil, fmt.Errorf("decode default order of %s: %w", c.ID, err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return clients, nil
}

func (s *Store) UpsertProduct(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return fmt.Errorf("%w: product id is required", store.ErrInvalidInput)
	}
	recipe := product.Recipe
	if recipe == nil {
		recipe = []domain.RecipeEntry{}
	}
	payload, err := json.Marshal(recipe)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, client_price, shop_price, active, recipe, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6::jsonb,now())
		ON CONFLICT (id)
		DO UPDATE SET
			name = EXCLUDED.name,
			client_price = EXCLUDED.client_price,
			shop_price = EXCLUDED.shop_price,
			active = EXCLUDED.active,
			recipe = EXCLUDED.recipe,
			updated_at = now()
	`, product.ID, product.Name, product.ClientPrice, product.ShopPrice, product.Active, string(payload))
	return err
}

func (s *Store) UpsertClient(ctx context.Context, client domain.Client) error {
	if strings.TrimSpace(client.ID) == "" {
		return fmt.Errorf("%w: client id is required", store.ErrInvalidInput)
	}
	template := client.DefaultOrder
	if template == nil {
		template = []domain.DefaultOrderLine{}
	}
	payload, err := json.Marshal(template)
	if err != nil {
		return err
	}
	tier := client.PriceTier
	if tier == "" {
		tier = domain.PriceTierClient
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, address, email, price_tier, default_order, active, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7,now())
		ON CONFLICT (id)
		DO UPDATE SET
			name = EXCLUDED.name,
			address = EXCLUDED.address,
			email = EXCLUDED.email,
			price_tier = EXCLUDED.price_tier,
			default_order = EXCLUDED.default_order,
			active = EXCLUDED.active,
			updated_at = now()
	`, client.ID, client.Name, client.Address, client.Email, tier, string(payload), client.Active)
	return err
}
