package domain

import "sort"

// Catalog is a read-only lookup over products and clients.
type Catalog struct {
	products map[string]Product
	clients  map[string]Client
}

func NewCatalog(products []Product, clients []Client) *Catalog {
	c := &Catalog{
		products: make(map[string]Product, len(products)),
		clients:  make(map[string]Client, len(clients)),
	}
	for _, p := range products {
		c.products[p.ID] = p
	}
	for _, cl := range clients {
		c.clients[cl.ID] = cl
	}
	return c
}

func (c *Catalog) Product(id string) (Product, bool) {
	if c == nil {
		return Product{}, false
	}
	p, ok := c.products[id]
	return p, ok
}

func (c *Catalog) Client(id string) (Client, bool) {
	if c == nil {
		return Client{}, false
	}
	cl, ok := c.clients[id]
	return cl, ok
}

// ProductName falls back to the id when the product is unknown.
func (c *Catalog) ProductName(id string) string {
	if p, ok := c.Product(id); ok && p.Name != "" {
		return p.Name
	}
	return id
}

func (c *Catalog) Products() []Product {
	if c == nil {
		return nil
	}
	out := make([]Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) Clients() []Client {
	if c == nil {
		return nil
	}
	out := make([]Client, 0, len(c.clients))
	for _, cl := range c.clients {
		out = append(out, cl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CatalogSnapshot is the cacheable form of the catalog.
type CatalogSnapshot struct {
	Products []Product `json:"products" yaml:"products"`
	Clients  []Client  `json:"clients" yaml:"clients"`
}
