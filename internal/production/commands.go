package production

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fournil/backend/internal/domain"
	"fournil/backend/internal/planning"
	"fournil/backend/internal/store"
	"fournil/backend/internal/xid"
)

// Command is one edit of a program. Plan edits change demand and flip a sent
// program to modified; they are refused once the program is produced.
type Command struct {
	Name   string
	Target string
	Plan   bool
	apply  func(program *domain.ProductionProgram, catalog *domain.Catalog, now time.Time) error
}

// Apply runs the edit on program and re-aggregates its totals table.
func (c Command) Apply(program *domain.ProductionProgram, catalog *domain.Catalog, now time.Time) error {
	if c.apply == nil {
		return fmt.Errorf("%w: empty command", store.ErrInvalidInput)
	}
	if c.Plan && program.Status == domain.ProgramStatusProduced {
		return fmt.Errorf("%w: program %s is already produced", ErrInvalidTransition, program.Date)
	}
	if err := c.apply(program, catalog, now); err != nil {
		return err
	}
	if c.Plan {
		MarkModified(program)
	}
	planning.Recompute(program, catalog)
	program.UpdatedAt = now.UTC()
	return nil
}

// PlaceOrder creates or replaces the order of clientID. Duplicate products are
// merged. An order left without quantities is removed.
func PlaceOrder(clientID string, lines []domain.OrderLineInput) Command {
	clientID = strings.TrimSpace(clientID)
	return Command{Name: "order.place", Target: clientID, Plan: true, apply: func(p *domain.ProductionProgram, catalog *domain.Catalog, now time.Time) error {
		if clientID == "" {
			return fmt.Errorf("%w: client_id is required", store.ErrInvalidInput)
		}
		built, err := buildLines(lines, catalog)
		if err != nil {
			return err
		}
		existing := p.OrderForClient(clientID)
		if existing == nil {
			if len(built) == 0 {
				return fmt.Errorf("%w: order needs at least one product with a quantity", store.ErrInvalidInput)
			}
			p.Orders = append(p.Orders, newOrder(p.Date, clientID, catalog, built, now))
			return nil
		}
		if len(built) == 0 {
			removeOrder(p, existing.ID)
			return nil
		}
		existing.Lines = built
		existing.UpdatedAt = now.UTC()
		return nil
	}}
}

// ApplyDefaultOrder creates the order of clientID from the client's template.
func ApplyDefaultOrder(clientID string) Command {
	return Command{Name: "order.default", Target: clientID, Plan: true, apply: func(p *domain.ProductionProgram, catalog *domain.Catalog, now time.Time) error {
		client, ok := catalog.Client(clientID)
		if !ok {
			return fmt.Errorf("%w: client %s", store.ErrNotFound, clientID)
		}
		if len(client.DefaultOrder) == 0 {
			return fmt.Errorf("%w: client %s has no default order", store.ErrInvalidInput, clientID)
		}
		if p.OrderForClient(clientID) != nil {
			return fmt.Errorf("%w: client %s already has an order for %s", store.ErrConflict, clientID, p.Date)
		}
		inputs := make([]domain.OrderLineInput, 0, len(client.DefaultOrder))
		for _, tmpl := range client.DefaultOrder {
			inputs = append(inputs, domain.OrderLineInput{ProductID: tmpl.ProductID, Split: tmpl.Split})
		}
		built, err := buildLines(inputs, catalog)
		if err != nil {
			return err
		}
		if len(built) == 0 {
			return fmt.Errorf("%w: default order of %s has no quantities", store.ErrInvalidInput, clientID)
		}
		p.Orders = append(p.Orders, newOrder(p.Date, clientID, catalog, built, now))
		return nil
	}}
}

// SetLine sets the run split of one product on an order. A zero split removes
// the line, and removing the last line removes the order.
func SetLine(orderID string, productID string, split domain.RunSplit) Command {
	return Command{Name: "order.line", Target: orderID + "/" + productID, Plan: true, apply: func(p *domain.ProductionProgram, catalog *domain.Catalog, now time.Time) error {
		if strings.TrimSpace(productID) == "" {
			return fmt.Errorf("%w: product_id is required", store.ErrInvalidInput)
		}
		if !split.Valid() {
			return fmt.Errorf("%w: run quantities cannot be negative", store.ErrInvalidInput)
		}
		order, _ := p.Order(orderID)
		if order == nil {
			return fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
		}
		idx := -1
		for i := range order.Lines {
			if order.Lines[i].ProductID == productID {
				idx = i
				break
			}
		}
		order.UpdatedAt = now.UTC()
		if split.Total() == 0 {
			if idx < 0 {
				return nil
			}
			order.Lines = append(order.Lines[:idx], order.Lines[idx+1:]...)
			if len(order.Lines) == 0 {
				removeOrder(p, orderID)
			}
			return nil
		}
		s := split
		if idx >= 0 {
			order.Lines[idx].Split = &s
			order.Lines[idx].Quantity = s.Total()
			return nil
		}
		order.Lines = append(order.Lines, domain.OrderLine{
			ProductID: productID,
			Quantity:  s.Total(),
			UnitPrice: capturePrice(catalog, productID),
			Split:     &s,
		})
		return nil
	}}
}

func RemoveLine(orderID string, productID string) Command {
	cmd := SetLine(orderID, productID, domain.RunSplit{})
	cmd.Name = "order.line.remove"
	return cmd
}

func SetOrderStatus(orderID string, status string) Command {
	return Command{Name: "order.status", Target: orderID, Plan: true, apply: func(p *domain.ProductionProgram, _ *domain.Catalog, now time.Time) error {
		if status != domain.OrderStatusPlanned && status != domain.OrderStatusCancelled {
			return fmt.Errorf("%w: order status must be planned or cancelled", store.ErrInvalidInput)
		}
		order, _ := p.Order(orderID)
		if order == nil {
			return fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
		}
		order.Status = status
		order.UpdatedAt = now.UTC()
		return nil
	}}
}

func RemoveOrder(orderID string) Command {
	return Command{Name: "order.remove", Target: orderID, Plan: true, apply: func(p *domain.ProductionProgram, _ *domain.Catalog, _ time.Time) error {
		if !removeOrder(p, orderID) {
			return fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
		}
		return nil
	}}
}

// SetAllocation replaces the shop allocation of a product. With an explicit
// split the quantity is the split total. A zero quantity removes it.
func SetAllocation(productID string, quantity int, split *domain.RunSplit) Command {
	return Command{Name: "allocation.set", Target: productID, Plan: true, apply: func(p *domain.ProductionProgram, _ *domain.Catalog, _ time.Time) error {
		if strings.TrimSpace(productID) == "" {
			return fmt.Errorf("%w: product_id is required", store.ErrInvalidInput)
		}
		if quantity < 0 {
			return fmt.Errorf("%w: quantity cannot be negative", store.ErrInvalidInput)
		}
		var s *domain.RunSplit
		if split != nil {
			if !split.Valid() {
				return fmt.Errorf("%w: run quantities cannot be negative", store.ErrInvalidInput)
			}
			if quantity != 0 && quantity != split.Total() {
				return fmt.Errorf("%w: quantity %d does not match split total %d", store.ErrInvalidInput, quantity, split.Total())
			}
			copied := *split
			s = &copied
			quantity = copied.Total()
		}

		kept := p.Allocations[:0]
		for _, alloc := range p.Allocations {
			if alloc.ProductID != productID {
				kept = append(kept, alloc)
			}
		}
		p.Allocations = kept
		if quantity > 0 {
			p.Allocations = append(p.Allocations, domain.ShopAllocation{ProductID: productID, Quantity: quantity, Split: s})
		}
		return nil
	}}
}

// SetActualProduced records or clears the quantity really produced. It does
// not change the program status.
func SetActualProduced(productID string, quantity *int) Command {
	return Command{Name: "actual.set", Target: productID, apply: func(p *domain.ProductionProgram, _ *domain.Catalog, _ time.Time) error {
		if strings.TrimSpace(productID) == "" {
			return fmt.Errorf("%w: product_id is required", store.ErrInvalidInput)
		}
		if quantity == nil {
			delete(p.ActualProduced, productID)
			return nil
		}
		if *quantity < 0 {
			return fmt.Errorf("%w: produced quantity cannot be negative", store.ErrInvalidInput)
		}
		if p.ActualProduced == nil {
			p.ActualProduced = make(map[string]int)
		}
		p.ActualProduced[productID] = *quantity
		return nil
	}}
}

func buildLines(inputs []domain.OrderLineInput, catalog *domain.Catalog) ([]domain.OrderLine, error) {
	merged := make(map[string]domain.RunSplit, len(inputs))
	productOrder := make([]string, 0, len(inputs))
	for _, in := range inputs {
		productID := strings.TrimSpace(in.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: product_id is required on every line", store.ErrInvalidInput)
		}
		if !in.Split.Valid() {
			return nil, fmt.Errorf("%w: run quantities cannot be negative for %s", store.ErrInvalidInput, productID)
		}
		if _, seen := merged[productID]; !seen {
			productOrder = append(productOrder, productID)
		}
		merged[productID] = merged[productID].Add(in.Split)
	}

	lines := make([]domain.OrderLine, 0, len(productOrder))
	for _, productID := range productOrder {
		split := merged[productID]
		if split.Total() == 0 {
			continue
		}
		lines = append(lines, domain.OrderLine{
			ProductID: productID,
			Quantity:  split.Total(),
			UnitPrice: capturePrice(catalog, productID),
			Split:     &split,
		})
	}
	return lines, nil
}

// capturePrice snapshots the client-tier list price; client orders always
// bill at that tier. Unknown products are captured at zero and priced again
// at invoicing time.
func capturePrice(catalog *domain.Catalog, productID string) decimal.Decimal {
	product, ok := catalog.Product(productID)
	if !ok {
		return decimal.Zero
	}
	return product.PriceFor(domain.PriceTierClient)
}

func newOrder(date string, clientID string, catalog *domain.Catalog, lines []domain.OrderLine, now time.Time) domain.ClientOrder {
	name := clientID
	if client, ok := catalog.Client(clientID); ok && client.Name != "" {
		name = client.Name
	}
	stamp := now.UTC()
	return domain.ClientOrder{
		ID:           xid.New("ord"),
		ClientID:     clientID,
		ClientName:   name,
		DeliveryDate: date,
		Status:       domain.OrderStatusPlanned,
		Lines:        lines,
		CreatedAt:    stamp,
		UpdatedAt:    stamp,
	}
}

func removeOrder(p *domain.ProductionProgram, orderID string) bool {
	_, idx := p.Order(orderID)
	if idx < 0 {
		return false
	}
	p.Orders = append(p.Orders[:idx], p.Orders[idx+1:]...)
	return true
}
