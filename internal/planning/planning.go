package planning

import (
	"sort"

	"fournil/backend/internal/domain"
)

// Default share of a shop allocation per run, in percent. The third run
// receives whatever the first two leave.
const (
	defaultRunAPercent = 35
	defaultRunBPercent = 35
)

// DefaultSplit spreads total over the three runs 35/35/30: the first two
// shares are rounded up and the third gets the remainder. Shares are capped so
// no run goes negative on very small totals.
func DefaultSplit(total int) domain.RunSplit {
	if total <= 0 {
		return domain.RunSplit{}
	}
	a := ceilPercent(total, defaultRunAPercent)
	if a > total {
		a = total
	}
	b := ceilPercent(total, defaultRunBPercent)
	if b > total-a {
		b = total - a
	}
	return domain.RunSplit{A: a, B: b, C: total - a - b}
}

// AllocationSplit returns the explicit split of an allocation or the default one.
func AllocationSplit(alloc domain.ShopAllocation) domain.RunSplit {
	if alloc.Split != nil {
		return *alloc.Split
	}
	return DefaultSplit(alloc.Quantity)
}

// Aggregate folds the non-cancelled orders and the shop allocations of one
// date into a per-product totals table. It is a pure function: the result is
// sorted by product id so that input order never changes the output.
func Aggregate(orders []domain.ClientOrder, allocations []domain.ShopAllocation, catalog *domain.Catalog) []domain.ProductTotals {
	rows := make(map[string]*domain.ProductTotals)
	row := func(productID string) *domain.ProductTotals {
		if r, ok := rows[productID]; ok {
			return r
		}
		r := &domain.ProductTotals{ProductID: productID, ProductName: catalog.ProductName(productID)}
		rows[productID] = r
		return r
	}

	for _, order := range orders {
		if order.Status == domain.OrderStatusCancelled {
			continue
		}
		for _, line := range order.Lines {
			if line.ProductID == "" {
				continue
			}
			qty := line.EffectiveQuantity()
			if qty < 0 {
				continue
			}
			r := row(line.ProductID)
			r.ClientTotal += qty
			if line.Split != nil {
				r.Runs = r.Runs.Add(*line.Split)
			} else {
				r.Runs = r.Runs.Add(DefaultSplit(qty))
			}
		}
	}

	for _, alloc := range allocations {
		if alloc.ProductID == "" || alloc.Quantity < 0 {
			continue
		}
		r := row(alloc.ProductID)
		r.ShopTotal += alloc.Quantity
		r.Runs = r.Runs.Add(AllocationSplit(alloc))
	}

	totals := make([]domain.ProductTotals, 0, len(rows))
	for _, r := range rows {
		r.GlobalTotal = r.ClientTotal + r.ShopTotal
		totals = append(totals, *r)
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].ProductID < totals[j].ProductID })
	return totals
}

// ApplyActualProduced copies the per-product actual-produced overrides onto
// the totals rows.
func ApplyActualProduced(totals []domain.ProductTotals, actual map[string]int) {
	for i := range totals {
		totals[i].RealQuantity = nil
		if qty, ok := actual[totals[i].ProductID]; ok {
			v := qty
			totals[i].RealQuantity = &v
		}
	}
}

// Recompute refreshes a program's totals table from its embedded orders and
// allocations. The totals table is never edited any other way.
func Recompute(program *domain.ProductionProgram, catalog *domain.Catalog) {
	program.Totals = Aggregate(program.Orders, program.Allocations, catalog)
	ApplyActualProduced(program.Totals, program.ActualProduced)
}

// TotalsFor returns the totals row of productID.
func TotalsFor(totals []domain.ProductTotals, productID string) (domain.ProductTotals, bool) {
	for _, r := range totals {
		if r.ProductID == productID {
			return r, true
		}
	}
	return domain.ProductTotals{}, false
}

func ceilPercent(total int, percent int) int {
	return (total*percent + 99) / 100
}
