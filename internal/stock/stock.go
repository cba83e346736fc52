package stock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"fournil/backend/internal/domain"
	"fournil/backend/internal/xid"
)

// Ledger is the append-only inventory ledger consumption is written to.
type Ledger interface {
	AppendStockTransaction(ctx context.Context, tx domain.StockTransaction) error
}

// SourceRef tags every transaction emitted for the program of a given date.
func SourceRef(programDate string) string {
	t, err := domain.ParseDate(programDate)
	if err != nil {
		return "PROD-" + programDate
	}
	return "PROD-" + domain.CompactDate(t)
}

// ReferenceQuantity is what consumption is computed from: the actual produced
// override when present, else the planned global total.
func ReferenceQuantity(row domain.ProductTotals) int {
	if row.RealQuantity != nil {
		return *row.RealQuantity
	}
	return row.GlobalTotal
}

// Consume derives raw-material consumption from the program's totals table
// and the product recipes. Products that are unknown to the catalog are
// reported as warnings and skipped.
func Consume(program domain.ProductionProgram, catalog *domain.Catalog, now time.Time) ([]domain.StockTransaction, []domain.Warning) {
	source := SourceRef(program.Date)
	txs := make([]domain.StockTransaction, 0, len(program.Totals)*2)
	var warnings []domain.Warning

	for _, row := range program.Totals {
		product, ok := catalog.Product(row.ProductID)
		if !ok {
			warnings = append(warnings, domain.Warning{
				Code:    "unknown_product",
				Message: fmt.Sprintf("product %s is not in the catalog; no consumption recorded", row.ProductID),
				Ref:     row.ProductID,
			})
			continue
		}
		if len(product.Recipe) == 0 {
			continue
		}

		ref := decimal.NewFromInt(int64(ReferenceQuantity(row)))
		reason := fmt.Sprintf("Production %s (planned %d)", product.Name, row.GlobalTotal)
		if row.RealQuantity != nil {
			reason = fmt.Sprintf("Production %s (planned %d, produced %d)", product.Name, row.GlobalTotal, *row.RealQuantity)
		}

		for _, entry := range product.Recipe {
			qty := domain.Round3(entry.QuantityPerUnit.Mul(ref))
			if qty.IsZero() {
				continue
			}
			txs = append(txs, domain.StockTransaction{
				ID:          xid.New("stk"),
				MaterialID:  entry.MaterialID,
				Quantity:    qty,
				Reason:      reason,
				SourceRef:   source,
				ProgramDate: program.Date,
				CreatedAt:   now,
			})
		}
	}

	return txs, warnings
}

// Submit sends transactions one at a time. A failure does not stop the loop
// and never rolls back earlier submissions; the failures are joined into the
// returned error.
func Submit(ctx context.Context, ledger Ledger, txs []domain.StockTransaction) (int, error) {
	submitted := 0
	var errs []error
	for _, tx := range txs {
		if err := ledger.AppendStockTransaction(ctx, tx); err != nil {
			log.Printf("[stock] WARN: ledger rejected material=%s qty=%s source=%s: %v", tx.MaterialID, tx.Quantity, tx.SourceRef, err)
			errs = append(errs, fmt.Errorf("material %s: %w", tx.MaterialID, err))
			continue
		}
		submitted++
	}
	return submitted, errors.Join(errs...)
}
