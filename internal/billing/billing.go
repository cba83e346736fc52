package billing

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"fournil/backend/internal/domain"
	"fournil/backend/internal/xid"
)

var (
	ErrInvalidTransition = errors.New("invalid invoice status transition")
	ErrInvalidTaxRate    = errors.New("tax rate must be between 0 and 100")
)

var maxTaxRate = decimal.NewFromInt(100)

// ComputeTotals sums the line amounts into HT, then derives VAT and TTC.
// VAT = round2(HT * rate / 100), TTC = round2(HT + VAT).
func ComputeTotals(lines []domain.InvoiceLine, rate decimal.Decimal) (ht, vat, ttc decimal.Decimal) {
	ht = decimal.Zero
	for _, line := range lines {
		ht = ht.Add(line.Amount)
	}
	ht = domain.Round2(ht)
	vat, ttc = taxOn(ht, rate)
	return ht, vat, ttc
}

func taxOn(ht decimal.Decimal, rate decimal.Decimal) (vat, ttc decimal.Decimal) {
	vat = domain.Round2(domain.Percent(ht, rate))
	ttc = domain.Round2(ht.Add(vat))
	return vat, ttc
}

// SetTaxRate changes the invoice rate and recomputes VAT and TTC only.
// HT and quantities are left untouched.
func SetTaxRate(inv *domain.Invoice, rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(maxTaxRate) {
		return ErrInvalidTaxRate
	}
	if IsTerminal(inv.Status) {
		return fmt.Errorf("%w: %s invoice cannot be re-taxed", ErrInvalidTransition, inv.Status)
	}
	inv.TaxRate = rate
	inv.TotalVAT, inv.TotalTTC = taxOn(inv.TotalHT, rate)
	return nil
}

// FormatNumber renders PREFIX-YYYYMMDD-NNNN from the invoice date and the
// running counter held in billing configuration.
func FormatNumber(prefix string, invoiceDate time.Time, counter int64) string {
	if prefix == "" {
		return fmt.Sprintf("%s-%04d", domain.CompactDate(invoiceDate), counter)
	}
	return fmt.Sprintf("%s-%s-%04d", prefix, domain.CompactDate(invoiceDate), counter)
}

// Input is everything generation needs for one delivery date.
type Input struct {
	Date            string
	Orders          []domain.ClientOrder
	Returns         []domain.ClientReturn
	Catalog         *domain.Catalog
	TaxRate         decimal.Decimal
	PaymentTerms    string
	PaymentTermDays int
	LegalMentions   string
	Now             time.Time
}

type clientBucket struct {
	clientID   string
	clientName string
	products   []string
	delivered  map[string]int
	unitPrices map[string]decimal.Decimal
}

// Generate builds one unnumbered invoice per client with at least one
// billable line. Numbering is left to the caller because the counter lives
// in persisted configuration.
func Generate(in Input) ([]domain.Invoice, []domain.Warning) {
	var warnings []domain.Warning

	buckets := make(map[string]*clientBucket)
	clientOrder := make([]string, 0, len(in.Orders))
	for _, order := range in.Orders {
		if order.Status == domain.OrderStatusCancelled || order.ClientID == "" {
			continue
		}
		b, ok := buckets[order.ClientID]
		if !ok {
			b = &clientBucket{
				clientID:   order.ClientID,
				clientName: order.ClientName,
				delivered:  make(map[string]int),
				unitPrices: make(map[string]decimal.Decimal),
			}
			buckets[order.ClientID] = b
			clientOrder = append(clientOrder, order.ClientID)
		}
		for _, line := range order.Lines {
			if line.ProductID == "" {
				continue
			}
			if _, seen := b.delivered[line.ProductID]; !seen {
				b.products = append(b.products, line.ProductID)
			}
			b.delivered[line.ProductID] += line.EffectiveQuantity()
			if price, ok := b.unitPrices[line.ProductID]; !ok || price.IsZero() {
				b.unitPrices[line.ProductID] = line.UnitPrice
			}
		}
	}
	sort.Strings(clientOrder)

	returns := make(map[string]*domain.ClientReturn, len(in.Returns))
	for i := range in.Returns {
		returns[in.Returns[i].ClientID] = &in.Returns[i]
	}

	invoiceDate := in.Now.UTC()
	invoices := make([]domain.Invoice, 0, len(clientOrder))
	for _, clientID := range clientOrder {
		b := buckets[clientID]
		ret := returns[clientID]
		client, known := in.Catalog.Client(clientID)
		if !known {
			warnings = append(warnings, domain.Warning{
				Code:    "unknown_client",
				Message: fmt.Sprintf("client %s is not in the catalog; invoice uses the order snapshot", clientID),
				Ref:     clientID,
			})
		}

		lines := make([]domain.InvoiceLine, 0, len(b.products))
		for _, productID := range b.products {
			delivered := b.delivered[productID]
			if delivered <= 0 {
				continue
			}
			returned := 0
			if line, ok := ret.Line(productID); ok && line.Returned > 0 {
				returned = line.Returned
			}
			billed := delivered - returned
			if billed < 0 {
				warnings = append(warnings, domain.Warning{
					Code:    "returns_exceed_delivery",
					Message: fmt.Sprintf("client %s returned %d of %s but only %d were delivered; billed quantity clamped to 0", clientID, returned, productID, delivered),
					Ref:     clientID + "/" + productID,
				})
				billed = 0
			}

			price, priceWarning := resolveUnitPrice(b.unitPrices[productID], productID, in.Catalog)
			if priceWarning != nil {
				warnings = append(warnings, *priceWarning)
			}

			lines = append(lines, domain.InvoiceLine{
				ProductID:   productID,
				ProductName: in.Catalog.ProductName(productID),
				Delivered:   delivered,
				Returned:    returned,
				Billed:      billed,
				UnitPrice:   price,
				Amount:      domain.Round2(price.Mul(decimal.NewFromInt(int64(billed)))),
			})
		}
		if len(lines) == 0 {
			continue
		}

		snapshot := domain.ClientSnapshot{ID: clientID, Name: b.clientName}
		if known {
			snapshot = domain.ClientSnapshot{ID: client.ID, Name: client.Name, Address: client.Address, Email: client.Email}
		}

		inv := domain.Invoice{
			ID:            xid.New("inv"),
			ClientID:      clientID,
			Client:        snapshot,
			DeliveryDate:  in.Date,
			InvoiceDate:   domain.FormatDate(invoiceDate),
			Lines:         lines,
			TaxRate:       in.TaxRate,
			Status:        domain.InvoiceStatusAwaitingReturns,
			PaymentTerms:  in.PaymentTerms,
			LegalMentions: in.LegalMentions,
			CreatedAt:     invoiceDate,
		}
		if in.PaymentTermDays > 0 {
			inv.DueDate = domain.FormatDate(invoiceDate.AddDate(0, 0, in.PaymentTermDays))
		}
		inv.TotalHT, inv.TotalVAT, inv.TotalTTC = ComputeTotals(lines, in.TaxRate)
		if ret != nil && ret.Complete {
			validatedAt := invoiceDate
			inv.Status = domain.InvoiceStatusValidated
			inv.ReturnsComplete = true
			inv.ValidatedAt = &validatedAt
		}
		invoices = append(invoices, inv)
	}

	return invoices, warnings
}

// resolveUnitPrice keeps the price captured on the order line. The current
// client-tier list price is only a fallback when nothing was captured; a
// captured price that no longer matches the catalog is reported, not changed.
func resolveUnitPrice(captured decimal.Decimal, productID string, catalog *domain.Catalog) (decimal.Decimal, *domain.Warning) {
	product, known := catalog.Product(productID)
	if !captured.IsZero() {
		if known && !product.ClientPrice.Equal(captured) {
			return captured, &domain.Warning{
				Code:    "price_changed",
				Message: fmt.Sprintf("%s was ordered at %s; current list price is %s", productID, captured.StringFixed(2), product.ClientPrice.StringFixed(2)),
				Ref:     productID,
			}
		}
		return captured, nil
	}
	if !known {
		return decimal.Zero, &domain.Warning{
			Code:    "unknown_product",
			Message: fmt.Sprintf("product %s is not in the catalog; priced at 0", productID),
			Ref:     productID,
		}
	}
	return product.ClientPrice, &domain.Warning{
		Code:    "price_fallback",
		Message: fmt.Sprintf("no price captured for %s; using current list price", productID),
		Ref:     productID,
	}
}
