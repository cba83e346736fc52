package billing

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fournil/backend/internal/domain"
)

var genNow = time.Date(2026, 10, 15, 7, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func testCatalog() *domain.Catalog {
	return domain.NewCatalog(
		[]domain.Product{
			{ID: "P", Name: "Baguette", ClientPrice: dec("1.10"), ShopPrice: dec("0.90"), Active: true},
			{ID: "Q", Name: "Croissant", ClientPrice: dec("1.40"), ShopPrice: dec("1.20"), Active: true},
		},
		[]domain.Client{
			{ID: "A", Name: "Hotel du Port", Address: "1 quai Nord", PriceTier: domain.PriceTierClient, Active: true},
			{ID: "B", Name: "Cafe Central", PriceTier: domain.PriceTierShop, Active: true},
		},
	)
}

func order(id, clientID string, lines ...domain.OrderLine) domain.ClientOrder {
	return domain.ClientOrder{ID: id, ClientID: clientID, DeliveryDate: "2026-10-14", Status: domain.OrderStatusPlanned, Lines: lines}
}

func line(productID string, price string, a, b, c int) domain.OrderLine {
	split := domain.RunSplit{A: a, B: b, C: c}
	return domain.OrderLine{ProductID: productID, Quantity: split.Total(), UnitPrice: dec(price), Split: &split}
}

func TestComputeTotalsRounding(t *testing.T) {
	lines := []domain.InvoiceLine{{Amount: dec("100.00")}}
	ht, vat, ttc := ComputeTotals(lines, dec("20"))
	assertDecimal(t, "100", ht)
	assertDecimal(t, "20", vat)
	assertDecimal(t, "120", ttc)

	ht, vat, ttc = ComputeTotals([]domain.InvoiceLine{{Amount: dec("0.10")}}, dec("5"))
	assertDecimal(t, "0.10", ht)
	assertDecimal(t, "0.01", vat)
	assertDecimal(t, "0.11", ttc)
}

func TestSetTaxRateRecomputesVATOnly(t *testing.T) {
	inv := domain.Invoice{
		Status: domain.InvoiceStatusValidated,
		Lines:  []domain.InvoiceLine{{ProductID: "P", Delivered: 10, Billed: 10, UnitPrice: dec("10"), Amount: dec("100")}},
	}
	inv.TaxRate = dec("20")
	inv.TotalHT, inv.TotalVAT, inv.TotalTTC = ComputeTotals(inv.Lines, inv.TaxRate)

	require.NoError(t, SetTaxRate(&inv, dec("5.5")))
	assertDecimal(t, "100", inv.TotalHT)
	assertDecimal(t, "5.50", inv.TotalVAT)
	assertDecimal(t, "105.50", inv.TotalTTC)
	assert.Equal(t, 10, inv.Lines[0].Billed)
	assertDecimal(t, "100", inv.Lines[0].Amount)
}

func TestSetTaxRateRejects(t *testing.T) {
	inv := domain.Invoice{Status: domain.InvoiceStatusSent, TotalHT: dec("10")}
	assert.ErrorIs(t, SetTaxRate(&inv, dec("-1")), ErrInvalidTaxRate)
	assert.ErrorIs(t, SetTaxRate(&inv, dec("101")), ErrInvalidTaxRate)

	inv.Status = domain.InvoiceStatusPaid
	assert.ErrorIs(t, SetTaxRate(&inv, dec("10")), ErrInvalidTransition)
}

func TestFormatNumber(t *testing.T) {
	date := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "FAC-20261014-0001", FormatNumber("FAC", date, 1))
	assert.Equal(t, "FAC-20261014-12345", FormatNumber("FAC", date, 12345))
	assert.Equal(t, "20261014-0042", FormatNumber("", date, 42))
}

func TestGenerateValidatedWhenReturnsComplete(t *testing.T) {
	returns := []domain.ClientReturn{{
		ClientID: "A", DeliveryDate: "2026-10-14", Complete: true,
		Lines: []domain.ReturnLine{{ProductID: "P", Delivered: 10, Returned: 2}},
	}}
	invoices, warnings := Generate(Input{
		Date:    "2026-10-14",
		Orders:  []domain.ClientOrder{order("o1", "A", line("P", "1.10", 4, 3, 3))},
		Returns: returns,
		Catalog: testCatalog(),
		TaxRate: dec("5.5"),
		Now:     genNow,
	})
	assert.Empty(t, warnings)
	require.Len(t, invoices, 1)

	inv := invoices[0]
	assert.Equal(t, domain.InvoiceStatusValidated, inv.Status)
	assert.True(t, inv.ReturnsComplete)
	require.NotNil(t, inv.ValidatedAt)
	assert.Equal(t, "Hotel du Port", inv.Client.Name)
	assert.Equal(t, "2026-10-15", inv.InvoiceDate)
	require.Len(t, inv.Lines, 1)
	assert.Equal(t, 10, inv.Lines[0].Delivered)
	assert.Equal(t, 2, inv.Lines[0].Returned)
	assert.Equal(t, 8, inv.Lines[0].Billed)
	assertDecimal(t, "8.80", inv.Lines[0].Amount)
	assertDecimal(t, "8.80", inv.TotalHT)
	assertDecimal(t, "0.48", inv.TotalVAT)
	assertDecimal(t, "9.28", inv.TotalTTC)
}

func TestGenerateAwaitingReturnsWithoutCompleteReturn(t *testing.T) {
	invoices, _ := Generate(Input{
		Date:            "2026-10-14",
		Orders:          []domain.ClientOrder{order("o1", "A", line("P", "1.10", 4, 3, 3))},
		Catalog:         testCatalog(),
		TaxRate:         dec("5.5"),
		PaymentTermDays: 30,
		Now:             genNow,
	})
	require.Len(t, invoices, 1)
	assert.Equal(t, domain.InvoiceStatusAwaitingReturns, invoices[0].Status)
	assert.False(t, invoices[0].ReturnsComplete)
	assert.Nil(t, invoices[0].ValidatedAt)
	assert.Equal(t, 10, invoices[0].Lines[0].Billed)
	assert.Equal(t, "2026-11-14", invoices[0].DueDate)
}

func TestGenerateSkipsCancelledAndEmptyClients(t *testing.T) {
	cancelled := order("o2", "B", line("Q", "1.20", 1, 1, 1))
	cancelled.Status = domain.OrderStatusCancelled
	orders := []domain.ClientOrder{
		order("o1", "A", line("P", "1.10", 0, 0, 0), line("Q", "1.40", 2, 0, 0)),
		cancelled,
		order("o3", "C", line("P", "1.10", 0, 0, 0)),
	}
	invoices, _ := Generate(Input{Date: "2026-10-14", Orders: orders, Catalog: testCatalog(), TaxRate: dec("5.5"), Now: genNow})
	require.Len(t, invoices, 1)
	assert.Equal(t, "A", invoices[0].ClientID)
	require.Len(t, invoices[0].Lines, 1)
	assert.Equal(t, "Q", invoices[0].Lines[0].ProductID)
}

func TestGenerateClampsOverReturn(t *testing.T) {
	returns := []domain.ClientReturn{{
		ClientID: "A", Complete: true,
		Lines: []domain.ReturnLine{{ProductID: "P", Delivered: 3, Returned: 5}},
	}}
	invoices, warnings := Generate(Input{
		Date:    "2026-10-14",
		Orders:  []domain.ClientOrder{order("o1", "A", line("P", "1.10", 3, 0, 0))},
		Returns: returns,
		Catalog: testCatalog(),
		TaxRate: dec("5.5"),
		Now:     genNow,
	})
	require.Len(t, invoices, 1)
	got := invoices[0].Lines[0]
	assert.Equal(t, 0, got.Billed)
	assert.Equal(t, 5, got.Returned)
	assert.True(t, got.Amount.IsZero())
	require.Len(t, warnings, 1)
	assert.Equal(t, "returns_exceed_delivery", warnings[0].Code)
}

func TestGenerateBilledNeverNegative(t *testing.T) {
	for returned := 0; returned <= 20; returned++ {
		returns := []domain.ClientReturn{{ClientID: "A", Lines: []domain.ReturnLine{{ProductID: "P", Returned: returned}}}}
		invoices, _ := Generate(Input{
			Orders:  []domain.ClientOrder{order("o1", "A", line("P", "1.10", 5, 3, 2))},
			Returns: returns,
			Catalog: testCatalog(),
			TaxRate: dec("5.5"),
			Now:     genNow,
		})
		require.Len(t, invoices, 1)
		assert.GreaterOrEqual(t, invoices[0].Lines[0].Billed, 0)
		assert.False(t, invoices[0].TotalHT.IsNegative())
	}
}

func TestGeneratePriceFallback(t *testing.T) {
	orders := []domain.ClientOrder{
		order("o1", "B", line("Q", "0", 2, 0, 0), line("X", "0", 1, 0, 0)),
	}
	invoices, warnings := Generate(Input{Orders: orders, Catalog: testCatalog(), TaxRate: dec("0"), Now: genNow})
	require.Len(t, invoices, 1)
	require.Len(t, invoices[0].Lines, 2)
	assertDecimal(t, "1.40", invoices[0].Lines[0].UnitPrice)
	assertDecimal(t, "2.80", invoices[0].Lines[0].Amount)
	assert.True(t, invoices[0].Lines[1].UnitPrice.IsZero())
	assert.Equal(t, "X", invoices[0].Lines[1].ProductName)

	codes := []string{}
	for _, w := range warnings {
		codes = append(codes, w.Code)
	}
	assert.ElementsMatch(t, []string{"price_fallback", "unknown_product"}, codes)
}

func TestGenerateKeepsCapturedPriceAndWarnsOnChange(t *testing.T) {
	invoices, warnings := Generate(Input{
		Orders:  []domain.ClientOrder{order("o1", "A", line("P", "0.99", 2, 0, 0))},
		Catalog: testCatalog(),
		TaxRate: dec("0"),
		Now:     genNow,
	})
	require.Len(t, invoices, 1)
	assertDecimal(t, "0.99", invoices[0].Lines[0].UnitPrice)
	assertDecimal(t, "1.98", invoices[0].TotalHT)
	require.Len(t, warnings, 1)
	assert.Equal(t, "price_changed", warnings[0].Code)
}

func TestGenerateOrdersClientsByID(t *testing.T) {
	orders := []domain.ClientOrder{
		order("o2", "B", line("P", "0.90", 1, 0, 0)),
		order("o1", "A", line("P", "1.10", 1, 0, 0)),
	}
	invoices, _ := Generate(Input{Orders: orders, Catalog: testCatalog(), TaxRate: dec("5.5"), Now: genNow})
	require.Len(t, invoices, 2)
	assert.Equal(t, "A", invoices[0].ClientID)
	assert.Equal(t, "B", invoices[1].ClientID)
}

func TestStatusMachineLegality(t *testing.T) {
	statuses := []domain.InvoiceStatus{
		domain.InvoiceStatusAwaitingReturns,
		domain.InvoiceStatusValidated,
		domain.InvoiceStatusSent,
		domain.InvoiceStatusPaid,
		domain.InvoiceStatusCancelled,
	}
	allowed := map[[2]domain.InvoiceStatus]bool{
		{domain.InvoiceStatusAwaitingReturns, domain.InvoiceStatusValidated}: true,
		{domain.InvoiceStatusAwaitingReturns, domain.InvoiceStatusCancelled}: true,
		{domain.InvoiceStatusValidated, domain.InvoiceStatusSent}:            true,
		{domain.InvoiceStatusValidated, domain.InvoiceStatusCancelled}:       true,
		{domain.InvoiceStatusSent, domain.InvoiceStatusPaid}:                 true,
		{domain.InvoiceStatusSent, domain.InvoiceStatusCancelled}:            true,
	}
	for _, from := range statuses {
		for _, to := range statuses {
			assert.Equalf(t, allowed[[2]domain.InvoiceStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTransitionStampsAndRequiresReason(t *testing.T) {
	inv := domain.Invoice{Status: domain.InvoiceStatusValidated}
	require.NoError(t, Transition(&inv, domain.InvoiceStatusSent, genNow, ""))
	require.NotNil(t, inv.SentAt)

	err := Transition(&inv, domain.InvoiceStatusCancelled, genNow, "  ")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, domain.InvoiceStatusSent, inv.Status)

	require.NoError(t, Transition(&inv, domain.InvoiceStatusCancelled, genNow, "duplicate delivery"))
	assert.Equal(t, "duplicate delivery", inv.CancelReason)
	require.NotNil(t, inv.CancelledAt)

	assert.ErrorIs(t, Transition(&inv, domain.InvoiceStatusPaid, genNow, ""), ErrInvalidTransition)

	awaiting := domain.Invoice{Status: domain.InvoiceStatusAwaitingReturns}
	assert.ErrorIs(t, Transition(&awaiting, domain.InvoiceStatusSent, genNow, ""), ErrInvalidTransition)
	assert.ErrorIs(t, Transition(&awaiting, domain.InvoiceStatusPaid, genNow, ""), ErrInvalidTransition)
}
