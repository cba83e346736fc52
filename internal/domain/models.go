package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RecipeEntry struct {
	MaterialID      string          `json:"material_id" yaml:"material_id"`
	QuantityPerUnit decimal.Decimal `json:"quantity_per_unit" yaml:"quantity_per_unit"`
}

type Product struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	ClientPrice decimal.Decimal `json:"client_price" yaml:"client_price"`
	ShopPrice   decimal.Decimal `json:"shop_price" yaml:"shop_price"`
	Active      bool            `json:"active" yaml:"active"`
	Recipe      []RecipeEntry   `json:"recipe,omitempty" yaml:"recipe,omitempty"`
}

// PriceFor returns the list price matching a client's price tier.
func (p Product) PriceFor(tier string) decimal.Decimal {
	if tier == PriceTierShop {
		return p.ShopPrice
	}
	return p.ClientPrice
}

type DefaultOrderLine struct {
	ProductID string   `json:"product_id" yaml:"product_id"`
	Split     RunSplit `json:"split" yaml:"split"`
}

type Client struct {
	ID           string             `json:"id" yaml:"id"`
	Name         string             `json:"name" yaml:"name"`
	Address      string             `json:"address,omitempty" yaml:"address,omitempty"`
	Email        string             `json:"email,omitempty" yaml:"email,omitempty"`
	PriceTier    string             `json:"price_tier" yaml:"price_tier"`
	DefaultOrder []DefaultOrderLine `json:"default_order,omitempty" yaml:"default_order,omitempty"`
	Active       bool               `json:"active" yaml:"active"`
}

// RunSplit distributes a quantity over the three daily delivery runs.
type RunSplit struct {
	A int `json:"run_a" yaml:"run_a"`
	B int `json:"run_b" yaml:"run_b"`
	C int `json:"run_c" yaml:"run_c"`
}

func (s RunSplit) Total() int {
	return s.A + s.B + s.C
}

func (s RunSplit) Valid() bool {
	return s.A >= 0 && s.B >= 0 && s.C >= 0
}

func (s RunSplit) Add(other RunSplit) RunSplit {
	return RunSplit{A: s.A + other.A, B: s.B + other.B, C: s.C + other.C}
}

type OrderLine struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Split     *RunSplit       `json:"split,omitempty"`
}

// EffectiveQuantity is the sum of the run split when present, else the cached total.
func (l OrderLine) EffectiveQuantity() int {
	if l.Split != nil {
		return l.Split.Total()
	}
	return l.Quantity
}

type ClientOrder struct {
	ID           string      `json:"id"`
	ClientID     string      `json:"client_id"`
	ClientName   string      `json:"client_name,omitempty"`
	DeliveryDate string      `json:"delivery_date"`
	Status       string      `json:"status"`
	Lines        []OrderLine `json:"lines"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

type ShopAllocation struct {
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Split     *RunSplit `json:"split,omitempty"`
}

type ProductTotals struct {
	ProductID    string   `json:"product_id"`
	ProductName  string   `json:"product_name"`
	ClientTotal  int      `json:"client_total"`
	ShopTotal    int      `json:"shop_total"`
	GlobalTotal  int      `json:"global_total"`
	Runs         RunSplit `json:"runs"`
	RealQuantity *int     `json:"real_quantity,omitempty"`
}

type ProgramStatus string

type ConsumptionRun struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Actor        string    `json:"actor"`
	Transactions int       `json:"transactions"`
	Failed       int       `json:"failed"`
	At           time.Time `json:"at"`
}

type ProductionProgram struct {
	ID              string           `json:"id"`
	Date            string           `json:"date"`
	Status          ProgramStatus    `json:"status"`
	Revision        int64            `json:"revision"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	SentAt          *time.Time       `json:"sent_at,omitempty"`
	ProducedAt      *time.Time       `json:"produced_at,omitempty"`
	Orders          []ClientOrder    `json:"orders"`
	Allocations     []ShopAllocation `json:"allocations"`
	Totals          []ProductTotals  `json:"totals"`
	ActualProduced  map[string]int   `json:"actual_produced,omitempty"`
	ConsumptionRuns []ConsumptionRun `json:"consumption_runs,omitempty"`
}

// Order returns the order with the given id.
func (p *ProductionProgram) Order(orderID string) (*ClientOrder, int) {
	for i := range p.Orders {
		if p.Orders[i].ID == orderID {
			return &p.Orders[i], i
		}
	}
	return nil, -1
}

// OrderForClient returns the order placed by clientID, if any.
func (p *ProductionProgram) OrderForClient(clientID string) *ClientOrder {
	for i := range p.Orders {
		if p.Orders[i].ClientID == clientID {
			return &p.Orders[i]
		}
	}
	return nil
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (p ProductionProgram) Clone() ProductionProgram {
	out := p
	out.SentAt = cloneTime(p.SentAt)
	out.ProducedAt = cloneTime(p.ProducedAt)
	out.Orders = make([]ClientOrder, len(p.Orders))
	for i, order := range p.Orders {
		lines := make([]OrderLine, len(order.Lines))
		for j, line := range order.Lines {
			if line.Split != nil {
				split := *line.Split
				line.Split = &split
			}
			lines[j] = line
		}
		order.Lines = lines
		out.Orders[i] = order
	}
	out.Allocations = make([]ShopAllocation, len(p.Allocations))
	for i, alloc := range p.Allocations {
		if alloc.Split != nil {
			split := *alloc.Split
			alloc.Split = &split
		}
		out.Allocations[i] = alloc
	}
	out.Totals = make([]ProductTotals, len(p.Totals))
	for i, row := range p.Totals {
		if row.RealQuantity != nil {
			qty := *row.RealQuantity
			row.RealQuantity = &qty
		}
		out.Totals[i] = row
	}
	if p.ActualProduced != nil {
		out.ActualProduced = make(map[string]int, len(p.ActualProduced))
		for k, v := range p.ActualProduced {
			out.ActualProduced[k] = v
		}
	}
	out.ConsumptionRuns = append([]ConsumptionRun(nil), p.ConsumptionRuns...)
	return out
}

type ReturnLine struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	Delivered   int    `json:"delivered"`
	Returned    int    `json:"returned"`
}

type ClientReturn struct {
	ID           string       `json:"id"`
	ClientID     string       `json:"client_id"`
	DeliveryDate string       `json:"delivery_date"`
	Lines        []ReturnLine `json:"lines"`
	Complete     bool         `json:"complete"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Line returns the return line recorded for productID.
func (r *ClientReturn) Line(productID string) (ReturnLine, bool) {
	if r == nil {
		return ReturnLine{}, false
	}
	for _, line := range r.Lines {
		if line.ProductID == productID {
			return line, true
		}
	}
	return ReturnLine{}, false
}

type InvoiceStatus string

type ClientSnapshot struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Email   string `json:"email,omitempty"`
}

type InvoiceLine struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Delivered   int             `json:"delivered"`
	Returned    int             `json:"returned"`
	Billed      int             `json:"billed"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

type Invoice struct {
	ID              string          `json:"id"`
	Number          string          `json:"number"`
	ClientID        string          `json:"client_id"`
	Client          ClientSnapshot  `json:"client"`
	DeliveryDate    string          `json:"delivery_date"`
	InvoiceDate     string          `json:"invoice_date"`
	DueDate         string          `json:"due_date,omitempty"`
	Lines           []InvoiceLine   `json:"lines"`
	TaxRate         decimal.Decimal `json:"tax_rate"`
	TotalHT         decimal.Decimal `json:"total_ht"`
	TotalVAT        decimal.Decimal `json:"total_vat"`
	TotalTTC        decimal.Decimal `json:"total_ttc"`
	Status          InvoiceStatus   `json:"status"`
	ReturnsComplete bool            `json:"returns_complete"`
	PaymentTerms    string          `json:"payment_terms,omitempty"`
	LegalMentions   string          `json:"legal_mentions,omitempty"`
	CancelReason    string          `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ValidatedAt     *time.Time      `json:"validated_at,omitempty"`
	SentAt          *time.Time      `json:"sent_at,omitempty"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
}

type BillingConfig struct {
	NextInvoiceNumber int64           `json:"next_invoice_number"`
	DefaultTaxRate    decimal.Decimal `json:"default_tax_rate"`
	PaymentTerms      string          `json:"payment_terms"`
	PaymentTermDays   int             `json:"payment_term_days"`
	LegalMentions     string          `json:"legal_mentions"`
	NumberPrefix      string          `json:"number_prefix"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type StockTransaction struct {
	ID          string          `json:"id"`
	MaterialID  string          `json:"material_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Reason      string          `json:"reason"`
	SourceRef   string          `json:"source_ref"`
	ProgramDate string          `json:"program_date"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Warning is a non-fatal finding surfaced to the operator.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Ref     string `json:"ref,omitempty"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	PriceTierClient = "client"
	PriceTierShop   = "shop"
)

const (
	OrderStatusPlanned   = "planned"
	OrderStatusCancelled = "cancelled"
)

const (
	ProgramStatusDraft    ProgramStatus = "draft"
	ProgramStatusSent     ProgramStatus = "sent"
	ProgramStatusModified ProgramStatus = "modified"
	ProgramStatusProduced ProgramStatus = "produced"
)

const (
	InvoiceStatusAwaitingReturns InvoiceStatus = "awaiting_returns"
	InvoiceStatusValidated       InvoiceStatus = "validated"
	InvoiceStatusSent            InvoiceStatus = "sent"
	InvoiceStatusPaid            InvoiceStatus = "paid"
	InvoiceStatusCancelled       InvoiceStatus = "cancelled"
)

const (
	ConsumptionKindConfirm    = "confirm"
	ConsumptionKindRegularize = "regularize"
)

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
