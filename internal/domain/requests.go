package domain

import "github.com/shopspring/decimal"

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string   `json:"access_token"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	ExpiresAt   string   `json:"expires_at"`
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string `json:"username"`
	Role      string `json:"role"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

type OrderLineInput struct {
	ProductID string   `json:"product_id"`
	Split     RunSplit `json:"split"`
}

type OrderCreateRequest struct {
	ClientID string           `json:"client_id"`
	Lines    []OrderLineInput `json:"lines"`
}

type DefaultOrderRequest struct {
	ClientID string `json:"client_id"`
}

type OrderStatusRequest struct {
	Status string `json:"status"`
}

type AllocationRequest struct {
	Quantity int       `json:"quantity"`
	Split    *RunSplit `json:"split,omitempty"`
}

type ActualProducedRequest struct {
	Quantity *int `json:"quantity"`
}

type SendProgramRequest struct {
	Force bool `json:"force"`
}

type RegularizeRequest struct {
	Acknowledge bool   `json:"acknowledge"`
	ManagerPIN  string `json:"manager_pin"`
}

type ProgramResponse struct {
	Program  ProductionProgram `json:"program"`
	Warnings []Warning         `json:"warnings,omitempty"`
}

type ConsumptionReport struct {
	Program      ProductionProgram  `json:"program"`
	Transactions []StockTransaction `json:"transactions"`
	Submitted    int                `json:"submitted"`
	Failed       int                `json:"failed"`
	Warnings     []Warning          `json:"warnings,omitempty"`
}

type ReturnRequest struct {
	Lines    []ReturnLine `json:"lines"`
	Complete bool         `json:"complete"`
}

type ReturnResponse struct {
	Return   ClientReturn `json:"return"`
	Warnings []Warning    `json:"warnings,omitempty"`
}

type BulkReturnsResponse struct {
	Date     string         `json:"date"`
	Created  []ClientReturn `json:"created"`
	Warnings []Warning      `json:"warnings,omitempty"`
}

type ReconcileRequest struct {
	Date string `json:"date"`
}

type ReconcileResult struct {
	Date      string    `json:"date"`
	Invoices  []Invoice `json:"invoices"`
	Created   int       `json:"created"`
	Validated int       `json:"validated"`
	Warnings  []Warning `json:"warnings,omitempty"`
}

type TaxRateRequest struct {
	Rate decimal.Decimal `json:"rate"`
}

type CancelInvoiceRequest struct {
	Reason string `json:"reason"`
}

type BillingConfigUpdateRequest struct {
	DefaultTaxRate  *decimal.Decimal `json:"default_tax_rate,omitempty"`
	PaymentTerms    *string          `json:"payment_terms,omitempty"`
	PaymentTermDays *int             `json:"payment_term_days,omitempty"`
	LegalMentions   *string          `json:"legal_mentions,omitempty"`
	NumberPrefix    *string          `json:"number_prefix,omitempty"`
}
