package store

import (
	"context"
	"errors"
	"time"

	"fournil/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
)

type CatalogStore interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListClients(ctx context.Context) ([]domain.Client, error)
	UpsertProduct(ctx context.Context, product domain.Product) error
	UpsertClient(ctx context.Context, client domain.Client) error
}

// ProgramStore keeps one production program document per date. SaveProgram is
// a merge-write: it bumps the revision and returns the stored document.
type ProgramStore interface {
	GetProgram(ctx context.Context, date string) (*domain.ProductionProgram, error)
	SaveProgram(ctx context.Context, program domain.ProductionProgram) (*domain.ProductionProgram, error)
	ListPrograms(ctx context.Context, from string, to string) ([]domain.ProductionProgram, error)
}

type ReturnStore interface {
	GetReturn(ctx context.Context, date string, clientID string) (*domain.ClientReturn, error)
	SaveReturn(ctx context.Context, ret domain.ClientReturn) (*domain.ClientReturn, error)
	ListReturns(ctx context.Context, date string) ([]domain.ClientReturn, error)
}

// InvoiceStore never deletes; cancelled invoices stay in place.
type InvoiceStore interface {
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	SaveInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error)
	ListInvoicesByDate(ctx context.Context, date string) ([]domain.Invoice, error)
	ListInvoices(ctx context.Context, from string, to string, status string, limit int) ([]domain.Invoice, error)
}

// BillingStore holds the single billing configuration document.
// GetBillingConfig and NextInvoiceNumber return ErrNotFound until the
// document has been saved once.
type BillingStore interface {
	GetBillingConfig(ctx context.Context) (*domain.BillingConfig, error)
	SaveBillingConfig(ctx context.Context, cfg domain.BillingConfig) (*domain.BillingConfig, error)
	NextInvoiceNumber(ctx context.Context) (int64, error)
}

type LedgerStore interface {
	AppendStockTransaction(ctx context.Context, tx domain.StockTransaction) error
	ListStockTransactions(ctx context.Context, programDate string, limit int) ([]domain.StockTransaction, error)
}

type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}

type Repository interface {
	CatalogStore
	ProgramStore
	ReturnStore
	InvoiceStore
	BillingStore
	LedgerStore
	AuditStore
	UserStore
}
