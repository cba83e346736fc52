package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fournil/backend/internal/domain"
	"fournil/backend/internal/store"
	"fournil/backend/internal/xid"
)

func (s *Store) GetProgram(ctx context.Context, date string) (*domain.ProductionProgram, error) {
	var (
		doc       []byte
		program   domain.ProductionProgram
		createdAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, revision, created_at, doc
		FROM production_programs
		WHERE production_date = $1::date
	`, date).Scan(&program.ID, &program.Revision, &createdAt, &doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return decodeProgram(doc, program.ID, program.Revision, createdAt)
}

// SaveProgram writes the whole document. Identity and creation time of an
// existing row win over the incoming ones and the revision is bumped.
func (s *Store) SaveProgram(ctx context.Context, program domain.ProductionProgram) (*domain.ProductionProgram, error) {
	if strings.TrimSpace(program.Date) == "" {
		return nil, fmt.Errorf("%w: program date is required", store.ErrInvalidInput)
	}
	if program.ID == "" {
		program.ID = xid.New("prog")
	}
	if program.CreatedAt.IsZero() {
		program.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(program)
	if err != nil {
		return nil, err
	}

	var (
		id        string
		revision  int64
		createdAt time.Time
		doc       []byte
	)
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO production_programs (production_date, id, status, revision, doc, created_at, updated_at)
		VALUES ($1::date, $2, $3, 1, $4::jsonb, $5, now())
		ON CONFLICT (production_date)
		DO UPDATE SET
			status = EXCLUDED.status,
			revision = production_programs.revision + 1,
			doc = EXCLUDED.doc,
			updated_at = now()
		RETURNING id, revision, created_at, doc
	`, program.Date, program.ID, string(program.Status), string(payload), program.CreatedAt).Scan(&id, &revision, &createdAt, &doc)
	if err != nil {
		return nil, err
	}
	return decodeProgram(doc, id, revision, createdAt)
}

func (s *Store) ListPrograms(ctx context.Context, from string, to string) ([]domain.ProductionProgram, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, revision, created_at, doc
		FROM production_programs
		WHERE production_date >= $1::date AND production_date <= $2::date
		ORDER BY production_date
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	programs := make([]domain.ProductionProgram, 0, 8)
	for rows.Next() {
		var (
			id        string
			revision  int64
			createdAt time.Time
			doc       []byte
		)
		if err := rows.Scan(&id, &revision, &createdAt, &doc); err != nil {
			return nil, err
		}
		program, err := decodeProgram(doc, id, revision, createdAt)
		if err != nil {
			return nil, err
		}
		programs = append(programs, *program)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return programs, nil
}

func decodeProgram(doc []byte, id string, revision int64, createdAt time.Time) (*domain.ProductionProgram, error) {
	var program domain.ProductionProgram
	if err := json.Unmarshal(doc, &program); err != nil {
		return nil, fmt.Errorf("decode program %s: %w", id, err)
	}
	program.ID = id
	program.Revision = revision
	program.CreatedAt = createdAt.UTC()
	return &program, nil
}

func (s *Store) GetReturn(ctx context.Context, date string, clientID string) (*domain.ClientReturn, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT doc FROM client_returns
		WHERE delivery_date = $1::date AND client_id = $2
	`, date, clientID).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	var ret domain.ClientReturn
	if err := json.Unmarshal(doc, &ret); err != nil {
		return nil, fmt.Errorf("decode return %s/%s: %w", date, clientID, err)
	}
	return &ret, nil
}

func (s *Store) SaveReturn(ctx context.Context, ret domain.ClientReturn) (*domain.ClientReturn, error) {
	if strings.TrimSpace(ret.DeliveryDate) == "" || strings.TrimSpace(ret.ClientID) == "" {
		return nil, fmt.Errorf("%w: return needs a date and a client", store.ErrInvalidInput)
	}
	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	if ret.UpdatedAt.IsZero() {
		ret.UpdatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(ret)
	if err != nil {
		return nil, err
	}

	var id string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO client_returns (delivery_date, client_id, id, complete, doc, updated_at)
		VALUES ($1::date, $2, $3, $4, $5::jsonb, $6)
		ON CONFLICT (delivery_date, client_id)
		DO UPDATE SET
			complete = EXCLUDED.complete,
			doc = EXCLUDED.doc || jsonb_build_object('id', client_returns.id),
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`, ret.DeliveryDate, ret.ClientID, ret.ID, ret.Complete, string(payload), ret.UpdatedAt).Scan(&id)
	if err != nil {
		return nil, err
	}
	ret.ID = id
	return &ret, nil
}

func (s *Store) ListReturns(ctx context.Context, date string) ([]domain.ClientReturn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM client_returns
		WHERE delivery_date = $1::date
		ORDER BY client_id
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	returns := make([]domain.ClientReturn, 0, 16)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var ret domain.ClientReturn
		if err := json.Unmarshal(doc, &ret); err != nil {
			return nil, fmt.Errorf("decode return: %w", err)
		}
		returns = append(returns, ret)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return returns, nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM invoices WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return decodeInvoice(doc)
}

// SaveInvoice upserts by id. Once numbered, an invoice keeps its number.
func (s *Store) SaveInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	if strings.TrimSpace(invoice.ID) == "" || strings.TrimSpace(invoice.ClientID) == "" {
		return nil, fmt.Errorf("%w: invoice needs an id and a client", store.ErrInvalidInput)
	}
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(invoice)
	if err != nil {
		return nil, err
	}

	var id string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO invoices (id, number, client_id, delivery_date, status, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4::date, $5, $6::jsonb, $7, now())
		ON CONFLICT (id)
		DO UPDATE SET
			number = EXCLUDED.number,
			status = EXCLUDED.status,
			doc = EXCLUDED.doc,
			updated_at = now()
		WHERE invoices.number = '' OR invoices.number = EXCLUDED.number
		RETURNING id
	`, invoice.ID, invoice.Number, invoice.ClientID, invoice.DeliveryDate, string(invoice.Status), string(payload), invoice.CreatedAt).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: invoice number cannot change", store.ErrConflict)
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: invoice number %s already used", store.ErrConflict, invoice.Number)
		}
		return nil, err
	}
	return &invoice, nil
}

func (s *Store) ListInvoicesByDate(ctx context.Context, date string) ([]domain.Invoice, error) {
	return s.queryInvoices(ctx, `
		SELECT doc FROM invoices
		WHERE delivery_date = $1::date
		ORDER BY client_id, id
	`, date)
}

func (s *Store) ListInvoices(ctx context.Context, from string, to string, status string, limit int) ([]domain.Invoice, error) {
	if limit < 1 {
		limit = 200
	}
	return s.queryInvoices(ctx, `
		SELECT doc FROM invoices
		WHERE delivery_date >= $1::date
			AND delivery_date <= $2::date
			AND ($3::text IS NULL OR status = $3::text)
		ORDER BY delivery_date, client_id, id
		LIMIT $4
	`, from, to, nullIfEmpty(status), limit)
}

func (s *Store) queryInvoices(ctx context.Context, query string, args ...any) ([]domain.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, 16)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		inv, err := decodeInvoice(doc)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}

func decodeInvoice(doc []byte) (*domain.Invoice, error) {
	var inv domain.Invoice
	if err := json.Unmarshal(doc, &inv); err != nil {
		return nil, fmt.Errorf("decode invoice: %w", err)
	}
	return &inv, nil
}

func (s *Store) GetBillingConfig(ctx context.Context) (*domain.BillingConfig, error) {
	var (
		doc  []byte
		next int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT next_invoice_number, doc FROM billing_config WHERE id = 1
	`).Scan(&next, &doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	var cfg domain.BillingConfig
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return nil, fmt.Errorf("decode billing config: %w", err)
	}
	cfg.NextInvoiceNumber = next
	return &cfg, nil
}

// SaveBillingConfig writes the configuration. The counter never moves
// backwards, so a stale read-modify-write cannot hand out a number twice.
func (s *Store) SaveBillingConfig(ctx context.Context, cfg domain.BillingConfig) (*domain.BillingConfig, error) {
	if cfg.NextInvoiceNumber < 1 {
		return nil, fmt.Errorf("%w: next invoice number must be positive", store.ErrInvalidInput)
	}
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}

	var next int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO billing_config (id, next_invoice_number, doc, updated_at)
		VALUES (1, $1, $2::jsonb, $3)
		ON CONFLICT (id)
		DO UPDATE SET
			next_invoice_number = GREATEST(billing_config.next_invoice_number, EXCLUDED.next_invoice_number),
			doc = EXCLUDED.doc,
			updated_at = EXCLUDED.updated_at
		RETURNING next_invoice_number
	`, cfg.NextInvoiceNumber, string(payload), cfg.UpdatedAt).Scan(&next)
	if err != nil {
		return nil, err
	}
	cfg.NextInvoiceNumber = next
	return &cfg, nil
}

func (s *Store) NextInvoiceNumber(ctx context.Context) (int64, error) {
	var reserved int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE billing_config
		SET next_invoice_number = next_invoice_number + 1, updated_at = now()
		WHERE id = 1
		RETURNING next_invoice_number - 1
	`).Scan(&reserved)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return reserved, nil
}
