package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"fournil/backend/internal/billing"
	"fournil/backend/internal/domain"
	"fournil/backend/internal/store"
)

// ReconcileInvoices generates the invoices of a delivery date, or, when the
// date already has invoices, only promotes awaiting_returns invoices whose
// client return is now complete. Calling it again with unchanged inputs
// writes nothing.
func (s *Service) ReconcileInvoices(ctx context.Context, date string) (domain.ReconcileResult, error) {
	day, err := parseDate(date)
	if err != nil {
		return domain.ReconcileResult{}, err
	}

	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	existing, err := s.repo.ListInvoicesByDate(ctx, day)
	if err != nil {
		return domain.ReconcileResult{}, err
	}
	if len(existing) > 0 {
		return s.promoteInvoices(ctx, day, existing)
	}
	return s.generateInvoices(ctx, day)
}

func (s *Service) promoteInvoices(ctx context.Context, day string, invoices []domain.Invoice) (domain.ReconcileResult, error) {
	result := domain.ReconcileResult{Date: day, Invoices: invoices}

	var returns map[string]domain.ClientReturn
	var errs []error
	for i := range result.Invoices {
		inv := &result.Invoices[i]
		if inv.Status != domain.InvoiceStatusAwaitingReturns {
			continue
		}
		if returns == nil {
			list, err := s.repo.ListReturns(ctx, day)
			if err != nil {
				return result, err
			}
			returns = make(map[string]domain.ClientReturn, len(list))
			for _, ret := range list {
				returns[ret.ClientID] = ret
			}
		}
		ret, ok := returns[inv.ClientID]
		if !ok || !ret.Complete {
			continue
		}

		next := *inv
		if err := billing.Transition(&next, domain.InvoiceStatusValidated, s.now(), ""); err != nil {
			errs = append(errs, fmt.Errorf("invoice %s: %w", inv.ID, err))
			continue
		}
		saved, err := s.repo.SaveInvoice(ctx, next)
		if err != nil {
			errs = append(errs, fmt.Errorf("invoice %s: %w", inv.ID, err))
			continue
		}
		*inv = *saved
		result.Validated++
		s.logAudit(ctx, "invoice.validate", "invoice", saved.ID, fmt.Sprintf("number=%s client=%s", saved.Number, saved.ClientID))
	}
	return result, errors.Join(errs...)
}

func (s *Service) generateInvoices(ctx context.Context, day string) (domain.ReconcileResult, error) {
	result := domain.ReconcileResult{Date: day, Invoices: []domain.Invoice{}}

	program, err := s.storedProgram(ctx, day)
	if err != nil {
		return result, err
	}
	if program == nil || len(program.Orders) == 0 {
		result.Warnings = append(result.Warnings, domain.Warning{
			Code:    "no_orders",
			Message: fmt.Sprintf("no client orders for %s", day),
			Ref:     day,
		})
		return result, nil
	}
	cfg, err := s.BillingConfig(ctx)
	if err != nil {
		return result, err
	}
	returns, err := s.repo.ListReturns(ctx, day)
	if err != nil {
		return result, err
	}
	cat, err := s.catalog.Catalog(ctx)
	if err != nil {
		return result, err
	}

	now := s.now().UTC()
	invoices, warnings := billing.Generate(billing.Input{
		Date:            day,
		Orders:          program.Orders,
		Returns:         returns,
		Catalog:         cat,
		TaxRate:         cfg.DefaultTaxRate,
		PaymentTerms:    cfg.PaymentTerms,
		PaymentTermDays: cfg.PaymentTermDays,
		LegalMentions:   cfg.LegalMentions,
		Now:             now,
	})
	result.Warnings = append(result.Warnings, warnings...)

	var errs []error
	for _, inv := range invoices {
		counter, err := s.nextInvoiceNumber(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("number invoice for %s: %w", inv.ClientID, err))
			break
		}
		inv.Number = billing.FormatNumber(cfg.NumberPrefix, now, counter)

		saved, err := s.repo.SaveInvoice(ctx, inv)
		if err != nil {
			errs = append(errs, fmt.Errorf("save invoice %s: %w", inv.Number, err))
			continue
		}
		result.Invoices = append(result.Invoices, *saved)
		result.Created++
		s.logAudit(ctx, "invoice.create", "invoice", saved.ID, fmt.Sprintf("number=%s client=%s status=%s ttc=%s", saved.Number, saved.ClientID, saved.Status, saved.TotalTTC.StringFixed(2)))
	}
	return result, errors.Join(errs...)
}

func (s *Service) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: invoice id is required", store.ErrInvalidInput)
	}
	return s.repo.GetInvoice(ctx, id)
}

func (s *Service) ListInvoices(ctx context.Context, from string, to string, status string, limit int) ([]domain.Invoice, error) {
	fromDay, err := parseDate(from)
	if err != nil {
		return nil, err
	}
	toDay, err := parseDate(to)
	if err != nil {
		return nil, err
	}
	if fromDay > toDay {
		return nil, fmt.Errorf("%w: from must not be after to", store.ErrInvalidInput)
	}
	status = strings.TrimSpace(status)
	if status != "" && !knownInvoiceStatus(domain.InvoiceStatus(status)) {
		return nil, fmt.Errorf("%w: unknown invoice status %q", store.ErrInvalidInput, status)
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListInvoices(ctx, fromDay, toDay, status, limit)
}

func (s *Service) SendInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	return s.transitionInvoice(ctx, id, domain.InvoiceStatusSent, "")
}

func (s *Service) PayInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	return s.transitionInvoice(ctx, id, domain.InvoiceStatusPaid, "")
}

func (s *Service) CancelInvoice(ctx context.Context, id string, req domain.CancelInvoiceRequest) (*domain.Invoice, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.transitionInvoice(ctx, id, domain.InvoiceStatusCancelled, req.Reason)
}

// SetInvoiceTaxRate changes the rate of one invoice; HT and quantities stay.
func (s *Service) SetInvoiceTaxRate(ctx context.Context, id string, req domain.TaxRateRequest) (*domain.Invoice, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	inv, err := s.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := inv.TaxRate
	if err := billing.SetTaxRate(inv, req.Rate); err != nil {
		return nil, err
	}
	saved, err := s.repo.SaveInvoice(ctx, *inv)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "invoice.tax_rate", "invoice", saved.ID, fmt.Sprintf("number=%s rate=%s->%s ttc=%s", saved.Number, previous.String(), req.Rate.String(), saved.TotalTTC.StringFixed(2)))
	return saved, nil
}

func (s *Service) transitionInvoice(ctx context.Context, id string, to domain.InvoiceStatus, reason string) (*domain.Invoice, error) {
	inv, err := s.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	from := inv.Status
	if err := billing.Transition(inv, to, s.now(), reason); err != nil {
		return nil, err
	}
	saved, err := s.repo.SaveInvoice(ctx, *inv)
	if err != nil {
		return nil, err
	}
	detail := fmt.Sprintf("number=%s %s->%s", saved.Number, from, to)
	if reason != "" {
		detail += " reason=" + strings.TrimSpace(reason)
	}
	s.logAudit(ctx, "invoice."+string(to), "invoice", saved.ID, detail)
	return saved, nil
}

func knownInvoiceStatus(status domain.InvoiceStatus) bool {
	switch status {
	case domain.InvoiceStatusAwaitingReturns, domain.InvoiceStatusValidated, domain.InvoiceStatusSent, domain.InvoiceStatusPaid, domain.InvoiceStatusCancelled:
		return true
	}
	return false
}

// InvoiceTotals sums TTC over non-cancelled invoices, used by list views.
func InvoiceTotals(invoices []domain.Invoice) decimal.Decimal {
	total := decimal.Zero
	for _, inv := range invoices {
		if inv.Status == domain.InvoiceStatusCancelled {
			continue
		}
		total = total.Add(inv.TotalTTC)
	}
	return total
}
