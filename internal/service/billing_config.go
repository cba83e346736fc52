package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"fournil/backend/internal/domain"
	"fournil/backend/internal/store"
)

var maxTaxRate = decimal.NewFromInt(100)

// LoadBillingConfig reads the billing configuration once, writing the
// defaults when the document is missing.
func (s *Service) LoadBillingConfig(ctx context.Context) (*domain.BillingConfig, error) {
	s.billingMu.Lock()
	defer s.billingMu.Unlock()
	return s.loadBillingConfigLocked(ctx)
}

// BillingConfig is read-through: it serves the loaded copy and reloads
// after writes invalidated it.
func (s *Service) BillingConfig(ctx context.Context) (*domain.BillingConfig, error) {
	s.billingMu.Lock()
	defer s.billingMu.Unlock()
	if s.billing != nil {
		cfg := *s.billing
		return &cfg, nil
	}
	return s.loadBillingConfigLocked(ctx)
}

func (s *Service) UpdateBillingConfig(ctx context.Context, req domain.BillingConfigUpdateRequest) (*domain.BillingConfig, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	s.billingMu.Lock()
	defer s.billingMu.Unlock()

	current, err := s.loadBillingConfigLocked(ctx)
	if err != nil {
		return nil, err
	}
	next := *current
	if req.DefaultTaxRate != nil {
		if req.DefaultTaxRate.IsNegative() || req.DefaultTaxRate.GreaterThan(maxTaxRate) {
			return nil, fmt.Errorf("%w: tax rate must be between 0 and 100", store.ErrInvalidInput)
		}
		next.DefaultTaxRate = *req.DefaultTaxRate
	}
	if req.PaymentTerms != nil {
		next.PaymentTerms = strings.TrimSpace(*req.PaymentTerms)
	}
	if req.PaymentTermDays != nil {
		if *req.PaymentTermDays < 0 {
			return nil, fmt.Errorf("%w: payment term days cannot be negative", store.ErrInvalidInput)
		}
		next.PaymentTermDays = *req.PaymentTermDays
	}
	if req.LegalMentions != nil {
		next.LegalMentions = strings.TrimSpace(*req.LegalMentions)
	}
	if req.NumberPrefix != nil {
		prefix := strings.TrimSpace(*req.NumberPrefix)
		if strings.ContainsAny(prefix, " /\\") {
			return nil, fmt.Errorf("%w: number prefix cannot contain spaces or slashes", store.ErrInvalidInput)
		}
		next.NumberPrefix = prefix
	}
	next.UpdatedAt = s.now().UTC()

	saved, err := s.repo.SaveBillingConfig(ctx, next)
	if err != nil {
		return nil, err
	}
	s.billing = saved
	s.logAudit(ctx, "billing.update", "billing_config", "billing", fmt.Sprintf("tax_rate=%s prefix=%s term_days=%d", saved.DefaultTaxRate.String(), saved.NumberPrefix, saved.PaymentTermDays))

	cfg := *saved
	return &cfg, nil
}

func (s *Service) loadBillingConfigLocked(ctx context.Context) (*domain.BillingConfig, error) {
	cfg, err := s.repo.GetBillingConfig(ctx)
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("[billing] WARN: billing configuration missing, writing defaults")
		cfg, err = s.repo.SaveBillingConfig(ctx, s.defaultBillingConfig())
	}
	if err != nil {
		return nil, err
	}
	s.billing = cfg
	out := *cfg
	return &out, nil
}

func (s *Service) defaultBillingConfig() domain.BillingConfig {
	return domain.BillingConfig{
		NextInvoiceNumber: 1,
		DefaultTaxRate:    s.defaults.TaxRate,
		PaymentTerms:      s.defaults.PaymentTerms,
		PaymentTermDays:   s.defaults.PaymentTermDays,
		LegalMentions:     s.defaults.LegalMentions,
		NumberPrefix:      s.defaults.NumberPrefix,
		UpdatedAt:         s.now().UTC(),
	}
}

// nextInvoiceNumber takes one counter value, healing a missing
// configuration first.
func (s *Service) nextInvoiceNumber(ctx context.Context) (int64, error) {
	n, err := s.repo.NextInvoiceNumber(ctx)
	if errors.Is(err, store.ErrNotFound) {
		if _, err := s.LoadBillingConfig(ctx); err != nil {
			return 0, err
		}
		n, err = s.repo.NextInvoiceNumber(ctx)
	}
	if err != nil {
		return 0, err
	}
	s.invalidateBillingConfig()
	return n, nil
}

func (s *Service) invalidateBillingConfig() {
	s.billingMu.Lock()
	s.billing = nil
	s.billingMu.Unlock()
}
