package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fournil/backend/internal/catalog"
	"fournil/backend/internal/domain"
	"fournil/backend/internal/production"
	"fournil/backend/internal/store"
	"fournil/backend/internal/xid"
)

var ErrForbidden = errors.New("admin role required")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// BillingDefaults seed the billing configuration the first time it is
// missing from the store.
type BillingDefaults struct {
	TaxRate         decimal.Decimal
	NumberPrefix    string
	PaymentTerms    string
	PaymentTermDays int
	LegalMentions   string
}

type Service struct {
	repo     store.Repository
	catalog  *catalog.Source
	programs *production.Manager
	defaults BillingDefaults
	now      func() time.Time

	billingMu sync.Mutex
	billing   *domain.BillingConfig

	reconcileMu sync.Mutex
}

func New(repo store.Repository, catalogSource *catalog.Source, programs *production.Manager, defaults BillingDefaults) *Service {
	if defaults.NumberPrefix == "" {
		defaults.NumberPrefix = "FAC"
	}
	return &Service{
		repo:     repo,
		catalog:  catalogSource,
		programs: programs,
		defaults: defaults,
		now:      time.Now,
	}
}

// SetClock overrides the time source of the service and its program manager.
func (s *Service) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	s.now = now
	s.programs.SetClock(now)
}

func (s *Service) Catalog(ctx context.Context) (*domain.CatalogSnapshot, error) {
	return s.catalog.Snapshot(ctx)
}

func (s *Service) ImportCatalog(ctx context.Context, snapshot domain.CatalogSnapshot) (int, int, error) {
	if err := requireAdmin(ctx); err != nil {
		return 0, 0, err
	}
	products, clients, err := s.catalog.Import(ctx, snapshot)
	if err != nil {
		return products, clients, err
	}
	s.logAudit(ctx, "catalog.import", "catalog", "catalog", fmt.Sprintf("products=%d clients=%d", products, clients))
	return products, clients, nil
}

func (s *Service) ListStockTransactions(ctx context.Context, date string, limit int) ([]domain.StockTransaction, error) {
	if strings.TrimSpace(date) != "" {
		if _, err := domain.ParseDate(date); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
		}
	}
	if limit < 1 {
		limit = 200
	}
	return s.repo.ListStockTransactions(ctx, date, limit)
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := domain.ParseDate(date)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return ErrForbidden
	}
	return nil
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}

func parseDate(raw string) (string, error) {
	t, err := domain.ParseDate(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	return domain.FormatDate(t), nil
}
