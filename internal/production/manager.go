package production

import (
	"context"
	"errors"
	"fmt"
	"log"
	"reflect"
	"sync"
	"time"

	"fournil/backend/internal/domain"
	"fournil/backend/internal/planning"
	"fournil/backend/internal/stock"
	"fournil/backend/internal/store"
	"fournil/backend/internal/xid"
)

type CatalogSource interface {
	Catalog(ctx context.Context) (*domain.Catalog, error)
}

// Publisher fans stored program snapshots out to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, program domain.ProductionProgram) error
}

// Manager owns the lifecycle of production programs. Every write re-runs the
// aggregation, persists the program and publishes the stored snapshot.
type Manager struct {
	programs  store.ProgramStore
	catalog   CatalogSource
	ledger    stock.Ledger
	publisher Publisher
	now       func() time.Time
	locks     sync.Map
}

func NewManager(programs store.ProgramStore, catalog CatalogSource, ledger stock.Ledger, publisher Publisher) *Manager {
	return &Manager{
		programs:  programs,
		catalog:   catalog,
		ledger:    ledger,
		publisher: publisher,
		now:       time.Now,
	}
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// Program returns the program of date, creating an empty draft the first
// time the date is viewed.
func (m *Manager) Program(ctx context.Context, date string) (*domain.ProductionProgram, error) {
	if _, err := domain.ParseDate(date); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	unlock := m.lock(date)
	defer unlock()

	program, created, err := m.loadOrCreate(ctx, date)
	if err != nil {
		return nil, err
	}
	if !created {
		return program, nil
	}
	return m.persist(ctx, *program)
}

func (m *Manager) List(ctx context.Context, from string, to string) ([]domain.ProductionProgram, error) {
	if _, err := domain.ParseDate(from); err != nil {
		return nil, fmt.Errorf("%w: from: %v", store.ErrInvalidInput, err)
	}
	if _, err := domain.ParseDate(to); err != nil {
		return nil, fmt.Errorf("%w: to: %v", store.ErrInvalidInput, err)
	}
	if to < from {
		return nil, fmt.Errorf("%w: to must not be before from", store.ErrInvalidInput)
	}
	return m.programs.ListPrograms(ctx, from, to)
}

// Apply runs one edit against the stored program of date.
func (m *Manager) Apply(ctx context.Context, date string, cmd Command) (*domain.ProductionProgram, error) {
	if _, err := domain.ParseDate(date); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	unlock := m.lock(date)
	defer unlock()

	program, _, err := m.loadOrCreate(ctx, date)
	if err != nil {
		return nil, err
	}
	catalog, err := m.catalog.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	if err := cmd.Apply(program, catalog, m.now()); err != nil {
		return nil, err
	}
	return m.persist(ctx, *program)
}

// Replace merge-writes a locally edited snapshot: demand fields come from the
// snapshot, lifecycle fields stay as stored. A plan that differs from the
// stored one flips a sent program to modified, whatever status the snapshot
// carries. A produced program only accepts actual-produced changes.
func (m *Manager) Replace(ctx context.Context, snapshot domain.ProductionProgram) (*domain.ProductionProgram, error) {
	if _, err := domain.ParseDate(snapshot.Date); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	unlock := m.lock(snapshot.Date)
	defer unlock()

	stored, _, err := m.loadOrCreate(ctx, snapshot.Date)
	if err != nil {
		return nil, err
	}
	catalog, err := m.catalog.Catalog(ctx)
	if err != nil {
		return nil, err
	}

	local := snapshot.Clone()
	if stored.Status == domain.ProgramStatusProduced {
		if !samePlan(*stored, local) {
			return nil, fmt.Errorf("%w: program %s is already produced", ErrInvalidTransition, stored.Date)
		}
	} else if !samePlan(*stored, local) {
		MarkModified(stored)
	}
	stored.Orders = local.Orders
	stored.Allocations = local.Allocations
	stored.ActualProduced = local.ActualProduced
	stored.UpdatedAt = m.now().UTC()
	planning.Recompute(stored, catalog)
	return m.persist(ctx, *stored)
}

// Send moves the program to sent. Warnings block the transition with
// ErrConfirmationRequired unless force is set.
func (m *Manager) Send(ctx context.Context, date string, force bool) (*domain.ProductionProgram, []domain.Warning, error) {
	if _, err := domain.ParseDate(date); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	unlock := m.lock(date)
	defer unlock()

	program, _, err := m.loadOrCreate(ctx, date)
	if err != nil {
		return nil, nil, err
	}
	catalog, err := m.catalog.Catalog(ctx)
	if err != nil {
		return nil, nil, err
	}
	planning.Recompute(program, catalog)
	warnings, err := Send(program, force, m.now())
	if err != nil {
		return program, warnings, err
	}
	saved, err := m.persist(ctx, *program)
	if err != nil {
		return nil, warnings, err
	}
	return saved, warnings, nil
}

// Confirm marks the program produced, then submits its stock consumption.
func (m *Manager) Confirm(ctx context.Context, date string, actor string) (*domain.ConsumptionReport, error) {
	return m.consume(ctx, date, actor, domain.ConsumptionKindConfirm)
}

// Regularize re-runs stock consumption on a produced program. Nothing guards
// against deducting the same production twice; callers must ask the operator.
func (m *Manager) Regularize(ctx context.Context, date string, actor string) (*domain.ConsumptionReport, error) {
	return m.consume(ctx, date, actor, domain.ConsumptionKindRegularize)
}

func (m *Manager) consume(ctx context.Context, date string, actor string, kind string) (*domain.ConsumptionReport, error) {
	if _, err := domain.ParseDate(date); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	unlock := m.lock(date)
	defer unlock()

	program, err := m.programs.GetProgram(ctx, date)
	if err != nil {
		return nil, err
	}
	now := m.now()
	switch kind {
	case domain.ConsumptionKindConfirm:
		if err := Confirm(program, now); err != nil {
			return nil, err
		}
	default:
		if err := CanRegularize(*program); err != nil {
			return nil, err
		}
	}

	catalog, err := m.catalog.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	planning.Recompute(program, catalog)
	txs, warnings := stock.Consume(*program, catalog, now.UTC())

	run := domain.ConsumptionRun{
		ID:           xid.New("run"),
		Kind:         kind,
		Actor:        actor,
		Transactions: len(txs),
		At:           now.UTC(),
	}
	program.ConsumptionRuns = append(program.ConsumptionRuns, run)
	saved, err := m.persist(ctx, *program)
	if err != nil {
		return nil, err
	}

	submitted, submitErr := stock.Submit(ctx, m.ledger, txs)
	report := &domain.ConsumptionReport{
		Transactions: txs,
		Submitted:    submitted,
		Failed:       len(txs) - submitted,
		Warnings:     warnings,
	}
	if submitErr != nil {
		report.Warnings = append(report.Warnings, domain.Warning{
			Code:    "ledger_partial_failure",
			Message: fmt.Sprintf("%d of %d stock transactions were rejected: %v", report.Failed, len(txs), submitErr),
			Ref:     stock.SourceRef(date),
		})
		saved.ConsumptionRuns[len(saved.ConsumptionRuns)-1].Failed = report.Failed
		if updated, err := m.persist(ctx, *saved); err != nil {
			log.Printf("[production] WARN: record failed consumption count date=%s: %v", date, err)
		} else {
			saved = updated
		}
	}
	report.Program = *saved
	return report, nil
}

func (m *Manager) loadOrCreate(ctx context.Context, date string) (*domain.ProductionProgram, bool, error) {
	program, err := m.programs.GetProgram(ctx, date)
	if err == nil {
		return program, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}
	now := m.now().UTC()
	return &domain.ProductionProgram{
		ID:          xid.New("prog"),
		Date:        date,
		Status:      domain.ProgramStatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
		Orders:      []domain.ClientOrder{},
		Allocations: []domain.ShopAllocation{},
		Totals:      []domain.ProductTotals{},
	}, true, nil
}

func (m *Manager) persist(ctx context.Context, program domain.ProductionProgram) (*domain.ProductionProgram, error) {
	saved, err := m.programs.SaveProgram(ctx, program)
	if err != nil {
		return nil, err
	}
	if m.publisher != nil {
		if err := m.publisher.Publish(ctx, saved.Clone()); err != nil {
			log.Printf("[production] WARN: publish program date=%s revision=%d: %v", saved.Date, saved.Revision, err)
		}
	}
	return saved, nil
}

func (m *Manager) lock(date string) func() {
	v, _ := m.locks.LoadOrStore(date, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func samePlan(a domain.ProductionProgram, b domain.ProductionProgram) bool {
	return reflect.DeepEqual(planning.Aggregate(a.Orders, a.Allocations, nil), planning.Aggregate(b.Orders, b.Allocations, nil))
}
