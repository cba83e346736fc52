package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fournil/backend/internal/domain"
	"fournil/backend/internal/store"
)

var _ store.Repository = (*Store)(nil)

func TestSaveProgramBumpsRevisionAndKeepsIdentity(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.SaveProgram(ctx, domain.ProductionProgram{ID: "prog-1", Date: "2026-10-14", Status: domain.ProgramStatusDraft})
	if err != nil {
		t.Fatalf("save program: %v", err)
	}
	if first.Revision != 1 {
		t.Fatalf("expected revision 1, got %d", first.Revision)
	}

	second, err := s.SaveProgram(ctx, domain.ProductionProgram{ID: "other", Date: "2026-10-14", Status: domain.ProgramStatusSent})
	if err != nil {
		t.Fatalf("save program again: %v", err)
	}
	if second.Revision != 2 || second.ID != "prog-1" {
		t.Fatalf("expected revision 2 with original id, got %d %s", second.Revision, second.ID)
	}

	got, err := s.GetProgram(ctx, "2026-10-14")
	if err != nil {
		t.Fatalf("get program: %v", err)
	}
	if got.Status != domain.ProgramStatusSent {
		t.Fatalf("expected stored status sent, got %s", got.Status)
	}

	if _, err := s.GetProgram(ctx, "2026-10-15"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetProgramReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	split := domain.RunSplit{A: 1}
	_, err := s.SaveProgram(ctx, domain.ProductionProgram{Date: "2026-10-14", Orders: []domain.ClientOrder{{ID: "o1", Lines: []domain.OrderLine{{ProductID: "P", Split: &split}}}}})
	if err != nil {
		t.Fatalf("save program: %v", err)
	}

	got, _ := s.GetProgram(ctx, "2026-10-14")
	got.Orders[0].Lines[0].Split.A = 99

	again, _ := s.GetProgram(ctx, "2026-10-14")
	if again.Orders[0].Lines[0].Split.A != 1 {
		t.Fatalf("stored program was mutated through a returned copy")
	}
}

func TestListProgramsByRange(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, date := range []string{"2026-10-15", "2026-10-12", "2026-10-14"} {
		if _, err := s.SaveProgram(ctx, domain.ProductionProgram{Date: date}); err != nil {
			t.Fatalf("save %s: %v", date, err)
		}
	}
	programs, err := s.ListPrograms(ctx, "2026-10-13", "2026-10-15")
	if err != nil {
		t.Fatalf("list programs: %v", err)
	}
	if len(programs) != 2 || programs[0].Date != "2026-10-14" || programs[1].Date != "2026-10-15" {
		t.Fatalf("unexpected programs %+v", programs)
	}
}

func TestNextInvoiceNumberRequiresConfig(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.NextInvoiceNumber(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found before config exists, got %v", err)
	}
	if _, err := s.SaveBillingConfig(ctx, domain.BillingConfig{NextInvoiceNumber: 7, DefaultTaxRate: decimal.NewFromFloat(5.5)}); err != nil {
		t.Fatalf("save config: %v", err)
	}
	for want := int64(7); want <= 9; want++ {
		got, err := s.NextInvoiceNumber(ctx)
		if err != nil {
			t.Fatalf("next number: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
	cfg, _ := s.GetBillingConfig(ctx)
	if cfg.NextInvoiceNumber != 10 {
		t.Fatalf("expected counter 10, got %d", cfg.NextInvoiceNumber)
	}
}

func TestSaveReturnKeepsOnePerClientAndDate(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.SaveReturn(ctx, domain.ClientReturn{ClientID: "A", DeliveryDate: "2026-10-14"})
	if err != nil {
		t.Fatalf("save return: %v", err)
	}
	second, err := s.SaveReturn(ctx, domain.ClientReturn{ClientID: "A", DeliveryDate: "2026-10-14", Complete: true})
	if err != nil {
		t.Fatalf("save return again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same return id, got %s and %s", first.ID, second.ID)
	}
	returns, _ := s.ListReturns(ctx, "2026-10-14")
	if len(returns) != 1 || !returns[0].Complete {
		t.Fatalf("unexpected returns %+v", returns)
	}
}

func TestSaveInvoiceRejectsRenumbering(t *testing.T) {
	s := New()
	ctx := context.Background()
	inv := domain.Invoice{ID: "inv-1", ClientID: "A", DeliveryDate: "2026-10-14", Number: "FAC-20261015-0001"}
	if _, err := s.SaveInvoice(ctx, inv); err != nil {
		t.Fatalf("save invoice: %v", err)
	}
	inv.Number = "FAC-20261015-0002"
	if _, err := s.SaveInvoice(ctx, inv); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestListAuditLogsNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_ = s.CreateAuditLog(ctx, domain.AuditLog{Action: "program.send", CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	logs, err := s.ListAuditLogs(ctx, base, base.Add(time.Hour), 2)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 2 || !logs[0].CreatedAt.After(logs[1].CreatedAt) {
		t.Fatalf("expected two logs newest first, got %+v", logs)
	}
}

func TestSeededCatalogHasRecipes(t *testing.T) {
	s := NewSeeded()
	products, _ := s.ListProducts(context.Background())
	if len(products) == 0 {
		t.Fatalf("expected seeded products")
	}
	withRecipe := 0
	for _, p := range products {
		if len(p.Recipe) > 0 {
			withRecipe++
		}
	}
	if withRecipe == 0 {
		t.Fatalf("expected seeded recipes")
	}
	users, _ := s.ListUsers(context.Background())
	if len(users) != 2 {
		t.Fatalf("expected admin and staff users, got %d", len(users))
	}
}
