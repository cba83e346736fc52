package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fournil/backend/internal/domain"
	"fournil/backend/internal/production"
	"fournil/backend/internal/store"
)

func (s *Service) GetProgram(ctx context.Context, date string) (*domain.ProductionProgram, error) {
	return s.programs.Program(ctx, date)
}

func (s *Service) ListPrograms(ctx context.Context, from string, to string) ([]domain.ProductionProgram, error) {
	return s.programs.List(ctx, from, to)
}

// Programs exposes the lifecycle manager for optimistic sessions.
func (s *Service) Programs() *production.Manager {
	return s.programs
}

func (s *Service) PlaceOrder(ctx context.Context, date string, req domain.OrderCreateRequest) (*domain.ProductionProgram, error) {
	return s.applyAndAudit(ctx, date, production.PlaceOrder(req.ClientID, req.Lines))
}

func (s *Service) ApplyDefaultOrder(ctx context.Context, date string, clientID string) (*domain.ProductionProgram, error) {
	return s.applyAndAudit(ctx, date, production.ApplyDefaultOrder(clientID))
}

func (s *Service) SetOrderLine(ctx context.Context, date string, orderID string, productID string, split domain.RunSplit) (*domain.ProductionProgram, error) {
	return s.applyAndAudit(ctx, date, production.SetLine(orderID, productID, split))
}

func (s *Service) RemoveOrderLine(ctx context.Context, date string, orderID string, productID string) (*domain.ProductionProgram, error) {
	return s.applyAndAudit(ctx, date, production.RemoveLine(orderID, productID))
}

func (s *Service) SetOrderStatus(ctx context.Context, date string, orderID string, status string) (*domain.ProductionProgram, error) {
	return s.applyAndAudit(ctx, date, production.SetOrderStatus(orderID, strings.TrimSpace(status)))
}

func (s *Service) RemoveOrder(ctx context.Context, date string, orderID string) (*domain.ProductionProgram, error) {
	return s.applyAndAudit(ctx, date, production.RemoveOrder(orderID))
}

func (s *Service) SetAllocation(ctx context.Context, date string, productID string, req domain.AllocationRequest) (*domain.ProductionProgram, error) {
	return s.applyAndAudit(ctx, date, production.SetAllocation(productID, req.Quantity, req.Split))
}

func (s *Service) SetActualProduced(ctx context.Context, date string, productID string, req domain.ActualProducedRequest) (*domain.ProductionProgram, error) {
	return s.applyAndAudit(ctx, date, production.SetActualProduced(productID, req.Quantity))
}

func (s *Service) SendProgram(ctx context.Context, date string, req domain.SendProgramRequest) (domain.ProgramResponse, error) {
	program, warnings, err := s.programs.Send(ctx, date, req.Force)
	resp := domain.ProgramResponse{Warnings: warnings}
	if program != nil {
		resp.Program = *program
	}
	if err != nil {
		return resp, err
	}
	s.logAudit(ctx, "program.send", "program", date, fmt.Sprintf("force=%t warnings=%d revision=%d", req.Force, len(warnings), program.Revision))
	return resp, nil
}

func (s *Service) ConfirmProgram(ctx context.Context, date string) (*domain.ConsumptionReport, error) {
	report, err := s.programs.Confirm(ctx, date, actorName(ctx))
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "program.confirm", "program", date, fmt.Sprintf("transactions=%d failed=%d", len(report.Transactions), report.Failed))
	return report, nil
}

// RegularizeProgram re-runs consumption for a produced program. The caller
// must acknowledge that earlier deductions are not reversed.
func (s *Service) RegularizeProgram(ctx context.Context, date string, req domain.RegularizeRequest) (*domain.ConsumptionReport, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if !req.Acknowledge {
		return nil, fmt.Errorf("%w: regularizing deducts stock again; acknowledge to continue", production.ErrConfirmationRequired)
	}
	report, err := s.programs.Regularize(ctx, date, actorName(ctx))
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "program.regularize", "program", date, fmt.Sprintf("transactions=%d failed=%d runs=%d", len(report.Transactions), report.Failed, len(report.Program.ConsumptionRuns)))
	return report, nil
}

func (s *Service) applyAndAudit(ctx context.Context, date string, cmd production.Command) (*domain.ProductionProgram, error) {
	program, err := s.programs.Apply(ctx, date, cmd)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "program."+cmd.Name, "program", date, fmt.Sprintf("target=%s status=%s revision=%d", cmd.Target, program.Status, program.Revision))
	return program, nil
}

// deliveredByClient sums delivered quantities per client and product from
// the non-cancelled orders of a program, keeping first-seen product order.
func deliveredByClient(program *domain.ProductionProgram) map[string][]domain.ReturnLine {
	out := make(map[string][]domain.ReturnLine)
	if program == nil {
		return out
	}
	for _, order := range program.Orders {
		if order.Status == domain.OrderStatusCancelled || strings.TrimSpace(order.ClientID) == "" {
			continue
		}
		lines := out[order.ClientID]
		for _, line := range order.Lines {
			qty := line.EffectiveQuantity()
			merged := false
			for i := range lines {
				if lines[i].ProductID == line.ProductID {
					lines[i].Delivered += qty
					merged = true
					break
				}
			}
			if !merged {
				lines = append(lines, domain.ReturnLine{ProductID: line.ProductID, Delivered: qty})
			}
		}
		out[order.ClientID] = lines
	}
	return out
}

// storedProgram reads the program of date without creating it.
func (s *Service) storedProgram(ctx context.Context, date string) (*domain.ProductionProgram, error) {
	program, err := s.repo.GetProgram(ctx, date)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return program, nil
}
