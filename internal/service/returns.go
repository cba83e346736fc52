package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"fournil/backend/internal/domain"
	"fournil/backend/internal/store"
)

// ReturnDraft prefills a return form for a client with the quantities
// delivered on date. A recorded return wins over the prefill.
func (s *Service) ReturnDraft(ctx context.Context, date string, clientID string) (*domain.ClientReturn, error) {
	day, err := parseDate(date)
	if err != nil {
		return nil, err
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, fmt.Errorf("%w: client is required", store.ErrInvalidInput)
	}

	existing, err := s.repo.GetReturn(ctx, day, clientID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	program, err := s.storedProgram(ctx, day)
	if err != nil {
		return nil, err
	}
	cat, err := s.catalog.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	lines := deliveredByClient(program)[clientID]
	for i := range lines {
		lines[i].ProductName = cat.ProductName(lines[i].ProductID)
	}
	if lines == nil {
		lines = []domain.ReturnLine{}
	}
	return &domain.ClientReturn{
		ClientID:     clientID,
		DeliveryDate: day,
		Lines:        lines,
	}, nil
}

// SaveReturn records a client's returns for date. Delivered quantities are
// always taken from the program; only returned quantities come from req.
func (s *Service) SaveReturn(ctx context.Context, date string, clientID string, req domain.ReturnRequest) (domain.ReturnResponse, error) {
	day, err := parseDate(date)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return domain.ReturnResponse{}, fmt.Errorf("%w: client is required", store.ErrInvalidInput)
	}

	returned := make(map[string]int, len(req.Lines))
	for _, line := range req.Lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return domain.ReturnResponse{}, fmt.Errorf("%w: return line without product", store.ErrInvalidInput)
		}
		if line.Returned < 0 {
			return domain.ReturnResponse{}, fmt.Errorf("%w: returned quantity for %s cannot be negative", store.ErrInvalidInput, productID)
		}
		returned[productID] += line.Returned
	}

	program, err := s.storedProgram(ctx, day)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	cat, err := s.catalog.Catalog(ctx)
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	var warnings []domain.Warning
	lines := deliveredByClient(program)[clientID]
	seen := make(map[string]bool, len(lines))
	for i := range lines {
		seen[lines[i].ProductID] = true
		lines[i].ProductName = cat.ProductName(lines[i].ProductID)
		lines[i].Returned = returned[lines[i].ProductID]
		if lines[i].Returned > lines[i].Delivered {
			warnings = append(warnings, domain.Warning{
				Code:    "returns_exceed_delivery",
				Message: fmt.Sprintf("%d returned but only %d delivered for %s", lines[i].Returned, lines[i].Delivered, lines[i].ProductID),
				Ref:     lines[i].ProductID,
			})
		}
	}
	for _, line := range req.Lines {
		productID := strings.TrimSpace(line.ProductID)
		if seen[productID] {
			continue
		}
		seen[productID] = true
		warnings = append(warnings, domain.Warning{
			Code:    "not_delivered",
			Message: fmt.Sprintf("%s was not delivered to %s on %s", productID, clientID, day),
			Ref:     productID,
		})
		lines = append(lines, domain.ReturnLine{
			ProductID:   productID,
			ProductName: cat.ProductName(productID),
			Returned:    returned[productID],
		})
	}
	if lines == nil {
		lines = []domain.ReturnLine{}
	}

	saved, err := s.repo.SaveReturn(ctx, domain.ClientReturn{
		ClientID:     clientID,
		DeliveryDate: day,
		Lines:        lines,
		Complete:     req.Complete,
		UpdatedAt:    s.now().UTC(),
	})
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	s.logAudit(ctx, "return.save", "return", day+"/"+clientID, fmt.Sprintf("lines=%d complete=%t warnings=%d", len(lines), req.Complete, len(warnings)))
	return domain.ReturnResponse{Return: *saved, Warnings: warnings}, nil
}

// MarkNoReturns writes a complete, zero-returned record for every client
// delivered on date that has no return yet.
func (s *Service) MarkNoReturns(ctx context.Context, date string) (domain.BulkReturnsResponse, error) {
	day, err := parseDate(date)
	if err != nil {
		return domain.BulkReturnsResponse{}, err
	}
	program, err := s.storedProgram(ctx, day)
	if err != nil {
		return domain.BulkReturnsResponse{}, err
	}
	resp := domain.BulkReturnsResponse{Date: day, Created: []domain.ClientReturn{}}
	if program == nil {
		resp.Warnings = append(resp.Warnings, domain.Warning{
			Code:    "no_program",
			Message: fmt.Sprintf("no production program exists for %s", day),
			Ref:     day,
		})
		return resp, nil
	}

	existing, err := s.repo.ListReturns(ctx, day)
	if err != nil {
		return resp, err
	}
	recorded := make(map[string]bool, len(existing))
	for _, ret := range existing {
		recorded[ret.ClientID] = true
	}
	cat, err := s.catalog.Catalog(ctx)
	if err != nil {
		return resp, err
	}

	delivered := deliveredByClient(program)
	clientIDs := make([]string, 0, len(delivered))
	for clientID := range delivered {
		clientIDs = append(clientIDs, clientID)
	}
	slices.Sort(clientIDs)

	var errs []error
	for _, clientID := range clientIDs {
		if recorded[clientID] {
			continue
		}
		lines := delivered[clientID]
		for i := range lines {
			lines[i].ProductName = cat.ProductName(lines[i].ProductID)
		}
		saved, err := s.repo.SaveReturn(ctx, domain.ClientReturn{
			ClientID:     clientID,
			DeliveryDate: day,
			Lines:        lines,
			Complete:     true,
			UpdatedAt:    s.now().UTC(),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("client %s: %w", clientID, err))
			continue
		}
		resp.Created = append(resp.Created, *saved)
	}
	s.logAudit(ctx, "return.bulk_none", "return", day, fmt.Sprintf("created=%d failed=%d", len(resp.Created), len(errs)))
	return resp, errors.Join(errs...)
}

func (s *Service) ListReturns(ctx context.Context, date string) ([]domain.ClientReturn, error) {
	day, err := parseDate(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListReturns(ctx, day)
}
