package production

import (
	"errors"
	"fmt"
	"time"

	"fournil/backend/internal/domain"
)

var (
	ErrInvalidTransition    = errors.New("invalid program status transition")
	ErrConfirmationRequired = errors.New("confirmation required")
)

// SendWarnings lists the findings an operator must acknowledge before a
// program is sent to the bakery.
func SendWarnings(program domain.ProductionProgram) []domain.Warning {
	var warnings []domain.Warning
	if len(program.Orders) == 0 && len(program.Allocations) == 0 {
		warnings = append(warnings, domain.Warning{Code: "empty_program", Message: "program has no orders and no shop allocations"})
	}
	if len(program.Orders) > 0 {
		cancelled := 0
		for _, order := range program.Orders {
			if order.Status == domain.OrderStatusCancelled {
				cancelled++
			}
		}
		if cancelled == len(program.Orders) {
			warnings = append(warnings, domain.Warning{Code: "all_orders_cancelled", Message: "every client order of the day is cancelled"})
		}
	}
	positive := false
	for _, row := range program.Totals {
		if row.GlobalTotal > 0 {
			positive = true
			break
		}
	}
	if !positive {
		warnings = append(warnings, domain.Warning{Code: "nothing_to_produce", Message: "no product has a positive global total"})
	}
	return warnings
}

// Send moves a draft or modified program to sent. When warnings exist the
// program is left untouched unless force is set.
func Send(program *domain.ProductionProgram, force bool, now time.Time) ([]domain.Warning, error) {
	switch program.Status {
	case domain.ProgramStatusDraft, domain.ProgramStatusModified:
	default:
		return nil, fmt.Errorf("%w: cannot send a %s program", ErrInvalidTransition, program.Status)
	}
	warnings := SendWarnings(*program)
	if len(warnings) > 0 && !force {
		return warnings, ErrConfirmationRequired
	}
	sentAt := now.UTC()
	program.Status = domain.ProgramStatusSent
	program.SentAt = &sentAt
	program.UpdatedAt = sentAt
	return warnings, nil
}

// Confirm marks a sent or modified program as produced.
func Confirm(program *domain.ProductionProgram, now time.Time) error {
	if program.Status != domain.ProgramStatusSent && program.Status != domain.ProgramStatusModified {
		return fmt.Errorf("%w: cannot confirm a %s program", ErrInvalidTransition, program.Status)
	}
	producedAt := now.UTC()
	program.Status = domain.ProgramStatusProduced
	program.ProducedAt = &producedAt
	program.UpdatedAt = producedAt
	return nil
}

func CanRegularize(program domain.ProductionProgram) error {
	if program.Status != domain.ProgramStatusProduced {
		return fmt.Errorf("%w: only a produced program can be regularized", ErrInvalidTransition)
	}
	return nil
}

// MarkModified flips a sent program to modified after a plan edit.
func MarkModified(program *domain.ProductionProgram) {
	if program.Status == domain.ProgramStatusSent {
		program.Status = domain.ProgramStatusModified
	}
}
