package billing

import (
	"fmt"
	"strings"
	"time"

	"fournil/backend/internal/domain"
)

var transitions = map[domain.InvoiceStatus][]domain.InvoiceStatus{
	domain.InvoiceStatusAwaitingReturns: {domain.InvoiceStatusValidated, domain.InvoiceStatusCancelled},
	domain.InvoiceStatusValidated:       {domain.InvoiceStatusSent, domain.InvoiceStatusCancelled},
	domain.InvoiceStatusSent:            {domain.InvoiceStatusPaid, domain.InvoiceStatusCancelled},
}

func CanTransition(from, to domain.InvoiceStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func IsTerminal(status domain.InvoiceStatus) bool {
	return status == domain.InvoiceStatusPaid || status == domain.InvoiceStatusCancelled
}

// Transition moves an invoice to a new status and stamps the matching
// timestamp. Cancelling requires a reason.
func Transition(inv *domain.Invoice, to domain.InvoiceStatus, at time.Time, reason string) error {
	if !CanTransition(inv.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inv.Status, to)
	}
	stamp := at.UTC()
	switch to {
	case domain.InvoiceStatusValidated:
		inv.ValidatedAt = &stamp
		inv.ReturnsComplete = true
	case domain.InvoiceStatusSent:
		inv.SentAt = &stamp
	case domain.InvoiceStatusPaid:
		inv.PaidAt = &stamp
	case domain.InvoiceStatusCancelled:
		reason = strings.TrimSpace(reason)
		if reason == "" {
			return fmt.Errorf("%w: cancellation reason required", ErrInvalidTransition)
		}
		inv.CancelReason = reason
		inv.CancelledAt = &stamp
	}
	inv.Status = to
	return nil
}
