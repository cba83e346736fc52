package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fournil/backend/internal/domain"
	"fournil/backend/internal/service"
)

// Reconciler is the invoice reconciliation entry point the resync drives.
type Reconciler interface {
	ReconcileInvoices(ctx context.Context, date string) (domain.ReconcileResult, error)
}

// Summary aggregates one resync pass over the lookback window.
type Summary struct {
	Dates     []string
	Created   int
	Validated int
	Failed    int
}

// InvoiceResync periodically reconciles the invoices of the last few
// delivery dates so late returns promote awaiting invoices without a manual
// trigger.
type InvoiceResync struct {
	reconciler  Reconciler
	interval    time.Duration
	lookback    int
	concurrency int
	now         func() time.Time
}

func NewInvoiceResync(reconciler Reconciler, interval time.Duration, lookbackDays int) *InvoiceResync {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if lookbackDays < 1 {
		lookbackDays = 1
	}
	return &InvoiceResync{
		reconciler:  reconciler,
		interval:    interval,
		lookback:    lookbackDays,
		concurrency: 2,
		now:         time.Now,
	}
}

// Run blocks until ctx is done, running one pass immediately and then one
// per interval.
func (r *InvoiceResync) Run(ctx context.Context) {
	ctx = service.WithActor(ctx, domain.Actor{Username: "invoice-resync", Role: "system"})
	log.Printf("[worker] invoice resync every %s over %d day(s)", r.interval, r.lookback)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		r.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce reconciles every date of the lookback window, today included. A
// failing date is logged and does not stop the others.
func (r *InvoiceResync) RunOnce(ctx context.Context) Summary {
	today := r.now().UTC()
	summary := Summary{Dates: make([]string, 0, r.lookback)}
	for i := 0; i < r.lookback; i++ {
		summary.Dates = append(summary.Dates, domain.FormatDate(today.AddDate(0, 0, -i)))
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, date := range summary.Dates {
		g.Go(func() error {
			result, err := r.reconciler.ReconcileInvoices(ctx, date)
			mu.Lock()
			defer mu.Unlock()
			summary.Created += result.Created
			summary.Validated += result.Validated
			if err != nil {
				summary.Failed++
				log.Printf("[worker] WARN: invoice resync date=%s: %v", date, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if summary.Created > 0 || summary.Validated > 0 {
		log.Printf("[worker] invoice resync created=%d validated=%d failed=%d", summary.Created, summary.Validated, summary.Failed)
	}
	return summary
}
