package worker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fournil/backend/internal/domain"
	"fournil/backend/internal/service"
)

type recordingReconciler struct {
	mu     sync.Mutex
	dates  []string
	actors []string
	fail   map[string]bool
}

func (r *recordingReconciler) ReconcileInvoices(ctx context.Context, date string) (domain.ReconcileResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dates = append(r.dates, date)
	if actor, ok := service.ActorFromContext(ctx); ok {
		r.actors = append(r.actors, actor.Username)
	}
	if r.fail[date] {
		return domain.ReconcileResult{Date: date}, errors.New("store unavailable")
	}
	return domain.ReconcileResult{Date: date, Created: 1, Validated: 2}, nil
}

func TestRunOnceCoversLookbackWindow(t *testing.T) {
	rec := &recordingReconciler{fail: map[string]bool{"2026-10-13": true}}
	resync := NewInvoiceResync(rec, time.Minute, 3)
	resync.now = func() time.Time { return time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC) }

	summary := resync.RunOnce(context.Background())

	assert.Equal(t, []string{"2026-10-14", "2026-10-13", "2026-10-12"}, summary.Dates)
	sort.Strings(rec.dates)
	assert.Equal(t, []string{"2026-10-12", "2026-10-13", "2026-10-14"}, rec.dates)
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 4, summary.Validated)
	assert.Equal(t, 1, summary.Failed)
}

func TestRunStopsOnCancel(t *testing.T) {
	rec := &recordingReconciler{}
	resync := NewInvoiceResync(rec, 10*time.Millisecond, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		resync.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.dates) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("resync did not stop after cancel")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.actors)
	assert.Equal(t, "invoice-resync", rec.actors[0])
}

func TestNewInvoiceResyncDefaults(t *testing.T) {
	resync := NewInvoiceResync(&recordingReconciler{}, 0, 0)
	assert.Equal(t, 30*time.Second, resync.interval)
	assert.Equal(t, 1, resync.lookback)
}
