package sync

import (
	"context"
	"time"

	"github.com/tranqv/homewire/internal/api"
	"github.com/tranqv/homewire/internal/bus"
	"github.com/tranqv/homewire/internal/ledger"
	"go.uber.org/zap"
)

// SummaryFetcher fetches the server's authoritative unread snapshot.
type SummaryFetcher interface {
	UnreadSummary(ctx context.Context) ([]api.UnreadSummary, error)
}

// Reconciler feeds server unread snapshots into the ledger. It runs
// right after every (re)connect, when local counts are most likely to
// have drifted, and on a slow periodic tick as a backstop.
type Reconciler struct {
	fetcher  SummaryFetcher
	ledger   *ledger.Ledger
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
}

// NewReconciler creates a reconciler ticking at the given interval.
func NewReconciler(fetcher SummaryFetcher, l *ledger.Ledger, b *bus.Bus, interval time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		fetcher:  fetcher,
		ledger:   l,
		bus:      b,
		logger:   logger,
		interval: interval,
	}
}

// Start subscribes to connection events and begins the periodic tick.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	ch, unsub := r.bus.Subscribe(bus.KindConnConnected, 16)

	go func() {
		defer unsub()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ch:
				r.Reconcile(ctx)
			case <-ticker.C:
				r.Reconcile(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Reconcile fetches the server snapshot and replaces the local counts.
// On fetch failure the ledger keeps its last-known-good state.
func (r *Reconciler) Reconcile(ctx context.Context) {
	entries, err := r.fetcher.UnreadSummary(ctx)
	if err != nil {
		r.logger.Warn("unread summary fetch failed", zap.Error(err))
		return
	}
	r.ledger.SyncUnreadCounts(entries)
	r.logger.Info("unread counts reconciled", zap.Int("conversations", len(entries)))
}
