package trade

import (
	"github.com/cmorley/perp-agent/internal/journal"
	"github.com/cmorley/perp-agent/internal/logger"
	"github.com/cmorley/perp-agent/internal/venue"
)

// Reconciler drops local trades that no longer exist on the venue. It only
// ever removes entries; it never invents trades for positions it did not open.
type Reconciler struct {
	store   *Store
	journal *journal.Journal
	logger  *logger.Logger
}

func NewReconciler(store *Store, j *journal.Journal, log *logger.Logger) *Reconciler {
	return &Reconciler{store: store, journal: j, logger: log}
}

// Reconcile removes every local trade whose asset has neither a nonzero venue
// position nor an open order. A trade backed by either one stays: a resting
// entry order with no fill yet is still a live trade.
func (r *Reconciler) Reconcile(positions []venue.Position, openOrders []venue.OpenOrder) []ActiveTrade {
	held := make(map[string]bool, len(positions))
	for _, p := range positions {
		if p.Size != 0 {
			held[p.Asset] = true
		}
	}
	ordered := make(map[string]bool, len(openOrders))
	for _, o := range openOrders {
		ordered[o.Asset] = true
	}

	var removed []ActiveTrade
	for _, t := range r.store.All() {
		if held[t.Asset] || ordered[t.Asset] {
			continue
		}
		r.store.Remove(t.Asset)
		removed = append(removed, t)

		r.logger.Info("reconciled away stale trade",
			"asset", t.Asset, "amount", t.Amount, "entry_price", t.EntryPrice)
		if err := r.journal.Append(journal.Record{
			Asset:      t.Asset,
			Action:     journal.ActionReconcileClose,
			Reason:     "no_position_no_orders",
			Amount:     t.Amount,
			EntryPrice: t.EntryPrice,
			ExitPlan:   t.ExitPlan,
			OpenedAt:   &t.OpenedAt,
		}); err != nil {
			r.logger.Error("failed to journal reconcile close", "asset", t.Asset, "error", err)
		}
	}
	return removed
}
