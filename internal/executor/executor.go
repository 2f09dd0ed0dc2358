// Package executor turns approved decisions into venue orders and records
// the outcome in the trade store, the journal, and the database.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/cmorley/perp-agent/internal/ai"
	"github.com/cmorley/perp-agent/internal/journal"
	"github.com/cmorley/perp-agent/internal/logger"
	"github.com/cmorley/perp-agent/internal/risk"
	"github.com/cmorley/perp-agent/internal/storage"
	"github.com/cmorley/perp-agent/internal/trade"
	"github.com/cmorley/perp-agent/internal/venue"
)

// fillLookback is how many recent fills are scanned to confirm an entry.
const fillLookback = 10

// TradeRecorder persists executed trades. Satisfied by storage.Repository.
type TradeRecorder interface {
	SaveExecutedTrade(t *storage.ExecutedTrade) error
}

// Notifier pushes trade events to the operator. Satisfied by
// telegram.Notifier.
type Notifier interface {
	NotifyTrade(asset, action string, allocationUSD, quantity, price float64)
	NotifyError(context string, err error)
}

type Executor struct {
	venue    venue.TradingVenue
	risk     *risk.Manager
	store    *trade.Store
	journal  *journal.Journal
	repo     TradeRecorder
	notifier Notifier
	logger   *logger.Logger
}

func NewExecutor(
	v venue.TradingVenue,
	rm *risk.Manager,
	store *trade.Store,
	j *journal.Journal,
	repo TradeRecorder,
	notifier Notifier,
	log *logger.Logger,
) *Executor {
	return &Executor{
		venue:    v,
		risk:     rm,
		store:    store,
		journal:  j,
		repo:     repo,
		notifier: notifier,
		logger:   log,
	}
}

// Execute applies each decision in order. A failure or panic on one decision
// never blocks the rest.
func (e *Executor) Execute(ctx context.Context, decisions []ai.Decision, acct venue.AccountState, prices map[string]float64) {
	for _, d := range decisions {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("panic in executor", "asset", d.Asset, "panic", fmt.Sprint(r))
				}
			}()

			switch d.Action {
			case ai.ActionBuy, ai.ActionSell:
				e.executeEntry(ctx, d, acct, prices[d.Asset])
			case ai.ActionHold:
				e.logger.Info("hold decision", "asset", d.Asset, "rationale", d.Rationale)
				e.journalHold(d, d.Rationale)
			default:
				e.logger.Info("unknown action", "action", d.Action, "asset", d.Asset)
				e.journalHold(d, "unknown action "+d.Action)
			}
		}()
	}
}

func (e *Executor) executeEntry(ctx context.Context, d ai.Decision, acct venue.AccountState, price float64) {
	isLong := d.Action == ai.ActionBuy

	if d.AllocationUSD <= 0 {
		e.logger.Info("entry skipped: no allocation", "asset", d.Asset, "action", d.Action)
		e.journalHold(d, "no allocation")
		return
	}
	if price <= 0 {
		e.logger.Error("entry skipped: no price for asset", "asset", d.Asset)
		e.journalHold(d, "price unavailable")
		return
	}

	approved, reason, allocation := e.risk.ValidateAllocation(d.AllocationUSD, acct.Balance, acct.Positions, d.Asset)
	if !approved {
		e.logger.Info("entry rejected by risk manager",
			"asset", d.Asset, "requested", d.AllocationUSD, "reason", reason)
		e.journalHold(d, "risk rejected: "+reason)
		return
	}

	quantity := allocation / price
	ok, reason, quantity := e.risk.ValidatePositionSizing(d.Asset, quantity, price, isLong, acct.Balance)
	if !ok {
		e.logger.Info("entry rejected by position sizing", "asset", d.Asset, "reason", reason)
		e.journalHold(d, "risk rejected: "+reason)
		return
	}

	quantity = e.venue.RoundSize(d.Asset, quantity)
	if quantity <= 0 {
		e.logger.Info("entry skipped: quantity rounds to zero", "asset", d.Asset)
		e.journalHold(d, "quantity rounds to zero")
		return
	}

	result, err := e.venue.PlaceMarketOrder(ctx, d.Asset, isLong, quantity)
	if err != nil {
		e.logger.Error("market order failed", "asset", d.Asset, "error", err)
		e.notifier.NotifyError(d.Action+" "+d.Asset, err)
		e.journalHold(d, "order failed: "+err.Error())
		return
	}

	entryPrice := price
	if result != nil {
		if result.AvgPrice > 0 {
			entryPrice = result.AvgPrice
		}
		if result.ExecutedQty > 0 {
			quantity = result.ExecutedQty
		}
	}

	filled := e.confirmFill(ctx, d.Asset, isLong)
	if !filled {
		e.logger.Warn("no matching fill observed yet", "asset", d.Asset)
	}

	tpOrderID := e.placeTrigger(ctx, d.Asset, isLong, quantity, d.TPPrice, "take profit",
		e.venue.PlaceTakeProfit)
	slOrderID := e.placeTrigger(ctx, d.Asset, isLong, quantity, d.SLPrice, "stop loss",
		e.venue.PlaceStopLoss)

	openedAt := time.Now().UTC()
	e.store.Upsert(trade.ActiveTrade{
		Asset:      d.Asset,
		IsLong:     isLong,
		Amount:     quantity,
		EntryPrice: entryPrice,
		TPOrderID:  tpOrderID,
		SLOrderID:  slOrderID,
		ExitPlan:   d.ExitPlan,
		OpenedAt:   openedAt,
	})

	if err := e.journal.Append(journal.Record{
		Asset:         d.Asset,
		Action:        d.Action,
		AllocationUSD: allocation,
		Amount:        quantity,
		EntryPrice:    entryPrice,
		TPPrice:       d.TPPrice,
		TPOrderID:     tpOrderID,
		SLPrice:       d.SLPrice,
		SLOrderID:     slOrderID,
		ExitPlan:      d.ExitPlan,
		Rationale:     d.Rationale,
		OpenedAt:      &openedAt,
		Filled:        filled,
	}); err != nil {
		e.logger.Error("failed to journal entry", "asset", d.Asset, "error", err)
	}

	record := &storage.ExecutedTrade{
		Asset:         d.Asset,
		Action:        d.Action,
		AllocationUSD: allocation,
		Quantity:      quantity,
		EntryPrice:    entryPrice,
		TPOrderID:     tpOrderID,
		SLOrderID:     slOrderID,
		ExitPlan:      d.ExitPlan,
		Rationale:     d.Rationale,
		Status:        "open",
	}
	if d.TPPrice != nil {
		record.TPPrice = *d.TPPrice
	}
	if d.SLPrice != nil {
		record.SLPrice = *d.SLPrice
	}
	if err := e.repo.SaveExecutedTrade(record); err != nil {
		e.logger.Error("failed to persist executed trade", "asset", d.Asset, "error", err)
	}

	e.logger.Info("entry executed",
		"asset", d.Asset, "action", d.Action, "quantity", quantity,
		"entry_price", entryPrice, "allocation_usd", allocation, "filled", filled)
	e.notifier.NotifyTrade(d.Asset, d.Action, allocation, quantity, entryPrice)
}

// confirmFill looks for a recent fill on the asset in the entry direction.
func (e *Executor) confirmFill(ctx context.Context, asset string, isLong bool) bool {
	fills, err := e.venue.RecentFills(ctx, fillLookback)
	if err != nil {
		e.logger.Warn("could not fetch fills for confirmation", "asset", asset, "error", err)
		return false
	}
	for _, f := range fills {
		if f.Asset == asset && f.IsBuy == isLong {
			return true
		}
	}
	return false
}

type triggerFunc func(ctx context.Context, asset string, isLong bool, quantity, price float64) (*venue.OrderResult, error)

func (e *Executor) placeTrigger(ctx context.Context, asset string, isLong bool, quantity float64, price *float64, kind string, place triggerFunc) string {
	if price == nil || *price <= 0 {
		return ""
	}
	result, err := place(ctx, asset, isLong, quantity, *price)
	if err != nil {
		e.logger.Error("failed to place "+kind+" order", "asset", asset, "price", *price, "error", err)
		e.notifier.NotifyError(kind+" "+asset, err)
		return ""
	}
	if result == nil || len(result.OrderIDs) == 0 {
		return ""
	}
	return result.OrderIDs[0]
}

func (e *Executor) journalHold(d ai.Decision, reason string) {
	if err := e.journal.Append(journal.Record{
		Asset:     d.Asset,
		Action:    journal.ActionHold,
		Reason:    reason,
		Rationale: d.Rationale,
	}); err != nil {
		e.logger.Error("failed to journal hold", "asset", d.Asset, "error", err)
	}
}
