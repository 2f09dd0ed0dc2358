// Package scheduler drives the decision-execution-reconciliation cycle on a
// fixed interval. One cycle: account state, reconcile, exit checks, market
// context, model decisions, execution, persistence. Cycles never overlap and
// never crash the process.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/cmorley/perp-agent/internal/ai"
	"github.com/cmorley/perp-agent/internal/config"
	"github.com/cmorley/perp-agent/internal/executor"
	"github.com/cmorley/perp-agent/internal/indicators"
	"github.com/cmorley/perp-agent/internal/journal"
	"github.com/cmorley/perp-agent/internal/logger"
	"github.com/cmorley/perp-agent/internal/risk"
	"github.com/cmorley/perp-agent/internal/storage"
	"github.com/cmorley/perp-agent/internal/trade"
	"github.com/cmorley/perp-agent/internal/venue"
)

// priceHistoryLen is how many cycle prices are kept per asset for the
// context's recent price series.
const priceHistoryLen = 60

// DecisionProvider turns market context into per-asset decisions.
type DecisionProvider interface {
	Decide(ctx context.Context, assets []string, marketContext string, strict bool) ([]ai.Decision, string, error)
}

// SnapshotSource supplies the per-asset indicator snapshot.
type SnapshotSource interface {
	Snapshot(ctx context.Context, asset, interval string) (*indicators.Snapshot, error)
}

// CycleRecorder persists cycle outcomes. Satisfied by storage.Repository.
type CycleRecorder interface {
	SaveCycleLog(log *storage.CycleLog) error
	SaveAccountSnapshot(snapshot *storage.AccountSnapshot) error
	CloseExecutedTrade(asset string, pnl float64) error
	GetClosedTradePnLs(limit int) ([]float64, error)
}

// Notifier pushes cycle events to the operator. Satisfied by
// telegram.Notifier.
type Notifier interface {
	NotifyClose(asset, reason string, pnl float64)
	NotifyHalt(reason string)
	NotifyError(context string, err error)
}

type Scheduler struct {
	venue      venue.TradingVenue
	market     SnapshotSource
	provider   DecisionProvider
	executor   *executor.Executor
	store      *trade.Store
	reconciler *trade.Reconciler
	exitEval   *trade.ExitEvaluator
	risk       *risk.Manager
	journal    *journal.Journal
	repo       CycleRecorder
	notifier   Notifier
	config     *config.Config
	logger     *logger.Logger

	initialValue float64
	priceHistory map[string][]float64
}

func NewScheduler(
	v venue.TradingVenue,
	market SnapshotSource,
	provider DecisionProvider,
	exec *executor.Executor,
	store *trade.Store,
	reconciler *trade.Reconciler,
	exitEval *trade.ExitEvaluator,
	rm *risk.Manager,
	j *journal.Journal,
	repo CycleRecorder,
	notifier Notifier,
	cfg *config.Config,
	log *logger.Logger,
) *Scheduler {
	return &Scheduler{
		venue:        v,
		market:       market,
		provider:     provider,
		executor:     exec,
		store:        store,
		reconciler:   reconciler,
		exitEval:     exitEval,
		risk:         rm,
		journal:      j,
		repo:         repo,
		notifier:     notifier,
		config:       cfg,
		logger:       log,
		priceHistory: make(map[string][]float64),
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	interval := s.config.TradingInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", interval.String(), "assets", s.config.Trading.Assets)

	// Run immediately on start
	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in scheduler cycle", "panic", fmt.Sprint(r))
			s.notifier.NotifyError("scheduler panic", fmt.Errorf("%v", r))
		}
	}()

	s.logger.Info("starting trading cycle")
	s.risk.ResetDailyTracking()

	// 1. Account state and running return
	acct, err := s.venue.AccountState(ctx)
	if err != nil {
		s.logger.Error("fetch account state", "error", err)
		s.saveCycleLog(0, "", "", err)
		return
	}
	accountValue := acct.Balance
	for _, p := range acct.Positions {
		accountValue += p.UnrealizedPnL
	}
	if s.initialValue == 0 {
		s.initialValue = accountValue
	}
	totalReturn := 0.0
	if s.initialValue > 0 {
		totalReturn = (accountValue - s.initialValue) / s.initialValue * 100
	}
	s.logger.Info("account state",
		"balance", acct.Balance, "value", accountValue,
		"positions", len(acct.Positions), "total_return_pct", totalReturn)

	// 2. Reconcile local trades against venue truth. A failed open-orders
	// fetch leaves order truth unknown, so skip rather than treat the
	// failure as "no orders" and drop trades backed only by a resting order.
	openOrders, ordersErr := s.venue.OpenOrders(ctx)
	if ordersErr != nil {
		s.logger.Error("fetch open orders, skipping reconciliation", "error", ordersErr)
		openOrders = nil
	} else {
		s.reconciler.Reconcile(acct.Positions, openOrders)
	}

	// 3. Exit plan evaluation
	for _, t := range s.store.All() {
		if s.exitEval.ShouldExit(ctx, t) {
			s.closeTrade(ctx, t, acct.Positions)
		}
	}

	// 4. Per-asset market context, failures isolated
	assetData := s.gatherAssetData(ctx)
	if len(assetData) == 0 {
		s.logger.Warn("no asset data available, skipping cycle")
		s.saveCycleLog(0, "", "", fmt.Errorf("no asset data available"))
		return
	}
	assets := make([]string, len(assetData))
	prices := make(map[string]float64, len(assetData))
	for i, ad := range assetData {
		assets[i] = ad.Asset
		prices[ad.Asset] = ad.Price
	}

	fills, err := s.venue.RecentFills(ctx, 20)
	if err != nil {
		s.logger.Warn("fetch recent fills", "error", err)
		fills = nil
	}
	history, err := s.journal.Tail(10)
	if err != nil {
		s.logger.Warn("read journal history", "error", err)
	}

	marketContext := s.buildMarketContext(acct, accountValue, totalReturn, assetData, openOrders, fills, history)
	s.appendPromptLog(marketContext)

	// 5. Model decisions, one strict retry on malformed output
	decisions, raw, err := s.provider.Decide(ctx, assets, marketContext, false)
	if err != nil {
		s.logger.Warn("malformed decision response, retrying with strict instruction", "error", err)
		decisions, raw, err = s.provider.Decide(ctx, assets, marketContext, true)
		if err != nil {
			s.logger.Error("decision retry failed, holding all assets", "error", err)
			decisions = ai.HoldDefaults(assets, "decision provider unavailable")
		}
	}
	decisions = fillUnresolved(decisions, assets)
	s.logger.Info("decisions received", "count", len(decisions))

	// 6. Execute
	s.executor.Execute(ctx, decisions, *acct, prices)

	// 7. Persist cycle outcome
	decisionsJSON, _ := json.Marshal(decisions)
	s.saveCycleLog(len(assets), raw, string(decisionsJSON), nil)
	s.saveAccountSnapshot(acct, accountValue, totalReturn)

	s.logger.Info("trading cycle completed")
}

// closeTrade force-closes a triggered trade: opposite market order, cancel
// remaining orders, drop local state, journal the close.
func (s *Scheduler) closeTrade(ctx context.Context, t trade.ActiveTrade, positions []venue.Position) {
	s.logger.Info("closing trade on exit signal", "asset", t.Asset, "exit_plan", t.ExitPlan)

	if _, err := s.venue.PlaceMarketOrder(ctx, t.Asset, !t.IsLong, t.Amount); err != nil {
		s.logger.Error("close order failed", "asset", t.Asset, "error", err)
		s.notifier.NotifyError("close "+t.Asset, err)
		return
	}
	if cancelled, err := s.venue.CancelAllOrders(ctx, t.Asset); err != nil {
		s.logger.Warn("cancel remaining orders failed", "asset", t.Asset, "error", err)
	} else if cancelled > 0 {
		s.logger.Info("cancelled remaining orders", "asset", t.Asset, "count", cancelled)
	}
	s.store.Remove(t.Asset)

	pnl := 0.0
	for _, p := range positions {
		if p.Asset == t.Asset {
			pnl = p.UnrealizedPnL
			break
		}
	}

	if err := s.journal.Append(journal.Record{
		Asset:      t.Asset,
		Action:     journal.ActionClose,
		Reason:     "exit_plan_triggered",
		Amount:     t.Amount,
		EntryPrice: t.EntryPrice,
		ExitPlan:   t.ExitPlan,
		OpenedAt:   &t.OpenedAt,
		PnL:        pnl,
	}); err != nil {
		s.logger.Error("failed to journal close", "asset", t.Asset, "error", err)
	}

	s.risk.UpdateDailyPnL(pnl)
	if s.risk.UpdateConsecutiveLosses(pnl < 0) {
		s.notifier.NotifyHalt("circuit breaker tripped: consecutive loss limit reached")
	}
	if err := s.repo.CloseExecutedTrade(t.Asset, pnl); err != nil {
		s.logger.Error("failed to close trade record", "asset", t.Asset, "error", err)
	}
	s.notifier.NotifyClose(t.Asset, "exit plan triggered", pnl)
}

// assetContext is everything gathered about one asset for the prompt.
type assetContext struct {
	Asset        string
	Price        float64
	History      []float64
	Snap         *indicators.Snapshot
	FundingRate  float64
	OpenInterest float64
}

// gatherAssetData collects price and indicators per asset. A failing asset
// is skipped for this cycle only.
func (s *Scheduler) gatherAssetData(ctx context.Context) []assetContext {
	var out []assetContext
	for _, asset := range s.config.Trading.Assets {
		price, err := s.venue.Price(ctx, asset)
		if err != nil {
			s.logger.Error("fetch price, skipping asset this cycle", "asset", asset, "error", err)
			continue
		}
		s.recordPrice(asset, price)

		snap, err := s.market.Snapshot(ctx, asset, s.config.Trading.Interval)
		if err != nil {
			s.logger.Error("fetch indicators, skipping asset this cycle", "asset", asset, "error", err)
			continue
		}

		ad := assetContext{
			Asset:   asset,
			Price:   price,
			History: s.priceHistory[asset],
			Snap:    snap,
		}
		if funding, err := s.venue.FundingRate(ctx, asset); err == nil {
			ad.FundingRate = funding
		} else {
			s.logger.Warn("funding rate unavailable", "asset", asset, "error", err)
		}
		if oi, err := s.venue.OpenInterest(ctx, asset); err == nil {
			ad.OpenInterest = oi
		} else {
			s.logger.Warn("open interest unavailable", "asset", asset, "error", err)
		}
		out = append(out, ad)
	}
	return out
}

func (s *Scheduler) recordPrice(asset string, price float64) {
	h := append(s.priceHistory[asset], price)
	if len(h) > priceHistoryLen {
		h = h[len(h)-priceHistoryLen:]
	}
	s.priceHistory[asset] = h
}

// fillUnresolved appends a hold for every asset the provider did not cover.
func fillUnresolved(decisions []ai.Decision, assets []string) []ai.Decision {
	covered := make(map[string]bool, len(decisions))
	for _, d := range decisions {
		covered[d.Asset] = true
	}
	for _, a := range assets {
		if !covered[a] {
			decisions = append(decisions, ai.Decision{
				Asset:     a,
				Action:    ai.ActionHold,
				Rationale: "no decision returned",
			})
		}
	}
	return decisions
}

// sharpeRatio over per-trade P&L values. Zero when there is not enough data
// or no variance.
func sharpeRatio(pnls []float64) float64 {
	if len(pnls) < 2 {
		return 0
	}
	var sum float64
	for _, p := range pnls {
		sum += p
	}
	mean := sum / float64(len(pnls))
	var variance float64
	for _, p := range pnls {
		variance += (p - mean) * (p - mean)
	}
	variance /= float64(len(pnls) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}

func (s *Scheduler) appendPromptLog(prompt string) {
	f, err := os.OpenFile(s.config.Trading.PromptsLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.logger.Warn("open prompts log", "error", err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "\n\n=== %s ===\n%s\n", time.Now().UTC().Format(time.RFC3339), prompt)
}

func (s *Scheduler) saveCycleLog(assetsCount int, rawResponse, decisionsJSON string, err error) {
	log := &storage.CycleLog{
		AssetsCount:   assetsCount,
		AIResponse:    rawResponse,
		DecisionsJSON: decisionsJSON,
	}
	if err != nil {
		log.Error = err.Error()
	}
	if dbErr := s.repo.SaveCycleLog(log); dbErr != nil {
		s.logger.Error("save cycle log", "error", dbErr)
	}
}

func (s *Scheduler) saveAccountSnapshot(acct *venue.AccountState, accountValue, totalReturn float64) {
	positionsJSON, _ := json.Marshal(acct.Positions)
	snapshot := &storage.AccountSnapshot{
		Balance:        acct.Balance,
		AccountValue:   accountValue,
		TotalReturnPct: totalReturn,
		PositionsCount: len(acct.Positions),
		PositionsJSON:  string(positionsJSON),
	}
	if err := s.repo.SaveAccountSnapshot(snapshot); err != nil {
		s.logger.Error("save account snapshot", "error", err)
	}
}
