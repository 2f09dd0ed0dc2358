package executor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmorley/perp-agent/internal/ai"
	"github.com/cmorley/perp-agent/internal/journal"
	"github.com/cmorley/perp-agent/internal/logger"
	"github.com/cmorley/perp-agent/internal/risk"
	"github.com/cmorley/perp-agent/internal/storage"
	"github.com/cmorley/perp-agent/internal/trade"
	"github.com/cmorley/perp-agent/internal/venue"
)

type fakeVenue struct {
	marketOrders []string
	marketErr    error
	tpOrders     []float64
	slOrders     []float64
	fills        []venue.Fill
	precision    int
}

func (f *fakeVenue) AccountState(ctx context.Context) (*venue.AccountState, error) { return nil, nil }

func (f *fakeVenue) Price(ctx context.Context, asset string) (float64, error) { return 0, nil }

func (f *fakeVenue) PlaceMarketOrder(ctx context.Context, asset string, isLong bool, quantity float64) (*venue.OrderResult, error) {
	if f.marketErr != nil {
		return nil, f.marketErr
	}
	f.marketOrders = append(f.marketOrders, asset)
	return &venue.OrderResult{OrderIDs: []string{"1"}, AvgPrice: 0, ExecutedQty: quantity}, nil
}

func (f *fakeVenue) PlaceTakeProfit(ctx context.Context, asset string, isLong bool, quantity, price float64) (*venue.OrderResult, error) {
	f.tpOrders = append(f.tpOrders, price)
	return &venue.OrderResult{OrderIDs: []string{"77"}}, nil
}

func (f *fakeVenue) PlaceStopLoss(ctx context.Context, asset string, isLong bool, quantity, price float64) (*venue.OrderResult, error) {
	f.slOrders = append(f.slOrders, price)
	return &venue.OrderResult{OrderIDs: []string{"78"}}, nil
}

func (f *fakeVenue) CancelAllOrders(ctx context.Context, asset string) (int, error) { return 0, nil }

func (f *fakeVenue) OpenOrders(ctx context.Context) ([]venue.OpenOrder, error) { return nil, nil }

func (f *fakeVenue) RecentFills(ctx context.Context, limit int) ([]venue.Fill, error) {
	return f.fills, nil
}

func (f *fakeVenue) FundingRate(ctx context.Context, asset string) (float64, error) { return 0, nil }

func (f *fakeVenue) OpenInterest(ctx context.Context, asset string) (float64, error) { return 0, nil }

func (f *fakeVenue) RoundSize(asset string, quantity float64) float64 {
	scale := 1.0
	for i := 0; i < f.precision; i++ {
		scale *= 10
	}
	return float64(int64(quantity*scale)) / scale
}

type fakeRepo struct {
	saved []*storage.ExecutedTrade
	err   error
}

func (f *fakeRepo) SaveExecutedTrade(t *storage.ExecutedTrade) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, t)
	return nil
}

type fakeNotifier struct {
	trades int
	errors int
}

func (f *fakeNotifier) NotifyTrade(asset, action string, allocationUSD, quantity, price float64) {
	f.trades++
}

func (f *fakeNotifier) NotifyError(context string, err error) { f.errors++ }

type harness struct {
	executor *Executor
	venue    *fakeVenue
	store    *trade.Store
	journal  *journal.Journal
	repo     *fakeRepo
	notifier *fakeNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.New("error")
	j, err := journal.New(filepath.Join(t.TempDir(), "diary.jsonl"), log)
	require.NoError(t, err)

	fv := &fakeVenue{precision: 3}
	store := trade.NewStore()
	repo := &fakeRepo{}
	notifier := &fakeNotifier{}
	rm := risk.NewManager(risk.Limits{
		MaxTotalAllocation:   1000,
		MaxSinglePosition:    500,
		MaxDailyLoss:         100,
		MaxLeverage:          5,
		MinPositionSize:      10,
		MaxConsecutiveLosses: 3,
	}, log)

	return &harness{
		executor: NewExecutor(fv, rm, store, j, repo, notifier, log),
		venue:    fv,
		store:    store,
		journal:  j,
		repo:     repo,
		notifier: notifier,
	}
}

func ptr(v float64) *float64 { return &v }

func TestExecuteBuyPlacesOrdersAndRecords(t *testing.T) {
	h := newHarness(t)
	h.venue.fills = []venue.Fill{{Asset: "BTC", IsBuy: true, Size: 0.002, Price: 68000}}

	h.executor.Execute(context.Background(),
		[]ai.Decision{{
			Asset:         "BTC",
			Action:        ai.ActionBuy,
			AllocationUSD: 200,
			TPPrice:       ptr(71000),
			SLPrice:       ptr(66000),
			ExitPlan:      "close if 4h macd below -50",
			Rationale:     "uptrend",
		}},
		venue.AccountState{Balance: 1000},
		map[string]float64{"BTC": 68000},
	)

	require.Equal(t, []string{"BTC"}, h.venue.marketOrders)
	assert.Equal(t, []float64{71000}, h.venue.tpOrders)
	assert.Equal(t, []float64{66000}, h.venue.slOrders)

	active, ok := h.store.Find("BTC")
	require.True(t, ok)
	assert.True(t, active.IsLong)
	assert.Equal(t, "77", active.TPOrderID)
	assert.Equal(t, "78", active.SLOrderID)
	assert.Equal(t, 68000.0, active.EntryPrice)

	require.Len(t, h.repo.saved, 1)
	assert.Equal(t, "BTC", h.repo.saved[0].Asset)
	assert.Equal(t, 71000.0, h.repo.saved[0].TPPrice)
	assert.Equal(t, 1, h.notifier.trades)

	records, err := h.journal.Tail(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, journal.ActionBuy, records[0].Action)
	assert.True(t, records[0].Filled)
	assert.Equal(t, 200.0, records[0].AllocationUSD)
}

func TestExecuteSellWithoutTriggers(t *testing.T) {
	h := newHarness(t)

	h.executor.Execute(context.Background(),
		[]ai.Decision{{Asset: "ETH", Action: ai.ActionSell, AllocationUSD: 100}},
		venue.AccountState{Balance: 1000},
		map[string]float64{"ETH": 3500},
	)

	require.Equal(t, []string{"ETH"}, h.venue.marketOrders)
	assert.Empty(t, h.venue.tpOrders)
	assert.Empty(t, h.venue.slOrders)

	active, ok := h.store.Find("ETH")
	require.True(t, ok)
	assert.False(t, active.IsLong)
	assert.Empty(t, active.TPOrderID)
}

func TestExecuteHoldOnlyJournals(t *testing.T) {
	h := newHarness(t)

	h.executor.Execute(context.Background(),
		[]ai.Decision{{Asset: "BTC", Action: ai.ActionHold, Rationale: "no edge"}},
		venue.AccountState{Balance: 1000},
		map[string]float64{"BTC": 68000},
	)

	assert.Empty(t, h.venue.marketOrders)
	assert.Equal(t, 0, h.store.Len())
	assert.Empty(t, h.repo.saved)

	records, err := h.journal.Tail(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, journal.ActionHold, records[0].Action)
	assert.Equal(t, "no edge", records[0].Rationale)
}

func TestExecuteRiskRejectionBecomesHold(t *testing.T) {
	h := newHarness(t)

	// Balance 5 cannot support the minimum position size.
	h.executor.Execute(context.Background(),
		[]ai.Decision{{Asset: "BTC", Action: ai.ActionBuy, AllocationUSD: 300}},
		venue.AccountState{Balance: 5},
		map[string]float64{"BTC": 68000},
	)

	assert.Empty(t, h.venue.marketOrders)
	assert.Equal(t, 0, h.store.Len())

	records, err := h.journal.Tail(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, journal.ActionHold, records[0].Action)
	assert.Contains(t, records[0].Reason, "risk rejected")
}

func TestExecuteOrderFailureIsIsolated(t *testing.T) {
	h := newHarness(t)
	h.venue.marketErr = errors.New("exchange down")

	h.executor.Execute(context.Background(),
		[]ai.Decision{
			{Asset: "BTC", Action: ai.ActionBuy, AllocationUSD: 200},
			{Asset: "ETH", Action: ai.ActionHold},
		},
		venue.AccountState{Balance: 1000},
		map[string]float64{"BTC": 68000},
	)

	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, 1, h.notifier.errors)

	// Both decisions still produce journal entries.
	records, err := h.journal.Tail(10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Contains(t, records[0].Reason, "order failed")
	assert.Equal(t, "ETH", records[1].Asset)
}

func TestExecuteUpsertReplacesExistingTrade(t *testing.T) {
	h := newHarness(t)
	h.store.Upsert(trade.ActiveTrade{Asset: "BTC", IsLong: false, Amount: 0.001})

	h.executor.Execute(context.Background(),
		[]ai.Decision{{Asset: "BTC", Action: ai.ActionBuy, AllocationUSD: 200}},
		venue.AccountState{Balance: 1000},
		map[string]float64{"BTC": 68000},
	)

	require.Equal(t, 1, h.store.Len())
	active, _ := h.store.Find("BTC")
	assert.True(t, active.IsLong)
}
