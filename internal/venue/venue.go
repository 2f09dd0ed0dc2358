package venue

import (
	"context"
	"time"
)

// AccountState is the venue-reported account snapshot for one cycle.
// Positions are ephemeral: refetched every cycle, never mutated locally.
type AccountState struct {
	Balance   float64
	Positions []Position
}

// Position as reported by the venue. Size is signed: positive long,
// negative short, zero flat.
type Position struct {
	Asset            string
	Size             float64
	EntryPrice       float64
	Leverage         float64
	UnrealizedPnL    float64
	LiquidationPrice float64
}

// Notional is the absolute USD value of the position at entry.
func (p Position) Notional() float64 {
	size := p.Size
	if size < 0 {
		size = -size
	}
	return size * p.EntryPrice
}

// OpenOrder as reported by the venue.
type OpenOrder struct {
	Asset   string
	OrderID string
	IsBuy   bool
	Size    float64
	Price   float64
	Type    string
}

// Fill is a recent execution reported by the venue.
type Fill struct {
	Asset string
	IsBuy bool
	Size  float64
	Price float64
	Time  time.Time
}

// OrderResult is the outcome of an order placement.
type OrderResult struct {
	OrderIDs    []string
	AvgPrice    float64
	ExecutedQty float64
}

// TradingVenue is the capability the loop consumes. Every call is fallible
// and must carry a context so the loop can bound it.
type TradingVenue interface {
	AccountState(ctx context.Context) (*AccountState, error)
	Price(ctx context.Context, asset string) (float64, error)
	PlaceMarketOrder(ctx context.Context, asset string, isLong bool, quantity float64) (*OrderResult, error)
	PlaceTakeProfit(ctx context.Context, asset string, isLong bool, quantity, price float64) (*OrderResult, error)
	PlaceStopLoss(ctx context.Context, asset string, isLong bool, quantity, price float64) (*OrderResult, error)
	CancelAllOrders(ctx context.Context, asset string) (int, error)
	OpenOrders(ctx context.Context) ([]OpenOrder, error)
	RecentFills(ctx context.Context, limit int) ([]Fill, error)
	FundingRate(ctx context.Context, asset string) (float64, error)
	OpenInterest(ctx context.Context, asset string) (float64, error)
	RoundSize(asset string, quantity float64) float64
}
