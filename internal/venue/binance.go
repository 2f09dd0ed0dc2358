package venue

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/cmorley/perp-agent/internal/config"
	"github.com/cmorley/perp-agent/internal/logger"
)

// BinanceVenue implements TradingVenue against Binance USDT-M futures.
// Assets are bare symbols ("BTC"); the USDT pair suffix is an adapter detail.
type BinanceVenue struct {
	client *futures.Client
	assets []string
	logger *logger.Logger

	// symbol -> quantity precision, loaded once from exchange info
	quantityPrecision map[string]int
}

func NewBinanceVenue(ctx context.Context, cfg *config.Config, assets []string, log *logger.Logger) (*BinanceVenue, error) {
	if cfg.Binance.Testnet {
		futures.UseTestnet = true
	}
	client := futures.NewClient(cfg.Binance.APIKey, cfg.Binance.SecretKey)

	bv := &BinanceVenue{
		client:            client,
		assets:            assets,
		logger:            log,
		quantityPrecision: make(map[string]int),
	}

	if err := bv.loadExchangeInfo(ctx); err != nil {
		return nil, fmt.Errorf("load exchange info: %w", err)
	}
	return bv, nil
}

func (bv *BinanceVenue) loadExchangeInfo(ctx context.Context) error {
	info, err := callWithRetry(ctx, defaultAttempts, func() (*futures.ExchangeInfo, error) {
		return bv.client.NewExchangeInfoService().Do(ctx)
	})
	if err != nil {
		return err
	}
	for _, s := range info.Symbols {
		bv.quantityPrecision[s.Symbol] = s.QuantityPrecision
	}
	return nil
}

func symbol(asset string) string {
	return asset + "USDT"
}

func (bv *BinanceVenue) AccountState(ctx context.Context) (*AccountState, error) {
	account, err := callWithRetry(ctx, defaultAttempts, func() (*futures.Account, error) {
		return bv.client.NewGetAccountService().Do(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}

	state := &AccountState{}
	state.Balance, _ = strconv.ParseFloat(account.AvailableBalance, 64)

	risks, err := callWithRetry(ctx, defaultAttempts, func() ([]*futures.PositionRisk, error) {
		return bv.client.NewGetPositionRiskService().Do(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("get position risk: %w", err)
	}

	for _, r := range risks {
		size, _ := strconv.ParseFloat(r.PositionAmt, 64)
		if size == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		lev, _ := strconv.ParseFloat(r.Leverage, 64)
		pnl, _ := strconv.ParseFloat(r.UnRealizedProfit, 64)
		liq, _ := strconv.ParseFloat(r.LiquidationPrice, 64)

		state.Positions = append(state.Positions, Position{
			Asset:            trimUSDT(r.Symbol),
			Size:             size,
			EntryPrice:       entry,
			Leverage:         lev,
			UnrealizedPnL:    pnl,
			LiquidationPrice: liq,
		})
	}
	return state, nil
}

func trimUSDT(sym string) string {
	if len(sym) > 4 && sym[len(sym)-4:] == "USDT" {
		return sym[:len(sym)-4]
	}
	return sym
}

func (bv *BinanceVenue) Price(ctx context.Context, asset string) (float64, error) {
	prices, err := callWithRetry(ctx, defaultAttempts, func() ([]*futures.SymbolPrice, error) {
		return bv.client.NewListPricesService().Symbol(symbol(asset)).Do(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("get price %s: %w", asset, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no price returned for %s", asset)
	}
	p, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", prices[0].Price, err)
	}
	return p, nil
}

func (bv *BinanceVenue) PlaceMarketOrder(ctx context.Context, asset string, isLong bool, quantity float64) (*OrderResult, error) {
	side := futures.SideTypeBuy
	if !isLong {
		side = futures.SideTypeSell
	}

	order, err := callWithRetry(ctx, 1, func() (*futures.CreateOrderResponse, error) {
		return bv.client.NewCreateOrderService().
			Symbol(symbol(asset)).
			Side(side).
			Type(futures.OrderTypeMarket).
			Quantity(bv.formatQuantity(asset, quantity)).
			Do(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("market order %s: %w", asset, err)
	}
	return orderResult(order), nil
}

// PlaceTakeProfit places a TAKE_PROFIT_MARKET order that closes the position
// when price reaches the trigger. isLong refers to the position being
// protected, so the order side is the opposite.
func (bv *BinanceVenue) PlaceTakeProfit(ctx context.Context, asset string, isLong bool, quantity, price float64) (*OrderResult, error) {
	return bv.placeTrigger(ctx, asset, isLong, quantity, price, futures.OrderTypeTakeProfitMarket)
}

// PlaceStopLoss places a STOP_MARKET order, same close-side convention as
// PlaceTakeProfit.
func (bv *BinanceVenue) PlaceStopLoss(ctx context.Context, asset string, isLong bool, quantity, price float64) (*OrderResult, error) {
	return bv.placeTrigger(ctx, asset, isLong, quantity, price, futures.OrderTypeStopMarket)
}

func (bv *BinanceVenue) placeTrigger(ctx context.Context, asset string, isLong bool, quantity, price float64, orderType futures.OrderType) (*OrderResult, error) {
	side := futures.SideTypeSell
	if !isLong {
		side = futures.SideTypeBuy
	}

	order, err := callWithRetry(ctx, 1, func() (*futures.CreateOrderResponse, error) {
		return bv.client.NewCreateOrderService().
			Symbol(symbol(asset)).
			Side(side).
			Type(orderType).
			StopPrice(fmt.Sprintf("%.8f", price)).
			Quantity(bv.formatQuantity(asset, quantity)).
			WorkingType(futures.WorkingTypeContractPrice).
			ClosePosition(true).
			Do(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("%s order %s: %w", orderType, asset, err)
	}
	return orderResult(order), nil
}

func orderResult(order *futures.CreateOrderResponse) *OrderResult {
	result := &OrderResult{
		OrderIDs: []string{strconv.FormatInt(order.OrderID, 10)},
	}
	result.AvgPrice, _ = strconv.ParseFloat(order.AvgPrice, 64)
	result.ExecutedQty, _ = strconv.ParseFloat(order.ExecutedQuantity, 64)
	return result
}

func (bv *BinanceVenue) CancelAllOrders(ctx context.Context, asset string) (int, error) {
	open, err := callWithRetry(ctx, defaultAttempts, func() ([]*futures.Order, error) {
		return bv.client.NewListOpenOrdersService().Symbol(symbol(asset)).Do(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("list open orders %s: %w", asset, err)
	}
	if len(open) == 0 {
		return 0, nil
	}

	_, err = callWithRetry(ctx, defaultAttempts, func() (struct{}, error) {
		return struct{}{}, bv.client.NewCancelAllOpenOrdersService().Symbol(symbol(asset)).Do(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("cancel all orders %s: %w", asset, err)
	}
	return len(open), nil
}

func (bv *BinanceVenue) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	orders, err := callWithRetry(ctx, defaultAttempts, func() ([]*futures.Order, error) {
		return bv.client.NewListOpenOrdersService().Do(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}

	result := make([]OpenOrder, 0, len(orders))
	for _, o := range orders {
		size, _ := strconv.ParseFloat(o.OrigQuantity, 64)
		price, _ := strconv.ParseFloat(o.Price, 64)
		if price == 0 {
			price, _ = strconv.ParseFloat(o.StopPrice, 64)
		}
		result = append(result, OpenOrder{
			Asset:   trimUSDT(o.Symbol),
			OrderID: strconv.FormatInt(o.OrderID, 10),
			IsBuy:   o.Side == futures.SideTypeBuy,
			Size:    size,
			Price:   price,
			Type:    string(o.Type),
		})
	}
	return result, nil
}

// RecentFills merges user trades across the configured assets; the futures
// userTrades endpoint is per-symbol.
func (bv *BinanceVenue) RecentFills(ctx context.Context, limit int) ([]Fill, error) {
	var fills []Fill
	for _, asset := range bv.assets {
		trades, err := callWithRetry(ctx, defaultAttempts, func() ([]*futures.AccountTrade, error) {
			return bv.client.NewListAccountTradeService().Symbol(symbol(asset)).Limit(limit).Do(ctx)
		})
		if err != nil {
			return nil, fmt.Errorf("list fills %s: %w", asset, err)
		}
		for _, t := range trades {
			size, _ := strconv.ParseFloat(t.Quantity, 64)
			price, _ := strconv.ParseFloat(t.Price, 64)
			fills = append(fills, Fill{
				Asset: trimUSDT(t.Symbol),
				IsBuy: t.Buyer,
				Size:  size,
				Price: price,
				Time:  time.UnixMilli(t.Time),
			})
		}
	}

	sort.Slice(fills, func(i, j int) bool { return fills[i].Time.Before(fills[j].Time) })
	if len(fills) > limit {
		fills = fills[len(fills)-limit:]
	}
	return fills, nil
}

func (bv *BinanceVenue) FundingRate(ctx context.Context, asset string) (float64, error) {
	res, err := callWithRetry(ctx, defaultAttempts, func() ([]*futures.PremiumIndex, error) {
		return bv.client.NewPremiumIndexService().Symbol(symbol(asset)).Do(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("premium index %s: %w", asset, err)
	}
	if len(res) == 0 {
		return 0, fmt.Errorf("no premium index for %s", asset)
	}
	rate, _ := strconv.ParseFloat(res[0].LastFundingRate, 64)
	return rate, nil
}

func (bv *BinanceVenue) OpenInterest(ctx context.Context, asset string) (float64, error) {
	res, err := callWithRetry(ctx, defaultAttempts, func() (*futures.OpenInterest, error) {
		return bv.client.NewGetOpenInterestService().Symbol(symbol(asset)).Do(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("open interest %s: %w", asset, err)
	}
	oi, _ := strconv.ParseFloat(res.OpenInterest, 64)
	return oi, nil
}

// RoundSize truncates quantity to the symbol's quantity precision so orders
// pass the exchange lot-size filter.
func (bv *BinanceVenue) RoundSize(asset string, quantity float64) float64 {
	precision, ok := bv.quantityPrecision[symbol(asset)]
	if !ok {
		return quantity
	}
	factor := math.Pow10(precision)
	return math.Floor(quantity*factor) / factor
}

func (bv *BinanceVenue) formatQuantity(asset string, quantity float64) string {
	precision, ok := bv.quantityPrecision[symbol(asset)]
	if !ok {
		precision = 8
	}
	return strconv.FormatFloat(bv.RoundSize(asset, quantity), 'f', precision, 64)
}
