package trade

import (
	"context"
	"regexp"
	"strconv"

	"github.com/cmorley/perp-agent/internal/logger"
)

// MarketData supplies the indicator values exit clauses are checked against.
type MarketData interface {
	MACD(ctx context.Context, asset, interval string) (float64, error)
	EMA(ctx context.Context, asset, interval string, period int) (float64, error)
}

// PriceSource supplies the current mark price for an asset.
type PriceSource interface {
	Price(ctx context.Context, asset string) (float64, error)
}

// ExitEvaluator checks a trade's free-text exit plan against live market
// data. Only two clause shapes are recognized; everything else, and any data
// fetch failure, evaluates to false so an unparseable plan never force-closes
// a position.
type ExitEvaluator struct {
	market MarketData
	prices PriceSource
	logger *logger.Logger
}

// macdBelowRe matches clauses like "close if MACD drops below -50" or
// "macd below -120.5". The threshold is the first number after "below".
var macdBelowRe = regexp.MustCompile(`(?i)macd[^.;]*?below\s*(-?\d+(?:\.\d+)?)`)

// closeAboveEMA50Re matches clauses like "close above EMA50" or
// "price closes above the ema 50".
var closeAboveEMA50Re = regexp.MustCompile(`(?i)(?:close|closes|price)[^.;]*?above[^.;]*?ema\s*50`)

func NewExitEvaluator(market MarketData, prices PriceSource, log *logger.Logger) *ExitEvaluator {
	return &ExitEvaluator{market: market, prices: prices, logger: log}
}

// ShouldExit reports whether the trade's exit plan is currently triggered.
// Indicator clauses read the 4h timeframe.
func (e *ExitEvaluator) ShouldExit(ctx context.Context, t ActiveTrade) bool {
	if t.ExitPlan == "" {
		return false
	}

	if m := macdBelowRe.FindStringSubmatch(t.ExitPlan); m != nil {
		threshold, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return false
		}
		macd, err := e.market.MACD(ctx, t.Asset, "4h")
		if err != nil {
			e.logger.Warn("exit check skipped, macd unavailable", "asset", t.Asset, "error", err)
			return false
		}
		if macd < threshold {
			e.logger.Info("exit plan triggered",
				"asset", t.Asset, "clause", "macd_below", "macd", macd, "threshold", threshold)
			return true
		}
		return false
	}

	if closeAboveEMA50Re.MatchString(t.ExitPlan) {
		price, err := e.prices.Price(ctx, t.Asset)
		if err != nil {
			e.logger.Warn("exit check skipped, price unavailable", "asset", t.Asset, "error", err)
			return false
		}
		ema, err := e.market.EMA(ctx, t.Asset, "4h", 50)
		if err != nil {
			e.logger.Warn("exit check skipped, ema unavailable", "asset", t.Asset, "error", err)
			return false
		}
		if price > ema {
			e.logger.Info("exit plan triggered",
				"asset", t.Asset, "clause", "close_above_ema50", "price", price, "ema50", ema)
			return true
		}
		return false
	}

	return false
}
