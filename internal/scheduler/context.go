package scheduler

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cmorley/perp-agent/internal/journal"
	"github.com/cmorley/perp-agent/internal/venue"
)

// maxOpenOrdersInContext bounds the open-order section of the prompt.
const maxOpenOrdersInContext = 50

// buildMarketContext assembles the user prompt for one cycle: account and
// risk state, open positions, active trades with exit plans, per-asset
// market data, recent diary history, open orders, and fills.
func (s *Scheduler) buildMarketContext(
	acct *venue.AccountState,
	accountValue, totalReturn float64,
	assetData []assetContext,
	openOrders []venue.OpenOrder,
	fills []venue.Fill,
	history []journal.Record,
) string {
	var sb strings.Builder
	now := time.Now().UTC()

	sb.WriteString(fmt.Sprintf("Current time: %s\n\n", now.Format(time.RFC3339)))

	sb.WriteString("## Account\n")
	sb.WriteString(fmt.Sprintf("Available balance: $%.2f\n", acct.Balance))
	sb.WriteString(fmt.Sprintf("Account value (balance + unrealized P&L): $%.2f\n", accountValue))
	sb.WriteString(fmt.Sprintf("Total return since start: %+.2f%%\n", totalReturn))
	if pnls, err := s.repo.GetClosedTradePnLs(100); err == nil && len(pnls) >= 2 {
		sb.WriteString(fmt.Sprintf("Sharpe (per-trade, last %d): %.2f\n", len(pnls), sharpeRatio(pnls)))
	}

	rs := s.risk.Summary()
	sb.WriteString("\n## Risk state\n")
	sb.WriteString(fmt.Sprintf("Daily P&L: $%.2f (limit -$%.2f)\n", rs.DailyPnL, rs.Limits.MaxDailyLoss))
	sb.WriteString(fmt.Sprintf("Consecutive losses: %d (circuit breaker at %d, active: %v)\n",
		rs.ConsecutiveLosses, rs.Limits.MaxConsecutiveLosses, rs.CircuitBreakerActive))
	sb.WriteString(fmt.Sprintf("Limits: max total $%.0f, max single $%.0f, max leverage %.1fx, min position $%.0f\n",
		rs.Limits.MaxTotalAllocation, rs.Limits.MaxSinglePosition, rs.Limits.MaxLeverage, rs.Limits.MinPositionSize))

	sb.WriteString("\n## Open positions (venue)\n")
	if len(acct.Positions) == 0 {
		sb.WriteString("None.\n")
	}
	for _, p := range acct.Positions {
		side := "LONG"
		if p.Size < 0 {
			side = "SHORT"
		}
		sb.WriteString(fmt.Sprintf("- %s %s size=%g entry=%.4f leverage=%.1fx uPnL=$%.2f liq=%.4f\n",
			p.Asset, side, p.Size, p.EntryPrice, p.Leverage, p.UnrealizedPnL, p.LiquidationPrice))
	}

	sb.WriteString("\n## Active trades with exit plans\n")
	active := s.store.All()
	if len(active) == 0 {
		sb.WriteString("None.\n")
	}
	for _, t := range active {
		side := "LONG"
		if !t.IsLong {
			side = "SHORT"
		}
		minutesOpen := now.Sub(t.OpenedAt).Minutes()
		sb.WriteString(fmt.Sprintf("- %s %s size=%g entry=%.4f open for %.0f min\n  exit_plan: %s\n",
			t.Asset, side, t.Amount, t.EntryPrice, minutesOpen, t.ExitPlan))
	}

	for _, ad := range assetData {
		sb.WriteString(fmt.Sprintf("\n## %s market data\n", ad.Asset))
		sb.WriteString(fmt.Sprintf("Current price: %.4f\n", ad.Price))
		sb.WriteString(fmt.Sprintf("Funding rate: %.6f\n", ad.FundingRate))
		sb.WriteString(fmt.Sprintf("Open interest: %.2f\n", ad.OpenInterest))
		if len(ad.History) > 1 {
			sb.WriteString(fmt.Sprintf("Recent cycle prices (oldest first): %s\n", formatSeries(ad.History)))
		}
		if snap := ad.Snap; snap != nil {
			sb.WriteString(fmt.Sprintf("Intraday (%s): EMA20 %s, MACD %s, RSI7 %s, RSI14 %s\n",
				s.config.Trading.Interval,
				formatSeries(snap.EMA20Series), formatSeries(snap.MACDSeries),
				formatSeries(snap.RSI7Series), formatSeries(snap.RSI14Series)))
			sb.WriteString(fmt.Sprintf("4h: EMA20 %.4f, EMA50 %.4f, ATR3 %.4f, ATR14 %.4f, MACD %s, RSI %s\n",
				snap.LTEMA20, snap.LTEMA50, snap.LTATR3, snap.LTATR14,
				formatSeries(snap.LTMACDSeries), formatSeries(snap.LTRSISeries)))
		}
	}

	sb.WriteString("\n## Recent trading history (diary)\n")
	if len(history) == 0 {
		sb.WriteString("None.\n")
	}
	for _, rec := range history {
		line, _ := json.Marshal(rec)
		sb.WriteString(string(line))
		sb.WriteByte('\n')
	}

	sb.WriteString("\n## Open orders\n")
	if len(openOrders) == 0 {
		sb.WriteString("None.\n")
	}
	shown := openOrders
	if len(shown) > maxOpenOrdersInContext {
		shown = shown[:maxOpenOrdersInContext]
	}
	for _, o := range shown {
		side := "SELL"
		if o.IsBuy {
			side = "BUY"
		}
		sb.WriteString(fmt.Sprintf("- %s %s %s size=%g price=%.4f id=%s\n",
			o.Asset, o.Type, side, o.Size, o.Price, o.OrderID))
	}
	if len(openOrders) > maxOpenOrdersInContext {
		sb.WriteString(fmt.Sprintf("... and %d more\n", len(openOrders)-maxOpenOrdersInContext))
	}

	sb.WriteString("\n## Recent fills\n")
	if len(fills) == 0 {
		sb.WriteString("None.\n")
	}
	for _, f := range fills {
		side := "SELL"
		if f.IsBuy {
			side = "BUY"
		}
		sb.WriteString(fmt.Sprintf("- %s %s %s size=%g price=%.4f\n",
			f.Time.UTC().Format(time.RFC3339), f.Asset, side, f.Size, f.Price))
	}

	sb.WriteString("\nAnalyze and return decisions as a JSON array, one object per asset in order: ")
	names := make([]string, len(assetData))
	for i, ad := range assetData {
		names[i] = ad.Asset
	}
	sb.WriteString(strings.Join(names, ", "))
	sb.WriteString(".\n")

	return sb.String()
}

func formatSeries(values []float64) string {
	if len(values) == 0 {
		return "n/a"
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%.4f", v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
