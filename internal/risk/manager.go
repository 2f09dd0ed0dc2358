package risk

import (
	"fmt"
	"time"

	"github.com/cmorley/perp-agent/internal/config"
	"github.com/cmorley/perp-agent/internal/logger"
	"github.com/cmorley/perp-agent/internal/venue"
)

// Limits is the immutable risk configuration for the process lifetime.
type Limits struct {
	MaxTotalAllocation   float64
	MaxSinglePosition    float64
	MaxDailyLoss         float64
	MaxLeverage          float64
	MinPositionSize      float64
	MaxConsecutiveLosses int
}

func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		MaxTotalAllocation:   cfg.Risk.MaxTotalAllocation,
		MaxSinglePosition:    cfg.Risk.MaxSinglePosition,
		MaxDailyLoss:         cfg.Risk.MaxDailyLoss,
		MaxLeverage:          cfg.Risk.MaxLeverage,
		MinPositionSize:      cfg.Risk.MinPositionSize,
		MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
	}
}

// Summary is the mutable risk state exposed to the decision context.
type Summary struct {
	DailyPnL             float64
	ConsecutiveLosses    int
	CircuitBreakerActive bool
	Limits               Limits
}

// Manager validates proposed allocations against the configured limits and
// tracks daily P&L and the consecutive-loss circuit breaker. It is owned by
// the single control loop and is not safe for concurrent use.
type Manager struct {
	limits Limits
	logger *logger.Logger

	dailyPnL             float64
	lastReset            time.Time
	consecutiveLosses    int
	circuitBreakerActive bool

	now func() time.Time
}

func NewManager(limits Limits, log *logger.Logger) *Manager {
	m := &Manager{
		limits:    limits,
		logger:    log,
		now:       time.Now,
		lastReset: time.Now().UTC(),
	}
	log.Info("risk manager initialized",
		"max_total", limits.MaxTotalAllocation,
		"max_single", limits.MaxSinglePosition,
		"max_daily_loss", limits.MaxDailyLoss,
		"max_leverage", limits.MaxLeverage)
	return m
}

// ResetDailyTracking zeroes daily state when the UTC calendar date has
// advanced since the last reset. Idempotent within a day.
func (m *Manager) ResetDailyTracking() {
	now := m.now().UTC()
	if !m.lastReset.IsZero() && now.Truncate(24*time.Hour).Equal(m.lastReset.Truncate(24*time.Hour)) {
		return
	}
	m.dailyPnL = 0
	m.consecutiveLosses = 0
	m.circuitBreakerActive = false
	m.lastReset = now
	m.logger.Info("daily risk tracking reset")
}

// UpdateDailyPnL accumulates realized P&L and reports whether the daily
// floor is still respected. It does not halt trading itself.
func (m *Manager) UpdateDailyPnL(pnl float64) bool {
	m.dailyPnL += pnl
	if m.dailyPnL <= -m.limits.MaxDailyLoss {
		m.logger.Warn("daily loss limit reached", "daily_pnl", m.dailyPnL)
		return false
	}
	return true
}

// UpdateConsecutiveLosses tracks the losing streak. Reaching the configured
// maximum trips the circuit breaker; any win clears it. Returns true when
// this call is the one that tripped the breaker.
func (m *Manager) UpdateConsecutiveLosses(isLoss bool) bool {
	if isLoss {
		m.consecutiveLosses++
		if m.consecutiveLosses >= m.limits.MaxConsecutiveLosses && !m.circuitBreakerActive {
			m.circuitBreakerActive = true
			m.logger.Warn("circuit breaker activated", "consecutive_losses", m.consecutiveLosses)
			return true
		}
		return false
	}
	m.consecutiveLosses = 0
	m.circuitBreakerActive = false
	return false
}

// EmergencyStop trips the circuit breaker regardless of streak state.
func (m *Manager) EmergencyStop(reason string) {
	m.circuitBreakerActive = true
	m.logger.Error("emergency stop", "reason", reason)
}

// ValidateAllocation bounds a proposed USD allocation against the limits.
// The cascade only ever shrinks: the returned allocation is never larger
// than requested, and any rejection returns 0.
func (m *Manager) ValidateAllocation(allocationUSD, currentBalance float64, positions []venue.Position, asset string) (bool, string, float64) {
	m.ResetDailyTracking()

	if m.circuitBreakerActive {
		return false, "circuit breaker active: too many consecutive losses", 0
	}

	if m.dailyPnL <= -m.limits.MaxDailyLoss {
		return false, "daily loss limit exceeded", 0
	}

	if allocationUSD < m.limits.MinPositionSize {
		return false, fmt.Sprintf("allocation too small ($%.2f < $%.2f)", allocationUSD, m.limits.MinPositionSize), 0
	}

	if allocationUSD > m.limits.MaxSinglePosition {
		m.logger.Warn("allocation capped to max single position",
			"asset", asset, "requested", allocationUSD, "capped", m.limits.MaxSinglePosition)
		return true, "allocation capped to max single position", m.limits.MaxSinglePosition
	}

	var currentTotal float64
	for _, p := range positions {
		currentTotal += p.Notional()
	}

	if currentTotal+allocationUSD > m.limits.MaxTotalAllocation {
		remaining := m.limits.MaxTotalAllocation - currentTotal
		if remaining < m.limits.MinPositionSize {
			return false, "no remaining allocation capacity", 0
		}
		m.logger.Warn("allocation reduced to fit total limit", "asset", asset, "adjusted", remaining)
		return true, "allocation reduced to fit total limit", remaining
	}

	if currentBalance > 0 {
		effectiveLeverage := (currentTotal + allocationUSD) / currentBalance
		if effectiveLeverage > m.limits.MaxLeverage {
			ceiling := currentBalance*m.limits.MaxLeverage - currentTotal
			if ceiling < m.limits.MinPositionSize {
				return false, "leverage limit would be exceeded", 0
			}
			m.logger.Warn("allocation reduced due to leverage limit", "asset", asset, "adjusted", ceiling)
			return true, "allocation reduced due to leverage limit", ceiling
		}
	}

	if allocationUSD > currentBalance {
		if currentBalance < m.limits.MinPositionSize {
			return false, fmt.Sprintf("insufficient balance for minimum position size (need $%.2f, have $%.2f)",
				m.limits.MinPositionSize, currentBalance), 0
		}
		m.logger.Warn("allocation reduced due to insufficient balance",
			"asset", asset, "requested", allocationUSD, "adjusted", currentBalance)
		return true, "allocation reduced due to insufficient balance", currentBalance
	}

	return true, "allocation approved", allocationUSD
}

// ValidatePositionSizing applies the shrink-to-affordable check to a share
// quantity rather than a USD notional.
func (m *Manager) ValidatePositionSizing(asset string, amount, price float64, isBuy bool, currentBalance float64) (bool, string, float64) {
	if amount <= 0 {
		return false, "invalid position size", 0
	}
	if price <= 0 {
		return false, "invalid price", 0
	}

	notional := amount * price
	if notional > currentBalance {
		maxAmount := currentBalance / price
		if maxAmount*price < m.limits.MinPositionSize {
			return false, fmt.Sprintf("insufficient balance for minimum position size (need $%.2f, have $%.2f)",
				m.limits.MinPositionSize, currentBalance), 0
		}
		m.logger.Warn("position size adjusted due to insufficient balance",
			"asset", asset, "requested", amount, "adjusted", maxAmount)
		return true, "position size adjusted due to insufficient balance", maxAmount
	}

	return true, "position size approved", amount
}

func (m *Manager) Summary() Summary {
	return Summary{
		DailyPnL:             m.dailyPnL,
		ConsecutiveLosses:    m.consecutiveLosses,
		CircuitBreakerActive: m.circuitBreakerActive,
		Limits:               m.limits,
	}
}
