package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmorley/perp-agent/internal/logger"
	"github.com/cmorley/perp-agent/internal/venue"
)

func testLimits() Limits {
	return Limits{
		MaxTotalAllocation:   1000,
		MaxSinglePosition:    500,
		MaxDailyLoss:         100,
		MaxLeverage:          5,
		MinPositionSize:      10,
		MaxConsecutiveLosses: 3,
	}
}

func newTestManager(t *testing.T, limits Limits) *Manager {
	t.Helper()
	return NewManager(limits, logger.New("error"))
}

func TestValidateAllocationNeverApprovesNonPositive(t *testing.T) {
	m := newTestManager(t, testLimits())

	for _, alloc := range []float64{0, -1, -500} {
		ok, _, adjusted := m.ValidateAllocation(alloc, 1000, nil, "BTC")
		assert.False(t, ok, "allocation %v must be rejected", alloc)
		assert.Equal(t, 0.0, adjusted)
	}
}

func TestValidateAllocationMonotoneShrink(t *testing.T) {
	m := newTestManager(t, testLimits())
	positions := []venue.Position{
		{Asset: "ETH", Size: 0.5, EntryPrice: 400},
	}

	for _, alloc := range []float64{15, 100, 300, 600, 1500} {
		_, _, adjusted := m.ValidateAllocation(alloc, 250, positions, "BTC")
		assert.LessOrEqual(t, adjusted, alloc, "adjusted allocation must never grow")
	}
}

func TestValidateAllocationCircuitBreaker(t *testing.T) {
	m := newTestManager(t, testLimits())
	m.EmergencyStop("test halt")

	ok, reason, adjusted := m.ValidateAllocation(100, 10000, nil, "BTC")
	assert.False(t, ok)
	assert.Contains(t, reason, "circuit breaker")
	assert.Equal(t, 0.0, adjusted)
}

func TestValidateAllocationScenarios(t *testing.T) {
	tests := []struct {
		name         string
		limits       Limits
		alloc        float64
		balance      float64
		wantApproved bool
		wantAdjusted float64
	}{
		{
			name:         "balance capped",
			limits:       Limits{MaxTotalAllocation: 10000, MaxSinglePosition: 5000, MaxDailyLoss: 100, MaxLeverage: 50, MinPositionSize: 10, MaxConsecutiveLosses: 3},
			alloc:        300,
			balance:      200,
			wantApproved: true,
			wantAdjusted: 200,
		},
		{
			name:         "balance below minimum rejects",
			limits:       Limits{MaxTotalAllocation: 10000, MaxSinglePosition: 5000, MaxDailyLoss: 100, MaxLeverage: 100, MinPositionSize: 10, MaxConsecutiveLosses: 3},
			alloc:        300,
			balance:      5,
			wantApproved: false,
			wantAdjusted: 0,
		},
		{
			name:         "single position cap",
			limits:       testLimits(),
			alloc:        1000,
			balance:      10000,
			wantApproved: true,
			wantAdjusted: 500,
		},
		{
			name:         "below minimum rejects",
			limits:       testLimits(),
			alloc:        5,
			balance:      1000,
			wantApproved: false,
			wantAdjusted: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, tt.limits)
			ok, reason, adjusted := m.ValidateAllocation(tt.alloc, tt.balance, nil, "BTC")
			assert.Equal(t, tt.wantApproved, ok, "reason: %s", reason)
			assert.InDelta(t, tt.wantAdjusted, adjusted, 1e-9)
		})
	}
}

func TestValidateAllocationTotalCapacity(t *testing.T) {
	m := newTestManager(t, testLimits())
	positions := []venue.Position{
		{Asset: "ETH", Size: 2, EntryPrice: 475},   // 950 notional
		{Asset: "SOL", Size: -0.2, EntryPrice: 100}, // 20 notional, short counts too
	}

	// 30 remaining capacity: a 100 request shrinks to 30.
	ok, _, adjusted := m.ValidateAllocation(100, 10000, positions, "BTC")
	require.True(t, ok)
	assert.InDelta(t, 30, adjusted, 1e-9)

	// With less than min remaining, reject.
	positions = append(positions, venue.Position{Asset: "XRP", Size: 25, EntryPrice: 1})
	ok, reason, adjusted := m.ValidateAllocation(100, 10000, positions, "BTC")
	assert.False(t, ok)
	assert.Contains(t, reason, "no remaining allocation capacity")
	assert.Equal(t, 0.0, adjusted)
}

func TestValidateAllocationLeverageCeiling(t *testing.T) {
	m := newTestManager(t, testLimits())

	// balance 40, max leverage 5 -> ceiling 200
	ok, reason, adjusted := m.ValidateAllocation(450, 40, nil, "BTC")
	require.True(t, ok, reason)
	assert.InDelta(t, 200, adjusted, 1e-9)

	// balance 1 -> ceiling 5, below minimum size
	ok, _, adjusted = m.ValidateAllocation(450, 1, nil, "BTC")
	assert.False(t, ok)
	assert.Equal(t, 0.0, adjusted)
}

func TestValidateAllocationDailyLossGate(t *testing.T) {
	m := newTestManager(t, testLimits())
	m.UpdateDailyPnL(-150)

	ok, reason, _ := m.ValidateAllocation(100, 10000, nil, "BTC")
	assert.False(t, ok)
	assert.Contains(t, reason, "daily loss limit")
}

func TestResetDailyTrackingIdempotentWithinDay(t *testing.T) {
	m := newTestManager(t, testLimits())
	base := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	m.ResetDailyTracking()
	m.UpdateDailyPnL(-42)
	m.UpdateConsecutiveLosses(true)

	// Same day: second reset is a no-op.
	m.now = func() time.Time { return base.Add(5 * time.Hour) }
	m.ResetDailyTracking()
	sum := m.Summary()
	assert.Equal(t, -42.0, sum.DailyPnL)
	assert.Equal(t, 1, sum.ConsecutiveLosses)

	// Next UTC day: state clears.
	m.now = func() time.Time { return base.Add(24 * time.Hour) }
	m.ResetDailyTracking()
	sum = m.Summary()
	assert.Equal(t, 0.0, sum.DailyPnL)
	assert.Equal(t, 0, sum.ConsecutiveLosses)
	assert.False(t, sum.CircuitBreakerActive)
}

func TestConsecutiveLossesTripAndClear(t *testing.T) {
	m := newTestManager(t, testLimits())

	assert.False(t, m.UpdateConsecutiveLosses(true))
	assert.False(t, m.UpdateConsecutiveLosses(true))
	assert.False(t, m.Summary().CircuitBreakerActive)

	// Only the tripping call reports true; further losses while tripped
	// do not re-signal.
	assert.True(t, m.UpdateConsecutiveLosses(true))
	assert.True(t, m.Summary().CircuitBreakerActive)
	assert.False(t, m.UpdateConsecutiveLosses(true))

	assert.False(t, m.UpdateConsecutiveLosses(false))
	assert.False(t, m.Summary().CircuitBreakerActive)
	assert.Equal(t, 0, m.Summary().ConsecutiveLosses)
}

func TestValidatePositionSizing(t *testing.T) {
	m := newTestManager(t, testLimits())

	tests := []struct {
		name         string
		amount       float64
		price        float64
		balance      float64
		wantApproved bool
		wantAmount   float64
	}{
		{"approved unchanged", 0.5, 100, 1000, true, 0.5},
		{"shrunk to affordable", 10, 100, 500, true, 5},
		{"affordable below minimum", 10, 100, 5, false, 0},
		{"zero amount", 0, 100, 1000, false, 0},
		{"zero price", 1, 0, 1000, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason, adjusted := m.ValidatePositionSizing("BTC", tt.amount, tt.price, true, tt.balance)
			assert.Equal(t, tt.wantApproved, ok, "reason: %s", reason)
			assert.InDelta(t, tt.wantAmount, adjusted, 1e-9)
		})
	}
}
