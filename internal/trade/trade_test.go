package trade

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreUpsertReplacesSameAsset(t *testing.T) {
	s := NewStore()

	s.Upsert(ActiveTrade{Asset: "BTC", IsLong: true, Amount: 0.01, EntryPrice: 68000})
	s.Upsert(ActiveTrade{Asset: "ETH", IsLong: false, Amount: 0.5, EntryPrice: 3500})
	s.Upsert(ActiveTrade{Asset: "BTC", IsLong: true, Amount: 0.02, EntryPrice: 69000})

	require.Equal(t, 2, s.Len())
	got, ok := s.Find("BTC")
	require.True(t, ok)
	assert.Equal(t, 0.02, got.Amount)
	assert.Equal(t, 69000.0, got.EntryPrice)
}

func TestStoreRemove(t *testing.T) {
	s := NewStore()
	s.Upsert(ActiveTrade{Asset: "BTC"})

	assert.True(t, s.Remove("BTC"))
	assert.False(t, s.Remove("BTC"))
	_, ok := s.Find("BTC")
	assert.False(t, ok)
}

func TestStoreAllReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Upsert(ActiveTrade{Asset: "BTC", Amount: 1})

	all := s.All()
	all[0].Amount = 99

	got, ok := s.Find("BTC")
	require.True(t, ok)
	assert.Equal(t, 1.0, got.Amount)
}

func TestActiveTradeFields(t *testing.T) {
	opened := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	tr := ActiveTrade{
		Asset:      "SOL",
		IsLong:     true,
		Amount:     10,
		EntryPrice: 150,
		TPOrderID:  "123",
		SLOrderID:  "124",
		ExitPlan:   "close if macd drops below -2",
		OpenedAt:   opened,
	}

	s := NewStore()
	s.Upsert(tr)
	got, ok := s.Find("SOL")
	require.True(t, ok)
	assert.Equal(t, tr, got)
}
