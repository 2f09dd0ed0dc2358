// Package trade tracks positions the agent itself opened, reconciles them
// against the venue, and evaluates free-text exit plans.
package trade

import (
	"sync"
	"time"
)

// ActiveTrade is the agent's local view of a position it opened, including
// the protective order IDs and the exit plan the model committed to.
type ActiveTrade struct {
	Asset      string    `json:"asset"`
	IsLong     bool      `json:"is_long"`
	Amount     float64   `json:"amount"`
	EntryPrice float64   `json:"entry_price"`
	TPOrderID  string    `json:"tp_order_id,omitempty"`
	SLOrderID  string    `json:"sl_order_id,omitempty"`
	ExitPlan   string    `json:"exit_plan,omitempty"`
	OpenedAt   time.Time `json:"opened_at"`
}

// Store holds at most one active trade per asset. Upsert replaces any
// existing entry for the same asset rather than accumulating duplicates.
type Store struct {
	mu     sync.Mutex
	trades []ActiveTrade
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Upsert(t ActiveTrade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(t.Asset)
	s.trades = append(s.trades, t)
}

func (s *Store) Remove(asset string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.trades)
	s.removeLocked(asset)
	return len(s.trades) < before
}

func (s *Store) removeLocked(asset string) {
	kept := s.trades[:0]
	for _, t := range s.trades {
		if t.Asset != asset {
			kept = append(kept, t)
		}
	}
	s.trades = kept
}

// Find returns the trade for the asset, if any.
func (s *Store) Find(asset string) (ActiveTrade, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trades {
		if t.Asset == asset {
			return t, true
		}
	}
	return ActiveTrade{}, false
}

// All returns a copy of the current trades in insertion order.
func (s *Store) All() []ActiveTrade {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActiveTrade, len(s.trades))
	copy(out, s.trades)
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trades)
}
