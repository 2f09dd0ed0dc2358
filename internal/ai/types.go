package ai

import "strings"

// Decision actions.
const (
	ActionBuy  = "buy"
	ActionSell = "sell"
	ActionHold = "hold"
)

// Decision is one per-asset trading decision from the model. TP/SL prices
// are pointers so "no level" survives the JSON round trip as null.
type Decision struct {
	Asset         string   `json:"asset"`
	Action        string   `json:"action"`
	AllocationUSD float64  `json:"allocation_usd"`
	TPPrice       *float64 `json:"tp_price"`
	SLPrice       *float64 `json:"sl_price"`
	ExitPlan      string   `json:"exit_plan"`
	Rationale     string   `json:"rationale"`
}

// Normalize lowercases the action and maps anything unrecognized to hold.
func (d *Decision) Normalize() {
	d.Action = strings.ToLower(strings.TrimSpace(d.Action))
	switch d.Action {
	case ActionBuy, ActionSell, ActionHold:
	default:
		d.Action = ActionHold
	}
}

// HoldDefaults returns one hold decision per asset with the given rationale.
func HoldDefaults(assets []string, rationale string) []Decision {
	out := make([]Decision, 0, len(assets))
	for _, a := range assets {
		out = append(out, Decision{
			Asset:     a,
			Action:    ActionHold,
			Rationale: rationale,
		})
	}
	return out
}
