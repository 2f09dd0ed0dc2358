package storage

import "time"

type ExecutedTrade struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Asset         string  `gorm:"index;not null" json:"asset"`
	Action        string  `gorm:"not null" json:"action"` // buy or sell
	AllocationUSD float64 `json:"allocation_usd"`
	Quantity      float64 `gorm:"not null" json:"quantity"`
	EntryPrice    float64 `gorm:"not null" json:"entry_price"`

	TPPrice   float64 `json:"tp_price"`
	SLPrice   float64 `json:"sl_price"`
	TPOrderID string  `json:"tp_order_id"`
	SLOrderID string  `json:"sl_order_id"`

	ExitPlan  string `gorm:"type:text" json:"exit_plan"`
	Rationale string `gorm:"type:text" json:"rationale"`

	PnL    float64 `gorm:"column:pnl" json:"pnl"`
	Status string  `gorm:"not null;default:'open'" json:"status"` // open, closed
}

type CycleLog struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	AssetsCount   int    `json:"assets_count"`
	AIResponse    string `gorm:"type:text" json:"ai_response"`
	DecisionsJSON string `gorm:"type:text" json:"decisions_json"`
	Error         string `json:"error"`
}

type AccountSnapshot struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Balance        float64 `json:"balance"`
	AccountValue   float64 `json:"account_value"`
	TotalReturnPct float64 `json:"total_return_pct"`
	PositionsCount int     `json:"positions_count"`
	PositionsJSON  string  `gorm:"type:text" json:"positions_json"`
}
