package storage

import (
	"time"

	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Trades

func (r *Repository) SaveExecutedTrade(trade *ExecutedTrade) error {
	return r.db.Create(trade).Error
}

func (r *Repository) GetOpenTradeByAsset(asset string) (*ExecutedTrade, error) {
	var trade ExecutedTrade
	err := r.db.Where("status = ? AND asset = ?", "open", asset).
		Order("created_at DESC").First(&trade).Error
	if err != nil {
		return nil, err
	}
	return &trade, nil
}

// CloseExecutedTrade marks the most recent open trade for the asset closed
// and records its realized P&L. Missing rows are not an error; the position
// may have been opened before the database existed.
func (r *Repository) CloseExecutedTrade(asset string, pnl float64) error {
	trade, err := r.GetOpenTradeByAsset(asset)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		return err
	}
	trade.Status = "closed"
	trade.PnL = pnl
	return r.db.Save(trade).Error
}

func (r *Repository) GetRecentTrades(limit int) ([]ExecutedTrade, error) {
	var trades []ExecutedTrade
	err := r.db.Order("created_at DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

// GetClosedTradePnLs returns realized P&L values for closed trades, oldest
// first, capped at limit. Used for the Sharpe calculation.
func (r *Repository) GetClosedTradePnLs(limit int) ([]float64, error) {
	var pnls []float64
	err := r.db.Model(&ExecutedTrade{}).
		Where("status = ?", "closed").
		Order("updated_at ASC").Limit(limit).
		Pluck("pnl", &pnls).Error
	return pnls, err
}

func (r *Repository) GetTodayPnL() (float64, error) {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	var total float64
	err := r.db.Model(&ExecutedTrade{}).
		Where("status = ? AND updated_at >= ?", "closed", today).
		Select("COALESCE(SUM(pnl), 0)").Scan(&total).Error
	return total, err
}

func (r *Repository) GetTotalPnL() (float64, error) {
	var total float64
	err := r.db.Model(&ExecutedTrade{}).
		Where("status = ?", "closed").
		Select("COALESCE(SUM(pnl), 0)").Scan(&total).Error
	return total, err
}

// Cycle logs

func (r *Repository) SaveCycleLog(log *CycleLog) error {
	return r.db.Create(log).Error
}

// Account snapshots

func (r *Repository) SaveAccountSnapshot(snapshot *AccountSnapshot) error {
	return r.db.Create(snapshot).Error
}

func (r *Repository) GetLatestSnapshot() (*AccountSnapshot, error) {
	var snapshot AccountSnapshot
	err := r.db.Order("created_at DESC").First(&snapshot).Error
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}
