package models

import "gorm.io/gorm"

// DailyState is the per-trading-day risk ledger row.
// There is one row per calendar date; only the current date's row is live.
type DailyState struct {
	gorm.Model
	Date        string  `gorm:"uniqueIndex;not null" json:"date"` // YYYY-MM-DD in the ledger timezone
	DailyPnl    float64 `gorm:"not null" json:"daily_pnl"`
	TradesToday int     `gorm:"not null" json:"trades_today"`
}
