package models

import (
	"time"

	"gorm.io/gorm"
)

// TradeRecord is one realized trade result in the rolling ledger history.
type TradeRecord struct {
	gorm.Model
	Timestamp  time.Time `gorm:"index;not null" json:"timestamp"`
	Pnl        float64   `json:"pnl"`
	Symbol     string    `json:"symbol"`
	Quantity   int       `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
}
