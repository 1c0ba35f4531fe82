package risk

import (
	"errors"
	"fmt"

	"breakout-bot-go/internal/models"
	"gorm.io/gorm"
)

// GormStore persists ledger state in the bot's sqlite database: one
// DailyState row per calendar date plus TradeRecord rows for the rolling
// history.
type GormStore struct {
	db *gorm.DB
}

// ensure GormStore implements the persistence port
var _ Store = (*GormStore)(nil)

// NewGormStore creates a store backed by the given database handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Load reads the most recent daily state and the full trade history.
// A database with no state yet yields (nil, nil).
func (s *GormStore) Load() (*State, error) {
	var daily models.DailyState
	err := s.db.Order("date DESC").First(&daily).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load daily state: %w", err)
	}

	var records []models.TradeRecord
	if err := s.db.Order("timestamp ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load trade history: %w", err)
	}

	state := &State{
		CurrentDate: daily.Date,
		DailyPnl:    daily.DailyPnl,
		TradesToday: daily.TradesToday,
	}
	for _, r := range records {
		state.History = append(state.History, TradeResult{
			Timestamp:  r.Timestamp,
			Pnl:        r.Pnl,
			Symbol:     r.Symbol,
			Quantity:   r.Quantity,
			EntryPrice: r.EntryPrice,
			ExitPrice:  r.ExitPrice,
		})
	}

	return state, nil
}

// Save writes the daily counters and rewrites the trade history in one
// transaction. The history is small (a few trades per day, 30 days kept)
// so a full rewrite keeps rollover pruning trivial.
func (s *GormStore) Save(state *State) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		daily := models.DailyState{Date: state.CurrentDate}
		if err := tx.Where(models.DailyState{Date: state.CurrentDate}).
			Assign(models.DailyState{
				Date:        state.CurrentDate,
				DailyPnl:    state.DailyPnl,
				TradesToday: state.TradesToday,
			}).
			FirstOrCreate(&daily).Error; err != nil {
			return fmt.Errorf("failed to save daily state: %w", err)
		}

		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).
			Unscoped().Delete(&models.TradeRecord{}).Error; err != nil {
			return fmt.Errorf("failed to clear trade history: %w", err)
		}

		for _, t := range state.History {
			record := models.TradeRecord{
				Timestamp:  t.Timestamp,
				Pnl:        t.Pnl,
				Symbol:     t.Symbol,
				Quantity:   t.Quantity,
				EntryPrice: t.EntryPrice,
				ExitPrice:  t.ExitPrice,
			}
			if err := tx.Create(&record).Error; err != nil {
				return fmt.Errorf("failed to save trade record: %w", err)
			}
		}

		return nil
	})
}
