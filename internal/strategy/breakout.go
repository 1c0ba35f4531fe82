// Package strategy implements the opening range breakout calculation: given
// the high/low of the first 15 minutes of trading it derives symmetric
// stop-entry trigger prices with attached stop-loss and take-profit levels.
package strategy

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Bounds for dynamically sized stops, in points. These give the dynamic
// path fixed headroom regardless of the configured range limits.
const (
	dynamicStopFloor   = 15.0
	dynamicStopCeiling = 50.0
)

// Trading window inside which new breakout entries may be taken,
// inclusive on both ends (market local time).
var (
	tradeWindowStart = clock{9, 30}
	tradeWindowEnd   = clock{15, 30}
)

type clock struct{ hour, minute int }

func (c clock) minutes() int { return c.hour*60 + c.minute }

// Config holds the immutable per-session strategy parameters.
type Config struct {
	BreakoutOffsetPoints  float64
	StopLossPoints        float64
	RiskRewardRatio       float64
	MinRangeSize          float64
	MaxRangeSize          float64
	UseDynamicStops       bool
	DynamicStopMultiplier float64
}

// Validate checks the structural invariants of the configuration.
func (c Config) Validate() error {
	if c.MinRangeSize >= c.MaxRangeSize {
		return fmt.Errorf("min range size %.2f must be less than max range size %.2f",
			c.MinRangeSize, c.MaxRangeSize)
	}
	if c.RiskRewardRatio <= 0 {
		return fmt.Errorf("risk reward ratio must be positive, got %.2f", c.RiskRewardRatio)
	}
	if c.BreakoutOffsetPoints <= 0 {
		return fmt.Errorf("breakout offset must be positive, got %.2f", c.BreakoutOffsetPoints)
	}
	return nil
}

// Levels holds the derived breakout entry and exit prices for one trading
// day. It is never mutated after creation except to attach the position
// size once sizing is known.
type Levels struct {
	OpeningHigh     float64
	OpeningLow      float64
	RangeSize       float64
	LongEntry       float64
	ShortEntry      float64
	LongStopLoss    float64
	ShortStopLoss   float64
	LongTakeProfit  float64
	ShortTakeProfit float64
	PositionSize    int
}

// InvalidRangeError reports an opening range outside the configured bounds.
type InvalidRangeError struct {
	RangeSize float64
	Min       float64
	Max       float64
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid opening range size %.2f points (must be in (%.2f, %.2f])",
		e.RangeSize, e.Min, e.Max)
}

// Breakout is the opening range breakout calculator.
type Breakout struct {
	cfg    Config
	logger *zap.Logger
}

// NewBreakout creates a calculator from a validated configuration.
func NewBreakout(cfg Config, logger *zap.Logger) (*Breakout, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid strategy config: %w", err)
	}

	logger.Info("Opening range breakout strategy initialized",
		zap.Float64("offset_points", cfg.BreakoutOffsetPoints),
		zap.Float64("stop_loss_points", cfg.StopLossPoints),
		zap.Float64("risk_reward_ratio", cfg.RiskRewardRatio),
		zap.Bool("dynamic_stops", cfg.UseDynamicStops))

	return &Breakout{cfg: cfg, logger: logger}, nil
}

// Config returns the strategy configuration.
func (b *Breakout) Config() Config { return b.cfg }

// CalculateLevels derives breakout entry and exit levels from an opening
// range. The range must be strictly greater than MinRangeSize and at most
// MaxRangeSize, otherwise an *InvalidRangeError is returned.
func (b *Breakout) CalculateLevels(openingHigh, openingLow float64) (*Levels, error) {
	rangeSize := openingHigh - openingLow

	if !b.isValidRange(rangeSize) {
		return nil, &InvalidRangeError{
			RangeSize: rangeSize,
			Min:       b.cfg.MinRangeSize,
			Max:       b.cfg.MaxRangeSize,
		}
	}

	longEntry := openingHigh + b.cfg.BreakoutOffsetPoints
	shortEntry := openingLow - b.cfg.BreakoutOffsetPoints

	stopDistance := b.StopDistance(rangeSize)
	takeProfitDistance := b.TakeProfitDistance(stopDistance)

	levels := &Levels{
		OpeningHigh:     openingHigh,
		OpeningLow:      openingLow,
		RangeSize:       rangeSize,
		LongEntry:       longEntry,
		ShortEntry:      shortEntry,
		LongStopLoss:    longEntry - stopDistance,
		ShortStopLoss:   shortEntry + stopDistance,
		LongTakeProfit:  longEntry + takeProfitDistance,
		ShortTakeProfit: shortEntry - takeProfitDistance,
	}

	b.logger.Info("Breakout levels calculated",
		zap.Float64("range_size", rangeSize),
		zap.Float64("long_entry", levels.LongEntry),
		zap.Float64("long_stop_loss", levels.LongStopLoss),
		zap.Float64("long_take_profit", levels.LongTakeProfit),
		zap.Float64("short_entry", levels.ShortEntry),
		zap.Float64("short_stop_loss", levels.ShortStopLoss),
		zap.Float64("short_take_profit", levels.ShortTakeProfit))

	return levels, nil
}

// ShouldTakeTrade reports whether a breakout trade should be taken. It is a
// pure predicate: the range is re-checked defensively and, when a time is
// supplied, entries outside the trading window are refused.
func (b *Breakout) ShouldTakeTrade(levels *Levels, currentTime time.Time) bool {
	if !b.isValidRange(levels.RangeSize) {
		b.logger.Warn("Range size invalid, skipping trade",
			zap.Float64("range_size", levels.RangeSize))
		return false
	}

	if !currentTime.IsZero() && !b.isValidTradeTime(currentTime) {
		b.logger.Info("Outside valid trading hours, skipping trade",
			zap.Time("current_time", currentTime))
		return false
	}

	return true
}

// StopDistance returns the stop-loss distance in points. With dynamic stops
// enabled the distance scales with the range size, clamped to fixed bounds;
// otherwise the configured fixed distance is used.
func (b *Breakout) StopDistance(rangeSize float64) float64 {
	if b.cfg.UseDynamicStops {
		dynamic := rangeSize * b.cfg.DynamicStopMultiplier
		if dynamic > dynamicStopCeiling {
			return dynamicStopCeiling
		}
		if dynamic < dynamicStopFloor {
			return dynamicStopFloor
		}
		return dynamic
	}
	return b.cfg.StopLossPoints
}

// TakeProfitDistance returns the take-profit distance for a given stop
// distance, per the configured risk:reward ratio.
func (b *Breakout) TakeProfitDistance(stopDistance float64) float64 {
	return stopDistance * b.cfg.RiskRewardRatio
}

func (b *Breakout) isValidRange(rangeSize float64) bool {
	return b.cfg.MinRangeSize < rangeSize && rangeSize <= b.cfg.MaxRangeSize
}

func (b *Breakout) isValidTradeTime(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	return tradeWindowStart.minutes() <= m && m <= tradeWindowEnd.minutes()
}
