// Package risk implements the daily risk ledger: equity-relative position
// sizing, the daily loss and trade-count limits, and the durable per-day
// state those limits are enforced against.
package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// historyRetention is how long individual trade results are kept in the
// rolling ledger history.
const historyRetention = 30 * 24 * time.Hour

// dateLayout is the calendar-date key used for day rollover.
const dateLayout = "2006-01-02"

// TradeResult is one realized trade outcome.
type TradeResult struct {
	Timestamp  time.Time
	Pnl        float64
	Symbol     string
	Quantity   int
	EntryPrice float64
	ExitPrice  float64
}

// State is the per-trading-day ledger aggregate.
type State struct {
	CurrentDate string // YYYY-MM-DD in the ledger timezone
	DailyPnl    float64
	TradesToday int
	History     []TradeResult
}

// Store is the persistence port for ledger state. Load is called once at
// construction; Save after every mutation.
type Store interface {
	Load() (*State, error)
	Save(*State) error
}

// Params holds the risk limit configuration.
type Params struct {
	MaxDailyLossPercent float64 // e.g. 0.02
	MaxTradesPerDay     int
	DefaultRiskPercent  float64 // e.g. 0.005
	PointValue          float64 // currency per point of price movement
}

// RiskLimitError reports a sizing failure or a risk precondition the
// ledger enforces.
type RiskLimitError struct {
	Reason string
}

func (e *RiskLimitError) Error() string {
	return fmt.Sprintf("risk limit exceeded: %s", e.Reason)
}

// Ledger tracks daily P/L and trade counts and sizes positions against
// account equity. All methods are safe for concurrent use.
type Ledger struct {
	params Params
	store  Store
	loc    *time.Location
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	state State
}

// NewLedger creates a ledger, loading any persisted state for today.
// Persisted state from a prior calendar date is discarded: the daily
// counters start from zero. A load failure is non-fatal for the same
// reason - the ledger simply starts fresh.
func NewLedger(params Params, store Store, loc *time.Location, logger *zap.Logger) *Ledger {
	l := &Ledger{
		params: params,
		store:  store,
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}

	today := l.today()
	l.state = State{CurrentDate: today}

	if persisted, err := store.Load(); err != nil {
		logger.Warn("Could not load persisted risk state, starting fresh", zap.Error(err))
	} else if persisted != nil {
		if persisted.CurrentDate == today {
			l.state = *persisted
			logger.Info("Loaded persisted daily risk state",
				zap.Float64("daily_pnl", l.state.DailyPnl),
				zap.Int("trades_today", l.state.TradesToday))
		} else {
			logger.Info("Persisted risk state is for a prior day, starting fresh",
				zap.String("persisted_date", persisted.CurrentDate),
				zap.String("today", today))
		}
	}

	logger.Info("Risk ledger initialized",
		zap.Float64("max_daily_loss_percent", params.MaxDailyLossPercent),
		zap.Int("max_trades_per_day", params.MaxTradesPerDay),
		zap.Float64("default_risk_percent", params.DefaultRiskPercent))

	return l
}

// CalculatePositionSize returns the number of units to trade so that the
// risk budget (equity * riskPercent) is not exceeded if the stop is hit.
// The size is floored, never rounded up; the single exception is the
// minimum-size floor of 1, which may exceed a sub-unit budget and is
// logged rather than refused.
func (l *Ledger) CalculatePositionSize(equity, entryPrice, stopPrice float64, riskPercent ...float64) (int, error) {
	pct := l.params.DefaultRiskPercent
	if len(riskPercent) > 0 {
		pct = riskPercent[0]
	}

	if equity <= 0 {
		return 0, &RiskLimitError{Reason: fmt.Sprintf("non-positive account equity %.2f", equity)}
	}

	priceRisk := math.Abs(entryPrice - stopPrice)
	perUnitRisk := priceRisk * l.params.PointValue
	if perUnitRisk <= 0 {
		return 0, &RiskLimitError{Reason: "entry and stop prices are the same"}
	}

	riskBudget := equity * pct
	size := int(math.Floor(riskBudget / perUnitRisk))

	if size < 1 {
		size = 1
		actualPct := perUnitRisk / equity
		l.logger.Warn("Minimum position size of 1 exceeds the risk budget",
			zap.Float64("actual_risk_percent", actualPct*100),
			zap.Float64("budgeted_risk_percent", pct*100))
	}

	l.logger.Info("Position size calculated",
		zap.Float64("equity", equity),
		zap.Float64("risk_budget", riskBudget),
		zap.Float64("price_risk_points", priceRisk),
		zap.Int("position_size", size))

	return size, nil
}

// CheckDailyLoss reports whether the daily loss limit allows further
// trading. Only realized losses count against the limit; profits do not
// offset. The boundary is inclusive: a loss exactly at the limit passes.
func (l *Ledger) CheckDailyLoss(equity float64, potentialLoss ...float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureCurrentDate()

	maxDailyLoss := equity * l.params.MaxDailyLossPercent
	currentLoss := math.Abs(math.Min(0, l.state.DailyPnl))

	totalLoss := currentLoss
	if len(potentialLoss) > 0 {
		totalLoss += math.Abs(potentialLoss[0])
	}

	withinLimits := totalLoss <= maxDailyLoss

	l.logger.Info("Daily loss check",
		zap.Float64("current_loss", currentLoss),
		zap.Float64("total_potential_loss", totalLoss),
		zap.Float64("max_daily_loss", maxDailyLoss),
		zap.Bool("within_limits", withinLimits))

	return withinLimits
}

// CheckTradeCount reports whether another trade is allowed today.
func (l *Ledger) CheckTradeCount() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureCurrentDate()

	withinLimits := l.state.TradesToday < l.params.MaxTradesPerDay

	l.logger.Info("Trade count check",
		zap.Int("trades_today", l.state.TradesToday),
		zap.Int("max_trades_per_day", l.params.MaxTradesPerDay),
		zap.Bool("within_limits", withinLimits))

	return withinLimits
}

// CanTrade reports whether all risk limits allow a new trade. The trade
// count is checked before the loss limit.
func (l *Ledger) CanTrade(equity float64, potentialLoss ...float64) bool {
	if !l.CheckTradeCount() {
		return false
	}
	return l.CheckDailyLoss(equity, potentialLoss...)
}

// RecordTradeResult records a completed trade, updates the daily counters
// and persists the new state synchronously. This is the ledger's only
// mutation path.
func (l *Ledger) RecordTradeResult(pnl float64, symbol string, quantity int, entryPrice, exitPrice float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureCurrentDate()

	l.state.DailyPnl += pnl
	l.state.TradesToday++
	l.state.History = append(l.state.History, TradeResult{
		Timestamp:  l.now().In(l.loc),
		Pnl:        pnl,
		Symbol:     symbol,
		Quantity:   quantity,
		EntryPrice: entryPrice,
		ExitPrice:  exitPrice,
	})

	l.persist()

	l.logger.Info("Trade result recorded",
		zap.String("symbol", symbol),
		zap.Int("quantity", quantity),
		zap.Float64("entry_price", entryPrice),
		zap.Float64("exit_price", exitPrice),
		zap.Float64("pnl", pnl),
		zap.Float64("daily_pnl", l.state.DailyPnl),
		zap.Int("trades_today", l.state.TradesToday))
}

// Stats is a read-only snapshot of the current daily state.
type Stats struct {
	Date            string
	DailyPnl        float64
	TradesToday     int
	MaxTradesPerDay int
	CanTradeMore    bool
}

// DailyStats returns a snapshot of today's ledger state.
func (l *Ledger) DailyStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureCurrentDate()

	return Stats{
		Date:            l.state.CurrentDate,
		DailyPnl:        l.state.DailyPnl,
		TradesToday:     l.state.TradesToday,
		MaxTradesPerDay: l.params.MaxTradesPerDay,
		CanTradeMore:    l.state.TradesToday < l.params.MaxTradesPerDay,
	}
}

// ensureCurrentDate lazily rolls the ledger over to today on the first
// check or record of a new calendar day. Callers must hold l.mu.
func (l *Ledger) ensureCurrentDate() {
	now := l.now().In(l.loc)
	today := now.Format(dateLayout)
	if l.state.CurrentDate == today {
		return
	}

	l.logger.Info("New trading day detected, resetting daily limits",
		zap.String("previous_date", l.state.CurrentDate),
		zap.String("current_date", today))

	l.state = rollIfStale(l.state, today, now)
	l.persist()
}

// persist writes the current state through the store. Callers must hold
// l.mu. Persistence failures are logged, not fatal: losing the file only
// resets limit usage.
func (l *Ledger) persist() {
	if err := l.store.Save(&l.state); err != nil {
		l.logger.Error("Failed to persist risk state", zap.Error(err))
	}
}

// rollIfStale returns the state adjusted for the given calendar date: a
// state already on that date is returned unchanged, otherwise the daily
// counters are zeroed and history older than the retention window pruned.
func rollIfStale(s State, today string, now time.Time) State {
	if s.CurrentDate == today {
		return s
	}

	cutoff := now.Add(-historyRetention)
	var kept []TradeResult
	for _, t := range s.History {
		if t.Timestamp.After(cutoff) {
			kept = append(kept, t)
		}
	}

	return State{
		CurrentDate: today,
		DailyPnl:    0,
		TradesToday: 0,
		History:     kept,
	}
}

func (l *Ledger) today() string {
	return l.now().In(l.loc).Format(dateLayout)
}
