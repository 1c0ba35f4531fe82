// Package session sequences one trading day: wait out the opening range,
// derive breakout levels, place the bracket pair and watch the session
// until completion or the hard end-of-day boundary.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"breakout-bot-go/internal/alpaca"
	"breakout-bot-go/internal/marketdata"
	"breakout-bot-go/internal/orders"
	"breakout-bot-go/internal/risk"
	"breakout-bot-go/internal/strategy"
	"go.uber.org/zap"
)

const (
	openingRangeWait = 15 * time.Minute

	// Hard session end: nothing may rest past 15:30 market time.
	sessionEndHour   = 15
	sessionEndMinute = 30

	defaultWaitPoll     = time.Minute
	defaultMonitorPoll  = 30 * time.Second
	defaultErrorBackoff = time.Minute
)

// Driver orchestrates the once-per-day breakout session.
type Driver struct {
	symbol   string
	api      alpaca.ClientInterface
	fetcher  *marketdata.Fetcher
	breakout *strategy.Breakout
	ledger   *risk.Ledger
	manager  *orders.Manager
	loc      *time.Location
	logger   *zap.Logger
	now      func() time.Time

	waitPoll     time.Duration
	monitorPoll  time.Duration
	errorBackoff time.Duration
}

// NewDriver creates a session driver for one symbol.
func NewDriver(symbol string, api alpaca.ClientInterface, fetcher *marketdata.Fetcher,
	breakout *strategy.Breakout, ledger *risk.Ledger, manager *orders.Manager,
	loc *time.Location, logger *zap.Logger) *Driver {

	return &Driver{
		symbol:       symbol,
		api:          api,
		fetcher:      fetcher,
		breakout:     breakout,
		ledger:       ledger,
		manager:      manager,
		loc:          loc,
		logger:       logger,
		now:          time.Now,
		waitPoll:     defaultWaitPoll,
		monitorPoll:  defaultMonitorPoll,
		errorBackoff: defaultErrorBackoff,
	}
}

// Run executes one trading session. Session-level failures (market closed,
// invalid range, risk-blocked) produce a graceful no-trade outcome and a
// nil error; only unexpected gateway failures are reported upward.
func (d *Driver) Run(ctx context.Context) error {
	stats := d.ledger.DailyStats()
	d.logger.Info("Starting trading session",
		zap.String("symbol", d.symbol),
		zap.String("date", stats.Date),
		zap.Float64("daily_pnl", stats.DailyPnl),
		zap.Int("trades_today", stats.TradesToday))

	if err := d.waitForOpeningRange(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		d.logger.Warn("No session today", zap.Error(err))
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}

	err := d.executeStrategy(ctx)
	d.logSessionSummary()
	return err
}

// waitForOpeningRange blocks until 15 minutes after market open, waking
// periodically so shutdown is observed within one poll interval.
func (d *Driver) waitForOpeningRange(ctx context.Context) error {
	now := d.now().In(d.loc)
	open := d.fetcher.MarketOpen(now)
	if open.IsZero() {
		return fmt.Errorf("market is closed on %s", now.Format("2006-01-02"))
	}

	target := open.Add(openingRangeWait)
	if !now.Before(target) {
		return nil
	}

	d.logger.Info("Waiting for opening range to complete",
		zap.Time("target", target),
		zap.Duration("remaining", target.Sub(now)))

	for {
		now = d.now().In(d.loc)
		remaining := target.Sub(now)
		if remaining <= 0 {
			return nil
		}

		wait := d.waitPoll
		if remaining < wait {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// executeStrategy runs the breakout placement sequence once.
func (d *Driver) executeStrategy(ctx context.Context) error {
	now := d.now().In(d.loc)

	if !d.fetcher.IsMarketOpen(now) {
		d.logger.Warn("Market is not open, skipping trading")
		return nil
	}

	equity, err := d.api.GetAccountEquity()
	if err != nil {
		return fmt.Errorf("could not get account equity: %w", err)
	}
	d.logger.Info("Session account snapshot", zap.Float64("equity", equity))

	if !d.ledger.CanTrade(equity) {
		d.logger.Info("Risk limits reached, no trading today")
		return nil
	}

	high, low, err := d.fetcher.OpeningRange(d.symbol, now)
	if err != nil {
		return fmt.Errorf("could not fetch opening range: %w", err)
	}

	levels, err := d.breakout.CalculateLevels(high, low)
	if err != nil {
		var rangeErr *strategy.InvalidRangeError
		if errors.As(err, &rangeErr) {
			d.logger.Warn("Opening range unsuitable, skipping trade", zap.Error(err))
			return nil
		}
		return err
	}

	if !d.breakout.ShouldTakeTrade(levels, d.now().In(d.loc)) {
		d.logger.Warn("Strategy conditions not met, skipping trade")
		return nil
	}

	stopPoints := d.breakout.StopDistance(levels.RangeSize)
	takeProfitPoints := d.breakout.TakeProfitDistance(stopPoints)

	pair, err := d.manager.PlaceBreakoutOrders(d.symbol,
		levels.LongEntry, levels.ShortEntry, stopPoints, takeProfitPoints, equity)
	if err != nil {
		d.logger.Error("Failed to place breakout orders", zap.Error(err))
		return nil // recoverable at session level; the day is simply skipped
	}
	levels.PositionSize = pair.PositionSize

	d.monitorSession(ctx)
	return nil
}

// monitorSession polls until no active orders remain, risk limits trip, the
// context is cancelled or the hard session end is reached. Anything still
// open at the boundary is cancelled.
func (d *Driver) monitorSession(ctx context.Context) {
	now := d.now().In(d.loc)
	sessionEnd := time.Date(now.Year(), now.Month(), now.Day(),
		sessionEndHour, sessionEndMinute, 0, 0, d.loc)

	d.logger.Info("Monitoring trading session", zap.Time("session_end", sessionEnd))

	for ctx.Err() == nil && d.now().In(d.loc).Before(sessionEnd) {
		if !d.manager.HasActiveOrders(d.symbol) {
			d.logger.Info("No active orders remaining, trading session complete")
			break
		}

		delay := d.monitorPoll
		equity, err := d.api.GetAccountEquity()
		if err != nil {
			d.logger.Error("Error monitoring trading session", zap.Error(err))
			delay = d.errorBackoff
		} else if !d.ledger.CanTrade(equity) {
			d.logger.Info("Daily limits reached, cancelling remaining orders")
			if err := d.manager.CancelAllPending(d.symbol); err != nil {
				d.logger.Warn("Failed to cancel remaining orders", zap.Error(err))
			}
			break
		}

		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}

	if d.manager.HasActiveOrders(d.symbol) {
		d.logger.Info("End of trading session, cancelling remaining orders")
		if err := d.manager.CancelAllPending(d.symbol); err != nil {
			d.logger.Warn("Failed to cancel remaining orders at session end", zap.Error(err))
		}
	}
}

func (d *Driver) logSessionSummary() {
	stats := d.ledger.DailyStats()
	executions := d.manager.Executions()

	d.logger.Info("Trading session summary",
		zap.String("symbol", d.symbol),
		zap.Float64("daily_pnl", stats.DailyPnl),
		zap.Int("trades_executed", len(executions)),
		zap.Int("trades_today", stats.TradesToday),
		zap.Int("max_trades_per_day", stats.MaxTradesPerDay))

	for _, trade := range executions {
		d.logger.Info("Trade summary",
			zap.String("side", trade.Side),
			zap.String("symbol", trade.Symbol),
			zap.Int("quantity", trade.Quantity),
			zap.Float64("entry_price", trade.EntryPrice),
			zap.Float64("stop_loss", trade.StopLoss),
			zap.Float64("take_profit", trade.TakeProfit))
	}
}
