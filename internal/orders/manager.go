// Package orders manages the breakout order lifecycle: placing the paired
// stop-entry bracket orders, polling for fills, cancelling the sibling of a
// filled side and recording the resulting execution.
package orders

import (
	"fmt"
	"math"
	"sync"
	"time"

	"breakout-bot-go/internal/alpaca"
	"breakout-bot-go/internal/risk"
	"go.uber.org/zap"
)

const (
	// SideLong and SideShort identify the two legs of a breakout pair.
	SideLong  = "long"
	SideShort = "short"

	defaultPollInterval = 10 * time.Second
	defaultErrorBackoff = 30 * time.Second
	monitorStopTimeout  = 5 * time.Second
)

// BreakoutOrderPair tracks the two live entry orders bracketing the opening
// range for one symbol. Owned exclusively by the Manager.
type BreakoutOrderPair struct {
	LongOrderID      string
	ShortOrderID     string
	Symbol           string
	LongEntry        float64
	ShortEntry       float64
	StopLossPoints   float64
	TakeProfitPoints float64
	PositionSize     int
}

// TradeExecution is the immutable record of a filled entry order.
type TradeExecution struct {
	OrderID    string
	Symbol     string
	Side       string
	Quantity   int
	EntryPrice float64
	Timestamp  time.Time
	StopLoss   float64
	TakeProfit float64
}

// OrderManagerError reports a failed placement or a violated placement
// precondition.
type OrderManagerError struct {
	Reason string
	Err    error
}

func (e *OrderManagerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order manager: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("order manager: %s", e.Reason)
}

func (e *OrderManagerError) Unwrap() error { return e.Err }

// Manager is the order lifecycle state machine. A background monitor
// goroutine polls order status while pairs are live; it stops itself once
// no symbol has an active pair.
type Manager struct {
	api    alpaca.ClientInterface
	ledger *risk.Ledger
	logger *zap.Logger
	now    func() time.Time

	pollInterval time.Duration
	errorBackoff time.Duration

	// placeMu serializes whole placements so two concurrent calls can
	// never race a pair into tracking for the same symbol.
	placeMu sync.Mutex

	mu         sync.Mutex
	active     map[string]*BreakoutOrderPair
	executed   []TradeExecution
	monitoring bool
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// NewManager creates an order manager.
func NewManager(api alpaca.ClientInterface, ledger *risk.Ledger, logger *zap.Logger) *Manager {
	return &Manager{
		api:          api,
		ledger:       ledger,
		logger:       logger,
		now:          time.Now,
		pollInterval: defaultPollInterval,
		errorBackoff: defaultErrorBackoff,
		active:       make(map[string]*BreakoutOrderPair),
	}
}

// PlaceBreakoutOrders submits a long and a short stop-entry order, each as a
// single atomic bracket carrying its protective stop and target. Placement
// is all-or-nothing: if the second submission fails the first is cancelled
// best-effort and nothing is tracked.
func (m *Manager) PlaceBreakoutOrders(symbol string, longEntry, shortEntry,
	stopLossPoints, takeProfitPoints float64, equity float64) (*BreakoutOrderPair, error) {

	m.placeMu.Lock()
	defer m.placeMu.Unlock()

	if m.HasActiveOrders(symbol) {
		return nil, &OrderManagerError{Reason: fmt.Sprintf("breakout pair already active for %s", symbol)}
	}

	if !m.ledger.CanTrade(equity) {
		return nil, &OrderManagerError{Reason: "risk limits prevent new trades"}
	}

	// Size against the long side's stop distance; the two sides carry
	// symmetric point distances so the size is reused for the short leg.
	longStopLoss := longEntry - stopLossPoints
	positionSize, err := m.ledger.CalculatePositionSize(equity, longEntry, longStopLoss)
	if err != nil {
		return nil, &OrderManagerError{Reason: "position sizing failed", Err: err}
	}
	if positionSize <= 0 {
		return nil, &OrderManagerError{Reason: "invalid position size calculated"}
	}

	longTakeProfit := longEntry + takeProfitPoints
	shortStopLoss := shortEntry + stopLossPoints
	shortTakeProfit := shortEntry - takeProfitPoints

	m.logger.Info("Placing breakout orders",
		zap.String("symbol", symbol),
		zap.Float64("long_entry", longEntry),
		zap.Float64("long_stop_loss", longStopLoss),
		zap.Float64("long_take_profit", longTakeProfit),
		zap.Float64("short_entry", shortEntry),
		zap.Float64("short_stop_loss", shortStopLoss),
		zap.Float64("short_take_profit", shortTakeProfit),
		zap.Int("position_size", positionSize))

	longOrder, err := m.api.SubmitOrder(alpaca.OrderRequest{
		Symbol:      symbol,
		Qty:         positionSize,
		Side:        alpaca.OrderSideBuy,
		Type:        alpaca.OrderTypeStop,
		TimeInForce: alpaca.TimeInForceDay,
		StopPrice:   longEntry,
		TakeProfit:  longTakeProfit,
		StopLoss:    longStopLoss,
	})
	if err != nil {
		return nil, &OrderManagerError{Reason: "failed to submit long breakout order", Err: err}
	}

	shortOrder, err := m.api.SubmitOrder(alpaca.OrderRequest{
		Symbol:      symbol,
		Qty:         positionSize,
		Side:        alpaca.OrderSideSell,
		Type:        alpaca.OrderTypeStop,
		TimeInForce: alpaca.TimeInForceDay,
		StopPrice:   shortEntry,
		TakeProfit:  shortTakeProfit,
		StopLoss:    shortStopLoss,
	})
	if err != nil {
		// All-or-nothing: unwind the long side so no untracked order rests.
		if cancelErr := m.api.CancelOrder(longOrder.ID); cancelErr != nil {
			m.logger.Error("Failed to cancel long order while unwinding placement",
				zap.String("order_id", longOrder.ID), zap.Error(cancelErr))
		}
		return nil, &OrderManagerError{Reason: "failed to submit short breakout order", Err: err}
	}

	pair := &BreakoutOrderPair{
		LongOrderID:      longOrder.ID,
		ShortOrderID:     shortOrder.ID,
		Symbol:           symbol,
		LongEntry:        longEntry,
		ShortEntry:       shortEntry,
		StopLossPoints:   stopLossPoints,
		TakeProfitPoints: takeProfitPoints,
		PositionSize:     positionSize,
	}

	m.mu.Lock()
	m.active[symbol] = pair
	m.startMonitoringLocked()
	m.mu.Unlock()

	m.logger.Info("Breakout orders placed",
		zap.String("symbol", symbol),
		zap.String("long_order_id", longOrder.ID),
		zap.String("short_order_id", shortOrder.ID))

	return pair, nil
}

// startMonitoringLocked starts the fill monitor if it is not running.
// Callers must hold m.mu.
func (m *Manager) startMonitoringLocked() {
	if m.monitoring {
		return
	}
	m.monitoring = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.monitorOrders(m.stopCh, m.doneCh)
	m.logger.Info("Order fill monitoring started")
}

// monitorOrders polls order status for every active pair until tracking is
// empty or the manager shuts down. Poll failures never kill the loop; they
// only stretch the next wait.
func (m *Manager) monitorOrders(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		delay := m.pollInterval
		if err := m.pollOnce(); err != nil {
			m.logger.Error("Error in order monitoring, backing off", zap.Error(err))
			delay = m.errorBackoff
		}

		m.mu.Lock()
		if len(m.active) == 0 {
			m.monitoring = false
			m.mu.Unlock()
			m.logger.Info("No active orders remain, fill monitoring stopped")
			return
		}
		m.mu.Unlock()

		select {
		case <-stop:
			return
		case <-time.After(delay):
		}
	}
}

// pollOnce checks both legs of every active pair and handles any fill.
func (m *Manager) pollOnce() error {
	m.mu.Lock()
	pairs := make([]*BreakoutOrderPair, 0, len(m.active))
	for _, p := range m.active {
		pairs = append(pairs, p)
	}
	m.mu.Unlock()

	var pollErr error
	for _, pair := range pairs {
		longStatus, err := m.checkOrderStatus(pair.LongOrderID)
		if err != nil {
			pollErr = err
			continue
		}
		if longStatus == alpaca.OrderStatusFilled {
			m.handleOrderFill(pair, SideLong)
			m.removeActive(pair.Symbol)
			continue
		}

		shortStatus, err := m.checkOrderStatus(pair.ShortOrderID)
		if err != nil {
			pollErr = err
			continue
		}
		if shortStatus == alpaca.OrderStatusFilled {
			m.handleOrderFill(pair, SideShort)
			m.removeActive(pair.Symbol)
		}
	}
	return pollErr
}

func (m *Manager) checkOrderStatus(orderID string) (string, error) {
	order, err := m.api.GetOrderStatus(orderID)
	if err != nil {
		m.logger.Warn("Error checking order status",
			zap.String("order_id", orderID), zap.Error(err))
		return "", err
	}
	return order.Status, nil
}

// handleOrderFill processes a filled entry: cancel the sibling leg, compute
// the realized stop and target from the actual fill price using the planned
// point distances, and append the execution record. The risk ledger is not
// touched here - a fill opens a position, it does not realize P/L.
func (m *Manager) handleOrderFill(pair *BreakoutOrderPair, side string) {
	filledID := pair.LongOrderID
	siblingID := pair.ShortOrderID
	if side == SideShort {
		filledID, siblingID = siblingID, filledID
	}

	order, err := m.api.GetOrderStatus(filledID)
	if err != nil {
		m.logger.Error("Failed to fetch filled order details",
			zap.String("order_id", filledID), zap.Error(err))
		return
	}
	entryPrice := order.FilledPrice()

	// Cancellation of the sibling is best-effort; a failure must not block
	// recording the fill.
	if err := m.api.CancelOrder(siblingID); err != nil {
		m.logger.Warn("Failed to cancel sibling order",
			zap.String("symbol", pair.Symbol),
			zap.String("order_id", siblingID),
			zap.Error(err))
	} else {
		m.logger.Info("Cancelled sibling order",
			zap.String("symbol", pair.Symbol),
			zap.String("order_id", siblingID))
	}

	var stopLoss, takeProfit, plannedEntry float64
	if side == SideLong {
		stopLoss = entryPrice - pair.StopLossPoints
		takeProfit = entryPrice + pair.TakeProfitPoints
		plannedEntry = pair.LongEntry
	} else {
		stopLoss = entryPrice + pair.StopLossPoints
		takeProfit = entryPrice - pair.TakeProfitPoints
		plannedEntry = pair.ShortEntry
	}

	// Slippage beyond the stop distance means realized risk differs badly
	// from plan; surface it loudly but still record the fill.
	if slippage := math.Abs(entryPrice - plannedEntry); slippage > pair.StopLossPoints {
		m.logger.Warn("Fill price slipped beyond the stop distance",
			zap.String("symbol", pair.Symbol),
			zap.Float64("planned_entry", plannedEntry),
			zap.Float64("fill_price", entryPrice),
			zap.Float64("slippage_points", slippage))
	}

	execution := TradeExecution{
		OrderID:    filledID,
		Symbol:     pair.Symbol,
		Side:       side,
		Quantity:   pair.PositionSize,
		EntryPrice: entryPrice,
		Timestamp:  m.now(),
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	}

	m.mu.Lock()
	m.executed = append(m.executed, execution)
	m.mu.Unlock()

	m.logger.Info("Breakout order filled",
		zap.String("symbol", pair.Symbol),
		zap.String("side", side),
		zap.Int("quantity", pair.PositionSize),
		zap.Float64("entry_price", entryPrice),
		zap.Float64("stop_loss", stopLoss),
		zap.Float64("take_profit", takeProfit))
}

func (m *Manager) removeActive(symbol string) {
	m.mu.Lock()
	delete(m.active, symbol)
	m.mu.Unlock()
}

// OnTradeExit records a closed position's result with the risk ledger.
// This is the sole point where daily P/L and trade-count state changes.
func (m *Manager) OnTradeExit(symbol string, exitPrice, pnl float64) {
	m.mu.Lock()
	var trade *TradeExecution
	for i := len(m.executed) - 1; i >= 0; i-- {
		if m.executed[i].Symbol == symbol {
			trade = &m.executed[i]
			break
		}
	}
	m.mu.Unlock()

	if trade == nil {
		m.logger.Warn("Trade exit for unknown symbol, nothing recorded",
			zap.String("symbol", symbol))
		return
	}

	m.ledger.RecordTradeResult(pnl, symbol, trade.Quantity, trade.EntryPrice, exitPrice)

	m.logger.Info("Trade exit recorded",
		zap.String("symbol", symbol),
		zap.Float64("exit_price", exitPrice),
		zap.Float64("pnl", pnl))
}

// CancelAllPending cancels open breakout orders. With a symbol it cancels
// both legs of that symbol's pair and drops it from tracking; with an empty
// symbol it cancels everything brokerage-side and clears all tracking.
func (m *Manager) CancelAllPending(symbol string) error {
	if symbol == "" {
		m.mu.Lock()
		m.active = make(map[string]*BreakoutOrderPair)
		m.mu.Unlock()

		if err := m.api.CancelAllOrders(); err != nil {
			m.logger.Error("Failed to cancel all orders", zap.Error(err))
			return err
		}
		m.logger.Info("All pending orders cancelled")
		return nil
	}

	m.mu.Lock()
	pair, ok := m.active[symbol]
	delete(m.active, symbol)
	m.mu.Unlock()

	if !ok {
		return nil
	}

	for _, id := range []string{pair.LongOrderID, pair.ShortOrderID} {
		if id == "" {
			continue
		}
		if err := m.api.CancelOrder(id); err != nil {
			m.logger.Warn("Failed to cancel pending order",
				zap.String("symbol", symbol),
				zap.String("order_id", id),
				zap.Error(err))
		}
	}

	m.logger.Info("Pending breakout orders cancelled", zap.String("symbol", symbol))
	return nil
}

// HasActiveOrders reports whether a pair is tracked for the symbol, or for
// any symbol when symbol is empty.
func (m *Manager) HasActiveOrders(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if symbol == "" {
		return len(m.active) > 0
	}
	_, ok := m.active[symbol]
	return ok
}

// ActiveOrders returns a copy of the active pair tracking table.
func (m *Manager) ActiveOrders() map[string]BreakoutOrderPair {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]BreakoutOrderPair, len(m.active))
	for sym, p := range m.active {
		out[sym] = *p
	}
	return out
}

// Executions returns a copy of the executed trade log.
func (m *Manager) Executions() []TradeExecution {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TradeExecution, len(m.executed))
	copy(out, m.executed)
	return out
}

// StopMonitoring stops the fill monitor and waits for it with a bounded
// timeout.
func (m *Manager) StopMonitoring() {
	m.mu.Lock()
	if !m.monitoring {
		m.mu.Unlock()
		return
	}
	m.monitoring = false
	close(m.stopCh)
	done := m.doneCh
	m.mu.Unlock()

	select {
	case <-done:
	case <-time.After(monitorStopTimeout):
		m.logger.Warn("Timed out waiting for order monitor to stop")
	}
	m.logger.Info("Order monitoring stopped")
}

// Cleanup stops monitoring and cancels every pending order. Called once at
// shutdown so no unmanaged bracket orders rest after the bot stops watching.
func (m *Manager) Cleanup() {
	m.StopMonitoring()
	if err := m.CancelAllPending(""); err != nil {
		m.logger.Error("Cleanup failed to cancel pending orders", zap.Error(err))
	}
	m.logger.Info("Order manager cleanup completed")
}
