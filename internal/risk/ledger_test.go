package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore is an in-memory Store for ledger tests.
type memStore struct {
	state *State
	saves int
}

func (s *memStore) Load() (*State, error) { return s.state, nil }

func (s *memStore) Save(state *State) error {
	cp := *state
	cp.History = append([]TradeResult(nil), state.History...)
	s.state = &cp
	s.saves++
	return nil
}

func testParams() Params {
	return Params{
		MaxDailyLossPercent: 0.02,
		MaxTradesPerDay:     2,
		DefaultRiskPercent:  0.005,
		PointValue:          1.0,
	}
}

func newTestLedger(t *testing.T, params Params, store Store, now time.Time) *Ledger {
	t.Helper()
	if store == nil {
		store = &memStore{}
	}
	l := NewLedger(params, store, time.UTC, zap.NewNop())
	l.now = func() time.Time { return now }
	l.state.CurrentDate = now.UTC().Format(dateLayout)
	return l
}

func TestCalculatePositionSize_Monotonic(t *testing.T) {
	params := testParams()
	params.PointValue = 5.0
	l := newTestLedger(t, params, nil, time.Now())

	// equity=100000, risk 0.5% => budget 500; point value 5.
	size20, err := l.CalculatePositionSize(100000, 15050, 15030)
	require.NoError(t, err)
	assert.Equal(t, 5, size20) // 500 / (20*5)

	size30, err := l.CalculatePositionSize(100000, 15050, 15020)
	require.NoError(t, err)
	assert.Equal(t, 3, size30) // floor(500 / 150)

	assert.LessOrEqual(t, size30, size20, "wider stops never size larger")
}

func TestCalculatePositionSize_MinimumFloor(t *testing.T) {
	l := newTestLedger(t, testParams(), nil, time.Now())

	// Budget 5 against a 10-point stop: raw size 0.5 still yields 1.
	size, err := l.CalculatePositionSize(1000, 100, 90)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestCalculatePositionSize_Errors(t *testing.T) {
	l := newTestLedger(t, testParams(), nil, time.Now())

	var riskErr *RiskLimitError

	_, err := l.CalculatePositionSize(100000, 15050, 15050)
	assert.ErrorAs(t, err, &riskErr, "zero price distance")

	_, err = l.CalculatePositionSize(0, 15050, 15025)
	assert.ErrorAs(t, err, &riskErr, "non-positive equity")

	_, err = l.CalculatePositionSize(-500, 15050, 15025)
	assert.ErrorAs(t, err, &riskErr)
}

func TestCheckDailyLoss_InclusiveBoundary(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	l := newTestLedger(t, testParams(), nil, now)

	// Max daily loss at 100k equity is 2000.
	l.RecordTradeResult(-1500, "QQQ", 5, 15050, 14750)

	assert.True(t, l.CheckDailyLoss(100000, 500), "exactly at the limit passes")
	assert.False(t, l.CheckDailyLoss(100000, 501), "one unit over fails")
	assert.True(t, l.CheckDailyLoss(100000))
}

func TestCheckDailyLoss_ProfitsDoNotOffset(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	l := newTestLedger(t, testParams(), nil, now)

	l.RecordTradeResult(1000, "QQQ", 5, 15050, 15250)

	// A positive day contributes no loss; the full limit is available.
	assert.True(t, l.CheckDailyLoss(100000, 2000))
	assert.False(t, l.CheckDailyLoss(100000, 2001))
}

func TestCheckTradeCount_ExclusiveBoundary(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	l := newTestLedger(t, testParams(), nil, now)

	assert.True(t, l.CheckTradeCount())

	l.RecordTradeResult(100, "QQQ", 5, 15050, 15070)
	assert.True(t, l.CheckTradeCount(), "after one of two trades")

	l.RecordTradeResult(-50, "QQQ", 5, 15040, 15030)
	assert.False(t, l.CheckTradeCount(), "at the max the check fails")
	assert.False(t, l.CanTrade(100000))
}

func TestNewLedger_DiscardsStaleState(t *testing.T) {
	now := time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)
	store := &memStore{state: &State{
		CurrentDate: "2025-06-02",
		DailyPnl:    -5000,
		TradesToday: 2,
	}}

	l := NewLedger(testParams(), store, time.UTC, zap.NewNop())
	l.now = func() time.Time { return now }

	stats := l.DailyStats()
	assert.Equal(t, 0.0, stats.DailyPnl)
	assert.Equal(t, 0, stats.TradesToday)
	assert.True(t, l.CanTrade(100000))
}

func TestNewLedger_LoadsSameDayState(t *testing.T) {
	now := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	store := &memStore{state: &State{
		CurrentDate: "2025-06-02",
		DailyPnl:    -300,
		TradesToday: 1,
	}}

	l := NewLedger(testParams(), store, time.UTC, zap.NewNop())
	l.now = func() time.Time { return now }

	stats := l.DailyStats()
	assert.Equal(t, -300.0, stats.DailyPnl)
	assert.Equal(t, 1, stats.TradesToday)
	assert.True(t, l.CheckTradeCount())
}

func TestLedger_LazyRolloverAcrossDays(t *testing.T) {
	current := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	store := &memStore{}
	l := NewLedger(testParams(), store, time.UTC, zap.NewNop())
	l.now = func() time.Time { return current }

	l.RecordTradeResult(-900, "QQQ", 3, 15050, 14750)
	l.RecordTradeResult(-800, "QQQ", 3, 15040, 14775)
	assert.False(t, l.CheckTradeCount())

	// The next limit check on the following day rolls the counters over.
	current = current.Add(24 * time.Hour)
	assert.True(t, l.CheckTradeCount())

	stats := l.DailyStats()
	assert.Equal(t, "2025-06-03", stats.Date)
	assert.Equal(t, 0.0, stats.DailyPnl)
	assert.Equal(t, 0, stats.TradesToday)
}

func TestRecordTradeResult_PersistsSynchronously(t *testing.T) {
	now := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	store := &memStore{}
	l := newTestLedger(t, testParams(), store, now)

	l.RecordTradeResult(250, "QQQ", 5, 15050, 15100)

	require.NotNil(t, store.state)
	assert.Equal(t, 250.0, store.state.DailyPnl)
	assert.Equal(t, 1, store.state.TradesToday)
	require.Len(t, store.state.History, 1)
	assert.Equal(t, "QQQ", store.state.History[0].Symbol)
	assert.Equal(t, 5, store.state.History[0].Quantity)
	assert.Equal(t, 1, store.saves)
}

func TestRollIfStale_PrunesOldHistory(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	state := State{
		CurrentDate: "2025-05-30",
		DailyPnl:    -120,
		TradesToday: 1,
		History: []TradeResult{
			{Timestamp: now.AddDate(0, 0, -40), Symbol: "QQQ", Pnl: 10},
			{Timestamp: now.AddDate(0, 0, -3), Symbol: "QQQ", Pnl: -120},
		},
	}

	rolled := rollIfStale(state, "2025-06-02", now)

	assert.Equal(t, "2025-06-02", rolled.CurrentDate)
	assert.Equal(t, 0.0, rolled.DailyPnl)
	assert.Equal(t, 0, rolled.TradesToday)
	require.Len(t, rolled.History, 1, "entries older than 30 days are pruned")
	assert.Equal(t, -120.0, rolled.History[0].Pnl)

	// Same-date state is returned unchanged.
	same := rollIfStale(rolled, "2025-06-02", now)
	assert.Equal(t, rolled, same)
}
