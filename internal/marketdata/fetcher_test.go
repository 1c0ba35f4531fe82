package marketdata

import (
	"errors"
	"testing"
	"time"

	"breakout-bot-go/internal/alpaca"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockClient is a mock implementation of the alpaca.ClientInterface.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) GetAccountEquity() (float64, error) {
	args := m.Called()
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockClient) GetHistoricalBars(symbol, timeframe string, start, end time.Time) ([]alpaca.Bar, error) {
	args := m.Called(symbol, timeframe, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]alpaca.Bar), args.Error(1)
}

func (m *MockClient) GetLatestPrice(symbol string) (float64, error) {
	args := m.Called(symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockClient) SubmitOrder(req alpaca.OrderRequest) (*alpaca.Order, error) {
	args := m.Called(req)
	return args.Get(0).(*alpaca.Order), args.Error(1)
}

func (m *MockClient) CancelOrder(orderID string) error {
	args := m.Called(orderID)
	return args.Error(0)
}

func (m *MockClient) CancelAllOrders() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockClient) GetOrderStatus(orderID string) (*alpaca.Order, error) {
	args := m.Called(orderID)
	return args.Get(0).(*alpaca.Order), args.Error(1)
}

func newTestFetcher(t *testing.T) (*Fetcher, *MockClient) {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	mockClient := new(MockClient)
	return NewFetcher(mockClient, loc, zap.NewNop()), mockClient
}

func TestOpeningRange(t *testing.T) {
	f, mockClient := newTestFetcher(t)

	// Monday 2025-06-02.
	date := time.Date(2025, 6, 2, 10, 0, 0, 0, f.loc)
	open := time.Date(2025, 6, 2, 9, 30, 0, 0, f.loc)

	mockClient.On("GetHistoricalBars", "QQQ", "1Min", open, open.Add(15*time.Minute)).
		Return([]alpaca.Bar{
			{High: 15010, Low: 14990},
			{High: 15035, Low: 15000},
			{High: 15020, Low: 14980},
		}, nil)

	high, low, err := f.OpeningRange("QQQ", date)

	require.NoError(t, err)
	assert.Equal(t, 15035.0, high)
	assert.Equal(t, 14980.0, low)
	mockClient.AssertExpectations(t)
}

func TestOpeningRange_NoBars(t *testing.T) {
	f, mockClient := newTestFetcher(t)

	date := time.Date(2025, 6, 2, 10, 0, 0, 0, f.loc)
	mockClient.On("GetHistoricalBars", "QQQ", "1Min", mock.Anything, mock.Anything).
		Return([]alpaca.Bar{}, nil)

	_, _, err := f.OpeningRange("QQQ", date)

	var fetchErr *FetchError
	assert.ErrorAs(t, err, &fetchErr)
	assert.Contains(t, err.Error(), "no market data")
}

func TestOpeningRange_Weekend(t *testing.T) {
	f, mockClient := newTestFetcher(t)

	// Saturday 2025-06-07.
	date := time.Date(2025, 6, 7, 10, 0, 0, 0, f.loc)

	_, _, err := f.OpeningRange("QQQ", date)

	var fetchErr *FetchError
	assert.ErrorAs(t, err, &fetchErr)
	mockClient.AssertNotCalled(t, "GetHistoricalBars",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOpeningRange_FetchError(t *testing.T) {
	f, mockClient := newTestFetcher(t)

	date := time.Date(2025, 6, 2, 10, 0, 0, 0, f.loc)
	mockClient.On("GetHistoricalBars", "QQQ", "1Min", mock.Anything, mock.Anything).
		Return(nil, errors.New("API down"))

	_, _, err := f.OpeningRange("QQQ", date)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "API down")
}

func TestLatestPrice(t *testing.T) {
	f, mockClient := newTestFetcher(t)

	mockClient.On("GetLatestPrice", "QQQ").Return(15042.75, nil)

	price, err := f.LatestPrice("QQQ")

	assert.NoError(t, err)
	assert.Equal(t, 15042.75, price)
}

func TestIsMarketOpen(t *testing.T) {
	f, _ := newTestFetcher(t)

	day := func(d, hour, minute int) time.Time {
		return time.Date(2025, 6, d, hour, minute, 0, 0, f.loc)
	}

	assert.True(t, f.IsMarketOpen(day(2, 9, 30)), "open boundary is inclusive")
	assert.True(t, f.IsMarketOpen(day(2, 12, 0)))
	assert.True(t, f.IsMarketOpen(day(2, 16, 0)), "close boundary is inclusive")
	assert.False(t, f.IsMarketOpen(day(2, 9, 29)))
	assert.False(t, f.IsMarketOpen(day(2, 16, 1)))
	assert.False(t, f.IsMarketOpen(day(7, 12, 0)), "Saturday")
	assert.False(t, f.IsMarketOpen(day(8, 12, 0)), "Sunday")
}

func TestMarketOpen(t *testing.T) {
	f, _ := newTestFetcher(t)

	open := f.MarketOpen(time.Date(2025, 6, 2, 14, 0, 0, 0, f.loc))
	assert.Equal(t, time.Date(2025, 6, 2, 9, 30, 0, 0, f.loc), open)

	assert.True(t, f.MarketOpen(time.Date(2025, 6, 7, 14, 0, 0, 0, f.loc)).IsZero())
}
