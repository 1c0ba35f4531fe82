package alpaca

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// setupTestServer creates a test server and a Client configured to use it
// for both the trading and data endpoints.
func setupTestServer(handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)

	rc := resty.New().
		SetBaseURL(server.URL).
		SetHeader("APCA-API-KEY-ID", "test_api_key").
		SetHeader("APCA-API-SECRET-KEY", "test_secret_key")

	c := &Client{
		trading: rc,
		data:    rc,
		logger:  zap.NewNop(),
		limiter: rate.NewLimiter(rate.Inf, 1), // Allow all requests in tests
	}

	return c, server
}

func TestGetAccountEquity(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/account", r.URL.Path)
			assert.Equal(t, "test_api_key", r.Header.Get("APCA-API-KEY-ID"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"equity": "100000.50", "buying_power": "200000", "cash": "50000"}`))
		})

		c, server := setupTestServer(handler)
		defer server.Close()

		equity, err := c.GetAccountEquity()

		assert.NoError(t, err)
		assert.Equal(t, 100000.50, equity)
	})

	t.Run("ClientErrorNotRetried", func(t *testing.T) {
		calls := 0
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message": "forbidden"}`))
		})

		c, server := setupTestServer(handler)
		defer server.Close()

		equity, err := c.GetAccountEquity()

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "status 403")
		assert.Equal(t, 0.0, equity)
		assert.Equal(t, 1, calls, "client errors surface immediately")
	})

	t.Run("ServerErrorRetried", func(t *testing.T) {
		calls := 0
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if calls == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"equity": "100000"}`))
		})

		c, server := setupTestServer(handler)
		defer server.Close()

		equity, err := c.GetAccountEquity()

		assert.NoError(t, err)
		assert.Equal(t, 100000.0, equity)
		assert.Equal(t, 2, calls)
	})
}

func TestSubmitOrder(t *testing.T) {
	t.Run("BracketOrder", func(t *testing.T) {
		var body map[string]interface{}
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/orders", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id": "order-1", "symbol": "QQQ", "side": "buy", "status": "new"}`))
		})

		c, server := setupTestServer(handler)
		defer server.Close()

		order, err := c.SubmitOrder(OrderRequest{
			Symbol:      "QQQ",
			Qty:         20,
			Side:        OrderSideBuy,
			Type:        OrderTypeStop,
			TimeInForce: TimeInForceDay,
			StopPrice:   15050,
			TakeProfit:  15100,
			StopLoss:    15025,
		})

		require.NoError(t, err)
		assert.Equal(t, "order-1", order.ID)

		// The entry and both exits travel as one atomic bracket order.
		assert.Equal(t, "bracket", body["order_class"])
		assert.Equal(t, "20", body["qty"])
		assert.Equal(t, "stop", body["type"])
		assert.Equal(t, "15050.00", body["stop_price"])

		takeProfit := body["take_profit"].(map[string]interface{})
		assert.Equal(t, "15100.00", takeProfit["limit_price"])
		stopLoss := body["stop_loss"].(map[string]interface{})
		assert.Equal(t, "15025.00", stopLoss["stop_price"])
	})

	t.Run("PlainOrderHasNoBracket", func(t *testing.T) {
		var body map[string]interface{}
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id": "order-2", "status": "new"}`))
		})

		c, server := setupTestServer(handler)
		defer server.Close()

		_, err := c.SubmitOrder(OrderRequest{
			Symbol:      "QQQ",
			Qty:         1,
			Side:        OrderSideSell,
			Type:        OrderTypeMarket,
			TimeInForce: TimeInForceDay,
		})

		require.NoError(t, err)
		assert.NotContains(t, body, "order_class")
		assert.NotContains(t, body, "stop_price")
	})
}

func TestGetHistoricalBars(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stocks/QQQ/bars", r.URL.Path)
		assert.Equal(t, "1Min", r.URL.Query().Get("timeframe"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"bars": [
				{"t": "2025-06-02T13:30:00Z", "o": 15000, "h": 15010, "l": 14995, "c": 15005, "v": 1200},
				{"t": "2025-06-02T13:31:00Z", "o": 15005, "h": 15035, "l": 15001, "c": 15030, "v": 900}
			],
			"symbol": "QQQ"
		}`))
	})

	c, server := setupTestServer(handler)
	defer server.Close()

	start := time.Date(2025, 6, 2, 13, 30, 0, 0, time.UTC)
	bars, err := c.GetHistoricalBars("QQQ", "1Min", start, start.Add(15*time.Minute))

	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 15010.0, bars[0].High)
	assert.Equal(t, 15001.0, bars[1].Low)
	assert.True(t, start.Equal(bars[0].Timestamp))
}

func TestGetLatestPrice(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stocks/QQQ/trades/latest", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol": "QQQ", "trade": {"p": 15042.75, "t": "2025-06-02T14:00:00Z"}}`))
	})

	c, server := setupTestServer(handler)
	defer server.Close()

	price, err := c.GetLatestPrice("QQQ")

	assert.NoError(t, err)
	assert.Equal(t, 15042.75, price)
}

func TestCancelOrder(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/orders/order-1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	c, server := setupTestServer(handler)
	defer server.Close()

	assert.NoError(t, c.CancelOrder("order-1"))
}

func TestGetOrderStatus(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/order-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "order-1", "status": "filled", "filled_avg_price": "15051.25"}`))
	})

	c, server := setupTestServer(handler)
	defer server.Close()

	order, err := c.GetOrderStatus("order-1")

	require.NoError(t, err)
	assert.Equal(t, OrderStatusFilled, order.Status)
	assert.Equal(t, 15051.25, order.FilledPrice())
}

func TestOrderFilledPrice_Unfilled(t *testing.T) {
	order := &Order{Status: OrderStatusNew, FilledAvgPrice: ""}
	assert.Equal(t, 0.0, order.FilledPrice())
}
