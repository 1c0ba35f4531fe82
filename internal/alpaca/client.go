package alpaca

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"breakout-bot-go/internal/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	tradingBaseURL = "https://api.alpaca.markets/v2"
	paperBaseURL   = "https://paper-api.alpaca.markets/v2"
	dataBaseURL    = "https://data.alpaca.markets/v2"

	OrderTypeStop   = "stop"
	OrderTypeMarket = "market"
	OrderSideBuy    = "buy"
	OrderSideSell   = "sell"

	OrderStatusFilled   = "filled"
	OrderStatusCanceled = "canceled"
	OrderStatusNew      = "new"

	TimeInForceDay = "day"
)

// APIError is an opaque brokerage-call failure. Status carries the HTTP
// status code when the failure came from a response; 0 means a transport
// or exhausted-retry failure.
type APIError struct {
	Status int
	Body   string
	Err    error
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("alpaca api error (status %d): %s", e.Status, e.Body)
	}
	return fmt.Sprintf("alpaca api error: %v", e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// Bar is a single OHLCV bar from the market data API.
type Bar struct {
	Timestamp time.Time `json:"t"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    int64     `json:"v"`
}

// Order is the brokerage's view of an order. Alpaca encodes numeric fields
// as strings; FilledAvgPrice is empty until something fills.
type Order struct {
	ID             string `json:"id"`
	Symbol         string `json:"symbol"`
	Qty            string `json:"qty"`
	Side           string `json:"side"`
	Type           string `json:"type"`
	Status         string `json:"status"`
	FilledQty      string `json:"filled_qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
	SubmittedAt    string `json:"submitted_at"`
	FilledAt       string `json:"filled_at"`
}

// FilledPrice returns the average fill price as a float, 0 when unfilled.
func (o *Order) FilledPrice() float64 {
	p, err := strconv.ParseFloat(o.FilledAvgPrice, 64)
	if err != nil {
		return 0
	}
	return p
}

// OrderRequest describes an order submission. When both TakeProfit and
// StopLoss are set the order is submitted as a single atomic bracket
// (entry trigger plus both exit legs), never as three independent orders.
type OrderRequest struct {
	Symbol      string
	Qty         int
	Side        string
	Type        string
	TimeInForce string
	LimitPrice  float64 // 0 = unset
	StopPrice   float64 // 0 = unset
	TakeProfit  float64 // 0 = unset
	StopLoss    float64 // 0 = unset
}

// ClientInterface defines the brokerage gateway contract consumed by the core.
type ClientInterface interface {
	GetAccountEquity() (float64, error)
	GetHistoricalBars(symbol, timeframe string, start, end time.Time) ([]Bar, error)
	GetLatestPrice(symbol string) (float64, error)
	SubmitOrder(req OrderRequest) (*Order, error)
	CancelOrder(orderID string) error
	CancelAllOrders() error
	GetOrderStatus(orderID string) (*Order, error)
}

// Client is a client for the Alpaca trading and market data REST APIs.
// It implements the ClientInterface.
type Client struct {
	trading *resty.Client
	data    *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
}

// ensure Client implements the interface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a new Alpaca REST API client.
func NewClient(cfg *config.Alpaca, logger *zap.Logger) *Client {
	var baseURL string
	if cfg.PaperTrading {
		baseURL = paperBaseURL
		logger.Warn("Using Alpaca paper trading API")
	} else {
		baseURL = tradingBaseURL
		logger.Info("Using Alpaca live trading API")
	}

	trading := resty.New().
		SetBaseURL(baseURL).
		SetHeader("APCA-API-KEY-ID", cfg.ApiKey).
		SetHeader("APCA-API-SECRET-KEY", cfg.SecretKey)

	data := resty.New().
		SetBaseURL(dataBaseURL).
		SetHeader("APCA-API-KEY-ID", cfg.ApiKey).
		SetHeader("APCA-API-SECRET-KEY", cfg.SecretKey)

	// Single limiter shared by both endpoints; the brokerage rate limit is
	// account-wide, not per-host.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &Client{
		trading: trading,
		data:    data,
		logger:  logger,
		limiter: limiter,
	}
}

// doRequest handles the actual request execution with rate limiting and retry logic.
// Rate-limit (429) and server (5xx) responses are retried with exponential
// backoff; other client errors surface immediately as *APIError.
func (c *Client) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &APIError{Err: fmt.Errorf("rate limiter wait failed: %w", err)}
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && resp.StatusCode() != 0 {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, &APIError{Status: resp.StatusCode(), Body: resp.String()}
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, &APIError{Err: ctx.Err()}
		}
	}

	return nil, &APIError{Err: fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)}
}

// accountResponse is the subset of GET /account we consume.
type accountResponse struct {
	Equity      string `json:"equity"`
	BuyingPower string `json:"buying_power"`
	Cash        string `json:"cash"`
}

// GetAccountEquity fetches the current account equity.
func (c *Client) GetAccountEquity() (float64, error) {
	req := c.trading.R().SetResult(&accountResponse{})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/account", req)
	if err != nil {
		c.logger.Error("Failed to get account info", zap.Error(err))
		return 0, fmt.Errorf("failed to get account info: %w", err)
	}

	result := resp.Result().(*accountResponse)
	equity, err := strconv.ParseFloat(result.Equity, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse account equity %q: %w", result.Equity, err)
	}

	c.logger.Info("Account info retrieved", zap.Float64("equity", equity))
	return equity, nil
}

// barsResponse is the envelope of GET /stocks/{symbol}/bars.
type barsResponse struct {
	Bars          []Bar  `json:"bars"`
	Symbol        string `json:"symbol"`
	NextPageToken string `json:"next_page_token"`
}

// GetHistoricalBars fetches OHLCV bars for a symbol over a time window.
// Timeframe uses Alpaca notation ("1Min", "15Min", "1Hour", "1Day").
func (c *Client) GetHistoricalBars(symbol, timeframe string, start, end time.Time) ([]Bar, error) {
	req := c.data.R().
		SetResult(&barsResponse{}).
		SetQueryParams(map[string]string{
			"timeframe":  timeframe,
			"start":      start.UTC().Format(time.RFC3339),
			"end":        end.UTC().Format(time.RFC3339),
			"adjustment": "raw",
			"limit":      "1000",
		})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/stocks/"+symbol+"/bars", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get bars for %s: %w", symbol, err)
	}

	result := resp.Result().(*barsResponse)
	c.logger.Info("Retrieved historical bars",
		zap.String("symbol", symbol),
		zap.String("timeframe", timeframe),
		zap.Int("count", len(result.Bars)))
	return result.Bars, nil
}

// latestTradeResponse is the envelope of GET /stocks/{symbol}/trades/latest.
type latestTradeResponse struct {
	Symbol string `json:"symbol"`
	Trade  struct {
		Price     float64   `json:"p"`
		Timestamp time.Time `json:"t"`
	} `json:"trade"`
}

// GetLatestPrice fetches the latest traded price for a symbol.
func (c *Client) GetLatestPrice(symbol string) (float64, error) {
	req := c.data.R().SetResult(&latestTradeResponse{})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/stocks/"+symbol+"/trades/latest", req)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest price for %s: %w", symbol, err)
	}

	result := resp.Result().(*latestTradeResponse)
	c.logger.Debug("Latest price retrieved",
		zap.String("symbol", symbol),
		zap.Float64("price", result.Trade.Price))
	return result.Trade.Price, nil
}

// SubmitOrder places a new order. When the request carries both take-profit
// and stop-loss prices it is submitted with order_class=bracket so the
// brokerage treats entry and exits as one atomic multi-leg order.
func (c *Client) SubmitOrder(orderReq OrderRequest) (*Order, error) {
	body := map[string]interface{}{
		"symbol":        orderReq.Symbol,
		"qty":           strconv.Itoa(orderReq.Qty),
		"side":          orderReq.Side,
		"type":          orderReq.Type,
		"time_in_force": orderReq.TimeInForce,
	}
	if orderReq.LimitPrice != 0 {
		body["limit_price"] = formatPrice(orderReq.LimitPrice)
	}
	if orderReq.StopPrice != 0 {
		body["stop_price"] = formatPrice(orderReq.StopPrice)
	}
	if orderReq.TakeProfit != 0 || orderReq.StopLoss != 0 {
		body["order_class"] = "bracket"
		if orderReq.TakeProfit != 0 {
			body["take_profit"] = map[string]string{"limit_price": formatPrice(orderReq.TakeProfit)}
		}
		if orderReq.StopLoss != 0 {
			body["stop_loss"] = map[string]string{"stop_price": formatPrice(orderReq.StopLoss)}
		}
	}

	req := c.trading.R().
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&Order{})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "POST", "/orders", req)
	if err != nil {
		c.logger.Error("Failed to submit order",
			zap.Error(err),
			zap.String("symbol", orderReq.Symbol),
			zap.String("side", orderReq.Side),
		)
		return nil, fmt.Errorf("failed to submit order: %w", err)
	}

	result := resp.Result().(*Order)
	c.logger.Info("Order submitted",
		zap.String("id", result.ID),
		zap.String("symbol", result.Symbol),
		zap.String("side", result.Side),
		zap.String("status", result.Status))
	return result, nil
}

// CancelOrder cancels an open order by ID.
func (c *Client) CancelOrder(orderID string) error {
	req := c.trading.R()
	ctx := context.Background()

	if _, err := c.doRequest(ctx, "DELETE", "/orders/"+orderID, req); err != nil {
		return fmt.Errorf("failed to cancel order %s: %w", orderID, err)
	}

	c.logger.Info("Order cancelled", zap.String("id", orderID))
	return nil
}

// CancelAllOrders cancels every open order on the account.
func (c *Client) CancelAllOrders() error {
	req := c.trading.R()
	ctx := context.Background()

	if _, err := c.doRequest(ctx, "DELETE", "/orders", req); err != nil {
		return fmt.Errorf("failed to cancel all orders: %w", err)
	}

	c.logger.Info("All open orders cancelled")
	return nil
}

// GetOrderStatus fetches the current state of an order by ID.
func (c *Client) GetOrderStatus(orderID string) (*Order, error) {
	req := c.trading.R().SetResult(&Order{})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/orders/"+orderID, req)
	if err != nil {
		return nil, fmt.Errorf("failed to get order status for %s: %w", orderID, err)
	}

	return resp.Result().(*Order), nil
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64)
}
