// Package marketdata derives strategy inputs (the opening range, latest
// prices) from the brokerage's historical bar and trade endpoints.
package marketdata

import (
	"fmt"
	"time"

	"breakout-bot-go/internal/alpaca"
	"go.uber.org/zap"
)

const openingRangeMinutes = 15

// Market session boundaries in local market time.
var (
	marketOpenHour    = 9
	marketOpenMinute  = 30
	marketCloseHour   = 16
	marketCloseMinute = 0
)

// FetchError reports a failed market data retrieval.
type FetchError struct {
	Reason string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("market data: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("market data: %s", e.Reason)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher retrieves market data for the breakout strategy.
type Fetcher struct {
	api    alpaca.ClientInterface
	loc    *time.Location
	logger *zap.Logger
}

// NewFetcher creates a fetcher operating in the given market timezone.
func NewFetcher(api alpaca.ClientInterface, loc *time.Location, logger *zap.Logger) *Fetcher {
	return &Fetcher{api: api, loc: loc, logger: logger}
}

// OpeningRange returns the high and low of the first 15 minutes of trading
// on the given date, computed from 1-minute bars.
func (f *Fetcher) OpeningRange(symbol string, date time.Time) (high, low float64, err error) {
	open := f.MarketOpen(date)
	if open.IsZero() {
		return 0, 0, &FetchError{Reason: fmt.Sprintf("market is closed on %s", date.Format("2006-01-02"))}
	}
	rangeEnd := open.Add(openingRangeMinutes * time.Minute)

	f.logger.Info("Fetching opening range",
		zap.String("symbol", symbol),
		zap.Time("start", open),
		zap.Time("end", rangeEnd))

	bars, err := f.api.GetHistoricalBars(symbol, "1Min", open, rangeEnd)
	if err != nil {
		return 0, 0, &FetchError{Reason: "failed to get opening range bars", Err: err}
	}
	if len(bars) == 0 {
		return 0, 0, &FetchError{Reason: fmt.Sprintf("no market data available for %s", symbol)}
	}

	high = bars[0].High
	low = bars[0].Low
	for _, b := range bars[1:] {
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}

	f.logger.Info("Opening range computed",
		zap.String("symbol", symbol),
		zap.Float64("high", high),
		zap.Float64("low", low))

	return high, low, nil
}

// LatestPrice returns the latest traded price for the symbol.
func (f *Fetcher) LatestPrice(symbol string) (float64, error) {
	price, err := f.api.GetLatestPrice(symbol)
	if err != nil {
		return 0, &FetchError{Reason: "failed to get latest price", Err: err}
	}
	return price, nil
}

// CurrentBar returns the most recent 1-minute bar for the symbol.
func (f *Fetcher) CurrentBar(symbol string) (*alpaca.Bar, error) {
	now := time.Now().In(f.loc)
	bars, err := f.api.GetHistoricalBars(symbol, "1Min", now.Add(-5*time.Minute), now)
	if err != nil {
		return nil, &FetchError{Reason: "failed to get current bar", Err: err}
	}
	if len(bars) == 0 {
		return nil, &FetchError{Reason: fmt.Sprintf("no current bar data for %s", symbol)}
	}
	bar := bars[len(bars)-1]
	return &bar, nil
}

// IsMarketOpen reports whether the regular market session is open at t.
// Weekdays only; holidays are the calendar collaborator's concern.
func (f *Fetcher) IsMarketOpen(t time.Time) bool {
	t = t.In(f.loc)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}

	minutes := t.Hour()*60 + t.Minute()
	openMinutes := marketOpenHour*60 + marketOpenMinute
	closeMinutes := marketCloseHour*60 + marketCloseMinute
	return openMinutes <= minutes && minutes <= closeMinutes
}

// MarketOpen returns the market open instant for the given date, or the
// zero time on weekends.
func (f *Fetcher) MarketOpen(date time.Time) time.Time {
	date = date.In(f.loc)
	if date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
		return time.Time{}
	}
	return time.Date(date.Year(), date.Month(), date.Day(),
		marketOpenHour, marketOpenMinute, 0, 0, f.loc)
}
