// Package bybit reads linear perpetual funding data through the Bybit v5
// market endpoints.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"

	"fundingsim/config"
	"fundingsim/logger"
	"fundingsim/models"
	"fundingsim/reader"
)

const (
	// DefaultURL is the Bybit mainnet REST endpoint.
	DefaultURL = "https://api.bybit.com"

	venue    = config.VenueBybit
	category = "linear"
)

type tickers struct {
	List []struct {
		Symbol      string `json:"symbol"`
		MarkPrice   string `json:"markPrice"`
		FundingRate string `json:"fundingRate"`
	} `json:"list"`
}

type instruments struct {
	List []struct {
		Symbol          string `json:"symbol"`
		FundingInterval int    `json:"fundingInterval"` // minutes
		LeverageFilter  struct {
			MaxLeverage string `json:"maxLeverage"`
		} `json:"leverageFilter"`
	} `json:"list"`
}

// Reader implements reader.Source.
type Reader struct {
	client *bybit.Client
	now    func() time.Time
	log    *logger.Log
}

// New builds a reader against base, or DefaultURL when base is empty.
func New(base string, httpClient *http.Client) *Reader {
	if base == "" {
		base = DefaultURL
	}
	client := bybit.NewBybitHttpClient("", "", bybit.WithBaseURL(strings.TrimRight(base, "/")))
	if httpClient != nil {
		client.HTTPClient = httpClient
	}

	r := &Reader{client: client, now: time.Now, log: logger.GetLogger()}
	r.log.WithComponent("bybit_reader").WithFields(logger.Fields{
		"base_url": base,
	}).Debug("bybit reader initialized")
	return r
}

// WithClock replaces the clock used when the exchange omits a timestamp.
func (r *Reader) WithClock(now func() time.Time) *Reader {
	r.now = now
	return r
}

func (r *Reader) Venue() string { return venue }

// Fetch returns the ticker mark price and funding rate for a symbol such as
// "BTCUSDT" with the instrument's funding interval.
func (r *Reader) Fetch(ctx context.Context, symbol string) (models.MarketSample, error) {
	log := r.log.WithComponent("bybit_reader").WithFields(logger.Fields{
		"symbol":    symbol,
		"operation": "fetch_ticker",
	})
	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
	}

	start := time.Now()
	resp, err := r.client.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return models.MarketSample{}, reader.Unavailable(venue, symbol, err)
	}
	logger.LogPerformanceEntry(log, "bybit_reader", "api_request", time.Since(start), nil)

	var t tickers
	if err := decodeResult(resp, &t); err != nil {
		return models.MarketSample{}, reader.Unavailable(venue, symbol, err)
	}
	idx := -1
	for i := range t.List {
		if strings.EqualFold(t.List[i].Symbol, symbol) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return models.MarketSample{}, reader.Malformed(venue, symbol, "symbol missing from tickers")
	}
	tk := t.List[idx]

	mark, err := reader.ParseDecimal("markPrice", tk.MarkPrice)
	if err != nil {
		return models.MarketSample{}, reader.Malformed(venue, symbol, "%v", err)
	}
	funding, err := reader.ParseDecimal("fundingRate", tk.FundingRate)
	if err != nil {
		return models.MarketSample{}, reader.Malformed(venue, symbol, "%v", err)
	}

	observed := r.now().UTC()
	if resp.Time > 0 {
		observed = time.UnixMilli(resp.Time).UTC()
	}

	minutes, leverage, err := r.instrument(ctx, symbol)
	if err != nil {
		return models.MarketSample{}, reader.Unavailable(venue, symbol, err)
	}
	// zero passes through for the simulator to reject
	if minutes%60 != 0 {
		return models.MarketSample{}, reader.Malformed(venue, symbol,
			"funding interval of %d minutes is not a whole number of hours", minutes)
	}
	hours := minutes / 60

	return models.MarketSample{
		Venue:                venue,
		Symbol:               tk.Symbol,
		MarkPrice:            mark,
		FundingRate:          funding,
		FundingIntervalHours: hours,
		MaxLeverage:          leverage,
		ObservedAt:           observed,
	}, nil
}

// instrument returns the funding interval in minutes and the max leverage.
func (r *Reader) instrument(ctx context.Context, symbol string) (int, int, error) {
	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
	}
	resp, err := r.client.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	if err != nil {
		return 0, 0, err
	}
	var in instruments
	if err := decodeResult(resp, &in); err != nil {
		return 0, 0, err
	}
	for _, item := range in.List {
		if !strings.EqualFold(item.Symbol, symbol) {
			continue
		}
		leverage := 0
		if lv, err := reader.ParseDecimal("maxLeverage", item.LeverageFilter.MaxLeverage); err == nil {
			leverage = int(lv.IntPart())
		}
		return item.FundingInterval, leverage, nil
	}
	return 0, 0, fmt.Errorf("symbol missing from instruments")
}

func decodeResult(resp *bybit.ServerResponse, out interface{}) error {
	if resp == nil {
		return fmt.Errorf("empty response")
	}
	if resp.RetCode != 0 {
		return fmt.Errorf("retCode %d: %s", resp.RetCode, resp.RetMsg)
	}
	payload, err := json.Marshal(resp.Result)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, out)
}
