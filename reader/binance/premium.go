// Package binance reads USDⓈ-M perpetual funding data through the Binance
// futures REST API.
package binance

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"fundingsim/config"
	"fundingsim/logger"
	"fundingsim/models"
	"fundingsim/reader"
)

const (
	venue = config.VenueBinance

	// defaultIntervalHours applies to symbols missing from fundingInfo,
	// which only lists symbols with a non-standard schedule.
	defaultIntervalHours = 8
)

// Reader implements reader.Source on the premium index endpoint.
type Reader struct {
	client *futures.Client
	now    func() time.Time
	log    *logger.Log
}

// New builds a reader that talks to base, or the public futures endpoint
// when base is empty.
func New(base string, httpClient *http.Client) *Reader {
	client := futures.NewClient("", "")
	if httpClient != nil {
		client.HTTPClient = httpClient
	}
	if base = strings.TrimRight(base, "/"); base != "" {
		client.SetApiEndpoint(base)
	}

	r := &Reader{client: client, now: time.Now, log: logger.GetLogger()}
	r.log.WithComponent("binance_reader").WithFields(logger.Fields{
		"base_url": client.BaseURL,
	}).Debug("binance reader initialized")
	return r
}

// WithClock replaces the clock used when the exchange omits a timestamp.
func (r *Reader) WithClock(now func() time.Time) *Reader {
	r.now = now
	return r
}

func (r *Reader) Venue() string { return venue }

// Fetch returns mark price, last funding rate and funding interval for a
// symbol such as "BTCUSDT".
func (r *Reader) Fetch(ctx context.Context, symbol string) (models.MarketSample, error) {
	log := r.log.WithComponent("binance_reader").WithFields(logger.Fields{
		"symbol":    symbol,
		"operation": "premium_index",
	})

	start := time.Now()
	indexes, err := r.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return models.MarketSample{}, reader.Unavailable(venue, symbol, err)
	}
	logger.LogPerformanceEntry(log, "binance_reader", "api_request", time.Since(start), nil)

	var index *futures.PremiumIndex
	for _, idx := range indexes {
		if idx != nil && strings.EqualFold(idx.Symbol, symbol) {
			index = idx
			break
		}
	}
	if index == nil {
		return models.MarketSample{}, reader.Malformed(venue, symbol, "symbol missing from premium index")
	}

	mark, err := reader.ParseDecimal("markPrice", index.MarkPrice)
	if err != nil {
		return models.MarketSample{}, reader.Malformed(venue, symbol, "%v", err)
	}
	funding, err := reader.ParseDecimal("lastFundingRate", index.LastFundingRate)
	if err != nil {
		return models.MarketSample{}, reader.Malformed(venue, symbol, "%v", err)
	}

	hours, err := r.intervalHours(ctx, symbol)
	if err != nil {
		return models.MarketSample{}, reader.Unavailable(venue, symbol, err)
	}

	observed := r.now().UTC()
	if index.Time > 0 {
		observed = time.UnixMilli(index.Time).UTC()
	}

	return models.MarketSample{
		Venue:                venue,
		Symbol:               index.Symbol,
		MarkPrice:            mark,
		FundingRate:          funding,
		FundingIntervalHours: hours,
		ObservedAt:           observed,
	}, nil
}

func (r *Reader) intervalHours(ctx context.Context, symbol string) (int, error) {
	infos, err := r.client.NewFundingRateInfoService().Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, info := range infos {
		if info != nil && strings.EqualFold(info.Symbol, symbol) {
			return int(info.FundingIntervalHours), nil
		}
	}
	return defaultIntervalHours, nil
}
