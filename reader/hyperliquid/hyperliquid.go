// Package hyperliquid reads perpetual funding data from the Hyperliquid info
// endpoint.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"fundingsim/config"
	"fundingsim/logger"
	"fundingsim/models"
	"fundingsim/reader"
)

const (
	// DefaultURL is the public info endpoint.
	DefaultURL = "https://api.hyperliquid.xyz/info"

	venue = config.VenueHyperliquid

	// Hyperliquid settles funding every hour.
	fundingIntervalHours = 1

	maxBody = 8 << 20
)

type assetMeta struct {
	Name        string `json:"name"`
	MaxLeverage int    `json:"maxLeverage"`
	IsDelisted  bool   `json:"isDelisted"`
}

type meta struct {
	Universe []assetMeta `json:"universe"`
}

type assetCtx struct {
	Funding string `json:"funding"`
	MarkPx  string `json:"markPx"`
}

// Reader implements reader.Source and reader.Scanner.
type Reader struct {
	url    string
	client *http.Client
	now    func() time.Time
	log    *logger.Log
}

// New returns a reader posting to url, or DefaultURL when url is empty.
func New(url string, client *http.Client) *Reader {
	if url == "" {
		url = DefaultURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	r := &Reader{
		url:    url,
		client: client,
		now:    time.Now,
		log:    logger.GetLogger(),
	}
	r.log.WithComponent("hyperliquid_reader").WithFields(logger.Fields{
		"url": url,
	}).Debug("hyperliquid reader initialized")
	return r
}

// WithClock replaces the clock used to stamp samples.
func (r *Reader) WithClock(now func() time.Time) *Reader {
	r.now = now
	return r
}

func (r *Reader) Venue() string { return venue }

// Fetch returns the current sample for the named asset (e.g. "BTC").
func (r *Reader) Fetch(ctx context.Context, symbol string) (models.MarketSample, error) {
	universe, ctxs, err := r.metaAndAssetCtxs(ctx, symbol)
	if err != nil {
		return models.MarketSample{}, err
	}
	observed := r.now().UTC()
	for i, asset := range universe {
		if asset.IsDelisted || !strings.EqualFold(asset.Name, symbol) {
			continue
		}
		return toSample(asset, ctxs[i], observed)
	}
	return models.MarketSample{}, reader.Malformed(venue, symbol, "asset not listed")
}

// Top returns up to limit listed assets ordered by funding rate, highest
// first. A non-positive limit returns every asset.
func (r *Reader) Top(ctx context.Context, limit int) ([]models.MarketSample, error) {
	universe, ctxs, err := r.metaAndAssetCtxs(ctx, "*")
	if err != nil {
		return nil, err
	}
	observed := r.now().UTC()
	samples := make([]models.MarketSample, 0, len(universe))
	for i, asset := range universe {
		if asset.IsDelisted {
			continue
		}
		s, err := toSample(asset, ctxs[i], observed)
		if err != nil {
			r.log.WithComponent("hyperliquid_reader").WithError(err).WithFields(logger.Fields{
				"symbol": asset.Name,
			}).Debug("skipping asset")
			continue
		}
		samples = append(samples, s)
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].FundingRate.GreaterThan(samples[j].FundingRate)
	})
	if limit > 0 && len(samples) > limit {
		samples = samples[:limit]
	}
	return samples, nil
}

func (r *Reader) metaAndAssetCtxs(ctx context.Context, symbol string) ([]assetMeta, []assetCtx, error) {
	log := r.log.WithComponent("hyperliquid_reader").WithFields(logger.Fields{
		"symbol":    symbol,
		"operation": "meta_and_asset_ctxs",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url,
		bytes.NewBufferString(`{"type":"metaAndAssetCtxs"}`))
	if err != nil {
		return nil, nil, reader.Unavailable(venue, symbol, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, nil, reader.Unavailable(venue, symbol, err)
	}
	defer resp.Body.Close()
	logger.LogPerformanceEntry(log, "hyperliquid_reader", "api_request", time.Since(start), logger.Fields{
		"status": resp.StatusCode,
	})

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, nil, reader.Unavailable(venue, symbol, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, reader.Unavailable(venue, symbol,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 256)))
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return nil, nil, reader.Malformed(venue, symbol, "%v", err)
	}
	if len(parts) != 2 {
		return nil, nil, reader.Malformed(venue, symbol, "expected 2 elements, got %d", len(parts))
	}
	var m meta
	if err := json.Unmarshal(parts[0], &m); err != nil {
		return nil, nil, reader.Malformed(venue, symbol, "meta: %v", err)
	}
	var ctxs []assetCtx
	if err := json.Unmarshal(parts[1], &ctxs); err != nil {
		return nil, nil, reader.Malformed(venue, symbol, "asset contexts: %v", err)
	}
	if len(m.Universe) != len(ctxs) {
		return nil, nil, reader.Malformed(venue, symbol,
			"universe has %d assets but %d contexts", len(m.Universe), len(ctxs))
	}
	return m.Universe, ctxs, nil
}

func toSample(asset assetMeta, c assetCtx, observed time.Time) (models.MarketSample, error) {
	mark, err := reader.ParseDecimal("markPx", c.MarkPx)
	if err != nil {
		return models.MarketSample{}, reader.Malformed(venue, asset.Name, "%v", err)
	}
	funding, err := reader.ParseDecimal("funding", c.Funding)
	if err != nil {
		return models.MarketSample{}, reader.Malformed(venue, asset.Name, "%v", err)
	}
	return models.MarketSample{
		Venue:                venue,
		Symbol:               asset.Name,
		MarkPrice:            mark,
		FundingRate:          funding,
		FundingIntervalHours: fundingIntervalHours,
		MaxLeverage:          asset.MaxLeverage,
		ObservedAt:           observed,
	}, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
