package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketSample is a point-in-time observation of a perpetual market.
type MarketSample struct {
	Venue                string          `json:"venue"`
	Symbol               string          `json:"symbol"`
	MarkPrice            decimal.Decimal `json:"mark_price"`
	FundingRate          decimal.Decimal `json:"funding_rate"` // per funding interval, signed
	FundingIntervalHours int             `json:"funding_interval_hours"`
	MaxLeverage          int             `json:"max_leverage,omitempty"`
	ObservedAt           time.Time       `json:"observed_at"`
}

// FundingInterval returns the funding interval as a duration.
func (s MarketSample) FundingInterval() time.Duration {
	return time.Duration(s.FundingIntervalHours) * time.Hour
}
