// Package reader defines the market data contract and the HTTP plumbing the
// venue readers share.
package reader

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"fundingsim/models"
)

// Source returns the current mark price and funding rate of a perpetual.
// Failures wrap models.ErrDataUnavailable.
type Source interface {
	Venue() string
	Fetch(ctx context.Context, symbol string) (models.MarketSample, error)
}

// Scanner lists the venue's perpetuals ordered by funding rate, highest
// first.
type Scanner interface {
	Top(ctx context.Context, limit int) ([]models.MarketSample, error)
}

// Unavailable wraps err as a data-unavailable failure for venue/symbol.
func Unavailable(venue, symbol string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", models.ErrDataUnavailable, venue, symbol, err)
}

// Malformed reports a payload that is missing or has an unparsable field.
func Malformed(venue, symbol, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s %s: malformed response: %s",
		models.ErrDataUnavailable, venue, symbol, fmt.Sprintf(format, args...))
}

// ParseDecimal parses a numeric string field from an exchange payload.
// Empty strings are rejected rather than read as zero.
func ParseDecimal(field, v string) (decimal.Decimal, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return decimal.Decimal{}, fmt.Errorf("field %s is empty", field)
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("field %s: %w", field, err)
	}
	return d, nil
}
