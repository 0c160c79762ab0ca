// Package simulator computes the funding carry of a short-perp / long-spot
// hedge held at a fixed USD notional.
package simulator

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fundingsim/models"
)

var nanosPerHour = decimal.NewFromInt(int64(time.Hour))

// Step folds sample into the ledger state described by previous and returns
// the next row. previous is nil on the first run. Step has no side effects;
// identical inputs always produce identical rows.
//
// The perp leg is assumed to offset the spot leg exactly, so net PnL is the
// cumulative funding alone. Spot PnL is carried for audit only.
func Step(sample models.MarketSample, previous *models.LedgerRow, notional decimal.Decimal) (models.LedgerRow, error) {
	if err := validate(sample, previous, notional); err != nil {
		return models.LedgerRow{}, err
	}

	row := models.LedgerRow{
		Timestamp:            sample.ObservedAt.UTC(),
		Symbol:               sample.Symbol,
		MarkPrice:            sample.MarkPrice,
		FundingRate:          sample.FundingRate,
		NotionalUSD:          notional,
		CumulativeFundingPnL: decimal.Zero,
		SpotPnL:              decimal.Zero,
		NetPnL:               decimal.Zero,
	}
	if previous == nil {
		return row, nil
	}

	elapsed := sample.ObservedAt.Sub(previous.Timestamp)
	row.CumulativeFundingPnL = previous.CumulativeFundingPnL.Add(AccruedFunding(notional, sample.FundingRate, elapsed, sample.FundingIntervalHours))
	row.SpotPnL = previous.SpotPnL.Add(SpotDelta(notional, previous.MarkPrice, sample.MarkPrice))
	row.NetPnL = row.CumulativeFundingPnL
	return row, nil
}

// AccruedFunding is the funding a short of notional receives over elapsed
// when the rate is quoted per intervalHours. A positive rate is a gain.
func AccruedFunding(notional, rate decimal.Decimal, elapsed time.Duration, intervalHours int) decimal.Decimal {
	if intervalHours <= 0 {
		return decimal.Zero
	}
	num := notional.Mul(rate).Mul(decimal.NewFromInt(int64(elapsed)))
	return num.Div(nanosPerHour.Mul(decimal.NewFromInt(int64(intervalHours))))
}

// SpotDelta is the mark-to-market change of a long spot leg sized at
// notional/from units when the price moves from -> to.
func SpotDelta(notional, from, to decimal.Decimal) decimal.Decimal {
	if from.Sign() <= 0 {
		return decimal.Zero
	}
	return notional.Mul(to.Sub(from)).Div(from)
}

func validate(sample models.MarketSample, previous *models.LedgerRow, notional decimal.Decimal) error {
	switch {
	case sample.Symbol == "":
		return fmt.Errorf("%w: missing symbol", models.ErrInvalidMarketData)
	case sample.FundingIntervalHours <= 0:
		return fmt.Errorf("%w: funding interval must be positive, got %dh for %s",
			models.ErrInvalidMarketData, sample.FundingIntervalHours, sample.Symbol)
	case sample.MarkPrice.Sign() <= 0:
		return fmt.Errorf("%w: mark price must be positive, got %s for %s",
			models.ErrInvalidMarketData, sample.MarkPrice, sample.Symbol)
	case sample.ObservedAt.IsZero():
		return fmt.Errorf("%w: missing observation time for %s", models.ErrInvalidMarketData, sample.Symbol)
	case notional.Sign() <= 0:
		return fmt.Errorf("%w: notional must be positive, got %s", models.ErrInvalidMarketData, notional)
	}
	if previous == nil {
		return nil
	}
	if previous.Symbol != sample.Symbol {
		return fmt.Errorf("%w: sample symbol %s does not match ledger symbol %s",
			models.ErrInvalidMarketData, sample.Symbol, previous.Symbol)
	}
	if !sample.ObservedAt.After(previous.Timestamp) {
		return fmt.Errorf("%w: sample at %s is not after last row at %s",
			models.ErrOutOfOrderSample,
			sample.ObservedAt.UTC().Format(time.RFC3339Nano),
			previous.Timestamp.UTC().Format(time.RFC3339Nano))
	}
	return nil
}
