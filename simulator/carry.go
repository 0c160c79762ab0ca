package simulator

import (
	"github.com/shopspring/decimal"

	"fundingsim/models"
)

// hedgeLegs is the number of fills needed to open the hedge: one perp short
// and one spot buy.
const hedgeLegs = 2

// Projection estimates the carry of entering the hedge at the sampled rate.
// It is reporting only and never feeds into the ledger.
type Projection struct {
	Symbol               string
	NotionalUSD          decimal.Decimal
	FundingPerInterval   decimal.Decimal
	FundingPerHour       decimal.Decimal
	EntryFees            decimal.Decimal
	NetFirstHour         decimal.Decimal
	BreakEvenHours       decimal.Decimal
	Profitable           bool
	FundingIntervalHours int
}

// Project computes the funding yield and entry cost of the hedge.
func Project(sample models.MarketSample, notional, takerFeeRate decimal.Decimal) Projection {
	p := Projection{
		Symbol:               sample.Symbol,
		NotionalUSD:          notional,
		FundingPerInterval:   notional.Mul(sample.FundingRate),
		FundingIntervalHours: sample.FundingIntervalHours,
	}
	if sample.FundingIntervalHours > 0 {
		p.FundingPerHour = p.FundingPerInterval.Div(decimal.NewFromInt(int64(sample.FundingIntervalHours)))
	}
	p.EntryFees = notional.Mul(takerFeeRate).Mul(decimal.NewFromInt(hedgeLegs))
	p.NetFirstHour = p.FundingPerHour.Sub(p.EntryFees)
	p.Profitable = p.NetFirstHour.Sign() >= 0
	if p.FundingPerHour.Sign() > 0 {
		p.BreakEvenHours = p.EntryFees.Div(p.FundingPerHour)
	}
	return p
}
