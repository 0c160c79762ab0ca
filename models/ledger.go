package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerRow is one persisted record of the simulated hedge. Rows are
// append-only and strictly increasing in Timestamp.
type LedgerRow struct {
	Timestamp            time.Time       `json:"timestamp"`
	Symbol               string          `json:"symbol"`
	MarkPrice            decimal.Decimal `json:"mark_price"`
	FundingRate          decimal.Decimal `json:"funding_rate"`
	NotionalUSD          decimal.Decimal `json:"notional_usd"`
	CumulativeFundingPnL decimal.Decimal `json:"cumulative_funding_pnl"`
	SpotPnL              decimal.Decimal `json:"spot_pnl"`
	NetPnL               decimal.Decimal `json:"net_pnl"`
}

// LedgerColumns is the fixed column order of the persisted ledger.
var LedgerColumns = []string{
	"timestamp",
	"symbol",
	"mark_price",
	"funding_rate",
	"notional_usd",
	"cumulative_funding_pnl",
	"spot_pnl",
	"net_pnl",
}
