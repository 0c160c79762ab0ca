package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"

	"fundingsim/models"
	"fundingsim/processor"
	"fundingsim/simulator"
)

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	return t
}

// renderScan prints the scanned markets with the carry of entering each.
func renderScan(out io.Writer, samples []models.MarketSample, notional, takerFee decimal.Decimal) {
	t := newTable(out)
	t.SetTitle(fmt.Sprintf("Top funding rates, notional %s USD", notional.StringFixed(2)))
	t.AppendHeader(table.Row{"#", "symbol", "mark", "funding/h %", "funding/h USD", "fees USD", "break-even h", "max lev"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})
	hundred := decimal.NewFromInt(100)
	for i, s := range samples {
		p := simulator.Project(s, notional, takerFee)
		perHourPct := decimal.Zero
		if s.FundingIntervalHours > 0 {
			perHourPct = s.FundingRate.Mul(hundred).Div(decimal.NewFromInt(int64(s.FundingIntervalHours)))
		}
		breakEven := "-"
		if p.BreakEvenHours.Sign() > 0 {
			breakEven = p.BreakEvenHours.StringFixed(1)
		}
		t.AppendRow(table.Row{
			i + 1, s.Symbol, s.MarkPrice.String(), perHourPct.StringFixed(4),
			p.FundingPerHour.StringFixed(4), p.EntryFees.StringFixed(2), breakEven, s.MaxLeverage,
		})
	}
	t.Render()
}

// renderResult prints the row a run appended, or would append on a dry run.
func renderResult(out io.Writer, res processor.Result, dryRun bool) {
	t := newTable(out)
	title := "Appended"
	if dryRun {
		title = "Dry run, not written"
	}
	t.SetTitle(fmt.Sprintf("%s (run %s)", title, res.RunID))
	row := res.Row
	t.AppendRows([]table.Row{
		{"timestamp", row.Timestamp.Format("2006-01-02T15:04:05.000Z07:00")},
		{"symbol", row.Symbol},
		{"mark price", row.MarkPrice.String()},
		{"funding rate", row.FundingRate.String()},
		{"notional USD", row.NotionalUSD.StringFixed(2)},
		{"accrued funding", res.Accrued.StringFixed(6)},
		{"cumulative funding PnL", row.CumulativeFundingPnL.StringFixed(6)},
		{"spot PnL", row.SpotPnL.StringFixed(6)},
		{"net PnL", row.NetPnL.StringFixed(6)},
	})
	t.Render()
}
