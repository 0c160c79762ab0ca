// Package processor runs one simulation step against the market and the
// ledger.
package processor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fundingsim/logger"
	"fundingsim/models"
	"fundingsim/reader"
	"fundingsim/simulator"
)

// Store is the ledger as seen by a run.
type Store interface {
	Path() string
	Lock(ctx context.Context) error
	Unlock()
	ReadLast() (*models.LedgerRow, error)
	Append(row models.LedgerRow) error
}

// Mirror copies the ledger elsewhere after a committed append.
type Mirror interface {
	Sync(ctx context.Context, path string) error
}

// MetricsPublisher receives the totals of a committed run.
type MetricsPublisher interface {
	PublishRunMetrics(ctx context.Context, venue, symbol string, cumulativeFunding, netPnL, accrued, spotPnL float64)
}

// Runner performs the fetch, step, append cycle.
type Runner struct {
	Source   reader.Source
	Ledger   Store
	Symbol   string
	Notional decimal.Decimal
	TakerFee decimal.Decimal

	// Optional.
	Mirror  Mirror
	Metrics MetricsPublisher

	log *logger.Log
}

// Result is the outcome of one run.
type Result struct {
	RunID      string
	Row        models.LedgerRow
	Accrued    decimal.Decimal
	FirstRun   bool
	Projection simulator.Projection
}

func (r *Runner) getLog() *logger.Log {
	if r.log == nil {
		r.log = logger.GetLogger()
	}
	return r.log
}

// Run appends exactly one row computed from a fresh sample, or nothing when
// any step fails. Errors keep their models kind.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	res := Result{RunID: uuid.NewString()}
	log := r.getLog().WithComponent("runner").WithFields(logger.Fields{
		"run_id": res.RunID,
		"symbol": r.Symbol,
		"venue":  r.Source.Venue(),
		"ledger": r.Ledger.Path(),
	})

	if err := r.Ledger.Lock(ctx); err != nil {
		log.WithError(err).Error("failed to lock ledger")
		return res, err
	}
	defer r.Ledger.Unlock()

	sample, err := r.compute(ctx, log, &res)
	if err != nil {
		return res, err
	}
	row := res.Row

	if err := r.Ledger.Append(row); err != nil {
		log.WithError(err).Error("failed to append ledger row")
		return Result{RunID: res.RunID}, err
	}

	log.WithFields(logger.Fields{
		"timestamp":              row.Timestamp.Format(time.RFC3339Nano),
		"mark_price":             row.MarkPrice.String(),
		"funding_rate":           row.FundingRate.String(),
		"accrued_funding":        res.Accrued.String(),
		"cumulative_funding_pnl": row.CumulativeFundingPnL.String(),
		"spot_pnl":               row.SpotPnL.String(),
		"net_pnl":                row.NetPnL.String(),
		"first_run":              res.FirstRun,
	}).Info("ledger row appended")

	if r.Metrics != nil {
		r.Metrics.PublishRunMetrics(ctx, sample.Venue, row.Symbol,
			row.CumulativeFundingPnL.InexactFloat64(), row.NetPnL.InexactFloat64(),
			res.Accrued.InexactFloat64(), row.SpotPnL.InexactFloat64())
	}
	if r.Mirror != nil {
		if err := r.Mirror.Sync(ctx, r.Ledger.Path()); err != nil {
			log.WithError(err).Warn("ledger mirror failed")
		}
	}
	return res, nil
}

// DryRun computes the next row without locking or writing the ledger.
func (r *Runner) DryRun(ctx context.Context) (Result, error) {
	res := Result{RunID: uuid.NewString()}
	log := r.getLog().WithComponent("runner").WithFields(logger.Fields{
		"run_id":  res.RunID,
		"symbol":  r.Symbol,
		"venue":   r.Source.Venue(),
		"dry_run": true,
	})

	if _, err := r.compute(ctx, log, &res); err != nil {
		return res, err
	}
	log.WithFields(logger.Fields{
		"cumulative_funding_pnl": res.Row.CumulativeFundingPnL.String(),
		"net_pnl":                res.Row.NetPnL.String(),
	}).Info("dry run computed next row")
	return res, nil
}

// compute fetches a sample and steps it against the last ledger row. On
// success res carries the row, its accrual and the carry projection.
func (r *Runner) compute(ctx context.Context, log *logger.Entry, res *Result) (models.MarketSample, error) {
	start := time.Now()
	sample, err := r.Source.Fetch(ctx, r.Symbol)
	if err != nil {
		log.WithError(err).Error("failed to fetch market data")
		return sample, err
	}
	logger.LogPerformanceEntry(log, "runner", "fetch", time.Since(start), logger.Fields{
		"observed_at":      sample.ObservedAt.Format(time.RFC3339Nano),
		"funding_interval": sample.FundingInterval().String(),
	})

	proj := simulator.Project(sample, r.Notional, r.TakerFee)
	log.WithFields(logger.Fields{
		"funding_per_interval": proj.FundingPerInterval.StringFixed(6),
		"funding_per_hour":     proj.FundingPerHour.StringFixed(6),
		"entry_fees":           proj.EntryFees.StringFixed(6),
		"break_even_hours":     proj.BreakEvenHours.StringFixed(2),
		"profitable":           proj.Profitable,
	}).Info("carry projection")

	previous, err := r.Ledger.ReadLast()
	if err != nil {
		log.WithError(err).Error("failed to read ledger")
		return sample, err
	}

	row, err := simulator.Step(sample, previous, r.Notional)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"kind": models.Kind(err)}).Error("simulation step rejected sample")
		return sample, err
	}

	res.Row = row
	res.FirstRun = previous == nil
	res.Projection = proj
	if previous != nil {
		res.Accrued = row.CumulativeFundingPnL.Sub(previous.CumulativeFundingPnL)
	}
	return sample, nil
}
