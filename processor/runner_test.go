package processor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fundingsim/ledger"
	"fundingsim/models"
)

type scriptedSource struct {
	samples []models.MarketSample
	err     error
	calls   int
}

func (s *scriptedSource) Venue() string { return "test" }

func (s *scriptedSource) Fetch(_ context.Context, symbol string) (models.MarketSample, error) {
	if s.err != nil {
		return models.MarketSample{}, s.err
	}
	sample := s.samples[s.calls]
	s.calls++
	return sample, nil
}

type recordingMirror struct {
	paths []string
	err   error
}

func (m *recordingMirror) Sync(_ context.Context, path string) error {
	m.paths = append(m.paths, path)
	return m.err
}

type recordingMetrics struct {
	net []float64
}

func (m *recordingMetrics) PublishRunMetrics(_ context.Context, _, _ string, _, net, _, _ float64) {
	m.net = append(m.net, net)
}

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func btc(mark, rate string, at time.Time) models.MarketSample {
	return models.MarketSample{
		Venue:                "test",
		Symbol:               "BTC",
		MarkPrice:            decimal.RequireFromString(mark),
		FundingRate:          decimal.RequireFromString(rate),
		FundingIntervalHours: 1,
		ObservedAt:           at,
	}
}

func newRunner(t *testing.T, src *scriptedSource) (*Runner, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.csv")
	return &Runner{
		Source:   src,
		Ledger:   ledger.New(path, ledger.Options{Lock: true}),
		Symbol:   "BTC",
		Notional: decimal.NewFromInt(10000),
		TakerFee: decimal.RequireFromString("0.00035"),
	}, path
}

func TestRunTwoRunScenario(t *testing.T) {
	src := &scriptedSource{samples: []models.MarketSample{
		btc("65000", "0.0001", t0),
		btc("65500", "0.00012", t0.Add(time.Hour)),
	}}
	r, path := newRunner(t, src)
	mirror := &recordingMirror{}
	metrics := &recordingMetrics{}
	r.Mirror, r.Metrics = mirror, metrics

	first, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if !first.FirstRun || !first.Row.NetPnL.IsZero() || !first.Row.SpotPnL.IsZero() {
		t.Fatalf("first run should be all zeros: %+v", first.Row)
	}

	second, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !second.Row.CumulativeFundingPnL.Equal(decimal.RequireFromString("1.2")) {
		t.Fatalf("cumulative funding = %s, want 1.2", second.Row.CumulativeFundingPnL)
	}
	if !second.Row.NetPnL.Equal(second.Row.CumulativeFundingPnL) {
		t.Fatalf("net pnl %s should equal cumulative funding", second.Row.NetPnL)
	}
	if got := second.Row.SpotPnL.StringFixed(2); got != "76.92" {
		t.Fatalf("spot pnl = %s, want 76.92", got)
	}
	if !second.Accrued.Equal(decimal.RequireFromString("1.2")) {
		t.Fatalf("accrued = %s", second.Accrued)
	}
	if second.Projection.Symbol != "BTC" || !second.Projection.FundingPerInterval.Equal(decimal.RequireFromString("1.2")) {
		t.Fatalf("projection should reflect the appended sample: %+v", second.Projection)
	}
	if first.RunID == "" || first.RunID == second.RunID {
		t.Fatalf("run ids should be unique: %q %q", first.RunID, second.RunID)
	}

	rows, err := ledger.New(path, ledger.Options{}).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if len(mirror.paths) != 2 || mirror.paths[0] != path {
		t.Fatalf("mirror should sync after each append: %v", mirror.paths)
	}
	if len(metrics.net) != 2 || metrics.net[1] != 1.2 {
		t.Fatalf("unexpected metrics %v", metrics.net)
	}
}

func TestRunAppendOnly(t *testing.T) {
	var samples []models.MarketSample
	for i := 0; i < 6; i++ {
		samples = append(samples, btc("65000", "0.0001", t0.Add(time.Duration(i)*time.Hour)))
	}
	r, path := newRunner(t, &scriptedSource{samples: samples})

	var prefix []byte
	for i := range samples {
		if _, err := r.Run(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.HasPrefix(data, prefix) {
			t.Fatalf("run %d rewrote earlier rows", i)
		}
		prefix = data
	}
	rows, err := ledger.New(path, ledger.Options{}).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != len(samples) {
		t.Fatalf("expected %d rows, got %d", len(samples), len(rows))
	}
}

func TestRunOutOfOrderLeavesLedgerUnchanged(t *testing.T) {
	src := &scriptedSource{samples: []models.MarketSample{
		btc("65000", "0.0001", t0.Add(time.Hour)),
		btc("65100", "0.0001", t0),
	}}
	r, path := newRunner(t, src)
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(path)

	_, err := r.Run(context.Background())
	if !errors.Is(err, models.ErrOutOfOrderSample) {
		t.Fatalf("expected ErrOutOfOrderSample, got %v", err)
	}
	after, _ := os.ReadFile(path)
	if !bytes.Equal(before, after) {
		t.Fatal("ledger changed after rejected run")
	}
}

func TestRunPropagatesErrorKinds(t *testing.T) {
	t.Run("data unavailable", func(t *testing.T) {
		src := &scriptedSource{err: models.ErrDataUnavailable}
		r, path := newRunner(t, src)
		mirror := &recordingMirror{}
		r.Mirror = mirror

		_, err := r.Run(context.Background())
		if !errors.Is(err, models.ErrDataUnavailable) {
			t.Fatalf("expected ErrDataUnavailable, got %v", err)
		}
		if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
			t.Fatal("ledger should not be created on fetch failure")
		}
		if len(mirror.paths) != 0 {
			t.Fatal("mirror must not run without an append")
		}
	})

	t.Run("invalid market data", func(t *testing.T) {
		s := btc("65000", "0.0001", t0)
		s.FundingIntervalHours = 0
		r, _ := newRunner(t, &scriptedSource{samples: []models.MarketSample{btc("65000", "0.0001", t0), s}})
		if _, err := r.Run(context.Background()); err != nil {
			t.Fatal(err)
		}
		s.ObservedAt = t0.Add(time.Hour)
		r.Source = &scriptedSource{samples: []models.MarketSample{s}}
		if _, err := r.Run(context.Background()); !errors.Is(err, models.ErrInvalidMarketData) {
			t.Fatalf("expected ErrInvalidMarketData, got %v", err)
		}
	})

	t.Run("corrupt ledger", func(t *testing.T) {
		r, path := newRunner(t, &scriptedSource{samples: []models.MarketSample{btc("65000", "0.0001", t0)}})
		if err := os.WriteFile(path, []byte("not,a,ledger\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := r.Run(context.Background()); !errors.Is(err, models.ErrCorruptLedger) {
			t.Fatalf("expected ErrCorruptLedger, got %v", err)
		}
	})
}

func TestRunMirrorFailureIsNotFatal(t *testing.T) {
	r, _ := newRunner(t, &scriptedSource{samples: []models.MarketSample{btc("65000", "0.0001", t0)}})
	r.Mirror = &recordingMirror{err: errors.New("bucket missing")}
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("mirror failure should not fail the run: %v", err)
	}
}

func TestDryRunDoesNotWrite(t *testing.T) {
	src := &scriptedSource{samples: []models.MarketSample{
		btc("65000", "0.0001", t0),
		btc("65500", "0.00012", t0.Add(time.Hour)),
		btc("65500", "0.00012", t0.Add(time.Hour)),
	}}
	r, path := newRunner(t, src)
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(path)

	a, err := r.DryRun(context.Background())
	if err != nil {
		t.Fatalf("DryRun: %v", err)
	}
	b, err := r.DryRun(context.Background())
	if err != nil {
		t.Fatalf("DryRun: %v", err)
	}
	if !sameRow(a.Row, b.Row) {
		t.Fatalf("dry runs over the same inputs differ: %+v vs %+v", a.Row, b.Row)
	}
	after, _ := os.ReadFile(path)
	if !bytes.Equal(before, after) {
		t.Fatal("dry run modified the ledger")
	}
	if a.Projection.Symbol != "BTC" {
		t.Fatalf("projection missing: %+v", a.Projection)
	}
}

func sameRow(a, b models.LedgerRow) bool {
	return a.Timestamp.Equal(b.Timestamp) &&
		a.Symbol == b.Symbol &&
		a.MarkPrice.Equal(b.MarkPrice) &&
		a.FundingRate.Equal(b.FundingRate) &&
		a.NotionalUSD.Equal(b.NotionalUSD) &&
		a.CumulativeFundingPnL.Equal(b.CumulativeFundingPnL) &&
		a.SpotPnL.Equal(b.SpotPnL) &&
		a.NetPnL.Equal(b.NetPnL)
}
