package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"fundingsim/config"
	"fundingsim/internal/symbols"
	"fundingsim/ledger"
	"fundingsim/logger"
	"fundingsim/models"
	"fundingsim/processor"
	"fundingsim/reader"
	"fundingsim/reader/binance"
	"fundingsim/reader/bybit"
	"fundingsim/reader/hyperliquid"
	"fundingsim/writer"
)

type options struct {
	configPath string
	dryRun     bool
	scan       bool
	top        int
	exportPath string
}

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	var opts options
	flag.StringVar(&opts.configPath, "config", os.Getenv("CONFIG_PATH"), "Path to configuration file")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "Compute the next ledger row without writing it")
	flag.BoolVar(&opts.scan, "scan", false, "Print the perpetuals with the highest funding rates and exit")
	flag.IntVar(&opts.top, "top", 10, "Number of markets printed by -scan")
	flag.StringVar(&opts.exportPath, "export", "", "Write the ledger as parquet to this path and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, opts, os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fundingsim: %s: %v\n", models.Kind(err), err)
		os.Exit(models.ExitCode(err))
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	log := logger.GetLogger()

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		return fmt.Errorf("failed to configure logger: %w", err)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Fundingsim.Name,
		"version": cfg.Fundingsim.Version,
		"venue":   cfg.Market.Venue,
		"symbol":  cfg.Market.Symbol,
	}).Info("starting fundingsim")

	store := ledger.New(cfg.Ledger.Path, ledger.Options{
		Lock:        cfg.Ledger.Lock,
		LockTimeout: cfg.Ledger.LockTimeout,
	})

	if opts.exportPath != "" {
		return export(store, opts.exportPath, out)
	}

	source, err := newSource(cfg)
	if err != nil {
		return err
	}

	if opts.scan {
		scanner, ok := source.(reader.Scanner)
		if !ok {
			return fmt.Errorf("venue %s does not support -scan", source.Venue())
		}
		samples, err := scanner.Top(ctx, opts.top)
		if err != nil {
			return err
		}
		renderScan(out, samples, cfg.Simulation.Notional(), cfg.Simulation.TakerFee())
		return nil
	}

	symbol := symbols.ForVenue(cfg.Market.Venue, cfg.Market.Symbol)
	runner := &processor.Runner{
		Source:   source,
		Ledger:   store,
		Symbol:   symbol,
		Notional: cfg.Simulation.Notional(),
		TakerFee: cfg.Simulation.TakerFee(),
	}

	if opts.dryRun {
		res, err := runner.DryRun(ctx)
		if err != nil {
			return err
		}
		renderResult(out, res, true)
		return nil
	}

	if cfg.Storage.S3.Enabled {
		mirror, err := writer.NewS3Mirror(ctx, cfg.Storage.S3, symbol, cfg.Fundingsim.Version)
		if err != nil {
			log.WithComponent("main").WithError(err).Warn("s3 mirror disabled")
		} else {
			runner.Mirror = mirror
		}
	}
	if cw := cfg.Metrics.CloudWatch; cw.Enabled {
		// keep a typed nil out of the interface
		if pub := logger.NewCloudWatch(ctx, cw.Region, cw.Namespace); pub != nil {
			runner.Metrics = pub
		}
	}

	res, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	renderResult(out, res, false)
	return nil
}

func newSource(cfg *config.Config) (reader.Source, error) {
	client := reader.NewHTTPClient(cfg.Reader)
	switch cfg.Market.Venue {
	case config.VenueHyperliquid:
		return hyperliquid.New(cfg.Market.URL, client), nil
	case config.VenueBinance:
		return binance.New(cfg.Market.URL, client), nil
	case config.VenueBybit:
		return bybit.New(cfg.Market.URL, client), nil
	}
	return nil, errors.New("unsupported venue " + cfg.Market.Venue)
}

func export(store *ledger.Ledger, path string, out io.Writer) error {
	rows, err := store.ReadAll()
	if err != nil {
		return err
	}
	if err := writer.ExportParquet(rows, path); err != nil {
		return err
	}
	fmt.Fprintf(out, "exported %d rows from %s to %s\n", len(rows), store.Path(), path)
	return nil
}
