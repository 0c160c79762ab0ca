package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is read when no path is given. Its absence is not an
// error; defaults and environment overrides apply instead.
const DefaultConfigPath = "config/config.yml"

// DefaultLedgerPath matches the original history file name.
const DefaultLedgerPath = "history.csv"

const (
	VenueHyperliquid = "hyperliquid"
	VenueBinance     = "binance"
	VenueBybit       = "bybit"
)

var envConfigPaths = map[string]string{
	environmentStaging:    "config/config.staging.yml",
	environmentProduction: "config/config.production.yml",
}

type Config struct {
	Fundingsim FundingsimConfig `yaml:"fundingsim"`
	Market     MarketConfig     `yaml:"market"`
	Simulation SimulationConfig `yaml:"simulation"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Reader     ReaderConfig     `yaml:"reader"`
	Storage    StorageConfig    `yaml:"storage"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type FundingsimConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type MarketConfig struct {
	Venue  string `yaml:"venue"`
	Symbol string `yaml:"symbol"`
	// URL overrides the venue's public API base URL.
	URL string `yaml:"url"`
}

// SimulationConfig holds decimal values as strings so they round-trip
// without float conversion.
type SimulationConfig struct {
	NotionalUSD  string `yaml:"notional_usd"`
	TakerFeeRate string `yaml:"taker_fee_rate"`

	notional decimal.Decimal
	takerFee decimal.Decimal
}

// Notional returns the validated hedge size.
func (s SimulationConfig) Notional() decimal.Decimal { return s.notional }

// TakerFee returns the validated per-leg fee rate.
func (s SimulationConfig) TakerFee() decimal.Decimal { return s.takerFee }

type LedgerConfig struct {
	Path        string        `yaml:"path"`
	Lock        bool          `yaml:"lock"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

type ReaderConfig struct {
	Timeout        time.Duration        `yaml:"timeout"`
	UserAgent      string               `yaml:"user_agent"`
	LocalIP        string               `yaml:"local_ip"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	Format          string `yaml:"format"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Fundingsim: FundingsimConfig{Name: "fundingsim", Version: "1.0.0"},
		Market:     MarketConfig{Venue: VenueHyperliquid, Symbol: "BTC"},
		Simulation: SimulationConfig{NotionalUSD: "10000", TakerFeeRate: "0.00035"},
		Ledger: LedgerConfig{
			Path:        DefaultLedgerPath,
			Lock:        true,
			LockTimeout: 10 * time.Second,
		},
		Reader: ReaderConfig{
			Timeout:   10 * time.Second,
			UserAgent: "fundingsim/1.0",
			RateLimit: RateLimitConfig{RequestsPerSecond: 5, BurstSize: 2},
			ConnectionPool: ConnectionPoolConfig{
				MaxIdleConns:    4,
				MaxConnsPerHost: 4,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		Storage: StorageConfig{S3: S3Config{Format: "csv", Prefix: "fundingsim"}},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// LoadConfig reads the yaml file at path on top of Default, applies
// environment overrides and validates the result. An empty path selects
// DefaultConfigPath (or its APP_ENV specific variant) and tolerates its
// absence outside production-like environments.
func LoadConfig(path string) (*Config, error) {
	explicit := path != ""
	path = resolveEnvSpecificPath(path, DefaultConfigPath, envConfigPaths)

	config := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err) && !explicit && !IsProductionLike(AppEnvironment()):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnv(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnv(config *Config) {
	if v := strings.TrimSpace(os.Getenv("OUTPUT_CSV")); v != "" {
		config.Ledger.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("SYMBOL")); v != "" {
		config.Market.Symbol = v
	}
	if v := strings.TrimSpace(os.Getenv("VENUE")); v != "" {
		config.Market.Venue = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("NOTIONAL_USD")); v != "" {
		config.Simulation.NotionalUSD = v
	}
	if v := strings.TrimSpace(os.Getenv("TAKER_FEE_RATE")); v != "" {
		config.Simulation.TakerFeeRate = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		config.Logging.Level = v
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)
}

func validateConfig(cfg *Config) error {
	if cfg.Fundingsim.Name == "" {
		return fmt.Errorf("fundingsim.name is required")
	}

	switch cfg.Market.Venue {
	case VenueHyperliquid, VenueBinance, VenueBybit:
	default:
		return fmt.Errorf("market.venue '%s' is not supported", cfg.Market.Venue)
	}
	cfg.Market.Symbol = strings.TrimSpace(cfg.Market.Symbol)
	if cfg.Market.Symbol == "" {
		return fmt.Errorf("market.symbol is required")
	}

	notional, err := decimal.NewFromString(strings.TrimSpace(cfg.Simulation.NotionalUSD))
	if err != nil {
		return fmt.Errorf("simulation.notional_usd '%s' is not a number", cfg.Simulation.NotionalUSD)
	}
	if notional.Sign() <= 0 {
		return fmt.Errorf("simulation.notional_usd must be greater than 0")
	}
	cfg.Simulation.notional = notional

	fee := decimal.Zero
	if s := strings.TrimSpace(cfg.Simulation.TakerFeeRate); s != "" {
		if fee, err = decimal.NewFromString(s); err != nil {
			return fmt.Errorf("simulation.taker_fee_rate '%s' is not a number", cfg.Simulation.TakerFeeRate)
		}
	}
	if fee.Sign() < 0 {
		return fmt.Errorf("simulation.taker_fee_rate must not be negative")
	}
	cfg.Simulation.takerFee = fee

	if strings.TrimSpace(cfg.Ledger.Path) == "" {
		return fmt.Errorf("ledger.path is required")
	}
	if cfg.Reader.Timeout <= 0 {
		return fmt.Errorf("reader.timeout must be greater than 0")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
		switch cfg.Storage.S3.Format {
		case "csv", "parquet":
		default:
			return fmt.Errorf("storage.s3.format '%s' must be csv or parquet", cfg.Storage.S3.Format)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
