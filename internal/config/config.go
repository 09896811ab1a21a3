// Package config defines the configuration of the clear-win bot and the
// validation applied before the scan loop may start.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure. Fields are populated from a
// TOML or YAML file and then overridden by CLEARWIN_* environment variables.
type Config struct {
	Mode       string           `toml:"mode" yaml:"mode"`
	Scan       ScanConfig       `toml:"scan" yaml:"scan"`
	Strategy   StrategyConfig   `toml:"strategy" yaml:"strategy"`
	Risk       RiskConfig       `toml:"risk" yaml:"risk"`
	Retry      RetryConfig      `toml:"retry" yaml:"retry"`
	Polymarket PolymarketConfig `toml:"polymarket" yaml:"polymarket"`
	Wallet     WalletConfig     `toml:"wallet" yaml:"wallet"`
	TradeLog   TradeLogConfig   `toml:"trade_log" yaml:"trade_log"`
	Postgres   PostgresConfig   `toml:"postgres" yaml:"postgres"`
	Redis      RedisConfig      `toml:"redis" yaml:"redis"`
	S3         S3Config         `toml:"s3" yaml:"s3"`
	Archive    ArchiveConfig    `toml:"archive" yaml:"archive"`
	Resolution ResolutionConfig `toml:"resolution" yaml:"resolution"`
	Notify     NotifyConfig     `toml:"notify" yaml:"notify"`
	Server     ServerConfig     `toml:"server" yaml:"server"`
	Logging    LoggingConfig    `toml:"logging" yaml:"logging"`
}

// ScanConfig controls the scan loop cadence and concurrency.
type ScanConfig struct {
	Interval     duration `toml:"interval" yaml:"interval"`
	Once         bool     `toml:"once" yaml:"once"`
	Workers      int      `toml:"workers" yaml:"workers"`
	CallTimeout  duration `toml:"call_timeout" yaml:"call_timeout"`
	CycleTimeout duration `toml:"cycle_timeout" yaml:"cycle_timeout"`
	PageSize     int      `toml:"page_size" yaml:"page_size"`
	MaxPages     int      `toml:"max_pages" yaml:"max_pages"`
}

// StrategyConfig holds the clear-win thresholds.
type StrategyConfig struct {
	MinPrice     float64  `toml:"min_price" yaml:"min_price"`
	MaxPrice     float64  `toml:"max_price" yaml:"max_price"`
	MinHorizon   duration `toml:"min_horizon" yaml:"min_horizon"`
	MaxHorizon   duration `toml:"max_horizon" yaml:"max_horizon"`
	MinLiquidity float64  `toml:"min_liquidity" yaml:"min_liquidity"`
}

// RiskConfig holds capital and exposure limits, in USDC.
type RiskConfig struct {
	Bankroll        float64 `toml:"bankroll" yaml:"bankroll"`
	CapitalFraction float64 `toml:"capital_fraction" yaml:"capital_fraction"`
	PerTradeCap     float64 `toml:"per_trade_cap" yaml:"per_trade_cap"`
	PerMarketCap    float64 `toml:"per_market_cap" yaml:"per_market_cap"`
	TotalCap        float64 `toml:"total_cap" yaml:"total_cap"`
	MinOrderSize    float64 `toml:"min_order_size" yaml:"min_order_size"`
}

// RetryConfig bounds retries of every network call.
type RetryConfig struct {
	MaxAttempts int      `toml:"max_attempts" yaml:"max_attempts"`
	BackoffBase duration `toml:"backoff_base" yaml:"backoff_base"`
	BackoffMax  duration `toml:"backoff_max" yaml:"backoff_max"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	GammaHost       string `toml:"gamma_host" yaml:"gamma_host"`
	ClobHost        string `toml:"clob_host" yaml:"clob_host"`
	ChainID         int    `toml:"chain_id" yaml:"chain_id"`
	ExchangeAddress string `toml:"exchange_address" yaml:"exchange_address"`
	SignatureType   int    `toml:"signature_type" yaml:"signature_type"`
	OrderType       string `toml:"order_type" yaml:"order_type"`
}

// WalletConfig holds wallet credentials for live mode.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key" yaml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path" yaml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password" yaml:"key_password"`
	FunderAddress    string `toml:"funder_address" yaml:"funder_address"`
}

// TradeLogConfig locates the CSV trade log.
type TradeLogConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled" yaml:"enabled"`
	DSN           string `toml:"dsn" yaml:"dsn"`
	Host          string `toml:"host" yaml:"host"`
	Port          int    `toml:"port" yaml:"port"`
	Database      string `toml:"database" yaml:"database"`
	User          string `toml:"user" yaml:"user"`
	Password      string `toml:"password" yaml:"password"`
	SSLMode       string `toml:"ssl_mode" yaml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns" yaml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns" yaml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations" yaml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled         bool     `toml:"enabled" yaml:"enabled"`
	Addr            string   `toml:"addr" yaml:"addr"`
	Password        string   `toml:"password" yaml:"password"`
	DB              int      `toml:"db" yaml:"db"`
	PoolSize        int      `toml:"pool_size" yaml:"pool_size"`
	MaxRetries      int      `toml:"max_retries" yaml:"max_retries"`
	TLSEnabled      bool     `toml:"tls_enabled" yaml:"tls_enabled"`
	OrderRatePerSec int      `toml:"order_rate_per_sec" yaml:"order_rate_per_sec"`
	IdempotencyTTL  duration `toml:"idempotency_ttl" yaml:"idempotency_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled" yaml:"enabled"`
	Endpoint       string `toml:"endpoint" yaml:"endpoint"`
	Region         string `toml:"region" yaml:"region"`
	Bucket         string `toml:"bucket" yaml:"bucket"`
	AccessKey      string `toml:"access_key" yaml:"access_key"`
	SecretKey      string `toml:"secret_key" yaml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl" yaml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style" yaml:"force_path_style"`
}

// ArchiveConfig controls how trade records move to cold storage.
type ArchiveConfig struct {
	Interval  duration `toml:"interval" yaml:"interval"`
	Retention duration `toml:"retention" yaml:"retention"`
}

// ResolutionConfig controls the settlement poller.
type ResolutionConfig struct {
	Enabled  bool     `toml:"enabled" yaml:"enabled"`
	Interval duration `toml:"interval" yaml:"interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token" yaml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id" yaml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url" yaml:"discord_webhook_url"`
	Events            []string `toml:"events" yaml:"events"`
}

// ServerConfig holds HTTP status server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled" yaml:"enabled"`
	Port        int      `toml:"port" yaml:"port"`
	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
	APIKey      string   `toml:"api_key" yaml:"api_key"` // empty disables auth
	RatePerMin  int      `toml:"rate_per_min" yaml:"rate_per_min"`
}

// LoggingConfig selects the log level and an optional log file.
type LoggingConfig struct {
	Level string `toml:"level" yaml:"level"`
	File  string `toml:"file" yaml:"file"`
}

// duration is a wrapper around time.Duration that decodes from strings
// such as "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for the TOML decoder.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML accepts the same duration strings in YAML files.
func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// Defaults returns a Config populated with the defaults of a paper-trading
// deployment with no external services.
func Defaults() Config {
	return Config{
		Mode: string(domain.ModePaper),
		Scan: ScanConfig{
			Interval:     duration{60 * time.Second},
			Workers:      4,
			CallTimeout:  duration{10 * time.Second},
			CycleTimeout: duration{2 * time.Minute},
			PageSize:     100,
			MaxPages:     5,
		},
		Strategy: StrategyConfig{
			MinPrice:     0.97,
			MaxPrice:     0.995,
			MinHorizon:   duration{5 * time.Minute},
			MaxHorizon:   duration{24 * time.Hour},
			MinLiquidity: 1,
		},
		Risk: RiskConfig{
			Bankroll:        30,
			CapitalFraction: 1,
			PerTradeCap:     5,
			PerMarketCap:    5,
			TotalCap:        15,
			MinOrderSize:    1,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BackoffBase: duration{time.Second},
			BackoffMax:  duration{30 * time.Second},
		},
		Polymarket: PolymarketConfig{
			GammaHost: "https://gamma-api.polymarket.com",
			ClobHost:  "https://clob.polymarket.com",
			ChainID:   137,
			OrderType: "FOK",
		},
		TradeLog: TradeLogConfig{Path: "trades.csv"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "clearwin",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:            "localhost:6379",
			PoolSize:        10,
			MaxRetries:      3,
			OrderRatePerSec: 5,
			IdempotencyTTL:  duration{7 * 24 * time.Hour},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "clearwin-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Interval:  duration{24 * time.Hour},
			Retention: duration{30 * 24 * time.Hour},
		},
		Resolution: ResolutionConfig{
			Enabled:  true,
			Interval: duration{5 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_confirmed", "trade_failed", "position_resolved"},
		},
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
			RatePerMin:  120,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validOrderTypes = map[string]bool{
	"FOK": true,
	"FAK": true,
	"GTC": true,
}

// Validate checks Config for invalid or missing values and returns an error
// wrapping domain.ErrConfigInvalid that lists every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode, err := domain.ParseMode(c.Mode)
	if err != nil {
		errs = append(errs, err.Error())
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("logging: unknown level %q (valid: debug, info, warn, error)", c.Logging.Level))
	}

	// Scan
	if c.Scan.Interval.Duration <= 0 {
		errs = append(errs, "scan: interval must be > 0")
	}
	if c.Scan.Workers < 1 {
		errs = append(errs, "scan: workers must be >= 1")
	}
	if c.Scan.CallTimeout.Duration <= 0 {
		errs = append(errs, "scan: call_timeout must be > 0")
	}
	if c.Scan.CycleTimeout.Duration < c.Scan.CallTimeout.Duration {
		errs = append(errs, "scan: cycle_timeout must be >= call_timeout")
	}
	if c.Scan.PageSize < 1 || c.Scan.MaxPages < 1 {
		errs = append(errs, "scan: page_size and max_pages must be >= 1")
	}

	// Strategy
	s := c.Strategy
	if !(s.MinPrice > 0 && s.MinPrice < s.MaxPrice && s.MaxPrice <= 1) {
		errs = append(errs, fmt.Sprintf("strategy: price band must satisfy 0 < min_price < max_price <= 1, got [%g, %g]", s.MinPrice, s.MaxPrice))
	}
	if s.MinHorizon.Duration < 0 || s.MinHorizon.Duration >= s.MaxHorizon.Duration {
		errs = append(errs, fmt.Sprintf("strategy: horizon must satisfy 0 <= min_horizon < max_horizon, got [%s, %s]", s.MinHorizon, s.MaxHorizon))
	}
	if s.MinLiquidity < 0 {
		errs = append(errs, "strategy: min_liquidity must be >= 0")
	}

	// Risk
	r := c.Risk
	if r.Bankroll <= 0 {
		errs = append(errs, "risk: bankroll must be > 0")
	}
	if r.CapitalFraction <= 0 || r.CapitalFraction > 1 {
		errs = append(errs, "risk: capital_fraction must be in (0, 1]")
	}
	if r.PerTradeCap <= 0 || r.PerMarketCap <= 0 || r.TotalCap <= 0 {
		errs = append(errs, "risk: per_trade_cap, per_market_cap and total_cap must be > 0")
	}
	if r.PerMarketCap > r.TotalCap {
		errs = append(errs, "risk: per_market_cap must not exceed total_cap")
	}
	if r.MinOrderSize <= 0 || r.MinOrderSize > r.PerTradeCap {
		errs = append(errs, "risk: min_order_size must be > 0 and <= per_trade_cap")
	}

	// Retry
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry: max_attempts must be >= 1")
	}
	if c.Retry.BackoffBase.Duration < 0 {
		errs = append(errs, "retry: backoff_base must be >= 0")
	}
	if c.Retry.BackoffMax.Duration < c.Retry.BackoffBase.Duration {
		errs = append(errs, "retry: backoff_max must be >= backoff_base")
	}

	// Polymarket
	if c.Polymarket.GammaHost == "" || c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: gamma_host and clob_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType < 0 || c.Polymarket.SignatureType > 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 0, 1 or 2, got %d", c.Polymarket.SignatureType))
	}
	if !validOrderTypes[strings.ToUpper(c.Polymarket.OrderType)] {
		errs = append(errs, fmt.Sprintf("polymarket: unknown order_type %q (valid: FOK, FAK, GTC)", c.Polymarket.OrderType))
	}

	// Wallet is only needed to sign live orders.
	if mode == domain.ModeLive {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for live mode")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if c.TradeLog.Path == "" {
		errs = append(errs, "trade_log: path must not be empty")
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" || c.Postgres.Database == "" {
				errs = append(errs, "postgres: host and database must be set (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
		}
		if c.Postgres.PoolMaxConns < 1 || c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: require 0 <= pool_min_conns <= pool_max_conns and pool_max_conns >= 1")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.OrderRatePerSec < 1 {
			errs = append(errs, "redis: order_rate_per_sec must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archiving reads trade records from postgres, enable postgres")
		}
		if c.Archive.Interval.Duration <= 0 || c.Archive.Retention.Duration <= 0 {
			errs = append(errs, "archive: interval and retention must be > 0")
		}
	}

	if c.Resolution.Enabled && c.Resolution.Interval.Duration <= 0 {
		errs = append(errs, "resolution: interval must be > 0")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", domain.ErrConfigInvalid, strings.Join(errs, "\n  - "))
	}
	return nil
}
