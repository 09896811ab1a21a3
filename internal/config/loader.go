package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads the configuration file at path, merges it on top of the
// built-in defaults, and applies environment variable overrides. Files ending
// in .yaml, .yml or .json are decoded as YAML, anything else as TOML.
//
// An empty path yields the defaults plus environment overrides. A missing
// file at an explicit path is an error. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: file %s does not exist", path)
			}
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := decode(path, data, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	default:
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
		}
		return nil
	}
}

// applyEnvOverrides reads well-known CLEARWIN_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). The bare PRIVATE_KEY and MODE variables are honoured as well.
func applyEnvOverrides(cfg *Config) {
	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.Mode, "CLEARWIN_MODE")

	// ── Scan ──
	setDuration(&cfg.Scan.Interval, "CLEARWIN_SCAN_INTERVAL")
	setBool(&cfg.Scan.Once, "CLEARWIN_SCAN_ONCE")
	setInt(&cfg.Scan.Workers, "CLEARWIN_SCAN_WORKERS")
	setDuration(&cfg.Scan.CallTimeout, "CLEARWIN_SCAN_CALL_TIMEOUT")
	setDuration(&cfg.Scan.CycleTimeout, "CLEARWIN_SCAN_CYCLE_TIMEOUT")
	setInt(&cfg.Scan.PageSize, "CLEARWIN_SCAN_PAGE_SIZE")
	setInt(&cfg.Scan.MaxPages, "CLEARWIN_SCAN_MAX_PAGES")

	// ── Strategy ──
	setFloat64(&cfg.Strategy.MinPrice, "CLEARWIN_STRATEGY_MIN_PRICE")
	setFloat64(&cfg.Strategy.MaxPrice, "CLEARWIN_STRATEGY_MAX_PRICE")
	setDuration(&cfg.Strategy.MinHorizon, "CLEARWIN_STRATEGY_MIN_HORIZON")
	setDuration(&cfg.Strategy.MaxHorizon, "CLEARWIN_STRATEGY_MAX_HORIZON")
	setFloat64(&cfg.Strategy.MinLiquidity, "CLEARWIN_STRATEGY_MIN_LIQUIDITY")

	// ── Risk ──
	setFloat64(&cfg.Risk.Bankroll, "CLEARWIN_RISK_BANKROLL")
	setFloat64(&cfg.Risk.CapitalFraction, "CLEARWIN_RISK_CAPITAL_FRACTION")
	setFloat64(&cfg.Risk.PerTradeCap, "CLEARWIN_RISK_PER_TRADE_CAP")
	setFloat64(&cfg.Risk.PerMarketCap, "CLEARWIN_RISK_PER_MARKET_CAP")
	setFloat64(&cfg.Risk.TotalCap, "CLEARWIN_RISK_TOTAL_CAP")
	setFloat64(&cfg.Risk.MinOrderSize, "CLEARWIN_RISK_MIN_ORDER_SIZE")

	// ── Retry ──
	setInt(&cfg.Retry.MaxAttempts, "CLEARWIN_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Retry.BackoffBase, "CLEARWIN_RETRY_BACKOFF_BASE")
	setDuration(&cfg.Retry.BackoffMax, "CLEARWIN_RETRY_BACKOFF_MAX")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "CLEARWIN_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.ClobHost, "CLEARWIN_POLYMARKET_CLOB_HOST")
	setInt(&cfg.Polymarket.ChainID, "CLEARWIN_POLYMARKET_CHAIN_ID")
	setStr(&cfg.Polymarket.ExchangeAddress, "CLEARWIN_POLYMARKET_EXCHANGE_ADDRESS")
	setInt(&cfg.Polymarket.SignatureType, "CLEARWIN_POLYMARKET_SIGNATURE_TYPE")
	setStr(&cfg.Polymarket.OrderType, "CLEARWIN_POLYMARKET_ORDER_TYPE")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "PRIVATE_KEY")
	setStr(&cfg.Wallet.PrivateKey, "CLEARWIN_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "CLEARWIN_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "CLEARWIN_WALLET_KEY_PASSWORD")
	setStr(&cfg.Wallet.FunderAddress, "CLEARWIN_WALLET_FUNDER_ADDRESS")

	// ── Trade log ──
	setStr(&cfg.TradeLog.Path, "CLEARWIN_TRADE_LOG_PATH")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "CLEARWIN_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "CLEARWIN_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CLEARWIN_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CLEARWIN_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CLEARWIN_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CLEARWIN_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CLEARWIN_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CLEARWIN_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CLEARWIN_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CLEARWIN_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CLEARWIN_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "CLEARWIN_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CLEARWIN_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CLEARWIN_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CLEARWIN_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CLEARWIN_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CLEARWIN_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CLEARWIN_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.OrderRatePerSec, "CLEARWIN_REDIS_ORDER_RATE_PER_SEC")
	setDuration(&cfg.Redis.IdempotencyTTL, "CLEARWIN_REDIS_IDEMPOTENCY_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CLEARWIN_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CLEARWIN_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CLEARWIN_S3_REGION")
	setStr(&cfg.S3.Bucket, "CLEARWIN_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CLEARWIN_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CLEARWIN_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CLEARWIN_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CLEARWIN_S3_FORCE_PATH_STYLE")

	// ── Archive / resolution ──
	setDuration(&cfg.Archive.Interval, "CLEARWIN_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.Retention, "CLEARWIN_ARCHIVE_RETENTION")
	setBool(&cfg.Resolution.Enabled, "CLEARWIN_RESOLUTION_ENABLED")
	setDuration(&cfg.Resolution.Interval, "CLEARWIN_RESOLUTION_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CLEARWIN_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CLEARWIN_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CLEARWIN_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CLEARWIN_NOTIFY_EVENTS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CLEARWIN_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CLEARWIN_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CLEARWIN_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CLEARWIN_SERVER_API_KEY")
	setInt(&cfg.Server.RatePerMin, "CLEARWIN_SERVER_RATE_PER_MIN")

	// ── Logging ──
	setStr(&cfg.Logging.Level, "CLEARWIN_LOG_LEVEL")
	setStr(&cfg.Logging.File, "CLEARWIN_LOG_FILE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
