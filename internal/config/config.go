// Package config defines the top-level configuration for the arbitrage engine
// and provides validation helpers.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBENGINE_* environment variables.
type Config struct {
	Postgres   PostgresConfig            `toml:"postgres"`
	Redis      RedisConfig               `toml:"redis"`
	S3         S3Config                  `toml:"s3"`
	Scanner    ScannerConfig             `toml:"scanner"`
	Operation  OperationConfig           `toml:"operation"`
	Exchanges  map[string]ExchangeConfig `toml:"exchanges"`
	Notify     NotifyConfig              `toml:"notify"`
	Metrics    MetricsConfig             `toml:"metrics"`
	Archive    ArchiveConfig             `toml:"archive"`
	Store      string                    `toml:"store"`
	QuoteStore string                    `toml:"quote_store"`
	Mode       string                    `toml:"mode"`
	LogLevel   string                    `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	PoolMinConns   int      `toml:"pool_min_conns"`
	ConnectTimeout duration `toml:"connect_timeout"`
	RunMigrations  bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
	// Locks selects the Redis lock manager for scan locks even when quotes are kept in memory.
	Locks bool `toml:"locks"`
	// Events publishes operation and analysis updates on the Redis bus.
	Events bool `toml:"events"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ScannerConfig tunes the opportunity scan loop and the quote poller.
type ScannerConfig struct {
	Symbols      []string `toml:"symbols"`
	Interval     duration `toml:"interval"`
	PollInterval duration `toml:"poll_interval"`
	Concurrency  int      `toml:"concurrency"`
	QuoteMaxAge  duration `toml:"quote_max_age"`
	LockTTL      duration `toml:"lock_ttl"`
	MetadataTTL  duration `toml:"metadata_ttl"`
	// NetworkAliases extends the built-in chain aliases, e.g. "BSC(BEP20)" = "BSC".
	NetworkAliases map[string]string `toml:"network_aliases"`
}

// OperationConfig controls how opportunities turn into operations.
type OperationConfig struct {
	// Mode is the execution environment: local, sandbox or real.
	Mode             string   `toml:"mode"`
	LegTimeout       duration `toml:"leg_timeout"`
	InvestedAmount   float64  `toml:"invested_amount"`
	MinSpreadPercent float64  `toml:"min_spread_percent"`
	// AllowLive must be true before real-mode executors place orders.
	AllowLive bool `toml:"allow_live"`
	// Funding seeds the ledger of Mode once per exchange, in USDT.
	Funding map[string]float64 `toml:"funding"`
}

// NetworkConfig describes one transfer network for an asset on a simulated venue.
type NetworkConfig struct {
	Network         string   `toml:"network"`
	Fee             *float64 `toml:"fee"`
	WithdrawEnabled *bool    `toml:"withdraw_enabled"`
	DepositEnabled  *bool    `toml:"deposit_enabled"`
}

// ExchangeConfig configures one venue under [exchanges.<id>].
type ExchangeConfig struct {
	Enabled bool `toml:"enabled"`
	// Kind is "simulated" or "binance".
	Kind      string `toml:"kind"`
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
	// Sandbox points a binance venue at the exchange testnet in every mode.
	// Sandbox mode always uses the testnet.
	Sandbox   bool     `toml:"sandbox"`
	RateLimit float64  `toml:"rate_limit"`
	Burst     int      `toml:"burst"`
	Timeout   duration `toml:"timeout"`
	Taker     float64  `toml:"taker"`
	Maker     float64  `toml:"maker"`
	// Networks lists transfer networks per asset for simulated venues.
	Networks map[string][]NetworkConfig `toml:"networks"`
	// DepositAddresses maps "ASSET/NETWORK" to a deposit address on this venue.
	DepositAddresses map[string]string `toml:"deposit_addresses"`
	// Quotes seeds static [ask, bid] pairs per symbol for simulated venues.
	Quotes map[string][]float64 `toml:"quotes"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	MinSpreadPercent  float64  `toml:"min_spread_percent"`
	Cooldown          duration `toml:"cooldown"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// ArchiveConfig controls the archive run mode.
type ArchiveConfig struct {
	// RetentionDays is the age past which settled rows are exported.
	RetentionDays int `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config that runs a self-contained local simulation.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "arbengine",
			User:           "postgres",
			SSLMode:        "disable",
			PoolMaxConns:   10,
			PoolMinConns:   2,
			ConnectTimeout: duration{10 * time.Second},
			RunMigrations:  true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "arbengine",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbengine-archive",
			ForcePathStyle: true,
		},
		Scanner: ScannerConfig{
			Symbols:      []string{"BTC/USDT", "ETH/USDT"},
			Interval:     duration{10 * time.Second},
			PollInterval: duration{5 * time.Second},
			Concurrency:  4,
			QuoteMaxAge:  duration{30 * time.Second},
			LockTTL:      duration{30 * time.Second},
			MetadataTTL:  duration{10 * time.Minute},
		},
		Operation: OperationConfig{
			Mode:             "local",
			LegTimeout:       duration{30 * time.Second},
			InvestedAmount:   100,
			MinSpreadPercent: 0.5,
		},
		Exchanges: map[string]ExchangeConfig{},
		Notify: NotifyConfig{
			Events:   []string{"operation.completed", "operation.failed", "opportunity"},
			Cooldown: duration{15 * time.Minute},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9102",
		},
		Archive: ArchiveConfig{
			RetentionDays: 30,
		},
		Store:      "memory",
		QuoteStore: "memory",
		Mode:       "scan",
		LogLevel:   "info",
	}
}

var validRunModes = map[string]bool{
	"scan":    true,
	"trade":   true,
	"archive": true,
	"watch":   true,
}

var validOperationModes = map[string]bool{
	"local":   true,
	"sandbox": true,
	"real":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// EnabledExchanges returns the ids of enabled exchanges in sorted order.
func (c *Config) EnabledExchanges() []string {
	var ids []string
	for id, ex := range c.Exchanges {
		if ex.Enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if !validRunModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: scan, trade, archive, watch)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}
	if c.Store != "memory" && c.Store != "postgres" {
		add("store must be memory or postgres, got %q", c.Store)
	}
	if c.QuoteStore != "memory" && c.QuoteStore != "redis" {
		add("quote_store must be memory or redis, got %q", c.QuoteStore)
	}

	if c.Store == "postgres" && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			add("postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
		}
		if c.Postgres.Database == "" {
			add("postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		add("postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		add("postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	if c.UsesRedis() {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	if c.Mode == "archive" {
		if c.Store != "postgres" {
			add("archive: mode archive requires store = postgres")
		}
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty")
		}
		if c.Archive.RetentionDays < 0 {
			add("archive: retention_days must be >= 0")
		}
	}

	if c.Mode == "watch" && !c.Redis.Events {
		add("watch: mode watch requires redis.events = true")
	}

	if len(c.Scanner.Symbols) == 0 && c.scans() {
		add("scanner: symbols must not be empty")
	}
	for _, s := range c.Scanner.Symbols {
		if !strings.Contains(s, "/") {
			add("scanner: symbol %q must be BASE/QUOTE", s)
		}
	}
	if c.Scanner.Interval.Duration <= 0 {
		add("scanner: interval must be > 0")
	}
	if c.Scanner.PollInterval.Duration <= 0 {
		add("scanner: poll_interval must be > 0")
	}
	if c.Scanner.Concurrency < 1 {
		add("scanner: concurrency must be >= 1")
	}
	if c.Scanner.QuoteMaxAge.Duration < 0 {
		add("scanner: quote_max_age must not be negative")
	}

	if !validOperationModes[c.Operation.Mode] {
		add("operation: unknown mode %q (valid: local, sandbox, real)", c.Operation.Mode)
	}
	if c.Operation.InvestedAmount <= 0 {
		add("operation: invested_amount must be > 0")
	}
	if c.Operation.LegTimeout.Duration <= 0 {
		add("operation: leg_timeout must be > 0")
	}
	for id, amt := range c.Operation.Funding {
		if amt <= 0 {
			add("operation: funding for %s must be > 0", id)
		}
		if ex, ok := c.Exchanges[id]; !ok || !ex.Enabled {
			add("operation: funding names unknown or disabled exchange %q", id)
		}
	}

	if len(c.EnabledExchanges()) < 2 && c.scans() {
		add("exchanges: at least two exchanges must be enabled")
	}
	for _, id := range c.EnabledExchanges() {
		errs = append(errs, c.Exchanges[id].validate(id, c.Operation.Mode)...)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		add("metrics: addr must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (e ExchangeConfig) validate(id, opMode string) []string {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf("exchanges.%s: ", id)+fmt.Sprintf(format, args...))
	}
	switch e.Kind {
	case "simulated":
	case "binance":
		if opMode != "local" && (e.APIKey == "" || e.APISecret == "") {
			add("api_key and api_secret are required for %s mode", opMode)
		}
	default:
		add("kind must be simulated or binance, got %q", e.Kind)
	}
	if e.RateLimit < 0 || e.Burst < 0 {
		add("rate_limit and burst must not be negative")
	}
	if e.Taker < 0 || e.Maker < 0 {
		add("taker and maker must not be negative")
	}
	for sym, q := range e.Quotes {
		if len(q) != 2 || q[0] <= 0 || q[1] <= 0 {
			add("quotes.%s must be [ask, bid] with positive prices", sym)
		}
	}
	for key := range e.DepositAddresses {
		if strings.Count(key, "/") != 1 {
			add("deposit_addresses key %q must be ASSET/NETWORK", key)
		}
	}
	return errs
}

// scans reports whether the run mode polls venues and runs the scanner.
func (c *Config) scans() bool {
	m := strings.ToLower(c.Mode)
	return m == "scan" || m == "trade"
}

// UsesRedis reports whether any component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.QuoteStore == "redis" || c.Redis.Locks || c.Redis.Events
}
