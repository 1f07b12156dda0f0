package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
mode = "trade"

[scanner]
symbols = ["BTC/USDT"]
interval = "2s"

[operation]
mode = "local"
invested_amount = 250

[operation.funding]
alpha = 1000

[exchanges.alpha]
enabled = true
kind = "simulated"
taker = 0.001

[exchanges.alpha.quotes]
"BTC/USDT" = [100.0, 99.5]

[[exchanges.alpha.networks.BTC]]
network = "BTC"
fee = 0.0005

[exchanges.beta]
enabled = true
kind = "binance"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arbengine.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesDefaultsAndEnv(t *testing.T) {
	t.Setenv("ARBENGINE_OPERATION_INVESTED_AMOUNT", "300")
	t.Setenv("ARBENGINE_SCANNER_SYMBOLS", "BTC/USDT, ETH/USDT ,")
	t.Setenv("ARBENGINE_EXCHANGE_BETA_API_KEY", "key")
	t.Setenv("ARBENGINE_SCANNER_POLL_INTERVAL", "1500ms")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "trade", cfg.Mode)
	assert.Equal(t, 2*time.Second, cfg.Scanner.Interval.Duration)
	assert.Equal(t, 1500*time.Millisecond, cfg.Scanner.PollInterval.Duration)
	assert.Equal(t, 300.0, cfg.Operation.InvestedAmount)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, cfg.Scanner.Symbols)
	assert.Equal(t, "key", cfg.Exchanges["beta"].APIKey)
	assert.Equal(t, []float64{100, 99.5}, cfg.Exchanges["alpha"].Quotes["BTC/USDT"])
	require.Len(t, cfg.Exchanges["alpha"].Networks["BTC"], 1)
	assert.InDelta(t, 0.0005, *cfg.Exchanges["alpha"].Networks["BTC"][0].Fee, 1e-12)

	// Untouched sections keep their defaults.
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, ":9102", cfg.Metrics.Addr)
	assert.Equal(t, []string{"alpha", "beta"}, cfg.EnabledExchanges())
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.Operation.Mode = "paper"
	cfg.QuoteStore = "redis"
	cfg.Redis.Addr = ""
	cfg.Exchanges = map[string]ExchangeConfig{
		"alpha": {Enabled: true, Kind: "simulated", Quotes: map[string][]float64{"BTC/USDT": {100}}},
	}
	cfg.Operation.Funding = map[string]float64{"gamma": 10}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		`unknown mode "bogus"`,
		`operation: unknown mode "paper"`,
		"redis: addr must not be empty",
		"at least two exchanges",
		`unknown or disabled exchange "gamma"`,
		"exchanges.alpha: quotes.BTC/USDT",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidateBinanceCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Exchanges = map[string]ExchangeConfig{
		"a": {Enabled: true, Kind: "simulated"},
		"b": {Enabled: true, Kind: "binance"},
	}
	require.NoError(t, cfg.Validate())

	cfg.Operation.Mode = "sandbox"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exchanges.b: api_key and api_secret are required for sandbox mode")
}

func TestValidateArchiveNeedsPostgres(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires store = postgres")

	cfg.Store = "postgres"
	require.NoError(t, cfg.Validate())
}

func TestValidateWatchNeedsEvents(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "watch"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires redis.events = true")
	assert.NotContains(t, err.Error(), "at least two exchanges")

	cfg.Redis.Events = true
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pw"
	cfg.S3.SecretKey = "s3"
	cfg.Notify.TelegramToken = "tg"
	cfg.Exchanges = map[string]ExchangeConfig{"b": {Kind: "binance", APIKey: "k", APISecret: "s"}}

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	assert.Equal(t, "***", red.Exchanges["b"].APIKey)
	assert.Equal(t, "***", red.Exchanges["b"].APISecret)
	assert.Empty(t, red.S3.AccessKey)

	// The input config is untouched.
	assert.Equal(t, "k", cfg.Exchanges["b"].APIKey)
	assert.Equal(t, "pw", cfg.Postgres.Password)
}
