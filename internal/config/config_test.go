package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"dca-ladder-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, "bot.db", cfg.DBPath)
	assert.Equal(t, "1m", cfg.KlineInterval)
	assert.Equal(t, 14, cfg.MFIPeriod)
	assert.Equal(t, DefaultLiveAPIURL, cfg.BaseURL)
	assert.Equal(t, DefaultLiveWSURL, cfg.WSBaseURL)
}

func TestLoadConfigTestnet(t *testing.T) {
	path := writeFile(t, "config.json", `{"is_testnet": true, "db_path": "x.db", "mfi_period": 7, "log": {"level": "debug"}}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTestnetAPIURL, cfg.BaseURL)
	assert.Equal(t, DefaultTestnetWSURL, cfg.WSBaseURL)
	assert.Equal(t, "x.db", cfg.DBPath)
	assert.Equal(t, 7, cfg.MFIPeriod)
	assert.Equal(t, "debug", cfg.LogConfig.Level)
	assert.Equal(t, "console", cfg.LogConfig.Output)
}

func TestLoadConfigKeepsExplicitZero(t *testing.T) {
	cfg, err := LoadConfig(writeFile(t, "config.json", `{"taker_fee_rate": 0, "paper_quote_balance": 0}`))
	require.NoError(t, err)
	assert.Zero(t, cfg.TakerFeeRate)
	assert.Zero(t, cfg.PaperQuoteBalance)

	// Omitted fields still get their defaults.
	cfg, err = LoadConfig(writeFile(t, "config.json", `{"db_path": "x.db"}`))
	require.NoError(t, err)
	assert.Equal(t, 0.001, cfg.TakerFeeRate)
	assert.Equal(t, 1000.0, cfg.PaperQuoteBalance)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed json", `{"db_path":`},
		{"bad interval", `{"kline_interval": "7m"}`},
		{"bad fee", `{"taker_fee_rate": 1.5}`},
		{"short mfi window", `{"mfi_period": 1}`},
		{"inverted backoff", `{"reconnect_min_delay_ms": 5000, "reconnect_max_delay_ms": 100}`},
		{"pong before ping", `{"websocket_ping_interval_sec": 60, "websocket_pong_timeout_sec": 30}`},
		{"file log without path", `{"log": {"output": "file"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, "config.json", tt.content))
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrConfiguration))
		})
	}
}

// unsetEnv clears keys for the test and restores them afterwards.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadEnv(t *testing.T) {
	unsetEnv(t, "BINANCE_API_KEY", "BINANCE_SECRET_KEY", "TELEGRAM_TOKEN", "TELEGRAM_CHAT_ID", "BOT_DB_PATH", "BOT_METRICS_ADDR")
	envFile := writeFile(t, ".env", "BINANCE_API_KEY=key\nBINANCE_SECRET_KEY=secret\nTELEGRAM_CHAT_ID=42\nBOT_DB_PATH=/tmp/env.db\n")

	env, err := LoadEnv(envFile, filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, "key", env.BinanceAPIKey)
	assert.Equal(t, "secret", env.BinanceSecretKey)
	assert.Equal(t, int64(42), env.TelegramChatID)

	cfg := Default()
	ApplyEnv(cfg, env)
	assert.Equal(t, "/tmp/env.db", cfg.DBPath)
	assert.Empty(t, cfg.MetricsAddr)
}

func TestCredential(t *testing.T) {
	bound := models.ApiCredential{Platform: "binance", APIKey: "bound", SecretKey: "s"}
	cred, err := Credential("binance", bound, true, models.Env{BinanceAPIKey: "env", BinanceSecretKey: "s"})
	require.NoError(t, err)
	assert.Equal(t, "bound", cred.APIKey)

	cred, err = Credential("binance", models.ApiCredential{}, false, models.Env{BinanceAPIKey: "env", BinanceSecretKey: "s"})
	require.NoError(t, err)
	assert.Equal(t, "env", cred.APIKey)

	_, err = Credential("binance", models.ApiCredential{}, false, models.Env{})
	assert.True(t, errors.Is(err, models.ErrConfiguration))
}

const botTOML = `
kind = "bot"
title = "btc-ladder"

[general]
pair = "btcusdt"
base = "BTC"
quote = "USDT"
platform = "binance"
strategy = "ladder"

[parameters]
cycle = "1m"
first_buy_in = 20.0

[parameters.entry]
mfi_below = 40.0
mfi_callback = 5.0
price_change_below = -1.0
price_callback = 0.3

[parameters.take_profit]
price_change_above = 2.0
price_callback = -0.5

[[margin.margin_configuration]]
mfi_below = 40.0
mfi_callback = 5.0
price_change_below = -2.0
price_callback = 0.3
amount_ratio = 1.0

[[margin.margin_configuration]]
mfi_below = 35.0
mfi_callback = 5.0
price_change_below = -4.0
price_callback = 0.5
amount_ratio = 2.0
`

func TestLoadManifestTOMLBot(t *testing.T) {
	m, err := LoadManifest(writeFile(t, "bot.toml", botTOML))
	require.NoError(t, err)
	require.NotNil(t, m.Bot)
	assert.Nil(t, m.Binding)
	assert.Equal(t, KindBot, m.Kind)

	b := m.Bot
	assert.Equal(t, "btc-ladder", b.Title)
	assert.Equal(t, "BTCUSDT", b.Pair)
	assert.Equal(t, models.BotPaused, b.Status)
	assert.Equal(t, 20.0, b.Config.FirstBuyIn)
	assert.Equal(t, -1.0, b.Config.Entry.PriceChangeBelow)
	assert.Equal(t, -0.5, b.Config.TakeProfit.PriceCallback)
	require.Len(t, b.Config.MarginLadder, 2)
	assert.Equal(t, 2.0, b.Config.MarginLadder[1].AmountRatio)
}

func TestLoadManifestYAMLMatchesTOML(t *testing.T) {
	yamlBot := `
kind: bot
title: btc-ladder
general: {pair: BTCUSDT, base: BTC, quote: USDT, platform: binance, strategy: ladder}
parameters:
  cycle: 1m
  first_buy_in: 20
  entry: {mfi_below: 40, mfi_callback: 5, price_change_below: -1, price_callback: 0.3}
  take_profit: {price_change_above: 2, price_callback: -0.5}
margin:
  margin_configuration:
    - {mfi_below: 40, mfi_callback: 5, price_change_below: -2, price_callback: 0.3, amount_ratio: 1}
    - {mfi_below: 35, mfi_callback: 5, price_change_below: -4, price_callback: 0.5, amount_ratio: 2}
`
	fromYAML, err := LoadManifest(writeFile(t, "bot.yml", yamlBot))
	require.NoError(t, err)
	fromTOML, err := ParseManifest([]byte(botTOML), ".toml")
	require.NoError(t, err)
	assert.Equal(t, fromTOML.Bot, fromYAML.Bot)
}

func TestLoadManifestBinding(t *testing.T) {
	m, err := LoadManifest(writeFile(t, "bind.toml", "kind = \"bind\"\nplatform = \"binance\"\napi_key = \"k\"\nsecret_key = \"s\"\n"))
	require.NoError(t, err)
	require.NotNil(t, m.Binding)
	assert.Equal(t, models.ApiCredential{Platform: "binance", APIKey: "k", SecretKey: "s"}, *m.Binding)
}

func TestLoadManifestRejects(t *testing.T) {
	tests := []struct {
		name string
		ext  string
		body string
	}{
		{"unknown format", ".ini", "kind = bot"},
		{"unknown kind", ".toml", `kind = "grid"`},
		{"binding without secret", ".toml", "kind = \"bind\"\nplatform = \"binance\"\napi_key = \"k\"\n"},
		{"binding unknown platform", ".toml", "kind = \"bind\"\nplatform = \"kraken\"\napi_key = \"k\"\nsecret_key = \"s\"\n"},
		{"zero first buy in", ".yaml", "kind: bot\ntitle: t\ngeneral: {pair: BTCUSDT, base: BTC, quote: USDT, platform: binance, strategy: ladder}\nparameters: {cycle: 1m, first_buy_in: 0}\n"},
		{"pair mismatch", ".yaml", "kind: bot\ntitle: t\ngeneral: {pair: ETHUSDT, base: BTC, quote: USDT, platform: binance, strategy: ladder}\nparameters: {cycle: 1m, first_buy_in: 10}\n"},
		{"unknown strategy", ".yaml", "kind: bot\ntitle: t\ngeneral: {pair: BTCUSDT, base: BTC, quote: USDT, platform: binance, strategy: grid}\nparameters: {cycle: 1m, first_buy_in: 10}\n"},
		{"bad cycle", ".yaml", "kind: bot\ntitle: t\ngeneral: {pair: BTCUSDT, base: BTC, quote: USDT, platform: binance, strategy: ladder}\nparameters: {cycle: 2m, first_buy_in: 10}\n"},
		{"rung without ratio", ".yaml", "kind: bot\ntitle: t\ngeneral: {pair: BTCUSDT, base: BTC, quote: USDT, platform: binance, strategy: ladder}\nparameters: {cycle: 1m, first_buy_in: 10}\nmargin: {margin_configuration: [{mfi_below: 30}]}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.body), tt.ext)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrConfiguration))
		})
	}
}
