package config

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"dca-ladder-bot-go/internal/indicator"
	"dca-ladder-bot-go/internal/models"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// 默认的币安现货接口地址
const (
	DefaultLiveAPIURL    = "https://api.binance.com"
	DefaultLiveWSURL     = "wss://stream.binance.com:9443"
	DefaultTestnetAPIURL = "https://testnet.binance.vision"
	DefaultTestnetWSURL  = "wss://testnet.binance.vision"
)

// Default 返回一份可直接运行的默认配置
func Default() *models.Config {
	cfg := presets()
	setDefaults(cfg)
	return cfg
}

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中。
// 文件不存在时使用默认配置; 缺省字段补默认值后统一校验。
func LoadConfig(path string) (*models.Config, error) {
	cfg := presets()

	file, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// 使用默认配置
	case err != nil:
		return nil, models.ConfigurationError("open %s: %v", path, err)
	default:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, models.ConfigurationError("parse %s: %v", path, err)
		}
	}

	setDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// presets 在解码前写入零值也合法的字段, 文件中显式写 0 时保留 0
func presets() *models.Config {
	return &models.Config{
		TakerFeeRate:      0.001,
		PaperQuoteBalance: 1000,
	}
}

func setDefaults(cfg *models.Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = "bot.db"
	}
	if cfg.TickerDBPath == "" {
		cfg.TickerDBPath = "ticker_db"
	}
	if cfg.LiveAPIURL == "" {
		cfg.LiveAPIURL = DefaultLiveAPIURL
	}
	if cfg.LiveWSURL == "" {
		cfg.LiveWSURL = DefaultLiveWSURL
	}
	if cfg.TestnetAPIURL == "" {
		cfg.TestnetAPIURL = DefaultTestnetAPIURL
	}
	if cfg.TestnetWSURL == "" {
		cfg.TestnetWSURL = DefaultTestnetWSURL
	}
	if cfg.KlineInterval == "" {
		cfg.KlineInterval = "1m"
	}
	if cfg.MFIPeriod == 0 {
		cfg.MFIPeriod = indicator.DefaultMFIPeriod
	}
	if cfg.ReconnectAttempts == 0 {
		cfg.ReconnectAttempts = 10
	}
	if cfg.ReconnectMinDelayMs == 0 {
		cfg.ReconnectMinDelayMs = 500
	}
	if cfg.ReconnectMaxDelayMs == 0 {
		cfg.ReconnectMaxDelayMs = 30000
	}
	if cfg.WebSocketPingIntervalSec == 0 {
		cfg.WebSocketPingIntervalSec = 30
	}
	if cfg.WebSocketPongTimeoutSec == 0 {
		cfg.WebSocketPongTimeoutSec = 75
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.LogConfig.Output == "" {
		cfg.LogConfig.Output = "console"
	}

	// 根据是否使用测试网选择接口地址
	if cfg.IsTestnet {
		cfg.BaseURL = cfg.TestnetAPIURL
		cfg.WSBaseURL = cfg.TestnetWSURL
	} else {
		cfg.BaseURL = cfg.LiveAPIURL
		cfg.WSBaseURL = cfg.LiveWSURL
	}
}

// Validate 检查配置是否可用
func Validate(cfg *models.Config) error {
	if cfg.DBPath == "" {
		return models.ConfigurationError("db_path is required")
	}
	if _, ok := KlineIntervals[cfg.KlineInterval]; !ok {
		return models.ConfigurationError("unsupported kline_interval %q", cfg.KlineInterval)
	}
	if cfg.MFIPeriod < 2 {
		return models.ConfigurationError("mfi_period must be at least 2, got %d", cfg.MFIPeriod)
	}
	if cfg.TakerFeeRate < 0 || cfg.TakerFeeRate >= 1 {
		return models.ConfigurationError("taker_fee_rate must be within [0,1), got %v", cfg.TakerFeeRate)
	}
	if cfg.ReconnectAttempts < 1 {
		return models.ConfigurationError("reconnect_attempts must be positive, got %d", cfg.ReconnectAttempts)
	}
	if cfg.ReconnectMinDelayMs > cfg.ReconnectMaxDelayMs {
		return models.ConfigurationError("reconnect_min_delay_ms %d exceeds reconnect_max_delay_ms %d",
			cfg.ReconnectMinDelayMs, cfg.ReconnectMaxDelayMs)
	}
	if cfg.WebSocketPongTimeoutSec <= cfg.WebSocketPingIntervalSec {
		return models.ConfigurationError("websocket_pong_timeout_sec must exceed websocket_ping_interval_sec")
	}
	if out := cfg.LogConfig.Output; out == "file" || out == "both" {
		if cfg.LogConfig.File == "" {
			return models.ConfigurationError("log.file is required for output %q", out)
		}
	}
	return nil
}

// KlineIntervals 币安支持的K线周期
var KlineIntervals = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

// LoadEnv 加载 .env 文件 (不存在则忽略) 并读取环境变量
func LoadEnv(files ...string) (models.Env, error) {
	var env models.Env
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return env, models.ConfigurationError("load %s: %v", f, err)
		}
	}
	if err := cleanenv.ReadEnv(&env); err != nil {
		return env, models.ConfigurationError("read environment: %v", err)
	}
	return env, nil
}

// ApplyEnv 用环境变量覆盖配置文件中的对应项
func ApplyEnv(cfg *models.Config, env models.Env) {
	if env.DBPath != "" {
		cfg.DBPath = env.DBPath
	}
	if env.MetricsAddr != "" {
		cfg.MetricsAddr = env.MetricsAddr
	}
}

// Credential 返回平台的API密钥: 优先使用已绑定的密钥, 否则回退到环境变量
func Credential(platform string, bound models.ApiCredential, ok bool, env models.Env) (models.ApiCredential, error) {
	if ok && bound.APIKey != "" {
		return bound, nil
	}
	if platform == models.PlatformBinance && env.BinanceAPIKey != "" && env.BinanceSecretKey != "" {
		return models.ApiCredential{Platform: platform, APIKey: env.BinanceAPIKey, SecretKey: env.BinanceSecretKey}, nil
	}
	return models.ApiCredential{}, models.ConfigurationError(
		"no API credential for platform %q: apply a bind manifest or set BINANCE_API_KEY/BINANCE_SECRET_KEY", platform)
}
