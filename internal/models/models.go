package models

import (
	"fmt"
	"time"
)

// Config 结构体定义了程序运行所需的全部配置参数
type Config struct {
	IsTestnet                bool      `json:"is_testnet"`     // 是否使用测试网
	DBPath                   string    `json:"db_path"`        // SQLite 账本文件路径
	TickerDBPath             string    `json:"ticker_db_path"` // Badger 行情目录 (K线与MFI)
	LiveAPIURL               string    `json:"live_api_url"`
	LiveWSURL                string    `json:"live_ws_url"`
	TestnetAPIURL            string    `json:"testnet_api_url"`
	TestnetWSURL             string    `json:"testnet_ws_url"`
	KlineInterval            string    `json:"kline_interval"`                        // MFI 使用的K线周期, e.g. "1m"
	MFIPeriod                int       `json:"mfi_period"`                            // MFI 窗口长度
	TakerFeeRate             float64   `json:"taker_fee_rate"`                        // 模拟盘吃单手续费率
	PaperQuoteBalance        float64   `json:"paper_quote_balance"`                   // 模拟盘初始计价货币余额
	MetricsAddr              string    `json:"metrics_addr,omitempty"`                // Prometheus 监听地址, 为空则不启动
	LogConfig                LogConfig `json:"log"`                                   // 日志配置
	ReconnectAttempts        int       `json:"reconnect_attempts"`                    // WebSocket 单次断线后的最大重连次数
	ReconnectMinDelayMs      int       `json:"reconnect_min_delay_ms"`                // 重连退避的初始延迟
	ReconnectMaxDelayMs      int       `json:"reconnect_max_delay_ms"`                // 重连退避的最大延迟
	WebSocketPingIntervalSec int       `json:"websocket_ping_interval_sec,omitempty"` // WebSocket Ping消息发送间隔(秒)
	WebSocketPongTimeoutSec  int       `json:"websocket_pong_timeout_sec,omitempty"`  // WebSocket Pong消息超时时间(秒)

	BaseURL   string `json:"-"` // REST API基础地址 (由程序根据 IsTestnet 设置)
	WSBaseURL string `json:"-"` // WebSocket基础地址 (由程序根据 IsTestnet 设置)
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// Env 收集来自环境变量 (含 .env) 的覆盖项
type Env struct {
	BinanceAPIKey    string `env:"BINANCE_API_KEY"`
	BinanceSecretKey string `env:"BINANCE_SECRET_KEY"`
	TelegramToken    string `env:"TELEGRAM_TOKEN"`
	TelegramChatID   int64  `env:"TELEGRAM_CHAT_ID"`
	DBPath           string `env:"BOT_DB_PATH"`
	MetricsAddr      string `env:"BOT_METRICS_ADDR"`
}

// 支持的交易平台与策略
const (
	PlatformBinance = "binance"
	StrategyLadder  = "ladder"
)

// BotStatus 表示机器人是否参与 run-all / tick
type BotStatus string

const (
	BotActive BotStatus = "ACTIVE"
	BotPaused BotStatus = "PAUSED"
)

// OpenCriteria 开仓/补仓条件
type OpenCriteria struct {
	MFIBelow         float64 `json:"mfi_below" toml:"mfi_below" yaml:"mfi_below"`
	MFICallback      float64 `json:"mfi_callback" toml:"mfi_callback" yaml:"mfi_callback"`
	PriceChangeBelow float64 `json:"price_change_below" toml:"price_change_below" yaml:"price_change_below"`
	PriceCallback    float64 `json:"price_callback" toml:"price_callback" yaml:"price_callback"`
	AmountRatio      float64 `json:"amount_ratio" toml:"amount_ratio" yaml:"amount_ratio"`
}

// CloseCriteria 止盈条件
type CloseCriteria struct {
	PriceChangeAbove float64 `json:"price_change_above" toml:"price_change_above" yaml:"price_change_above"`
	PriceCallback    float64 `json:"price_callback" toml:"price_callback" yaml:"price_callback"`
}

// StrategyConfig 单个机器人的策略参数, 生命周期内不可变
type StrategyConfig struct {
	FirstBuyIn   float64        `json:"first_buy_in"`
	Entry        OpenCriteria   `json:"entry"`
	TakeProfit   CloseCriteria  `json:"take_profit"`
	MarginLadder []OpenCriteria `json:"margin_ladder"` // 下标即档位, 顺序有意义
}

// Bot 是已注册机器人的完整定义
type Bot struct {
	ID       int64          `json:"id"`
	Title    string         `json:"title"`
	Pair     string         `json:"pair"`     // 交易对, e.g. "BTCUSDT"
	Base     string         `json:"base"`     // 基础货币, e.g. "BTC"
	Quote    string         `json:"quote"`    // 计价货币, e.g. "USDT"
	Platform string         `json:"platform"` // 交易平台, 目前仅 "binance"
	Strategy string         `json:"strategy"` // 策略名称, 目前仅 "ladder"
	Cycle    string         `json:"cycle"`    // K线周期
	Config   StrategyConfig `json:"config"`
	Status   BotStatus      `json:"status"`
}

// ApiCredential 交易平台的API密钥绑定
type ApiCredential struct {
	Platform  string `json:"platform"`
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
}

// TradeStatus 账本记录的方向
type TradeStatus string

const (
	TradeOpen  TradeStatus = "OPEN"
	TradeClose TradeStatus = "CLOSE"
)

// Trade 账本中的一条成交记录, 插入后不再修改
type Trade struct {
	ID        int64       `json:"id"`
	Pair      string      `json:"pair"`
	Cycle     int64       `json:"cycle"`
	Price     float64     `json:"price"`
	Qty       float64     `json:"qty"`
	Platform  string      `json:"platform"`
	Status    TradeStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
}

// Transaction 交易所返回的成交结果
type Transaction struct {
	OrderID       int64   `json:"order_id"`
	ClientOrderID string  `json:"client_order_id"`
	Price         float64 `json:"price"` // 按成交量加权的平均成交价
	Qty           float64 `json:"qty"`
}

// Balance 定义了账户中特定资产的可用余额
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// Ticker 一根已收盘的K线及其对应的MFI
type Ticker struct {
	Pair     string  `json:"pair"`
	OpenTime int64   `json:"open_time"` // 毫秒
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	MFI      float64 `json:"mfi"`
}

// Tick 每次驱动状态机的输入: 价格以及最近两个MFI值 [最新, 上一个]
type Tick struct {
	Price float64
	MFI   [2]float64
}

// PnL 某个已平仓周期的已实现盈亏
type PnL struct {
	Platform string  `json:"platform"`
	Pair     string  `json:"pair"`
	Cycle    int64   `json:"cycle"`
	Value    float64 `json:"value"`
}

// Error 定义了币安API返回的错误信息结构
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Error 方法使得 BinanceError 实现了 error 接口
func (e *Error) Error() string {
	return fmt.Sprintf("API Error: code=%d, msg=%s", e.Code, e.Msg)
}
