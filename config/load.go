package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"tradebot-go/infrastructure/logger"
	"tradebot-go/market"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env        string                    `yaml:"env"`
	Log        logger.Config             `yaml:"log"`
	Exchange   ExchangeConfig            `yaml:"exchange"`
	Flux       FluxConfig                `yaml:"flux"`
	Database   DatabaseConfig            `yaml:"database"`
	Metrics    MetricsConfig             `yaml:"metrics"`
	Risk       RiskConfig                `yaml:"risk"`
	Alert      AlertConfig               `yaml:"alert"`
	Strategies map[string]StrategyConfig `yaml:"strategies"`
}

type ExchangeConfig struct {
	Driver     string      `yaml:"driver"` // 目前只有 paper
	APIKey     string      `yaml:"apiKey"`
	APISecret  string      `yaml:"apiSecret"`
	RateLimit  float64     `yaml:"rateLimit"` // 每秒请求数，0 表示不限
	RateBurst  int         `yaml:"rateBurst"`
	MaxRetries int         `yaml:"maxRetries"` // 只读请求遇到临时错误的重试次数
	Paper      PaperConfig `yaml:"paper"`
}

// PaperConfig 纸面交易所参数。
type PaperConfig struct {
	FeeRate        decimal.Decimal `yaml:"feeRate"`
	FillRatio      decimal.Decimal `yaml:"fillRatio"`
	StepIntervalMs int             `yaml:"stepIntervalMs"` // 撮合周期
	Tickers        []TickerSeed    `yaml:"tickers"`
}

// TickerSeed 纸面交易所的初始行情。
type TickerSeed struct {
	Pair market.CurrencyPair `yaml:"pair"`
	Bid  decimal.Decimal     `yaml:"bid"`
	Ask  decimal.Decimal     `yaml:"ask"`
	Last decimal.Decimal     `yaml:"last"`
}

// FluxConfig 轮询调度；间隔可热更新。
type FluxConfig struct {
	TickerIntervalMs int   `yaml:"tickerIntervalMs"`
	OrderIntervalMs  int   `yaml:"orderIntervalMs"`
	TradeIntervalMs  int   `yaml:"tradeIntervalMs"`
	PollTimeoutMs    int   `yaml:"pollTimeoutMs"`
	Workers          int64 `yaml:"workers"`
}

func (f FluxConfig) TickerInterval() time.Duration { return ms(f.TickerIntervalMs) }
func (f FluxConfig) OrderInterval() time.Duration  { return ms(f.OrderIntervalMs) }
func (f FluxConfig) TradeInterval() time.Duration  { return ms(f.TradeIntervalMs) }
func (f FluxConfig) PollTimeout() time.Duration    { return ms(f.PollTimeoutMs) }

type DatabaseConfig struct {
	Type         string `yaml:"type"` // sqlite, postgres, memory
	DSN          string `yaml:"dsn"`
	LogLevel     string `yaml:"logLevel"`
	MaxOpenConns int    `yaml:"maxOpenConns"`
	MaxIdleConns int    `yaml:"maxIdleConns"`
}

type MetricsConfig struct {
	Addr      string `yaml:"addr"` // 为空则不启动 /metrics
	Namespace string `yaml:"namespace"`
}

type AlertConfig struct {
	ThrottleSec int `yaml:"throttleSec"` // 同一告警的最小间隔
}

type RiskConfig struct {
	MaxPositionAmount decimal.Decimal      `yaml:"maxPositionAmount"`
	MaxOpenPositions  int                  `yaml:"maxOpenPositions"`
	CircuitBreaker    CircuitBreakerConfig `yaml:"circuitBreaker"`
	Constraints       []PairConstraint     `yaml:"constraints"`
}

// PairConstraint 交易对的下单步长与数量上下限，零值表示不限制。
type PairConstraint struct {
	Pair      market.CurrencyPair `yaml:"pair"`
	StepSize  decimal.Decimal     `yaml:"stepSize"`
	MinAmount decimal.Decimal     `yaml:"minAmount"`
	MaxAmount decimal.Decimal     `yaml:"maxAmount"`
}

// CircuitBreakerConfig 行情异动熔断，阈值为相对涨跌幅（0.01 = 1%），零值关闭。
type CircuitBreakerConfig struct {
	OneMinute   decimal.Decimal `yaml:"oneMinute"`
	FiveMinute  decimal.Decimal `yaml:"fiveMinute"`
	CooldownSec int             `yaml:"cooldownSec"`
}

// Enabled 是否配置了任一窗口阈值。
func (c CircuitBreakerConfig) Enabled() bool {
	return c.OneMinute.IsPositive() || c.FiveMinute.IsPositive()
}

// StrategyConfig 单个策略实例。
type StrategyConfig struct {
	Kind                     string                `yaml:"kind"`
	Pairs                    []market.CurrencyPair `yaml:"pairs"`
	AllowConcurrentPositions bool                  `yaml:"allowConcurrentPositions"`
	Params                   map[string]any        `yaml:"params"`
}

// Load reads YAML config from path, fills defaults and applies validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("BOT_EXCHANGE_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("BOT_EXCHANGE_API_SECRET"); v != "" {
		cfg.Exchange.APISecret = v
	}
	if v := os.Getenv("BOT_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	return cfg, Validate(cfg)
}

// ApplyDefaults 填充未设置的字段。
func ApplyDefaults(cfg *AppConfig) {
	if cfg.Log.Level == "" {
		cfg.Log = logger.DefaultConfig()
	}
	if cfg.Exchange.Driver == "" {
		cfg.Exchange.Driver = "paper"
	}
	if cfg.Exchange.Paper.StepIntervalMs == 0 {
		cfg.Exchange.Paper.StepIntervalMs = 500
	}
	if cfg.Flux.TickerIntervalMs == 0 {
		cfg.Flux.TickerIntervalMs = 2000
	}
	if cfg.Flux.OrderIntervalMs == 0 {
		cfg.Flux.OrderIntervalMs = 1000
	}
	if cfg.Flux.TradeIntervalMs == 0 {
		cfg.Flux.TradeIntervalMs = 1000
	}
	if cfg.Flux.Workers == 0 {
		cfg.Flux.Workers = 3
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "sqlite"
	}
	if cfg.Database.Type == "sqlite" && cfg.Database.DSN == "" {
		cfg.Database.DSN = "data/tradebot.db"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "bot"
	}
	if cfg.Alert.ThrottleSec == 0 {
		cfg.Alert.ThrottleSec = 60
	}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
