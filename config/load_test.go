package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradebot-go/market"
)

const sampleConfig = `
env: dev
exchange:
  driver: paper
  rateLimit: 10
  rateBurst: 5
  paper:
    feeRate: 0.001
    fillRatio: "0.5"
    tickers:
      - pair: BTC/USD
        bid: 29990
        ask: 30000
        last: 29995
flux:
  tickerIntervalMs: 1500
  workers: 4
database:
  type: sqlite
  dsn: data/test.db
risk:
  maxPositionAmount: 2.5
  circuitBreaker:
    oneMinute: 0.02
  constraints:
    - pair: BTC/USD
      stepSize: 0.001
      minAmount: 0.001
strategies:
  dip:
    kind: threshold
    pairs: [BTC/USD]
    params:
      buyBelow: 30000
      amount: "0.1"
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Env != "dev" || cfg.Exchange.RateBurst != 5 {
		t.Fatalf("unexpected cfg values: %+v", cfg)
	}
	if !cfg.Exchange.Paper.FeeRate.Equal(decimal.RequireFromString("0.001")) ||
		!cfg.Exchange.Paper.FillRatio.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("decimal fields not parsed: %+v", cfg.Exchange.Paper)
	}
	btc := market.MustParsePair("BTC/USD")
	if len(cfg.Exchange.Paper.Tickers) != 1 || cfg.Exchange.Paper.Tickers[0].Pair != btc {
		t.Fatalf("tickers not parsed: %+v", cfg.Exchange.Paper.Tickers)
	}
	dip, ok := cfg.Strategies["dip"]
	if !ok || dip.Kind != "threshold" || len(dip.Pairs) != 1 || dip.Pairs[0] != btc {
		t.Fatalf("strategy not parsed: %+v", cfg.Strategies)
	}
	if dip.Params["amount"] != "0.1" {
		t.Fatalf("params not parsed: %+v", dip.Params)
	}
	if len(cfg.Risk.Constraints) != 1 || !cfg.Risk.Constraints[0].StepSize.Equal(decimal.RequireFromString("0.001")) {
		t.Fatalf("constraints not parsed: %+v", cfg.Risk.Constraints)
	}
	if !cfg.Risk.CircuitBreaker.Enabled() {
		t.Fatalf("circuit breaker should be enabled")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Flux.TickerInterval() != 1500*time.Millisecond {
		t.Fatalf("ticker interval = %v", cfg.Flux.TickerInterval())
	}
	if cfg.Flux.OrderInterval() != time.Second || cfg.Flux.TradeInterval() != time.Second {
		t.Fatalf("defaults not applied: %+v", cfg.Flux)
	}
	if cfg.Log.Level != "info" || cfg.Metrics.Namespace != "bot" || cfg.Exchange.Paper.StepIntervalMs != 500 || cfg.Alert.ThrottleSec != 60 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	t.Setenv("BOT_EXCHANGE_API_KEY", "env-key")
	t.Setenv("BOT_EXCHANGE_API_SECRET", "env-secret")
	t.Setenv("BOT_DATABASE_DSN", "data/override.db")
	cfg, err := LoadWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Exchange.APIKey != "env-key" || cfg.Exchange.APISecret != "env-secret" {
		t.Fatalf("env overrides not applied: %+v", cfg.Exchange)
	}
	if cfg.Database.DSN != "data/override.db" {
		t.Fatalf("dsn override not applied: %s", cfg.Database.DSN)
	}
}

func TestValidate(t *testing.T) {
	base, err := Load(writeTempConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cases := []struct {
		name   string
		mutate func(*AppConfig)
		want   string
	}{
		{"missing env", func(c *AppConfig) { c.Env = "" }, "env"},
		{"unknown driver", func(c *AppConfig) { c.Exchange.Driver = "binance" }, "exchange.driver"},
		{"fee too large", func(c *AppConfig) { c.Exchange.Paper.FeeRate = decimal.NewFromInt(1) }, "feeRate"},
		{"bid above ask", func(c *AppConfig) { c.Exchange.Paper.Tickers[0].Bid = decimal.NewFromInt(40000) }, "bid above ask"},
		{"negative interval", func(c *AppConfig) { c.Flux.OrderIntervalMs = -1 }, "flux"},
		{"unknown database", func(c *AppConfig) { c.Database.Type = "mongo" }, "database.type"},
		{"postgres without dsn", func(c *AppConfig) { c.Database = DatabaseConfig{Type: "postgres"} }, "database.dsn"},
		{"negative risk", func(c *AppConfig) { c.Risk.MaxOpenPositions = -1 }, "risk"},
		{"constraint min above max", func(c *AppConfig) {
			c.Risk.Constraints = []PairConstraint{{Pair: market.MustParsePair("BTC/USD"), MinAmount: decimal.NewFromInt(2), MaxAmount: decimal.NewFromInt(1)}}
		}, "minAmount above maxAmount"},
		{"negative alert throttle", func(c *AppConfig) { c.Alert.ThrottleSec = -1 }, "alert"},
		{"no strategies", func(c *AppConfig) { c.Strategies = nil }, "strategies"},
		{"strategy without pairs", func(c *AppConfig) { c.Strategies = map[string]StrategyConfig{"x": {Kind: "threshold"}} }, "pair"},
		{"strategy without kind", func(c *AppConfig) {
			c.Strategies = map[string]StrategyConfig{"x": {Pairs: []market.CurrencyPair{market.MustParsePair("BTC/USD")}}}
		}, "kind"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			cfg.Exchange.Paper.Tickers = append([]TickerSeed(nil), base.Exchange.Paper.Tickers...)
			tc.mutate(&cfg)
			err := Validate(cfg)
			var inv ErrInvalid
			if !errors.As(err, &inv) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}

	cfg := base
	cfg.Database = DatabaseConfig{Type: "memory"}
	if err := Validate(cfg); err != nil {
		t.Fatalf("memory database needs no dsn: %v", err)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	if _, err := Load(writeTempConfig(t, "env: [")); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestLoadShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "configs", "config.yaml"))
	if err != nil {
		t.Fatalf("shipped config must load: %v", err)
	}
	if len(cfg.Strategies) != 2 || len(cfg.Exchange.Paper.Tickers) != 2 {
		t.Fatalf("unexpected shipped config: %+v", cfg)
	}
}
