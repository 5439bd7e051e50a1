package config

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }

func invalid(format string, args ...any) error {
	return ErrInvalid(fmt.Sprintf(format, args...))
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return ErrInvalid("env is required")
	}
	if err := validateExchange(cfg.Exchange); err != nil {
		return err
	}
	if err := validateFlux(cfg.Flux); err != nil {
		return err
	}
	switch cfg.Database.Type {
	case "memory":
	case "sqlite", "postgres", "postgresql":
		if cfg.Database.DSN == "" {
			return invalid("database.dsn is required for %s", cfg.Database.Type)
		}
	default:
		return invalid("database.type %q not supported", cfg.Database.Type)
	}
	if err := validateRisk(cfg.Risk); err != nil {
		return err
	}
	if cfg.Alert.ThrottleSec < 0 {
		return ErrInvalid("alert.throttleSec must be >= 0")
	}
	return validateStrategies(cfg.Strategies)
}

func validateExchange(ex ExchangeConfig) error {
	if ex.Driver != "paper" {
		return invalid("exchange.driver %q not supported", ex.Driver)
	}
	if ex.RateLimit < 0 || ex.RateBurst < 0 || ex.MaxRetries < 0 {
		return ErrInvalid("exchange.rateLimit/rateBurst/maxRetries must be >= 0")
	}
	p := ex.Paper
	if p.FeeRate.IsNegative() || p.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return ErrInvalid("exchange.paper.feeRate must be in [0, 1)")
	}
	if p.FillRatio.IsNegative() || p.FillRatio.GreaterThan(decimal.NewFromInt(1)) {
		return ErrInvalid("exchange.paper.fillRatio must be in [0, 1]")
	}
	if p.StepIntervalMs < 0 {
		return ErrInvalid("exchange.paper.stepIntervalMs must be >= 0")
	}
	for i, t := range p.Tickers {
		if !t.Pair.Valid() {
			return invalid("exchange.paper.tickers[%d].pair is required", i)
		}
		if !t.Last.IsPositive() && !(t.Bid.IsPositive() && t.Ask.IsPositive()) {
			return invalid("exchange.paper.tickers[%d] needs last or bid/ask", i)
		}
		if t.Bid.IsPositive() && t.Ask.IsPositive() && t.Bid.GreaterThan(t.Ask) {
			return invalid("exchange.paper.tickers[%d] bid above ask", i)
		}
	}
	return nil
}

func validateFlux(f FluxConfig) error {
	if f.TickerIntervalMs < 0 || f.OrderIntervalMs < 0 || f.TradeIntervalMs < 0 {
		return ErrInvalid("flux intervals must be >= 0")
	}
	if f.PollTimeoutMs < 0 {
		return ErrInvalid("flux.pollTimeoutMs must be >= 0")
	}
	if f.Workers < 0 {
		return ErrInvalid("flux.workers must be >= 0")
	}
	return nil
}

func validateRisk(r RiskConfig) error {
	if r.MaxPositionAmount.IsNegative() {
		return ErrInvalid("risk.maxPositionAmount must be >= 0")
	}
	if r.MaxOpenPositions < 0 {
		return ErrInvalid("risk.maxOpenPositions must be >= 0")
	}
	cb := r.CircuitBreaker
	if cb.OneMinute.IsNegative() || cb.FiveMinute.IsNegative() || cb.CooldownSec < 0 {
		return ErrInvalid("risk.circuitBreaker values must be >= 0")
	}
	for i, c := range r.Constraints {
		if !c.Pair.Valid() {
			return invalid("risk.constraints[%d].pair is required", i)
		}
		if c.StepSize.IsNegative() || c.MinAmount.IsNegative() || c.MaxAmount.IsNegative() {
			return invalid("risk.constraints[%d] values must be >= 0", i)
		}
		if c.MaxAmount.IsPositive() && c.MinAmount.GreaterThan(c.MaxAmount) {
			return invalid("risk.constraints[%d] minAmount above maxAmount", i)
		}
	}
	return nil
}

func validateStrategies(strategies map[string]StrategyConfig) error {
	if len(strategies) == 0 {
		return ErrInvalid("strategies config is required")
	}
	ids := make([]string, 0, len(strategies))
	for id := range strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		sc := strategies[id]
		if id == "" {
			return ErrInvalid("strategy id must not be empty")
		}
		if sc.Kind == "" {
			return invalid("strategy %s kind is required", id)
		}
		if len(sc.Pairs) == 0 {
			return invalid("strategy %s needs at least one pair", id)
		}
		for _, p := range sc.Pairs {
			if !p.Valid() {
				return invalid("strategy %s has invalid pair", id)
			}
		}
	}
	return nil
}
