package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradebot-go/infrastructure/logger"
	"tradebot-go/ledger"
	"tradebot-go/market"
	"tradebot-go/position"
)

// KindThreshold 低于阈值买入、靠止盈止损规则退出的示例策略。
const KindThreshold = "threshold"

// Threshold 行情价格 <= BuyBelow 且该交易对没有未平仓持仓时市价开仓，
// 持仓的退出交给 ledger 的止盈/止损规则。
type Threshold struct {
	Base
	ops   Operations
	log   *logger.Logger
	below decimal.Decimal
	size  decimal.Decimal
	rules position.Rules

	mu   sync.Mutex
	open map[market.CurrencyPair]string
}

// NewThreshold 参数：buyBelow、amount（必填），stopGainPct、stopLossPct（可选）。
func NewThreshold(deps Dependencies, params Params) (Strategy, error) {
	if deps.Operations == nil {
		return nil, errors.New("threshold: operations required")
	}
	if len(deps.Pairs) == 0 {
		return nil, errors.New("threshold: at least one pair required")
	}
	below, err := params.Decimal("buyBelow", decimal.Zero)
	if err != nil {
		return nil, err
	}
	size, err := params.Decimal("amount", decimal.Zero)
	if err != nil {
		return nil, err
	}
	if !below.IsPositive() || !size.IsPositive() {
		return nil, fmt.Errorf("threshold: buyBelow and amount must be positive")
	}
	gain, err := params.Decimal("stopGainPct", decimal.Zero)
	if err != nil {
		return nil, err
	}
	loss, err := params.Decimal("stopLossPct", decimal.Zero)
	if err != nil {
		return nil, err
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Threshold{
		Base:  Base{StrategyID: deps.StrategyID, Subscribed: deps.Pairs},
		ops:   deps.Operations,
		log:   log.Named(deps.StrategyID),
		below: below,
		size:  size,
		rules: position.Rules{StopGainPercentage: gain, StopLossPercentage: loss},
		open:  make(map[market.CurrencyPair]string),
	}, nil
}

// OpenPositions 当前记录的未平仓持仓，pair -> position id。
func (s *Threshold) OpenPositions() map[market.CurrencyPair]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[market.CurrencyPair]string, len(s.open))
	for k, v := range s.open {
		out[k] = v
	}
	return out
}

func (s *Threshold) OnTickerUpdate(ctx context.Context, t market.Ticker) {
	price := t.Price()
	if !price.IsPositive() || price.GreaterThan(s.below) {
		return
	}
	s.mu.Lock()
	_, holding := s.open[t.Pair]
	s.mu.Unlock()
	if holding {
		return
	}

	id, err := s.ops.OpenPosition(ctx, t.Pair, s.size, s.rules)
	switch {
	case err == nil:
		s.track(t.Pair, id)
		s.log.Info("position requested",
			zap.String("pair", t.Pair.String()),
			zap.String("position_id", id),
			zap.String("price", price.String()))
	case errors.Is(err, ledger.ErrDuplicatePosition):
		// 上次运行遗留的持仓
		s.resync(ctx)
	default:
		s.log.Warn("open position failed", zap.String("pair", t.Pair.String()), zap.Error(err))
	}
}

func (s *Threshold) OnPositionUpdate(_ context.Context, p position.Position) {
	if p.Error {
		s.log.Warn("position error",
			zap.String("position_id", p.ID),
			zap.String("status", string(p.Status)),
			zap.String("error", p.ErrorMessage))
	}
	if p.IsClosed() {
		s.mu.Lock()
		if s.open[p.Pair] == p.ID {
			delete(s.open, p.Pair)
		}
		s.mu.Unlock()
		g := p.Gain()
		s.log.Info("position closed", zap.String("position_id", p.ID), zap.String("gain", g.Amount.String()))
		return
	}
	s.track(p.Pair, p.ID)
}

func (s *Threshold) OnError(_ context.Context, err error) {
	s.log.Error("runtime error", zap.Error(err))
}

func (s *Threshold) track(pair market.CurrencyPair, id string) {
	s.mu.Lock()
	s.open[pair] = id
	s.mu.Unlock()
}

func (s *Threshold) resync(ctx context.Context) {
	ps, err := s.ops.Positions(ctx)
	if err != nil {
		s.log.Warn("load positions failed", zap.Error(err))
		return
	}
	for _, p := range ps {
		if p.IsOpen() {
			s.track(p.Pair, p.ID)
		}
	}
}
