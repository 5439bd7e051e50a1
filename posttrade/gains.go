// Package posttrade 汇总持仓收益（按策略、计价币种）。
package posttrade

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"tradebot-go/infrastructure/monitor"
	"tradebot-go/position"
	"tradebot-go/store"
)

// Summary 某策略在某计价币种上的收益汇总
type Summary struct {
	StrategyID string
	Quote      string

	ClosedPositions int
	OpenPositions   int
	Wins            int
	Losses          int

	Realized   decimal.Decimal // 已平仓收益（扣除手续费）
	Unrealized decimal.Decimal // 未平仓按最新价的浮动收益
	Fees       decimal.Decimal
}

// WinRate 已平仓中盈利的比例
func (s Summary) WinRate() float64 {
	if s.ClosedPositions == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.ClosedPositions)
}

type key struct {
	strategy string
	quote    string
}

// Summarize 按 (策略, 计价币) 汇总。零数量关闭（放弃的开仓）不计入胜负。
func Summarize(positions []position.Position) []Summary {
	acc := make(map[key]*Summary)
	for _, p := range positions {
		k := key{strategy: p.StrategyID, quote: p.Pair.Quote}
		s, ok := acc[k]
		if !ok {
			s = &Summary{StrategyID: p.StrategyID, Quote: p.Pair.Quote}
			acc[k] = s
		}
		g := p.Gain()
		if p.IsClosed() {
			if !p.Amount.IsPositive() {
				continue
			}
			s.ClosedPositions++
			s.Realized = s.Realized.Add(g.Amount)
			s.Fees = s.Fees.Add(g.Fees)
			if g.Amount.IsPositive() {
				s.Wins++
			} else {
				s.Losses++
			}
			continue
		}
		s.OpenPositions++
		s.Unrealized = s.Unrealized.Add(g.Amount)
	}

	res := make([]Summary, 0, len(acc))
	for _, s := range acc {
		res = append(res, *s)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].StrategyID != res[j].StrategyID {
			return res[i].StrategyID < res[j].StrategyID
		}
		return res[i].Quote < res[j].Quote
	})
	return res
}

// Analyzer 从仓储读取持仓计算收益，并把已实现收益发布到监控。
type Analyzer struct {
	positions store.PositionRepository
	mon       *monitor.Monitor
	mu        sync.Mutex
}

// NewAnalyzer creates a gains analyzer.
func NewAnalyzer(positions store.PositionRepository, mon *monitor.Monitor) *Analyzer {
	return &Analyzer{positions: positions, mon: mon}
}

// Strategy 返回单个策略的收益汇总。
func (a *Analyzer) Strategy(ctx context.Context, strategyID string) ([]Summary, error) {
	ps, err := a.positions.FindPositionsByStrategy(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	return Summarize(ps), nil
}

// All 返回所有策略的收益汇总。
func (a *Analyzer) All(ctx context.Context) ([]Summary, error) {
	ps, err := a.positions.FindPositionsByStatus(ctx, append(position.LiveStatuses, position.StatusClosed)...)
	if err != nil {
		return nil, err
	}
	return Summarize(ps), nil
}

// OnPositionUpdate 持仓关闭时刷新该策略的已实现收益指标。
func (a *Analyzer) OnPositionUpdate(ctx context.Context, p position.Position) error {
	if !p.IsClosed() {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	sums, err := a.Strategy(ctx, p.StrategyID)
	if err != nil {
		return err
	}
	for _, s := range sums {
		a.mon.UpdateRealizedGain(s.StrategyID, s.Quote, s.Realized.InexactFloat64())
	}
	return nil
}
