package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"tradebot-go/ledger"
	"tradebot-go/market"
	"tradebot-go/order"
	"tradebot-go/position"
	"tradebot-go/posttrade"
	"tradebot-go/store"
)

// LedgerOperations 基于 ledger 的 Operations 实现，绑定单个策略。
type LedgerOperations struct {
	strategyID      string
	allowConcurrent bool
	ledger          *ledger.Ledger
	store           store.Store
	gains           *posttrade.Analyzer
}

var _ Operations = (*LedgerOperations)(nil)

// NewOperations 为 strategyID 创建操作集。gains 为空时按需创建不发布指标的分析器。
func NewOperations(strategyID string, allowConcurrent bool, l *ledger.Ledger, st store.Store, gains *posttrade.Analyzer) *LedgerOperations {
	if gains == nil {
		gains = posttrade.NewAnalyzer(st.Positions(), nil)
	}
	return &LedgerOperations{
		strategyID:      strategyID,
		allowConcurrent: allowConcurrent,
		ledger:          l,
		store:           st,
		gains:           gains,
	}
}

// OpenPosition 市价买入开仓，返回持仓 id。
func (o *LedgerOperations) OpenPosition(ctx context.Context, pair market.CurrencyPair, amount decimal.Decimal, rules position.Rules) (string, error) {
	p, err := o.ledger.Open(ctx, ledger.OpenRequest{
		StrategyID:      o.strategyID,
		Pair:            pair,
		Amount:          amount,
		Rules:           rules,
		AllowConcurrent: o.allowConcurrent,
	})
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

func (o *LedgerOperations) ClosePosition(ctx context.Context, positionID string) error {
	return o.ledger.Close(ctx, o.strategyID, positionID)
}

func (o *LedgerOperations) ForceClosePosition(ctx context.Context, positionID string) error {
	return o.ledger.ForceClose(ctx, o.strategyID, positionID)
}

func (o *LedgerOperations) Positions(ctx context.Context) ([]position.Position, error) {
	return o.ledger.Positions(ctx, o.strategyID)
}

func (o *LedgerOperations) Orders(ctx context.Context) ([]order.Order, error) {
	return o.store.Orders().FindOrdersByStrategy(ctx, o.strategyID)
}

// LastTicker 最近一次持久化的行情。
func (o *LedgerOperations) LastTicker(ctx context.Context, pair market.CurrencyPair) (market.Ticker, error) {
	return o.store.Tickers().LastTicker(ctx, pair)
}

func (o *LedgerOperations) Gains(ctx context.Context) ([]posttrade.Summary, error) {
	return o.gains.Strategy(ctx, o.strategyID)
}
