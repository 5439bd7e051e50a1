// Package strategy 定义策略能力接口、依赖上下文，以及把对账事件投递给策略的运行时。
package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"tradebot-go/gateway"
	"tradebot-go/infrastructure/logger"
	"tradebot-go/ledger"
	"tradebot-go/market"
	"tradebot-go/order"
	"tradebot-go/position"
	"tradebot-go/posttrade"
	"tradebot-go/store"
)

// ErrForeignPosition 操作了不属于本策略的持仓。
var ErrForeignPosition = ledger.ErrForeignPosition

// Strategy 用户策略。回调在该策略独占的 goroutine 上按事件产生顺序执行，
// 回调内可以直接调用 Operations。
type Strategy interface {
	ID() string
	Pairs() []market.CurrencyPair

	OnTickerUpdate(ctx context.Context, t market.Ticker)
	OnOrderUpdate(ctx context.Context, o order.Order)
	OnTradeUpdate(ctx context.Context, t order.Trade)
	OnPositionUpdate(ctx context.Context, p position.Position)
	OnError(ctx context.Context, err error)
}

// Operations 策略可用的交易与查询操作，全部限定在本策略范围内。
type Operations interface {
	OpenPosition(ctx context.Context, pair market.CurrencyPair, amount decimal.Decimal, rules position.Rules) (string, error)
	ClosePosition(ctx context.Context, positionID string) error
	ForceClosePosition(ctx context.Context, positionID string) error

	Positions(ctx context.Context) ([]position.Position, error)
	Orders(ctx context.Context) ([]order.Order, error)
	LastTicker(ctx context.Context, pair market.CurrencyPair) (market.Ticker, error)
	Gains(ctx context.Context) ([]posttrade.Summary, error)
}

// Dependencies 构造策略时注入的上下文。
type Dependencies struct {
	StrategyID string
	Pairs      []market.CurrencyPair
	Operations Operations

	Orders    store.OrderRepository
	Trades    store.TradeRepository
	Positions store.PositionRepository
	Tickers   store.TickerRepository
	Exchange  gateway.Exchange

	Logger *logger.Logger
}

// Base 提供 ID/Pairs 与空回调，具体策略内嵌后只需覆盖关心的方法。
type Base struct {
	StrategyID string
	Subscribed []market.CurrencyPair
}

func (b Base) ID() string                   { return b.StrategyID }
func (b Base) Pairs() []market.CurrencyPair { return b.Subscribed }

func (Base) OnTickerUpdate(context.Context, market.Ticker)       {}
func (Base) OnOrderUpdate(context.Context, order.Order)          {}
func (Base) OnTradeUpdate(context.Context, order.Trade)          {}
func (Base) OnPositionUpdate(context.Context, position.Position) {}
func (Base) OnError(context.Context, error)                      {}
