// Package gateway 定义交易所访问接口以及统一的错误分类。
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradebot-go/market"
	"tradebot-go/order"
)

// Exchange 是运行时访问交易所的全部能力。
type Exchange interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderHandle, error)
	CancelOrder(ctx context.Context, orderID string) error
	// GetOrder 返回交易所侧订单快照；未知订单返回 ErrOrderNotFound。
	GetOrder(ctx context.Context, orderID string) (order.Order, error)
	GetTrades(ctx context.Context, orderID string) ([]order.Trade, error)
	GetTicker(ctx context.Context, pair market.CurrencyPair) (market.Ticker, error)
}

// OrderRequest 下单请求。LimitPrice 为零表示市价单。
type OrderRequest struct {
	ClientOrderID string
	StrategyID    string
	Type          order.Type
	Pair          market.CurrencyPair
	Amount        decimal.Decimal
	LimitPrice    decimal.Decimal
}

// NewMarketOrder 构造市价单请求并分配 ClientOrderID。
func NewMarketOrder(strategyID string, typ order.Type, pair market.CurrencyPair, amount decimal.Decimal) OrderRequest {
	return OrderRequest{
		ClientOrderID: uuid.NewString(),
		StrategyID:    strategyID,
		Type:          typ,
		Pair:          pair,
		Amount:        amount,
	}
}

// Validate 检查请求的基本合法性。
func (r OrderRequest) Validate() error {
	if r.Type != order.TypeBuy && r.Type != order.TypeSell {
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidRequest, r.Type)
	}
	if !r.Pair.Valid() {
		return fmt.Errorf("%w: invalid pair", ErrInvalidRequest)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if r.LimitPrice.IsNegative() {
		return fmt.Errorf("%w: negative limit price", ErrInvalidRequest)
	}
	return nil
}

// IsMarket reports whether the request carries no limit price.
func (r OrderRequest) IsMarket() bool { return r.LimitPrice.IsZero() }

// ToOrder 将已受理的请求转换为本地订单记录。
func (r OrderRequest) ToOrder(h OrderHandle) order.Order {
	status := h.Status
	if status == "" {
		status = order.StatusNew
	}
	created := h.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return order.Order{
		ID:            h.OrderID,
		ClientOrderID: r.ClientOrderID,
		Type:          r.Type,
		Pair:          r.Pair,
		Amount:        r.Amount,
		LimitPrice:    r.LimitPrice,
		Status:        status,
		FilledAmount:  decimal.Zero,
		StrategyID:    r.StrategyID,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

// OrderHandle 交易所受理后的回执。
type OrderHandle struct {
	OrderID   string
	Status    order.Status
	CreatedAt time.Time
}
