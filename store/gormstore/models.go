package gormstore

import (
	"time"

	"github.com/shopspring/decimal"

	"tradebot-go/market"
	"tradebot-go/order"
	"tradebot-go/position"
)

// decimal 字段统一存为 TEXT，避免 sqlite 数值亲和性丢失精度。

type orderModel struct {
	ID            string          `gorm:"column:id;primaryKey"`
	ClientOrderID string          `gorm:"column:client_order_id;index"`
	Type          string          `gorm:"column:type"`
	Pair          string          `gorm:"column:pair;index"`
	Amount        decimal.Decimal `gorm:"column:amount;type:text"`
	LimitPrice    decimal.Decimal `gorm:"column:limit_price;type:text"`
	Status        string          `gorm:"column:status;index"`
	FilledAmount  decimal.Decimal `gorm:"column:filled_amount;type:text"`
	StrategyID    string          `gorm:"column:strategy_id;index"`
	LastError     string          `gorm:"column:last_error"`
	CreatedAt     time.Time       `gorm:"column:created_at"`
	UpdatedAt     time.Time       `gorm:"column:updated_at"`
}

func (orderModel) TableName() string { return "orders" }

func newOrderModel(o order.Order) orderModel {
	return orderModel{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Type:          string(o.Type),
		Pair:          o.Pair.String(),
		Amount:        o.Amount,
		LimitPrice:    o.LimitPrice,
		Status:        string(o.Status),
		FilledAmount:  o.FilledAmount,
		StrategyID:    o.StrategyID,
		LastError:     o.LastError,
		CreatedAt:     o.CreatedAt.UTC(),
		UpdatedAt:     o.UpdatedAt.UTC(),
	}
}

func (m orderModel) toOrder() order.Order {
	pair, _ := market.ParsePair(m.Pair)
	return order.Order{
		ID:            m.ID,
		ClientOrderID: m.ClientOrderID,
		Type:          order.Type(m.Type),
		Pair:          pair,
		Amount:        m.Amount,
		LimitPrice:    m.LimitPrice,
		Status:        order.Status(m.Status),
		FilledAmount:  m.FilledAmount,
		StrategyID:    m.StrategyID,
		LastError:     m.LastError,
		CreatedAt:     m.CreatedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
	}
}

type tradeModel struct {
	ID        string          `gorm:"column:id;primaryKey"`
	OrderID   string          `gorm:"column:order_id;index"`
	Amount    decimal.Decimal `gorm:"column:amount;type:text"`
	Price     decimal.Decimal `gorm:"column:price;type:text"`
	Fee       decimal.Decimal `gorm:"column:fee;type:text"`
	Timestamp time.Time       `gorm:"column:timestamp;index"`
}

func (tradeModel) TableName() string { return "trades" }

func newTradeModel(t order.Trade) tradeModel {
	return tradeModel{
		ID:        t.ID,
		OrderID:   t.OrderID,
		Amount:    t.Amount,
		Price:     t.Price,
		Fee:       t.Fee,
		Timestamp: t.Timestamp.UTC(),
	}
}

func (m tradeModel) toTrade() order.Trade {
	return order.Trade{
		ID:        m.ID,
		OrderID:   m.OrderID,
		Amount:    m.Amount,
		Price:     m.Price,
		Fee:       m.Fee,
		Timestamp: m.Timestamp.UTC(),
	}
}

type positionModel struct {
	ID                  string          `gorm:"column:id;primaryKey"`
	StrategyID          string          `gorm:"column:strategy_id;index"`
	Pair                string          `gorm:"column:pair;index"`
	Status              string          `gorm:"column:status;index"`
	OpeningOrderID      string          `gorm:"column:opening_order_id;index"`
	ClosingOrderID      string          `gorm:"column:closing_order_id;index"`
	Amount              decimal.Decimal `gorm:"column:amount;type:text"`
	OpeningAveragePrice decimal.Decimal `gorm:"column:opening_average_price;type:text"`
	ClosingAveragePrice decimal.Decimal `gorm:"column:closing_average_price;type:text"`
	OpeningFees         decimal.Decimal `gorm:"column:opening_fees;type:text"`
	ClosingFees         decimal.Decimal `gorm:"column:closing_fees;type:text"`
	ClosedAmount        decimal.Decimal `gorm:"column:closed_amount;type:text"`
	ClosedNotional      decimal.Decimal `gorm:"column:closed_notional;type:text"`
	LowestPrice         decimal.Decimal `gorm:"column:lowest_price;type:text"`
	HighestPrice        decimal.Decimal `gorm:"column:highest_price;type:text"`
	LatestPrice         decimal.Decimal `gorm:"column:latest_price;type:text"`
	StopGainPercentage  decimal.Decimal `gorm:"column:stop_gain_percentage;type:text"`
	StopLossPercentage  decimal.Decimal `gorm:"column:stop_loss_percentage;type:text"`
	Error               bool            `gorm:"column:error"`
	ErrorMessage        string          `gorm:"column:error_message"`
	CreatedAt           time.Time       `gorm:"column:created_at"`
	UpdatedAt           time.Time       `gorm:"column:updated_at"`
}

func (positionModel) TableName() string { return "positions" }

func newPositionModel(p position.Position) positionModel {
	return positionModel{
		ID:                  p.ID,
		StrategyID:          p.StrategyID,
		Pair:                p.Pair.String(),
		Status:              string(p.Status),
		OpeningOrderID:      p.OpeningOrderID,
		ClosingOrderID:      p.ClosingOrderID,
		Amount:              p.Amount,
		OpeningAveragePrice: p.OpeningAveragePrice,
		ClosingAveragePrice: p.ClosingAveragePrice,
		OpeningFees:         p.OpeningFees,
		ClosingFees:         p.ClosingFees,
		ClosedAmount:        p.ClosedAmount,
		ClosedNotional:      p.ClosedNotional,
		LowestPrice:         p.LowestPrice,
		HighestPrice:        p.HighestPrice,
		LatestPrice:         p.LatestPrice,
		StopGainPercentage:  p.Rules.StopGainPercentage,
		StopLossPercentage:  p.Rules.StopLossPercentage,
		Error:               p.Error,
		ErrorMessage:        p.ErrorMessage,
		CreatedAt:           p.CreatedAt.UTC(),
		UpdatedAt:           p.UpdatedAt.UTC(),
	}
}

func (m positionModel) toPosition() position.Position {
	pair, _ := market.ParsePair(m.Pair)
	return position.Position{
		ID:                  m.ID,
		StrategyID:          m.StrategyID,
		Pair:                pair,
		Status:              position.Status(m.Status),
		OpeningOrderID:      m.OpeningOrderID,
		ClosingOrderID:      m.ClosingOrderID,
		Amount:              m.Amount,
		OpeningAveragePrice: m.OpeningAveragePrice,
		ClosingAveragePrice: m.ClosingAveragePrice,
		OpeningFees:         m.OpeningFees,
		ClosingFees:         m.ClosingFees,
		ClosedAmount:        m.ClosedAmount,
		ClosedNotional:      m.ClosedNotional,
		LowestPrice:         m.LowestPrice,
		HighestPrice:        m.HighestPrice,
		LatestPrice:         m.LatestPrice,
		Rules: position.Rules{
			StopGainPercentage: m.StopGainPercentage,
			StopLossPercentage: m.StopLossPercentage,
		},
		Error:        m.Error,
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

// tickerModel 行情只追加：每条更新的快照一行。
type tickerModel struct {
	ID        int64           `gorm:"column:id;primaryKey;autoIncrement"`
	Pair      string          `gorm:"column:pair;index:idx_ticker_pair_ts,priority:1"`
	Bid       decimal.Decimal `gorm:"column:bid;type:text"`
	Ask       decimal.Decimal `gorm:"column:ask;type:text"`
	Last      decimal.Decimal `gorm:"column:last;type:text"`
	Timestamp time.Time       `gorm:"column:timestamp;index:idx_ticker_pair_ts,priority:2"`
}

func (tickerModel) TableName() string { return "imported_tickers" }

func newTickerModel(t market.Ticker) tickerModel {
	return tickerModel{
		Pair:      t.Pair.String(),
		Bid:       t.Bid,
		Ask:       t.Ask,
		Last:      t.Last,
		Timestamp: t.Timestamp.UTC(),
	}
}

func (m tickerModel) toTicker() market.Ticker {
	pair, _ := market.ParsePair(m.Pair)
	return market.NewTicker(pair, m.Bid, m.Ask, m.Last, m.Timestamp)
}
