package flux

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot-go/gateway"
	"tradebot-go/market"
	"tradebot-go/order"
	"tradebot-go/position"
	"tradebot-go/sim"
	"tradebot-go/store/memstore"
)

var (
	btcUSD = market.MustParsePair("BTC/USD")
	ethUSD = market.MustParsePair("ETH/USD")
)

func paper() *sim.PaperExchange {
	return sim.NewPaperExchange(sim.Config{
		Tickers: []market.Ticker{market.NewTicker(btcUSD, decimal.NewFromInt(100), decimal.NewFromInt(101), decimal.NewFromInt(100), time.Now())},
	})
}

func TestTickerSourcePartialFailure(t *testing.T) {
	src := NewTickerSource(paper(), []market.CurrencyPair{btcUSD, ethUSD, btcUSD})
	assert.Len(t, src.Pairs(), 2)

	tickers, err := src.Poll(context.Background())
	require.Error(t, err, "ETH/USD has no ticker")
	assert.ErrorIs(t, err, sim.ErrUnknownPair)
	require.Len(t, tickers, 1)
	assert.Equal(t, btcUSD, tickers[0].Pair)
}

func TestOrderSourceSkipsUnknownOrders(t *testing.T) {
	ctx := context.Background()
	ex := paper()
	st := memstore.New()

	h, err := ex.PlaceOrder(ctx, gateway.NewMarketOrder("s1", order.TypeBuy, btcUSD, decimal.NewFromInt(1)))
	require.NoError(t, err)
	require.NoError(t, st.Orders().SaveOrder(ctx, order.Order{ID: h.OrderID, Status: order.StatusNew, Pair: btcUSD}))
	require.NoError(t, st.Orders().SaveOrder(ctx, order.Order{ID: "ghost", Status: order.StatusPending, Pair: btcUSD}))
	require.NoError(t, st.Orders().SaveOrder(ctx, order.Order{ID: "done", Status: order.StatusFilled, Pair: btcUSD}))

	ex.Step()
	snaps, err := OrderSource{Exchange: ex, Orders: st.Orders()}.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, order.StatusFilled, snaps[0].Status)
}

func TestTradeSourceIncludesPositionOrders(t *testing.T) {
	ctx := context.Background()
	ex := paper()
	st := memstore.New()

	h, err := ex.PlaceOrder(ctx, gateway.NewMarketOrder("s1", order.TypeBuy, btcUSD, decimal.NewFromInt(1)))
	require.NoError(t, err)
	ex.Step()
	// 本地订单已是终态，但仓位仍引用它
	require.NoError(t, st.Orders().SaveOrder(ctx, order.Order{ID: h.OrderID, Status: order.StatusFilled, Pair: btcUSD}))
	require.NoError(t, st.Positions().SavePosition(ctx, position.Position{
		ID: "p1", StrategyID: "s1", Pair: btcUSD, Status: position.StatusOpening, OpeningOrderID: h.OrderID,
	}))

	trades, err := TradeSource{Exchange: ex, Orders: st.Orders(), Positions: st.Positions()}.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, h.OrderID, trades[0].OrderID)
}
