package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot-go/gateway"
	"tradebot-go/market"
	"tradebot-go/order"
)

var btcUSD = market.MustParsePair("BTC/USD")

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newPaper(t *testing.T, ratio string) *PaperExchange {
	t.Helper()
	return NewPaperExchange(Config{
		FeeRate:   d("0.001"),
		FillRatio: d(ratio),
		Tickers:   []market.Ticker{market.NewTicker(btcUSD, d("29990"), d("30000"), d("29995"), time.Now())},
	})
}

func TestMarketBuyFillsAtAsk(t *testing.T) {
	p := newPaper(t, "1")
	ctx := context.Background()

	h, err := p.PlaceOrder(ctx, gateway.NewMarketOrder("s1", order.TypeBuy, btcUSD, d("0.5")))
	require.NoError(t, err)
	assert.Equal(t, order.StatusNew, h.Status)

	p.Step()
	o, err := p.GetOrder(ctx, h.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusFilled, o.Status)
	assert.True(t, o.FilledAmount.Equal(d("0.5")))

	trades, err := p.GetTrades(ctx, h.OrderID)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Price.Equal(d("30000")))
	assert.True(t, trades[0].Fee.Equal(d("15")), "fee = %s", trades[0].Fee)
}

func TestPartialFillRatio(t *testing.T) {
	p := newPaper(t, "0.4")
	ctx := context.Background()
	h, err := p.PlaceOrder(ctx, gateway.NewMarketOrder("s1", order.TypeSell, btcUSD, d("1")))
	require.NoError(t, err)

	p.Step()
	o, _ := p.GetOrder(ctx, h.OrderID)
	assert.Equal(t, order.StatusPartiallyFilled, o.Status)
	assert.True(t, o.FilledAmount.Equal(d("0.4")))

	p.Step()
	p.Step()
	o, _ = p.GetOrder(ctx, h.OrderID)
	assert.Equal(t, order.StatusFilled, o.Status)
	assert.True(t, o.FilledAmount.Equal(d("1")))

	trades, _ := p.GetTrades(ctx, h.OrderID)
	require.Len(t, trades, 3)
	assert.True(t, trades[2].Amount.Equal(d("0.2")))
	assert.True(t, trades[0].Timestamp.Before(trades[1].Timestamp))
}

func TestRejectNextOrder(t *testing.T) {
	p := newPaper(t, "1")
	boom := errors.New("insufficient balance")
	p.RejectNextOrder(boom)

	_, err := p.PlaceOrder(context.Background(), gateway.NewMarketOrder("s1", order.TypeBuy, btcUSD, d("1")))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, p.Orders())

	_, err = p.PlaceOrder(context.Background(), gateway.NewMarketOrder("s1", order.TypeBuy, btcUSD, d("1")))
	assert.NoError(t, err)
}

func TestFailNextOrderGoesToError(t *testing.T) {
	p := newPaper(t, "1")
	p.FailNextOrder("margin call")
	h, err := p.PlaceOrder(context.Background(), gateway.NewMarketOrder("s1", order.TypeBuy, btcUSD, d("1")))
	require.NoError(t, err)

	p.Step()
	o, _ := p.GetOrder(context.Background(), h.OrderID)
	assert.Equal(t, order.StatusError, o.Status)
	assert.Equal(t, "margin call", o.LastError)
	trades, _ := p.GetTrades(context.Background(), h.OrderID)
	assert.Empty(t, trades)
}

func TestCancelAndManualFill(t *testing.T) {
	p := newPaper(t, "1")
	p.SetAutoFill(false)
	ctx := context.Background()
	h, err := p.PlaceOrder(ctx, gateway.NewMarketOrder("s1", order.TypeBuy, btcUSD, d("1")))
	require.NoError(t, err)

	require.NoError(t, p.Fill(h.OrderID, d("0.3"), d("30010")))
	p.Step()
	require.NoError(t, p.CancelOrder(ctx, h.OrderID))

	o, _ := p.GetOrder(ctx, h.OrderID)
	assert.Equal(t, order.StatusCancelled, o.Status)
	assert.True(t, o.FilledAmount.Equal(d("0.3")))
	assert.Error(t, p.Fill(h.OrderID, d("0.1"), d("1")))
	assert.NoError(t, p.CancelOrder(ctx, h.OrderID), "cancelling a terminal order is a no-op")
	assert.ErrorIs(t, p.CancelOrder(ctx, "nope"), gateway.ErrOrderNotFound)
}

func TestLimitOrderWaitsForCross(t *testing.T) {
	p := newPaper(t, "1")
	ctx := context.Background()
	req := gateway.NewMarketOrder("s1", order.TypeBuy, btcUSD, d("1"))
	req.LimitPrice = d("29000")
	h, err := p.PlaceOrder(ctx, req)
	require.NoError(t, err)

	p.Step()
	o, _ := p.GetOrder(ctx, h.OrderID)
	assert.Equal(t, order.StatusNew, o.Status)

	p.SetTicker(market.NewTicker(btcUSD, d("28900"), d("28950"), d("28920"), time.Now()))
	p.Step()
	o, _ = p.GetOrder(ctx, h.OrderID)
	assert.Equal(t, order.StatusFilled, o.Status)
	trades, _ := p.GetTrades(ctx, h.OrderID)
	assert.True(t, trades[0].Price.Equal(d("29000")))
}

func TestUnknownPair(t *testing.T) {
	p := newPaper(t, "1")
	_, err := p.GetTicker(context.Background(), market.MustParsePair("ETH/USD"))
	assert.ErrorIs(t, err, ErrUnknownPair)
	_, err = p.PlaceOrder(context.Background(), gateway.NewMarketOrder("s1", order.TypeBuy, market.MustParsePair("ETH/USD"), d("1")))
	assert.ErrorIs(t, err, gateway.ErrRejected)
	_, err = p.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, gateway.ErrOrderNotFound)
}
