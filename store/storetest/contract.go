// Package storetest holds the repository contract shared by every store
// implementation's tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot-go/market"
	"tradebot-go/order"
	"tradebot-go/position"
	"tradebot-go/store"
)

var (
	btcUSD = market.MustParsePair("BTC/USD")
	ethUSD = market.MustParsePair("ETH/USD")
	t0     = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Run exercises the full repository contract against a fresh store per subtest.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("orders", func(t *testing.T) { testOrders(t, newStore(t)) })
	t.Run("trades", func(t *testing.T) { testTrades(t, newStore(t)) })
	t.Run("positions", func(t *testing.T) { testPositions(t, newStore(t)) })
	t.Run("tickers", func(t *testing.T) { testTickers(t, newStore(t)) })
}

func testOrders(t *testing.T, s store.Store) {
	ctx := context.Background()
	repo := s.Orders()

	_, err := repo.FindOrder(ctx, "missing")
	require.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)

	o := order.Order{
		ID:           "o-1",
		Type:         order.TypeBuy,
		Pair:         btcUSD,
		Amount:       d("1.5"),
		Status:       order.StatusNew,
		FilledAmount: decimal.Zero,
		StrategyID:   "s1",
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}
	require.NoError(t, repo.SaveOrder(ctx, o))
	require.NoError(t, repo.SaveOrder(ctx, order.Order{ID: "o-2", Type: order.TypeSell, Pair: ethUSD, Amount: d("2"), Status: order.StatusFilled, StrategyID: "s2", CreatedAt: t0.Add(time.Second)}))

	got, err := repo.FindOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, order.TypeBuy, got.Type)
	assert.Equal(t, btcUSD, got.Pair)
	assert.True(t, got.Amount.Equal(d("1.5")))
	assert.True(t, got.IsMarket())
	assert.Equal(t, "s1", got.StrategyID)

	// upsert
	o.Status = order.StatusPartiallyFilled
	o.FilledAmount = d("0.5")
	require.NoError(t, repo.SaveOrder(ctx, o))
	got, err = repo.FindOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPartiallyFilled, got.Status)
	assert.True(t, got.FilledAmount.Equal(d("0.5")))

	active, err := repo.FindOrdersByStatus(ctx, order.ActiveStatuses...)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "o-1", active[0].ID)

	byStrategy, err := repo.FindOrdersByStrategy(ctx, "s2")
	require.NoError(t, err)
	require.Len(t, byStrategy, 1)
	assert.Equal(t, "o-2", byStrategy[0].ID)
}

func testTrades(t *testing.T, s store.Store) {
	ctx := context.Background()
	repo := s.Trades()

	_, err := repo.FindTrade(ctx, "missing")
	require.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)

	late := order.Trade{ID: "t-2", OrderID: "o-1", Amount: d("0.6"), Price: d("30100"), Fee: d("0.1"), Timestamp: t0.Add(2 * time.Second)}
	early := order.Trade{ID: "t-1", OrderID: "o-1", Amount: d("0.4"), Price: d("30000"), Fee: d("0.1"), Timestamp: t0}
	require.NoError(t, repo.SaveTrade(ctx, late))
	require.NoError(t, repo.SaveTrade(ctx, early))
	require.NoError(t, repo.SaveTrade(ctx, order.Trade{ID: "t-3", OrderID: "o-2", Amount: d("1"), Price: d("1"), Timestamp: t0}))
	// append-only: saving the same id again keeps one record
	require.NoError(t, repo.SaveTrade(ctx, early))

	trades, err := repo.FindTradesByOrder(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "t-1", trades[0].ID)
	assert.Equal(t, "t-2", trades[1].ID)
	assert.True(t, trades[1].Price.Equal(d("30100")))

	got, err := repo.FindTrade(ctx, "t-2")
	require.NoError(t, err)
	assert.Equal(t, "o-1", got.OrderID)
	assert.True(t, got.Timestamp.Equal(late.Timestamp))
}

func testPositions(t *testing.T, s store.Store) {
	ctx := context.Background()
	repo := s.Positions()

	_, err := repo.FindPosition(ctx, "missing")
	require.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)

	p := position.Position{
		ID:             "p-1",
		StrategyID:     "s1",
		Pair:           btcUSD,
		Status:         position.StatusOpening,
		OpeningOrderID: "o-1",
		Amount:         d("1"),
		Rules:          position.Rules{StopGainPercentage: d("5")},
		CreatedAt:      t0,
	}
	require.NoError(t, repo.SavePosition(ctx, p))
	require.NoError(t, repo.SavePosition(ctx, position.Position{ID: "p-2", StrategyID: "s2", Pair: ethUSD, Status: position.StatusClosed, OpeningOrderID: "o-9", Amount: decimal.Zero, CreatedAt: t0.Add(time.Second)}))

	got, err := repo.FindPositionByOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, "p-1", got.ID)
	assert.True(t, got.Rules.StopGainPercentage.Equal(d("5")))

	p.Status = position.StatusClosing
	p.ClosingOrderID = "o-5"
	p.OpeningAveragePrice = d("30060")
	p.ClosedAmount = d("0.4")
	p.ClosedNotional = d("12040")
	require.NoError(t, repo.SavePosition(ctx, p))

	got, err = repo.FindPositionByOrder(ctx, "o-5")
	require.NoError(t, err)
	assert.Equal(t, position.StatusClosing, got.Status)
	assert.True(t, got.OpeningAveragePrice.Equal(d("30060")))
	assert.True(t, got.ClosedAmount.Equal(d("0.4")))
	assert.True(t, got.ClosedNotional.Equal(d("12040")))

	live, err := repo.FindPositionsByStatus(ctx, position.LiveStatuses...)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "p-1", live[0].ID)

	byStrategy, err := repo.FindPositionsByStrategy(ctx, "s2")
	require.NoError(t, err)
	require.Len(t, byStrategy, 1)
	assert.Equal(t, position.StatusClosed, byStrategy[0].Status)

	_, err = repo.FindPositionByOrder(ctx, "unknown")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func testTickers(t *testing.T, s store.Store) {
	ctx := context.Background()
	repo := s.Tickers()

	_, err := repo.LastTicker(ctx, btcUSD)
	require.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)

	newer := market.NewTicker(btcUSD, d("30000"), d("30010"), d("30005"), t0.Add(time.Minute))
	older := market.NewTicker(btcUSD, d("29000"), d("29010"), d("29005"), t0)
	require.NoError(t, repo.SaveTicker(ctx, newer))
	require.NoError(t, repo.SaveTicker(ctx, older))
	require.NoError(t, repo.SaveTicker(ctx, market.NewTicker(ethUSD, d("2000"), d("2001"), d("2000"), t0)))

	got, err := repo.LastTicker(ctx, btcUSD)
	require.NoError(t, err)
	assert.True(t, got.Last.Equal(d("30005")), "older ticker must not supersede, got %s", got.Last)
	assert.True(t, got.Timestamp.Equal(newer.Timestamp))
}
