package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot-go/gateway"
	"tradebot-go/market"
	"tradebot-go/order"
	"tradebot-go/sim"
	"tradebot-go/store"
	"tradebot-go/store/memstore"
)

var btcUSD = market.MustParsePair("BTC/USD")

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) sink(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func newReconciler(t *testing.T) (*Reconciler, *memstore.Store, *recorder) {
	t.Helper()
	st := memstore.New()
	rec := &recorder{}
	r := New(Config{Store: st, Sink: rec.sink, Strategies: []string{"s1"}})
	return r, st, rec
}

func baseOrder(id string, status order.Status, filled string) order.Order {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return order.Order{
		ID: id, Type: order.TypeBuy, Pair: btcUSD, Amount: d("1"),
		Status: status, FilledAmount: d(filled), StrategyID: "s1",
		CreatedAt: ts, UpdatedAt: ts,
	}
}

func TestOrderSnapshotIdempotent(t *testing.T) {
	r, st, rec := newReconciler(t)
	ctx := context.Background()
	require.NoError(t, st.Orders().SaveOrder(ctx, baseOrder("o1", order.StatusNew, "0")))

	snap := baseOrder("o1", order.StatusPartiallyFilled, "0.4")
	snap.StrategyID = ""
	require.NoError(t, r.ReconcileOrders(ctx, []order.Order{snap}))
	require.NoError(t, r.ReconcileOrders(ctx, []order.Order{snap}))

	assert.Equal(t, []EventKind{EventOrderUpdated}, rec.kinds())
	got, err := st.Orders().FindOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPartiallyFilled, got.Status)
	assert.Equal(t, "s1", got.StrategyID, "local ownership survives updates")
}

func TestForeignOrdersIgnored(t *testing.T) {
	r, st, rec := newReconciler(t)
	ctx := context.Background()

	foreign := baseOrder("x1", order.StatusNew, "0")
	foreign.StrategyID = "someone-else"
	require.NoError(t, r.ReconcileOrders(ctx, []order.Order{foreign}))
	_, err := st.Orders().FindOrder(ctx, "x1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, r.ReconcileOrders(ctx, []order.Order{baseOrder("o2", order.StatusNew, "0")}))
	assert.Equal(t, []EventKind{EventOrderUpdated}, rec.kinds())
}

func TestTerminalOrdersAreImmutable(t *testing.T) {
	r, st, rec := newReconciler(t)
	ctx := context.Background()
	require.NoError(t, st.Orders().SaveOrder(ctx, baseOrder("o1", order.StatusFilled, "1")))

	require.NoError(t, r.ReconcileOrders(ctx, []order.Order{baseOrder("o1", order.StatusCancelled, "1")}))
	assert.Empty(t, rec.kinds())
	got, _ := st.Orders().FindOrder(ctx, "o1")
	assert.Equal(t, order.StatusFilled, got.Status)
}

func TestIllegalTransitionIsViolation(t *testing.T) {
	r, st, rec := newReconciler(t)
	ctx := context.Background()
	require.NoError(t, st.Orders().SaveOrder(ctx, baseOrder("o1", order.StatusPartiallyFilled, "0.5")))

	require.NoError(t, r.ReconcileOrders(ctx, []order.Order{
		baseOrder("o1", order.StatusPending, "0.5"),
		baseOrder("o1", order.StatusPartiallyFilled, "0.2"),
	}))
	require.Equal(t, []EventKind{EventError, EventError}, rec.kinds())
	var v *InvariantViolation
	require.True(t, errors.As(rec.events[0].Err, &v))
	assert.Equal(t, "illegal_transition", v.Kind)
	assert.ErrorIs(t, rec.events[0].Err, order.ErrIllegalTransition)
	require.True(t, errors.As(rec.events[1].Err, &v))
	assert.Equal(t, "filled_regressed", v.Kind)
	assert.EqualValues(t, 2, r.Stats().InvariantViolations)
}

func TestTradesDedupAndUnknownOrder(t *testing.T) {
	r, st, rec := newReconciler(t)
	ctx := context.Background()
	require.NoError(t, st.Orders().SaveOrder(ctx, baseOrder("o1", order.StatusNew, "0")))

	ts := time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)
	trades := []order.Trade{
		{ID: "t2", OrderID: "o1", Amount: d("0.6"), Price: d("30100"), Timestamp: ts.Add(time.Second)},
		{ID: "orphan", OrderID: "nope", Amount: d("1"), Price: d("1"), Timestamp: ts},
		{ID: "t1", OrderID: "o1", Amount: d("0.4"), Price: d("30000"), Timestamp: ts},
	}
	require.NoError(t, r.ReconcileTrades(ctx, trades))
	require.NoError(t, r.ReconcileTrades(ctx, trades))

	assert.Equal(t, []EventKind{EventError, EventTradeAdded, EventTradeAdded, EventError}, rec.kinds())
	assert.Equal(t, "t1", rec.events[1].Trade.ID, "trades of an order are emitted in timestamp order")
	stored, err := st.Trades().FindTradesByOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestPersistenceFailureRetriedNextTick(t *testing.T) {
	r, st, rec := newReconciler(t)
	ctx := context.Background()
	require.NoError(t, st.Orders().SaveOrder(ctx, baseOrder("o1", order.StatusNew, "0")))

	st.SetSaveError(errors.New("disk full"))
	snap := baseOrder("o1", order.StatusFilled, "1")
	err := r.ReconcileOrders(ctx, []order.Order{snap})
	var pe *store.PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.Empty(t, rec.kinds())

	st.SetSaveError(nil)
	require.NoError(t, r.ReconcileOrders(ctx, []order.Order{snap}))
	assert.Equal(t, []EventKind{EventOrderUpdated}, rec.kinds())
}

func TestTickersPersistOnlyNewer(t *testing.T) {
	r, st, rec := newReconciler(t)
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	newer := market.NewTicker(btcUSD, d("1"), d("2"), d("1.5"), ts.Add(time.Minute))
	older := market.NewTicker(btcUSD, d("3"), d("4"), d("3.5"), ts)

	require.NoError(t, r.ReconcileTickers(ctx, []market.Ticker{newer, newer, older}))
	assert.Len(t, st.TickerHistory(), 1)
	assert.Equal(t, []EventKind{EventTickerUpdated, EventTickerUpdated}, rec.kinds(), "older tickers are still forwarded")

	last, err := st.Tickers().LastTicker(ctx, btcUSD)
	require.NoError(t, err)
	assert.True(t, last.Timestamp.Equal(newer.Timestamp))
}

func TestSyncOrderTrades(t *testing.T) {
	ctx := context.Background()
	ex := sim.NewPaperExchange(sim.Config{
		Tickers: []market.Ticker{market.NewTicker(btcUSD, d("100"), d("101"), d("100"), time.Now())},
	})
	st := memstore.New()
	rec := &recorder{}
	r := New(Config{Store: st, Exchange: ex, Sink: rec.sink, Strategies: []string{"s1"}})

	req := gateway.NewMarketOrder("s1", order.TypeBuy, btcUSD, d("1"))
	h, err := ex.PlaceOrder(ctx, req)
	require.NoError(t, err)
	require.NoError(t, st.Orders().SaveOrder(ctx, req.ToOrder(h)))
	ex.Step()

	require.NoError(t, r.SyncOrderTrades(ctx, h.OrderID))
	assert.Equal(t, []EventKind{EventTradeAdded, EventOrderUpdated}, rec.kinds())
	got, _ := st.Orders().FindOrder(ctx, h.OrderID)
	assert.Equal(t, order.StatusFilled, got.Status)
}
