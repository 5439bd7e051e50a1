package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradebot-go/market"
	"tradebot-go/order"
	"tradebot-go/position"
	"tradebot-go/store/memstore"
)

var btcUSD = market.MustParsePair("BTC/USD")

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLimitChecker(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	lc := NewLimitChecker(Limits{MaxPositionAmount: d("2"), MaxOpenPositions: 1}, st.Positions())

	if err := lc.PreOpen(ctx, Request{StrategyID: "s1", Pair: btcUSD, Amount: d("1.5")}); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if err := lc.PreOpen(ctx, Request{StrategyID: "s1", Pair: btcUSD, Amount: d("3")}); !errors.Is(err, ErrAmountExceed) {
		t.Fatalf("expected amount exceed, got %v", err)
	}

	_ = st.Positions().SavePosition(ctx, position.Position{ID: "p1", StrategyID: "s1", Pair: btcUSD, Status: position.StatusOpened})
	_ = st.Positions().SavePosition(ctx, position.Position{ID: "p0", StrategyID: "s1", Pair: btcUSD, Status: position.StatusClosed})
	if err := lc.PreOpen(ctx, Request{StrategyID: "s1", Pair: btcUSD, Amount: d("1")}); !errors.Is(err, ErrTooManyPositions) {
		t.Fatalf("expected too many positions, got %v", err)
	}
	if err := lc.PreOpen(ctx, Request{StrategyID: "s2", Pair: btcUSD, Amount: d("1")}); err != nil {
		t.Fatalf("other strategy must not be limited: %v", err)
	}
}

func TestConstraintGuard(t *testing.T) {
	g := ConstraintGuard{Constraints: map[market.CurrencyPair]order.SymbolConstraints{
		btcUSD: {StepSize: d("0.001"), MinAmount: d("0.001")},
	}}
	if err := g.PreOpen(context.Background(), Request{Pair: btcUSD, Amount: d("0.0015")}); !errors.Is(err, ErrConstraint) {
		t.Fatalf("expected constraint error, got %v", err)
	}
	if err := g.PreOpen(context.Background(), Request{Pair: btcUSD, Amount: d("0.002")}); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if err := g.PreOpen(context.Background(), Request{Pair: market.MustParsePair("ETH/USD"), Amount: d("0.0000001")}); err != nil {
		t.Fatalf("pairs without constraints pass: %v", err)
	}
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func TestCircuitBreaker(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &fixedClock{now: now}
	cb := NewCircuitBreaker(d("0.01"), d("0.02"), time.Minute)
	cb.SetClock(clock)

	for i := 0; i < 5; i++ {
		tk := market.NewTicker(btcUSD, d("100"), d("100"), d("100"), now.Add(time.Duration(i)*10*time.Second))
		if trip, _ := cb.OnTicker(tk); trip {
			t.Fatalf("did not expect trip")
		}
	}
	trip, span := cb.OnTicker(market.NewTicker(btcUSD, d("102"), d("102"), d("102"), now.Add(45*time.Second)))
	if !trip || span != "1m" {
		t.Fatalf("expected 1m trip, got %v %q", trip, span)
	}
	if err := cb.PreOpen(context.Background(), Request{Pair: btcUSD, Amount: d("1")}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit open, got %v", err)
	}

	clock.now = now.Add(2 * time.Minute)
	if cb.Tripped(btcUSD) {
		t.Fatalf("cooldown should have expired")
	}
}

func TestMultiGuardStopsAtFirstError(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	g := MultiGuard{Guards: []Guard{
		nil,
		GuardFunc(func(context.Context, Request) error { calls++; return boom }),
		GuardFunc(func(context.Context, Request) error { calls++; return nil }),
	}}
	if err := g.PreOpen(context.Background(), Request{}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
