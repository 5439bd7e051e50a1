package posttrade

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"tradebot-go/infrastructure/monitor"
	"tradebot-go/market"
	"tradebot-go/position"
	"tradebot-go/store/memstore"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func closed(id, strategy, pair, open, close string) position.Position {
	return position.Position{
		ID: id, StrategyID: strategy, Pair: market.MustParsePair(pair), Status: position.StatusClosed,
		Amount: d("1"), OpeningAveragePrice: d(open), ClosingAveragePrice: d(close),
	}
}

func TestSummarize(t *testing.T) {
	ps := []position.Position{
		closed("p1", "s1", "BTC/USD", "100", "110"),
		closed("p2", "s1", "ETH/USD", "100", "95"),
		closed("p3", "s1", "BTC/EUR", "100", "120"),
		{ID: "p4", StrategyID: "s1", Pair: market.MustParsePair("BTC/USD"), Status: position.StatusOpened,
			Amount: d("2"), OpeningAveragePrice: d("100"), LatestPrice: d("101")},
		{ID: "p5", StrategyID: "s1", Pair: market.MustParsePair("BTC/USD"), Status: position.StatusClosed, Amount: d("0")},
	}
	sums := Summarize(ps)
	if len(sums) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(sums))
	}
	eur, usd := sums[0], sums[1]
	if eur.Quote != "EUR" || !eur.Realized.Equal(d("20")) {
		t.Fatalf("unexpected EUR summary: %+v", eur)
	}
	if !usd.Realized.Equal(d("5")) || usd.ClosedPositions != 2 || usd.Wins != 1 || usd.Losses != 1 {
		t.Fatalf("unexpected USD summary: %+v", usd)
	}
	if !usd.Unrealized.Equal(d("2")) || usd.OpenPositions != 1 {
		t.Fatalf("unexpected unrealized: %+v", usd)
	}
	if usd.WinRate() != 0.5 {
		t.Fatalf("win rate = %v", usd.WinRate())
	}
}

func TestAnalyzerPublishesRealizedGain(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	p := closed("p1", "s1", "BTC/USD", "100", "130")
	_ = st.Positions().SavePosition(ctx, p)

	mon := monitor.New(monitor.DefaultConfig())
	a := NewAnalyzer(st.Positions(), mon)
	if err := a.OnPositionUpdate(ctx, p); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	n, err := testutil.GatherAndCount(mon.Registry(), "bot_runtime_realized_gain")
	if err != nil || n != 1 {
		t.Fatalf("expected one realized gain series, got %d (%v)", n, err)
	}

	all, err := a.All(ctx)
	if err != nil || len(all) != 1 || !all[0].Realized.Equal(d("30")) {
		t.Fatalf("unexpected all: %+v (%v)", all, err)
	}
}
