package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot-go/ledger"
	"tradebot-go/market"
	"tradebot-go/order"
	"tradebot-go/position"
	"tradebot-go/posttrade"
)

type fakeOps struct {
	mu        sync.Mutex
	opened    []market.CurrencyPair
	rules     []position.Rules
	openErr   error
	positions []position.Position
}

func (f *fakeOps) OpenPosition(_ context.Context, pair market.CurrencyPair, _ decimal.Decimal, rules position.Rules) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return "", f.openErr
	}
	f.opened = append(f.opened, pair)
	f.rules = append(f.rules, rules)
	return "pos-" + pair.String(), nil
}
func (f *fakeOps) ClosePosition(context.Context, string) error      { return nil }
func (f *fakeOps) ForceClosePosition(context.Context, string) error { return nil }
func (f *fakeOps) Positions(context.Context) ([]position.Position, error) {
	return f.positions, nil
}
func (f *fakeOps) Orders(context.Context) ([]order.Order, error) { return nil, nil }
func (f *fakeOps) LastTicker(context.Context, market.CurrencyPair) (market.Ticker, error) {
	return market.Ticker{}, nil
}
func (f *fakeOps) Gains(context.Context) ([]posttrade.Summary, error) { return nil, nil }

func newThreshold(t *testing.T, ops Operations, params Params) *Threshold {
	t.Helper()
	s, err := NewFactory().Create(KindThreshold, Dependencies{
		StrategyID: "dip",
		Pairs:      []market.CurrencyPair{btcUSD},
		Operations: ops,
	}, params)
	require.NoError(t, err)
	return s.(*Threshold)
}

func ticker(last string) market.Ticker {
	return market.Ticker{Pair: btcUSD, Last: decimal.RequireFromString(last)}
}

func TestThresholdOpensBelowPrice(t *testing.T) {
	ops := &fakeOps{}
	s := newThreshold(t, ops, Params{"buyBelow": "30000", "amount": "0.1", "stopGainPct": 5, "stopLossPct": "2.5"})
	ctx := context.Background()

	s.OnTickerUpdate(ctx, ticker("30100"))
	assert.Empty(t, ops.opened)

	s.OnTickerUpdate(ctx, ticker("29900"))
	s.OnTickerUpdate(ctx, ticker("29800"))
	require.Len(t, ops.opened, 1, "holding a position must suppress new opens")
	assert.True(t, ops.rules[0].StopGainPercentage.Equal(decimal.NewFromInt(5)))
	assert.True(t, ops.rules[0].StopLossPercentage.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, "pos-BTC/USD", s.OpenPositions()[btcUSD])

	s.OnPositionUpdate(ctx, position.Position{ID: "pos-BTC/USD", Pair: btcUSD, Status: position.StatusClosed})
	assert.Empty(t, s.OpenPositions())

	s.OnTickerUpdate(ctx, ticker("29700"))
	assert.Len(t, ops.opened, 2)
}

func TestThresholdResyncsOnDuplicate(t *testing.T) {
	ops := &fakeOps{
		openErr:   ledger.ErrDuplicatePosition,
		positions: []position.Position{{ID: "old", Pair: btcUSD, Status: position.StatusOpened}},
	}
	s := newThreshold(t, ops, Params{"buyBelow": "30000", "amount": "0.1"})

	s.OnTickerUpdate(context.Background(), ticker("100"))
	assert.Equal(t, "old", s.OpenPositions()[btcUSD])
}

func TestThresholdKeepsTrackingAfterOpenFailure(t *testing.T) {
	ops := &fakeOps{openErr: errors.New("exchange down")}
	s := newThreshold(t, ops, Params{"buyBelow": "30000", "amount": "0.1"})
	s.OnTickerUpdate(context.Background(), ticker("100"))
	assert.Empty(t, s.OpenPositions())

	ops.openErr = nil
	s.OnTickerUpdate(context.Background(), ticker("100"))
	assert.Len(t, s.OpenPositions(), 1)
}

func TestFactory(t *testing.T) {
	f := NewFactory()
	assert.Equal(t, []string{KindThreshold}, f.Kinds())

	_, err := f.Create("grid", Dependencies{StrategyID: "x"}, nil)
	assert.True(t, errors.Is(err, ErrUnknownKind))

	_, err = f.Create(KindThreshold, Dependencies{StrategyID: "x", Pairs: []market.CurrencyPair{btcUSD}, Operations: &fakeOps{}}, Params{"amount": "1"})
	assert.Error(t, err, "buyBelow is required")

	_, err = f.Create(KindThreshold, Dependencies{Operations: &fakeOps{}}, nil)
	assert.Error(t, err)

	f.Register("noop", func(deps Dependencies, _ Params) (Strategy, error) {
		return Base{StrategyID: deps.StrategyID}, nil
	})
	s, err := f.Create("noop", Dependencies{StrategyID: "n"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "n", s.ID())
}

func TestForeignPositionAlias(t *testing.T) {
	assert.True(t, errors.Is(ledger.ErrForeignPosition, ErrForeignPosition))
}
