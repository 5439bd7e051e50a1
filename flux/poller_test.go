package flux

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"tradebot-go/infrastructure/monitor"
)

func TestPollSkipsWhileBusy(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	src := SourceFunc[int](func(ctx context.Context) ([]int, error) {
		started <- struct{}{}
		<-release
		return []int{1}, nil
	})
	mon := monitor.New(monitor.DefaultConfig())
	p := NewPoller(Config{Kind: "orders", Interval: time.Hour}, src, func(context.Context, []int) error { return nil }, Deps{Monitor: mon})

	done := make(chan error, 1)
	go func() { done <- p.Poll(context.Background()) }()
	<-started

	assert.ErrorIs(t, p.Poll(context.Background()), ErrSkipped)
	close(release)
	require.NoError(t, <-done)

	skips, err := testutil.GatherAndCount(mon.Registry(), "bot_runtime_flux_skips_total")
	require.NoError(t, err)
	assert.Equal(t, 1, skips)
}

func TestRunKeepsGoingAfterErrors(t *testing.T) {
	var calls atomic.Int32
	src := SourceFunc[int](func(ctx context.Context) ([]int, error) {
		calls.Add(1)
		return []int{1}, errors.New("exchange unavailable")
	})
	var consumed atomic.Int32
	consume := func(_ context.Context, batch []int) error {
		consumed.Add(int32(len(batch)))
		return nil
	}
	p := NewPoller(Config{Kind: "tickers", Interval: 5 * time.Millisecond}, src, consume, Deps{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, consumed.Load(), int32(3), "partial batches still reach the consumer")
}

func TestRunNeverQueuesTicks(t *testing.T) {
	var running, maxRunning atomic.Int32
	src := SourceFunc[int](func(ctx context.Context) ([]int, error) {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return nil, nil
	})
	mon := monitor.New(monitor.DefaultConfig())
	p := NewPoller(Config{Kind: "trades", Interval: 2 * time.Millisecond, Timeout: time.Second}, src,
		func(context.Context, []int) error { return nil }, Deps{Monitor: mon, Pool: semaphore.NewWeighted(3)})

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))

	assert.EqualValues(t, 1, maxRunning.Load())
	skips, err := testutil.GatherAndCount(mon.Registry(), "bot_runtime_flux_skips_total")
	require.NoError(t, err)
	assert.Equal(t, 1, skips, "skip counter series present")
}

func TestUnitHonoursTimeout(t *testing.T) {
	src := SourceFunc[int](func(ctx context.Context) ([]int, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	p := NewPoller(Config{Kind: "orders", Interval: time.Hour, Timeout: 10 * time.Millisecond}, src,
		func(context.Context, []int) error { return nil }, Deps{})

	err := p.Poll(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSetInterval(t *testing.T) {
	var calls atomic.Int32
	src := SourceFunc[int](func(ctx context.Context) ([]int, error) {
		calls.Add(1)
		return nil, nil
	})
	p := NewPoller(Config{Kind: "tickers", Interval: time.Hour}, src, func(context.Context, []int) error { return nil }, Deps{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	p.SetInterval(2 * time.Millisecond)
	assert.Equal(t, 2*time.Millisecond, p.Interval())
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)
}

func TestSharedPoolBoundsConcurrency(t *testing.T) {
	pool := semaphore.NewWeighted(1)
	var inFlight, peak atomic.Int32
	slow := func(ctx context.Context) ([]int, error) {
		n := inFlight.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return nil, nil
	}
	noop := func(context.Context, []int) error { return nil }
	a := NewPoller(Config{Kind: "a", Interval: time.Hour, Timeout: time.Second}, SourceFunc[int](slow), noop, Deps{Pool: pool})
	b := NewPoller(Config{Kind: "b", Interval: time.Hour, Timeout: time.Second}, SourceFunc[int](slow), noop, Deps{Pool: pool})

	errs := make(chan error, 2)
	go func() { errs <- a.Poll(context.Background()) }()
	go func() { errs <- b.Poll(context.Background()) }()
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	assert.EqualValues(t, 1, peak.Load())
}
