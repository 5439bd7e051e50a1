package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradebot-go/market"
)

// Clock 抽象时间便于测试。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// NowUTC 默认时钟。
var NowUTC Clock = realClock{}

type tick struct {
	price decimal.Decimal
	ts    time.Time
}

// CircuitBreaker 基于近期波动率熔断：1m、5m 窗口内涨跌幅越过阈值后，
// 在冷却期内拒绝该交易对的新开仓。
type CircuitBreaker struct {
	// 阈值：相对涨跌幅，例如 0.01 表示 1%
	OneMinuteThresh  decimal.Decimal
	FiveMinuteThresh decimal.Decimal
	Cooldown         time.Duration

	mu       sync.Mutex
	clock    Clock
	window1m map[market.CurrencyPair][]tick
	window5m map[market.CurrencyPair][]tick
	tripped  map[market.CurrencyPair]time.Time
}

func NewCircuitBreaker(one, five decimal.Decimal, cooldown time.Duration) *CircuitBreaker {
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &CircuitBreaker{
		OneMinuteThresh:  one,
		FiveMinuteThresh: five,
		Cooldown:         cooldown,
		clock:            NowUTC,
		window1m:         make(map[market.CurrencyPair][]tick),
		window5m:         make(map[market.CurrencyPair][]tick),
		tripped:          make(map[market.CurrencyPair]time.Time),
	}
}

// SetClock 替换时钟，测试用。
func (c *CircuitBreaker) SetClock(clock Clock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
}

// OnTicker 返回 (是否触发, 触发窗口 "1m"/"5m"/"")
func (c *CircuitBreaker) OnTicker(t market.Ticker) (bool, string) {
	price := t.Price()
	if !price.IsPositive() {
		return false, ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	k := tick{price: price, ts: t.Timestamp}
	c.window1m[t.Pair] = trim(append(c.window1m[t.Pair], k), t.Timestamp.Add(-time.Minute))
	c.window5m[t.Pair] = trim(append(c.window5m[t.Pair], k), t.Timestamp.Add(-5*time.Minute))

	span := ""
	if exceeds(c.window1m[t.Pair], c.OneMinuteThresh) {
		span = "1m"
	} else if exceeds(c.window5m[t.Pair], c.FiveMinuteThresh) {
		span = "5m"
	}
	if span == "" {
		return false, ""
	}
	c.tripped[t.Pair] = c.clock.Now().Add(c.Cooldown)
	return true, span
}

// Tripped 交易对是否处于熔断冷却期。
func (c *CircuitBreaker) Tripped(pair market.CurrencyPair) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.tripped[pair]
	if !ok {
		return false
	}
	if c.clock.Now().After(until) {
		delete(c.tripped, pair)
		return false
	}
	return true
}

// PreOpen 熔断期间拒绝开仓。平仓不受影响。
func (c *CircuitBreaker) PreOpen(_ context.Context, req Request) error {
	if c.Tripped(req.Pair) {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, req.Pair)
	}
	return nil
}

func trim(buf []tick, cutoff time.Time) []tick {
	i := 0
	for ; i < len(buf); i++ {
		if buf[i].ts.After(cutoff) {
			break
		}
	}
	return buf[i:]
}

func exceeds(buf []tick, thresh decimal.Decimal) bool {
	if !thresh.IsPositive() || len(buf) == 0 {
		return false
	}
	first := buf[0].price
	last := buf[len(buf)-1].price
	change := last.Sub(first).Div(first).Abs()
	return change.GreaterThan(thresh)
}
