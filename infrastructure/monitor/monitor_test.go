package monitor

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordPoll(t *testing.T) {
	m := New(DefaultConfig())
	m.RecordPoll("orders", 0.01, nil)
	m.RecordPoll("orders", 0.02, errors.New("timeout"))
	m.RecordPollSkipped("orders")

	if got := testutil.ToFloat64(m.fluxPolls.WithLabelValues("orders")); got != 2 {
		t.Fatalf("polls = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.fluxErrors.WithLabelValues("orders")); got != 1 {
		t.Fatalf("errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.fluxSkips.WithLabelValues("orders")); got != 1 {
		t.Fatalf("skips = %v, want 1", got)
	}
}

func TestRecordTradeAndTransitions(t *testing.T) {
	m := New(DefaultConfig())
	m.RecordTrade(0.4)
	m.RecordTrade(0.6)
	m.RecordPositionTransition("OPENING", "OPENED")
	m.UpdateRealizedGain("s1", "USD", 12.5)

	if got := testutil.ToFloat64(m.tradesTotal); got != 2 {
		t.Fatalf("trades = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.tradedVolume); got != 1 {
		t.Fatalf("volume = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.positionTransitions.WithLabelValues("OPENING", "OPENED")); got != 1 {
		t.Fatalf("transitions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.realizedGain.WithLabelValues("s1", "USD")); got != 12.5 {
		t.Fatalf("gain = %v, want 12.5", got)
	}
}

func TestNilMonitorIsNoop(t *testing.T) {
	var m *Monitor
	m.RecordOrderPlaced("s1", "BUY")
	m.RecordPoll("tickers", 1, nil)
	m.RecordInvariantViolation("unknown_order")
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(DefaultConfig())
	m.RecordGatewayRequest("place_order")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "bot_runtime_gateway_requests_total") {
		t.Fatalf("metrics output missing gateway counter:\n%s", rec.Body.String())
	}
}
