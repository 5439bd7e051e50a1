package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器
//
// 所有 Record* 方法对 nil 接收者安全，组件可以不带监控运行。
type Monitor struct {
	registry *prometheus.Registry

	// 订单指标
	ordersPlaced  *prometheus.CounterVec
	ordersUpdated *prometheus.CounterVec

	// 成交指标
	tradesTotal  prometheus.Counter
	tradedVolume prometheus.Counter

	// 行情指标
	tickersStored *prometheus.CounterVec

	// 仓位指标
	positionTransitions *prometheus.CounterVec
	realizedGain        *prometheus.GaugeVec

	// 一致性
	invariantViolations *prometheus.CounterVec

	// 轮询指标
	fluxPolls   *prometheus.CounterVec
	fluxErrors  *prometheus.CounterVec
	fluxSkips   *prometheus.CounterVec
	fluxLatency *prometheus.HistogramVec

	// 交易所网关指标
	gatewayRequests *prometheus.CounterVec
	gatewayErrors   *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "bot",
		Subsystem: "runtime",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}

	return &Monitor{
		registry: reg,

		ordersPlaced:  counterVec("orders_placed_total", "下单总数", "strategy", "type"),
		ordersUpdated: counterVec("orders_updated_total", "订单状态更新次数", "status"),

		tradesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "trades_total",
			Help:      "成交笔数总数",
		}),
		tradedVolume: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "traded_volume_total",
			Help:      "累计成交量",
		}),

		tickersStored: counterVec("tickers_stored_total", "写入的行情快照", "pair"),

		positionTransitions: counterVec("position_transitions_total", "仓位状态迁移次数", "from", "to"),
		realizedGain: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "realized_gain",
			Help:      "已实现收益（按策略、计价币）",
		}, []string{"strategy", "quote"}),

		invariantViolations: counterVec("invariant_violations_total", "数据一致性违例", "kind"),

		fluxPolls:  counterVec("flux_polls_total", "轮询次数", "kind"),
		fluxErrors: counterVec("flux_errors_total", "轮询失败次数", "kind"),
		fluxSkips:  counterVec("flux_skips_total", "上一轮未完成而跳过的轮询", "kind"),
		fluxLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "flux_latency_seconds",
			Help:      "单次轮询耗时（秒）",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"kind"}),

		gatewayRequests: counterVec("gateway_requests_total", "交易所请求总数", "action"),
		gatewayErrors:   counterVec("gateway_errors_total", "交易所错误总数", "action"),
		gatewayLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "gateway_latency_seconds",
			Help:      "交易所请求延迟（秒）",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
	}
}

// 订单相关方法
func (m *Monitor) RecordOrderPlaced(strategyID, orderType string) {
	if m == nil {
		return
	}
	m.ordersPlaced.WithLabelValues(strategyID, orderType).Inc()
}

func (m *Monitor) RecordOrderUpdated(status string) {
	if m == nil {
		return
	}
	m.ordersUpdated.WithLabelValues(status).Inc()
}

// 成交相关方法
func (m *Monitor) RecordTrade(volume float64) {
	if m == nil {
		return
	}
	m.tradesTotal.Inc()
	m.tradedVolume.Add(volume)
}

func (m *Monitor) RecordTickerStored(pair string) {
	if m == nil {
		return
	}
	m.tickersStored.WithLabelValues(pair).Inc()
}

// 仓位相关方法
func (m *Monitor) RecordPositionTransition(from, to string) {
	if m == nil {
		return
	}
	m.positionTransitions.WithLabelValues(from, to).Inc()
}

func (m *Monitor) UpdateRealizedGain(strategyID, quote string, value float64) {
	if m == nil {
		return
	}
	m.realizedGain.WithLabelValues(strategyID, quote).Set(value)
}

func (m *Monitor) RecordInvariantViolation(kind string) {
	if m == nil {
		return
	}
	m.invariantViolations.WithLabelValues(kind).Inc()
}

// 轮询相关方法
func (m *Monitor) RecordPoll(kind string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.fluxPolls.WithLabelValues(kind).Inc()
	m.fluxLatency.WithLabelValues(kind).Observe(seconds)
	if err != nil {
		m.fluxErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Monitor) RecordPollSkipped(kind string) {
	if m == nil {
		return
	}
	m.fluxSkips.WithLabelValues(kind).Inc()
}

// 网关相关方法
func (m *Monitor) RecordGatewayRequest(action string) {
	if m == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(action).Inc()
}

func (m *Monitor) RecordGatewayError(action string) {
	if m == nil {
		return
	}
	m.gatewayErrors.WithLabelValues(action).Inc()
}

func (m *Monitor) RecordGatewayLatency(action string, seconds float64) {
	if m == nil {
		return
	}
	m.gatewayLatency.WithLabelValues(action).Observe(seconds)
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
