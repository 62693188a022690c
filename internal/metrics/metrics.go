// Package metrics 汇总行情聚合层的 Prometheus 指标
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "market"

// Metrics 指标集合，方法对 nil 接收者是安全的，便于测试中省略
type Metrics struct {
	registry *prometheus.Registry

	// 连接器请求，outcome 为 ok 或错误类别
	ConnectorRequests *prometheus.CounterVec
	// 重试次数
	RetryAttempts *prometheus.CounterVec
	// 缓存命中/未命中
	CacheLookups *prometheus.CounterVec
	// 流式会话重连次数
	StreamReconnects *prometheus.CounterVec
	// 流式消息处理失败 (解析或存储)
	StreamHandlerErrors *prometheus.CounterVec
	// 流式会话状态 0..3 (Disconnected..Backoff)
	StreamState *prometheus.GaugeVec
	// 已触发的价格提醒
	AlertsTriggered prometheus.Counter
}

// New 创建指标实例并注册到独立的 Registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ConnectorRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connector_requests_total",
			Help:      "Exchange connector requests by outcome",
		}, []string{"exchange", "op", "outcome"}),
		RetryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Retried connector calls",
		}, []string{"exchange", "op"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by result",
		}, []string{"op", "result"}),
		StreamReconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reconnects_total",
			Help:      "Stream session reconnect attempts",
		}, []string{"exchange"}),
		StreamHandlerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_handler_errors_total",
			Help:      "Stream messages that failed to decode or persist",
		}, []string{"exchange", "stage"}),
		StreamState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_state",
			Help:      "Stream session state (0=Disconnected 1=Connecting 2=Connected 3=Backoff)",
		}, []string{"exchange"}),
		AlertsTriggered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_triggered_total",
			Help:      "Price alerts that fired",
		}),
	}
}

// Handler 暴露 /metrics
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(exchange, op, outcome string) {
	if m == nil {
		return
	}
	m.ConnectorRequests.WithLabelValues(exchange, op, outcome).Inc()
}

func (m *Metrics) ObserveRetry(exchange, op string) {
	if m == nil {
		return
	}
	m.RetryAttempts.WithLabelValues(exchange, op).Inc()
}

func (m *Metrics) ObserveCache(op string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(op, result).Inc()
}

func (m *Metrics) ObserveReconnect(exchange string) {
	if m == nil {
		return
	}
	m.StreamReconnects.WithLabelValues(exchange).Inc()
}

func (m *Metrics) ObserveHandlerError(exchange, stage string) {
	if m == nil {
		return
	}
	m.StreamHandlerErrors.WithLabelValues(exchange, stage).Inc()
}

func (m *Metrics) SetStreamState(exchange string, state int) {
	if m == nil {
		return
	}
	m.StreamState.WithLabelValues(exchange).Set(float64(state))
}

func (m *Metrics) ObserveAlert() {
	if m == nil {
		return
	}
	m.AlertsTriggered.Inc()
}
