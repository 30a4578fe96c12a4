// Package metrics provides Prometheus metrics for the trading flows
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RemoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moneymate_remote_requests_total",
		Help: "投资服务请求数量",
	}, []string{"endpoint", "outcome"})

	RemoteLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "moneymate_remote_latency_seconds",
		Help:    "投资服务请求耗时",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	FlowTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moneymate_flow_transitions_total",
		Help: "状态机迁移次数",
	}, []string{"flow", "from", "to"})

	ActionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moneymate_action_errors_total",
		Help: "用户动作失败次数（按错误类别）",
	}, []string{"flow", "action", "kind"})

	StrategyCapital = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "moneymate_strategy_capital",
		Help: "当前自动策略分配资金",
	})
)

// ObserveRemote 记录一次远程调用结果与耗时。
func ObserveRemote(endpoint string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	RemoteRequests.WithLabelValues(endpoint, outcome).Inc()
	RemoteLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func RecordTransition(flow, from, to string) {
	FlowTransitions.WithLabelValues(flow, from, to).Inc()
}

func RecordActionError(flow, action, kind string) {
	ActionErrors.WithLabelValues(flow, action, kind).Inc()
}

// Handler 暴露 /metrics。
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
