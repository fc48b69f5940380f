// Package metrics provides Prometheus metrics for the sync worker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IterationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_iterations_total",
		Help: "同步迭代次数，按结果区分",
	}, []string{"outcome"}) // completed / timed_out / error

	IterationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_iteration_duration_seconds",
		Help:    "单次同步迭代耗时",
		Buckets: prometheus.DefBuckets,
	})

	StageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_stage_errors_total",
		Help: "各阶段错误数量",
	}, []string{"stage", "broker"}) // reconcile / balance / valuation

	ReconcileChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_reconcile_changes_total",
		Help: "对账产生的持仓增删改数量",
	}, []string{"broker", "op"}) // insert / update / delete

	AccountValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sync_broker_account_value",
		Help: "券商报告的账户总值",
	}, []string{"broker"})

	StrategyTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sync_strategy_total_balance",
		Help: "策略最新 total 余额",
	}, []string{"broker", "strategy"})

	PositionsTracked = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sync_positions_tracked",
		Help: "账本中的持仓行数",
	}, []string{"broker"})
)

// StartServer 启动Prometheus指标服务器；addr 为空则不启动。
func StartServer(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
