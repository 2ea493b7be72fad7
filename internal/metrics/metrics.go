package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portapi_queries_total",
		Help: "Total number of nearest-port queries",
	})
	QueryDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "portapi_query_duration_ms",
		Help:    "Nearest-port query duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	})
	NotFoundTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portapi_not_found_total",
		Help: "Total queries that produced no match within constraints",
	})
	MemoHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portapi_memo_hits_total",
		Help: "Total memoized-result cache hits",
	})
	MemoMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portapi_memo_misses_total",
		Help: "Total memoized-result cache misses",
	})
	CellHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portapi_cell_hits_total",
		Help: "Total cell-index reads that returned candidates",
	})
	CellMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portapi_cell_misses_total",
		Help: "Total cell-index reads that returned nothing",
	})
	CacheErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portapi_cache_errors_total",
		Help: "Total swallowed cache operation failures",
	})
	FallbackAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portapi_fallback_attempts_total",
		Help: "Total store fallback radius attempts",
	})
	FallbackHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portapi_fallback_hits_total",
		Help: "Total store fallback attempts that yielded candidates",
	})
	StaleDetectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portapi_stale_detected_total",
		Help: "Total winning candidates rejected by the staleness guard",
	})
	StoreUnavailableTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portapi_store_unavailable_total",
		Help: "Total authoritative store calls that failed as unavailable",
	})
	SyncEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portapi_sync_events_total",
		Help: "Total change events applied to the spatial cache",
	}, []string{"type"})
	SyncDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portapi_sync_dropped_total",
		Help: "Total change events dropped due to decode or validation errors",
	})
	WarmPointsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "portapi_warm_points",
		Help: "Points cached by the most recent warm run",
	})
	WarmCellsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "portapi_warm_cells",
		Help: "Cells populated by the most recent warm run",
	})
)

func init() {
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(QueryDurationMs)
	prometheus.MustRegister(NotFoundTotal)
	prometheus.MustRegister(MemoHitsTotal)
	prometheus.MustRegister(MemoMissesTotal)
	prometheus.MustRegister(CellHitsTotal)
	prometheus.MustRegister(CellMissesTotal)
	prometheus.MustRegister(CacheErrorsTotal)
	prometheus.MustRegister(FallbackAttemptsTotal)
	prometheus.MustRegister(FallbackHitsTotal)
	prometheus.MustRegister(StaleDetectedTotal)
	prometheus.MustRegister(StoreUnavailableTotal)
	prometheus.MustRegister(SyncEventsTotal)
	prometheus.MustRegister(SyncDroppedTotal)
	prometheus.MustRegister(WarmPointsTotal)
	prometheus.MustRegister(WarmCellsTotal)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标供抓取；在主入口挂载到 /metrics 路径。
func Handler() http.Handler { return promhttp.Handler() }
