package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appfuel_dispatch_total",
			Help: "Total number of action dispatches",
		},
		[]string{"route", "strategy", "status"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "appfuel_dispatch_duration_seconds",
			Help:    "Time taken to dispatch an action",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "strategy"},
	)

	DBRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appfuel_db_requests_total",
			Help: "Total number of database requests",
		},
		[]string{"connector", "type", "strategy"},
	)

	DBRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "appfuel_db_request_duration_seconds",
			Help:    "Time taken to execute a database request",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"connector", "type"},
	)

	DBErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appfuel_db_errors_total",
			Help: "Total number of database errors by error number",
		},
		[]string{"connector", "number"},
	)

	DBPoolOpenConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "appfuel_db_pool_open_connections",
			Help: "Number of established connections",
		},
		[]string{"connector", "pool"},
	)

	DBPoolInUse = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "appfuel_db_pool_in_use",
			Help: "Number of connections currently in use",
		},
		[]string{"connector", "pool"},
	)

	DBPoolIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "appfuel_db_pool_idle",
			Help: "Number of idle connections",
		},
		[]string{"connector", "pool"},
	)

	DBPoolWaitCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appfuel_db_pool_wait_count_total",
			Help: "Total number of connections waited for",
		},
		[]string{"connector", "pool"},
	)

	ORMCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appfuel_orm_cache_hits_total",
			Help: "Total number of orm cache hits",
		},
		[]string{"layer"},
	)

	ORMCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appfuel_orm_cache_misses_total",
			Help: "Total number of orm cache misses",
		},
		[]string{"layer"},
	)

	ORMCacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appfuel_orm_cache_errors_total",
			Help: "Total number of orm cache errors",
		},
		[]string{"layer", "op"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appfuel_http_requests_total",
			Help: "Total number of HTTP requests by method and status code",
		},
		[]string{"method", "status"},
	)

	HTTPRateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "appfuel_http_rate_limited_total",
			Help: "Total number of HTTP requests rejected by the rate limiter",
		},
	)
)
