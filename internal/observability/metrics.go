package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hpl_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hpl_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	PurchasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hpl_purchases_total",
			Help: "Purchase attempts by result",
		},
		[]string{"result"},
	)

	OversellRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hpl_oversell_rejections_total",
			Help: "Purchases rejected by the locked capacity re-check",
		},
	)

	LinkAccessesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hpl_link_accesses_total",
			Help: "Recorded purchase link visits",
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hpl_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hpl_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
