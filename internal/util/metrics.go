package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RefreshRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refresh_runs_total",
		Help: "Total number of product refresh cycles by final status",
	}, []string{"status"})

	RefreshLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "refresh_latency_seconds",
		Help:    "Latency of a full product refresh cycle",
		Buckets: prometheus.DefBuckets,
	})

	RefreshSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refresh_skipped_total",
		Help: "Total number of refreshes skipped because another run held the product lock",
	})

	FetchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fetch_latency_seconds",
		Help:    "Latency of product page fetches",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	FetchFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_failures_total",
		Help: "Total number of failed page fetch attempts",
	}, []string{"reason"})

	ObservationsRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "price_observations_recorded_total",
		Help: "Total number of price observations appended to history",
	})

	AlertDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alert_decisions_total",
		Help: "Total number of alert rule decisions",
	}, []string{"kind", "reason"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Total number of notification attempts by channel and outcome",
	}, []string{"channel", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
