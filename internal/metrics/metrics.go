package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sugarrush_orders_submitted_total",
		Help: "Total number of orders accepted by submit.",
	})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sugarrush_order_transitions_total",
		Help: "Committed order status transitions by target status.",
	},
		[]string{"status"},
	)

	CallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sugarrush_callbacks_total",
		Help: "Scheduled order callbacks by action and outcome (applied, noop, error).",
	},
		[]string{"action", "outcome"},
	)

	PendingCallbacks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sugarrush_pending_callbacks",
		Help: "Order callbacks currently armed.",
	})

	OperationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sugarrush_operation_errors_total",
		Help: "Rejected or failed operations by operation name.",
	},
		[]string{"operation"},
	)

	NotifyFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sugarrush_notify_failures_total",
		Help: "Notification and archive deliveries that failed.",
	},
		[]string{"kind"},
	)

	StrikesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sugarrush_strikes_total",
		Help: "Strikes applied by resulting effect.",
	},
		[]string{"effect"},
	)

	QuotaRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sugarrush_quota_runs_total",
		Help: "Quota audit runs by outcome (completed, skipped, failed).",
	},
		[]string{"outcome"},
	)

	QuotaRevocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sugarrush_quota_revocations_total",
		Help: "Roles revoked by the quota audit.",
	},
		[]string{"role"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sugarrush_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	},
		[]string{"method", "status"},
	)
)
