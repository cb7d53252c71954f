package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "audience_rule_evaluation_duration_ms",
		Help:    "Latency of a full rule evaluation pass over the customer store in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	EvaluationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audience_rule_evaluation_errors_total",
		Help: "Total number of rule evaluations aborted by a storage failure.",
	})

	CampaignsLaunched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audience_campaigns_launched_total",
		Help: "Total number of campaign launches, labelled by outcome.",
	}, []string{"outcome"})

	CampaignsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audience_campaigns_completed_total",
		Help: "Total number of campaigns reaching a terminal status, labelled by status.",
	}, []string{"status"})

	DeliveriesEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audience_deliveries_enqueued_total",
		Help: "Total number of delivery tasks placed on the dispatch queue, retries included.",
	})

	DeliveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audience_delivery_attempts_total",
		Help: "Total number of send attempts, labelled by result.",
	}, []string{"result"})

	DeliveriesTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audience_deliveries_terminal_total",
		Help: "Total number of delivery records reaching a terminal state, labelled by state.",
	}, []string{"state"})

	SendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "audience_send_duration_ms",
		Help:    "Latency of a single send attempt in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audience_dispatch_queue_utilization_ratio",
		Help: "Current dispatch queue utilization (0–1).",
	})
)
