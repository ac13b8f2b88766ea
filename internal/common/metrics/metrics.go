// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_events_received_total",
			Help: "Total number of notification events accepted per source",
		},
		[]string{"event_type", "source"},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_events_rejected_total",
			Help: "Total number of inbound events rejected before fan-out",
		},
		[]string{"source", "error_code"},
	)

	RecordsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_records_created_total",
			Help: "Total number of delivery records created",
		},
		[]string{"event_type", "channel"},
	)

	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_dispatch_total",
			Help: "Total number of channel dispatch attempts by outcome",
		},
		[]string{"channel", "outcome"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_dispatch_duration_seconds",
			Help:    "Duration of a single channel dispatch attempt in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	RetryExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_retry_exhausted_total",
			Help: "Total number of delivery records that ran out of retries",
		},
		[]string{"channel"},
	)

	SweepClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_sweep_claimed_total",
			Help: "Total number of records claimed by the sweeper per pass",
		},
		[]string{"pass"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notification_fanout_queue_depth",
			Help: "Number of events waiting in the fan-out queue",
		},
	)

	FanoutActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notification_fanout_active_events",
			Help: "Number of events currently being fanned out",
		},
	)
)

// Dispatch outcomes
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)
