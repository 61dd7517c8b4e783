package outbox

import "github.com/prometheus/client_golang/prometheus"

// Failure reasons recorded on eventsFailed.
const (
	failureUnknownEventType = "unknown_event_type"
	failureWrite            = "write_failed"
)

// Outcomes recorded on dlqEvents.
const (
	dlqRouted         = "routed"
	dlqRequeued       = "requeued"
	dlqRetryScheduled = "retry_scheduled"
	dlqQuarantined    = "quarantined"
)

var (
	eventsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activityboard",
		Subsystem: "outbox",
		Name:      "events_delivered_total",
		Help:      "Activity events published to Kafka, by event type.",
	}, []string{"event_type"})

	eventsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activityboard",
		Subsystem: "outbox",
		Name:      "events_failed_total",
		Help:      "Activity events whose batch could not be delivered, by event type and reason.",
	}, []string{"event_type", "reason"})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "activityboard",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent delivering and settling a claimed outbox batch.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	dlqEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activityboard",
		Subsystem: "dlq",
		Name:      "events_total",
		Help:      "Dead-letter transitions of activity events, by event type and outcome.",
	}, []string{"event_type", "outcome"})

	dlqBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "activityboard",
		Subsystem: "dlq",
		Name:      "backlog",
		Help:      "Dead-letter entries still eligible for replay.",
	})
)

func init() {
	prometheus.MustRegister(eventsDelivered, eventsFailed, batchDuration, dlqEvents, dlqBacklog)
}

// countByEventType tallies messages per event type.
func countByEventType(messages []Message) map[string]float64 {
	counts := make(map[string]float64)
	for _, msg := range messages {
		counts[msg.EventType]++
	}
	return counts
}

func recordDelivered(messages []Message) {
	for eventType, n := range countByEventType(messages) {
		eventsDelivered.WithLabelValues(eventType).Add(n)
	}
}

func recordFailed(messages []Message, reason string) {
	for eventType, n := range countByEventType(messages) {
		eventsFailed.WithLabelValues(eventType, reason).Add(n)
	}
}
