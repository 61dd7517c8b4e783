// Package observability holds the service-wide Prometheus collectors.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activityPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "activityboard",
		Subsystem: "persistence",
		Name:      "last_activity_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity persisted.",
	})

	moduleLoadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "activityboard",
		Subsystem: "loader",
		Name:      "module_load_duration_seconds",
		Help:      "Time spent fetching and starting activity modules, retries included.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"source", "outcome"})

	moduleLoadFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activityboard",
		Subsystem: "loader",
		Name:      "module_load_failures_total",
		Help:      "Number of module loads that failed after all attempts.",
	}, []string{"source"})

	rowsRendered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "activityboard",
		Subsystem: "render",
		Name:      "rows_rendered_total",
		Help:      "Number of activity rows appended to tables.",
	})

	renderFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activityboard",
		Subsystem: "render",
		Name:      "failures_total",
		Help:      "Number of aborted renders grouped by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(activityPersistGauge, moduleLoadDuration, moduleLoadFailures, rowsRendered, renderFailures)
}

// RecordActivityPersisted updates the persistence watermark gauge.
func RecordActivityPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	activityPersistGauge.Set(float64(ts.Unix()))
}

// RecordModuleLoad observes one Load call.
func RecordModuleLoad(source string, elapsed time.Duration, err error) {
	outcome := "ready"
	if err != nil {
		outcome = "failed"
		moduleLoadFailures.WithLabelValues(source).Inc()
	}
	moduleLoadDuration.WithLabelValues(source, outcome).Observe(elapsed.Seconds())
}

// RecordRender counts appended rows and, when reason is not empty, an aborted render.
func RecordRender(rows int, reason string) {
	if rows > 0 {
		rowsRendered.Add(float64(rows))
	}
	if reason != "" {
		renderFailures.WithLabelValues(reason).Inc()
	}
}
