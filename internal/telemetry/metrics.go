package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EventsRecorded   = prometheus.NewCounter(prometheus.CounterOpts{Name: "trace_events_recorded_total", Help: "Events appended to the trace buffer"})
	EventsDropped    = prometheus.NewCounter(prometheus.CounterOpts{Name: "trace_events_dropped_total", Help: "Events rejected because the trace buffer was at capacity"})
	BufferLength     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "trace_buffer_length", Help: "Records currently held in the trace buffer"})
	Drains           = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "trace_drains_total", Help: "Completed buffer drains by trigger"}, []string{"trigger"})
	DrainRecords     = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "trace_drain_records", Help: "Records rendered per drain", Buckets: prometheus.LinearBuckets(0, 50, 12)})
	DrainDuration    = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "trace_drain_duration_seconds", Help: "Wall time spent draining the buffer", Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8)})
	ArchiveFailures  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "trace_archive_failures_total", Help: "Dumps an archiver failed to store"}, []string{"archiver"})
	DeadlinesMet     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "task_deadlines_met_total", Help: "Jobs that completed within their deadline"}, []string{"task"})
	DeadlinesMissed  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "task_deadlines_missed_total", Help: "Jobs that completed after their deadline"}, []string{"task"})
	ResponseTime     = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "task_response_ms", Help: "Observed job response time in milliseconds", Buckets: prometheus.ExponentialBuckets(1, 2, 14)}, []string{"task"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "api_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EventsRecorded,
			EventsDropped,
			BufferLength,
			Drains,
			DrainRecords,
			DrainDuration,
			ArchiveFailures,
			DeadlinesMet,
			DeadlinesMissed,
			ResponseTime,
			RateLimitRejects,
		)
	})
	return promhttp.Handler()
}
