// Package observability exposes the Prometheus metrics of the pipeline.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue label values.
const (
	QueueEntries      = "entries"
	QueueTransactions = "transactions"
)

// Metrics groups every collector. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	queueDepth      *prometheus.GaugeVec
	dropped         *prometheus.CounterVec
	flushed         *prometheus.CounterVec
	flushDuration   prometheus.Histogram
	flushFailures   prometheus.Counter
	rollbackBlocks  *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
	filterSkips     prometheus.Counter
	maintenanceRuns *prometheus.CounterVec
	poolRejections  prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "blocklog_queue_depth",
			Help: "Pending items waiting for the next flush",
		}, []string{"queue"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blocklog_dropped_total",
			Help: "Items rejected because the queue was full",
		}, []string{"queue"}),
		flushed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blocklog_flushed_total",
			Help: "Items committed to the event store",
		}, []string{"queue"}),
		flushDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "blocklog_flush_duration_seconds",
			Help:    "Duration of flush transactions",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		flushFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "blocklog_flush_failures_total",
			Help: "Flushes that rolled back and requeued their batch",
		}),
		rollbackBlocks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blocklog_rollback_blocks_total",
			Help: "Rollback candidates by outcome",
		}, []string{"outcome"}),
		queryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blocklog_query_duration_seconds",
			Help:    "Duration of store queries including the forced flush",
			Buckets: prometheus.DefBuckets,
		}, []string{"query"}),
		filterSkips: f.NewCounter(prometheus.CounterOpts{
			Name: "blocklog_location_filter_skips_total",
			Help: "Inspect queries answered by the location filter without the store",
		}),
		maintenanceRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blocklog_maintenance_runs_total",
			Help: "Maintenance tasks by task and result",
		}, []string{"task", "result"}),
		poolRejections: f.NewCounter(prometheus.CounterOpts{
			Name: "blocklog_worker_rejections_total",
			Help: "Jobs rejected because the worker backlog was full",
		}),
	}
}

// SetQueueDepth records the current length of a queue.
func (m *Metrics) SetQueueDepth(queue string, n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(n))
}

// IncDropped counts one rejected item.
func (m *Metrics) IncDropped(queue string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(queue).Inc()
}

// ObserveFlush records a flush attempt.
func (m *Metrics) ObserveFlush(d time.Duration, entries, txns int, err error) {
	if m == nil {
		return
	}
	m.flushDuration.Observe(d.Seconds())
	if err != nil {
		m.flushFailures.Inc()
		return
	}
	m.flushed.WithLabelValues(QueueEntries).Add(float64(entries))
	m.flushed.WithLabelValues(QueueTransactions).Add(float64(txns))
}

// ObserveRollback records the outcome counts of one rollback.
func (m *Metrics) ObserveRollback(affected, skipped int) {
	if m == nil {
		return
	}
	m.rollbackBlocks.WithLabelValues("affected").Add(float64(affected))
	m.rollbackBlocks.WithLabelValues("skipped").Add(float64(skipped))
}

// ObserveQuery records the latency of a named query.
func (m *Metrics) ObserveQuery(query string, d time.Duration) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(query).Observe(d.Seconds())
}

// IncFilterSkip counts an inspect answered by the location filter.
func (m *Metrics) IncFilterSkip() {
	if m == nil {
		return
	}
	m.filterSkips.Inc()
}

// IncMaintenance counts a maintenance task run.
func (m *Metrics) IncMaintenance(task string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.maintenanceRuns.WithLabelValues(task, result).Inc()
}

// IncPoolRejection counts a job the worker pool refused.
func (m *Metrics) IncPoolRejection() {
	if m == nil {
		return
	}
	m.poolRejections.Inc()
}
