package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects replication counters for Prometheus scraping. All metrics
// are namespaced "tillbridge".
type Metrics struct {
	passes         *prometheus.CounterVec
	recordsSynced  *prometheus.CounterVec
	recordsDeleted *prometheus.CounterVec
	rowFailures    *prometheus.CounterVec
	passDuration   *prometheus.HistogramVec

	backfillRows     prometheus.Gauge
	backfillComplete prometheus.Gauge
}

// New creates and registers the collector set. Pass a private registry in
// tests; nil falls back to the global one.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		passes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tillbridge",
			Name:      "passes_total",
			Help:      "Completed sync passes by entity and outcome",
		}, []string{"entity", "outcome"}),
		recordsSynced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tillbridge",
			Name:      "records_synced_total",
			Help:      "Documents upserted into the target by entity",
		}, []string{"entity"}),
		recordsDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tillbridge",
			Name:      "records_deleted_total",
			Help:      "Documents removed from the target by entity",
		}, []string{"entity"}),
		rowFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tillbridge",
			Name:      "row_failures_total",
			Help:      "Rows rejected by the target inside otherwise successful batches",
		}, []string{"entity"}),
		passDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tillbridge",
			Name:      "pass_duration_seconds",
			Help:      "Wall time of one entity pass",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"entity"}),
		backfillRows: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "tillbridge",
			Name:      "backfill_rows_synced",
			Help:      "Transactions written by the bulk backfill so far",
		}),
		backfillComplete: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "tillbridge",
			Name:      "backfill_complete",
			Help:      "1 once the bulk backfill sentinel is written",
		}),
	}
}

// ObservePass records one finished entity pass.
func (m *Metrics) ObservePass(entity string, success bool, synced, deleted, failed int, elapsed time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.passes.WithLabelValues(entity, outcome).Inc()
	m.recordsSynced.WithLabelValues(entity).Add(float64(synced))
	m.recordsDeleted.WithLabelValues(entity).Add(float64(deleted))
	if failed > 0 {
		m.rowFailures.WithLabelValues(entity).Add(float64(failed))
	}
	m.passDuration.WithLabelValues(entity).Observe(elapsed.Seconds())
}

// ObserveBackfill tracks bulk backfill progress.
func (m *Metrics) ObserveBackfill(rowsSynced int64, complete bool) {
	m.backfillRows.Set(float64(rowsSynced))
	if complete {
		m.backfillComplete.Set(1)
	} else {
		m.backfillComplete.Set(0)
	}
}
