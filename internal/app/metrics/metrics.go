package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	core "github.com/offerwatch/ingestor/internal/app/core/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	offersProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "offerwatch",
			Subsystem: "ingest",
			Name:      "offers_total",
			Help:      "Total offers processed, by provider and persistence outcome.",
		},
		[]string{"provider", "result"},
	)

	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "offerwatch",
			Subsystem: "ingest",
			Name:      "run_duration_seconds",
			Help:      "Duration of a single ingestion run (one query execution).",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4min
		},
		[]string{"provider", "status"},
	)

	cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "offerwatch",
			Subsystem: "scheduler",
			Name:      "cycles_total",
			Help:      "Total scheduler cycles, by whether the run lock was acquired.",
		},
		[]string{"lock_acquired"},
	)

	runLockAcquired = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "offerwatch",
			Subsystem: "scheduler",
			Name:      "run_lock_acquired",
			Help:      "1 while this process holds the global run lock, 0 otherwise.",
		},
	)

	feedbackApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "offerwatch",
			Subsystem: "feedback",
			Name:      "changes_applied_total",
			Help:      "Total resolution changes applied by the feedback loop, by category.",
		},
		[]string{"category"},
	)

	observationCollectors sync.Map
)

func init() {
	Registry.MustRegister(
		offersProcessed,
		runDuration,
		cycles,
		runLockAcquired,
		feedbackApplied,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
// Nothing in this module mounts it on a listener; the scheduler is headless.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordOffer increments the offer outcome counter for one persisted offer.
func RecordOffer(providerName, result string) {
	if providerName == "" {
		providerName = "unknown"
	}
	offersProcessed.WithLabelValues(providerName, result).Inc()
}

// RecordRun observes the wall-clock duration of a single query execution.
func RecordRun(providerName, status string, duration time.Duration) {
	if providerName == "" {
		providerName = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	runDuration.WithLabelValues(providerName, status).Observe(duration.Seconds())
}

// RecordCycle increments the scheduler cycle counter.
func RecordCycle(lockAcquired bool) {
	cycles.WithLabelValues(boolLabel(lockAcquired)).Inc()
}

// SetRunLockAcquired reflects whether this process currently holds the lock.
func SetRunLockAcquired(held bool) {
	if held {
		runLockAcquired.Set(1)
		return
	}
	runLockAcquired.Set(0)
}

// RecordFeedbackApply increments the feedback-apply counter for one change.
func RecordFeedbackApply(category string) {
	if category == "" {
		category = "unknown"
	}
	feedbackApplied.WithLabelValues(category).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

type observationCollector struct {
	gauge *prometheus.GaugeVec
	hist  *prometheus.HistogramVec
}

// ObservationHooks builds core.ObservationHooks backed by a Prometheus gauge
// (in-flight count) and histogram (duration by outcome), registered once per
// namespace/subsystem/name triple.
func ObservationHooks(namespace, subsystem, name string) core.ObservationHooks {
	key := namespace + ":" + subsystem + ":" + name
	var collector observationCollector
	if entry, ok := observationCollectors.Load(key); ok {
		collector = entry.(observationCollector)
	} else {
		collector = createObservationCollector(namespace, subsystem, name)
		observationCollectors.Store(key, collector)
	}
	return core.ObservationHooks{
		OnStart: func(ctx context.Context, meta map[string]string) {
			collector.gauge.WithLabelValues(metaLabel(meta)).Inc()
		},
		OnComplete: func(ctx context.Context, meta map[string]string, err error, duration time.Duration) {
			label := metaLabel(meta)
			collector.gauge.WithLabelValues(label).Dec()
			status := "success"
			if err != nil {
				status = "error"
			}
			collector.hist.WithLabelValues(label, status).Observe(duration.Seconds())
		},
	}
}

func createObservationCollector(namespace, subsystem, name string) observationCollector {
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name + "_in_flight",
			Help:      "Current operations in flight for " + subsystem,
		},
		[]string{"resource"},
	)
	hist := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name + "_duration_seconds",
			Help:      "Duration of operations for " + subsystem,
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"resource", "status"},
	)
	Registry.MustRegister(gauge, hist)
	return observationCollector{gauge: gauge, hist: hist}
}

func metaLabel(meta map[string]string) string {
	if meta == nil {
		return "unknown"
	}
	if id, ok := meta["company_id"]; ok && id != "" {
		return id
	}
	if id, ok := meta["client"]; ok && id != "" {
		return id
	}
	return "unknown"
}

// AggregationHooks captures per-company aggregation attempts driven through
// the chunked retry-with-backoff in the aggregation service.
func AggregationHooks() core.ObservationHooks {
	return ObservationHooks("offerwatch", "aggregate", "company")
}
