package tracker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	acceptedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "event_service",
		Subsystem: "tracker",
		Name:      "signals_accepted_total",
		Help:      "Number of signals folded into the in-memory counters, per kind.",
	}, []string{"kind"})

	rejectedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "event_service",
		Subsystem: "tracker",
		Name:      "signals_rejected_total",
		Help:      "Number of signals dropped before counting, grouped by reason.",
	}, []string{"reason"})

	flushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "event_service",
		Subsystem: "tracker",
		Name:      "flush_duration_seconds",
		Help:      "Wall time of a persistence flush cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	flushCounters = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "event_service",
		Subsystem: "tracker",
		Name:      "flush_counters",
		Help:      "Number of counter rows written per flush cycle.",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
	})

	flushErrorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "event_service",
		Subsystem: "tracker",
		Name:      "flush_errors_total",
		Help:      "Number of flush cycles that failed and were merged back.",
	})
)

func init() {
	prometheus.MustRegister(acceptedCounter, rejectedCounter, flushDuration, flushCounters, flushErrorCounter)
}

func recordAccepted(kind string) {
	acceptedCounter.WithLabelValues(kind).Inc()
}

func recordRejected(reason string) {
	rejectedCounter.WithLabelValues(reason).Inc()
}

func recordFlush(counters int, d time.Duration) {
	flushDuration.Observe(d.Seconds())
	flushCounters.Observe(float64(counters))
}

func recordFlushError() {
	flushErrorCounter.Inc()
}
