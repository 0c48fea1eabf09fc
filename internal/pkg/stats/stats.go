// Package stats exposes prometheus counters/gauges for the capture and
// replication engines, following the atomic Incr/Decr counter pattern Zeno
// uses in its own stats package.
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulbellamy/ratecounter"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	capturesInFlight   int64
	capturesCompleted  int64
	capturesFailed     int64
	replicationRetries int64
	bytesRecorded      int64

	capturesInFlightGauge  prometheus.Gauge
	capturesCompletedTotal prometheus.Counter
	capturesFailedTotal    prometheus.Counter
	replicationRetryTotal  prometheus.Counter
	bytesRecordedTotal     prometheus.Counter

	// CaptureThroughput counts the bytes recorded over the trailing minute
	// (Rate() is a per-minute total, not a per-second figure), the same
	// ratecounter.RateCounter idiom Zeno uses for URIsPerSecond.
	CaptureThroughput = ratecounter.NewRateCounter(60 * time.Second)
)

// Init registers the prometheus collectors exactly once.
func Init() {
	once.Do(func() {
		capturesInFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "capture_engine",
			Name:      "captures_in_flight",
			Help:      "Number of captures currently executing.",
		})
		capturesCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capture_engine",
			Name:      "captures_completed_total",
			Help:      "Total number of captures that completed successfully.",
		})
		capturesFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capture_engine",
			Name:      "captures_failed_total",
			Help:      "Total number of captures that failed.",
		})
		replicationRetryTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capture_engine",
			Name:      "replication_retries_total",
			Help:      "Total number of replication retries, across all budgets.",
		})
		bytesRecordedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capture_engine",
			Name:      "bytes_recorded_total",
			Help:      "Total bytes recorded into WARC files.",
		})

		prometheus.MustRegister(
			capturesInFlightGauge,
			capturesCompletedTotal,
			capturesFailedTotal,
			replicationRetryTotal,
			bytesRecordedTotal,
		)
	})
}

func CaptureStartedIncr() {
	atomic.AddInt64(&capturesInFlight, 1)
	if capturesInFlightGauge != nil {
		capturesInFlightGauge.Inc()
	}
}

func CaptureStartedDecr() {
	atomic.AddInt64(&capturesInFlight, -1)
	if capturesInFlightGauge != nil {
		capturesInFlightGauge.Dec()
	}
}

func CaptureCompletedIncr() {
	atomic.AddInt64(&capturesCompleted, 1)
	if capturesCompletedTotal != nil {
		capturesCompletedTotal.Inc()
	}
}

func CaptureFailedIncr() {
	atomic.AddInt64(&capturesFailed, 1)
	if capturesFailedTotal != nil {
		capturesFailedTotal.Inc()
	}
}

func ReplicationRetryIncr() {
	atomic.AddInt64(&replicationRetries, 1)
	if replicationRetryTotal != nil {
		replicationRetryTotal.Inc()
	}
}

func BytesRecordedAdd(n int64) {
	atomic.AddInt64(&bytesRecorded, n)
	CaptureThroughput.Incr(n)
	if bytesRecordedTotal != nil {
		bytesRecordedTotal.Add(float64(n))
	}
}

func CapturesInFlight() int64  { return atomic.LoadInt64(&capturesInFlight) }
func CapturesCompleted() int64 { return atomic.LoadInt64(&capturesCompleted) }
func CapturesFailed() int64    { return atomic.LoadInt64(&capturesFailed) }
func BytesRecorded() int64     { return atomic.LoadInt64(&bytesRecorded) }
