package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pulsarpub/internal/pub"
)

// Registry encapsulates all metrics and provides a clean interface
// for recording metrics without global state
type Registry struct {
	registry *prometheus.Registry

	// Producer metrics
	publishTotal    *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec
	payloadBytes    prometheus.Histogram
	ackTotal        *prometheus.CounterVec
	pendingAcks     prometheus.Gauge
	drainDuration   prometheus.Histogram

	// Receipt store metrics
	receiptOperationTotal    *prometheus.CounterVec
	receiptOperationDuration *prometheus.HistogramVec

	// System health metrics
	systemInfo *prometheus.GaugeVec
	startTime  prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()

	r := &Registry{
		registry: registry,

		// Producer metrics
		publishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsarpub_producer_publish_total",
				Help: "Total number of publish operations",
			},
			[]string{"mode", "status"}, // mode: sync, async; status: success, error
		),

		publishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulsarpub_producer_publish_duration_seconds",
				Help:    "Time spent publishing a message",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),

		payloadBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pulsarpub_producer_payload_bytes",
				Help:    "Size of published message payloads",
				Buckets: prometheus.ExponentialBuckets(64, 4, 8),
			},
		),

		ackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsarpub_producer_ack_total",
				Help: "Total number of resolved acknowledgments",
			},
			[]string{"status"}, // status: success, broker_error, timeout, closed, error
		),

		pendingAcks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pulsarpub_producer_pending_acks",
				Help: "Number of asynchronous sends awaiting acknowledgment",
			},
		),

		drainDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pulsarpub_producer_drain_duration_seconds",
				Help:    "Time spent waiting for pending acknowledgments",
				Buckets: prometheus.DefBuckets,
			},
		),

		// Receipt store metrics
		receiptOperationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsarpub_receipt_store_operation_total",
				Help: "Total number of receipt store operations",
			},
			[]string{"operation", "status"}, // operation: record, get
		),

		receiptOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulsarpub_receipt_store_operation_duration_seconds",
				Help:    "Time spent on receipt store operations",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"operation"},
		),

		// System health metrics
		systemInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pulsarpub_system_info",
				Help: "System information (value is always 1, labels contain info)",
			},
			[]string{"version", "build_time"},
		),

		startTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pulsarpub_start_time_seconds",
				Help: "Unix timestamp when the application started",
			},
		),
	}

	// add default Go metrics (memory, GC, goroutines, etc.)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Register application metrics
	registry.MustRegister(
		r.publishTotal,
		r.publishDuration,
		r.payloadBytes,
		r.ackTotal,
		r.pendingAcks,
		r.drainDuration,
		r.receiptOperationTotal,
		r.receiptOperationDuration,
		r.systemInfo,
		r.startTime,
	)

	// Set start time
	r.startTime.SetToCurrentTime()

	return r
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          r.registry,
	})
}

// Gatherer exposes the underlying registry for scraping in tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// RecordPublish records a send. mode is "sync" or "async".
func (r *Registry) RecordPublish(mode string, payloadBytes int, duration time.Duration, err error) {
	r.publishTotal.WithLabelValues(mode, status(err)).Inc()
	r.publishDuration.WithLabelValues(mode).Observe(duration.Seconds())
	if err == nil {
		r.payloadBytes.Observe(float64(payloadBytes))
	}
}

// RecordAck records how an acknowledgment resolved.
func (r *Registry) RecordAck(err error) {
	var brokerErr *pub.BrokerError

	s := "success"
	switch {
	case err == nil:
	case errors.As(err, &brokerErr):
		s = "broker_error"
	case errors.Is(err, pub.ErrAckTimeout):
		s = "timeout"
	case errors.Is(err, pub.ErrProducerClosed):
		s = "closed"
	default:
		s = "error"
	}

	r.ackTotal.WithLabelValues(s).Inc()
}

// IncPendingAcks counts an asynchronous send awaiting its acknowledgment.
func (r *Registry) IncPendingAcks() {
	r.pendingAcks.Inc()
}

// DecPendingAcks counts a resolved asynchronous acknowledgment.
func (r *Registry) DecPendingAcks() {
	r.pendingAcks.Dec()
}

// RecordDrain records a wait for pending acknowledgments.
func (r *Registry) RecordDrain(duration time.Duration) {
	r.drainDuration.Observe(duration.Seconds())
}

// RecordReceiptOperation records a receipt store operation
func (r *Registry) RecordReceiptOperation(operation string, duration time.Duration, err error) {
	r.receiptOperationTotal.WithLabelValues(operation, status(err)).Inc()
	r.receiptOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetSystemInfo sets system information metrics
func (r *Registry) SetSystemInfo(version, buildTime string) {
	r.systemInfo.WithLabelValues(version, buildTime).Set(1)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
