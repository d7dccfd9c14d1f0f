package observability

import (
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the client and the relay.
type Metrics struct {
	// Session metrics
	SessionsTotal   *prometheus.CounterVec
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram

	// Exchange calls
	ExchangeCallsTotal    *prometheus.CounterVec
	ExchangeCallDuration  *prometheus.HistogramVec
	ChunksUploadedTotal   prometheus.Counter
	BytesTransferredTotal *prometheus.CounterVec

	// Crypto metrics
	CryptoOperationsTotal   *prometheus.CounterVec
	CryptoOperationDuration *prometheus.HistogramVec

	// Relay metrics
	RelayRequestsTotal      *prometheus.CounterVec
	RelayRecordsActive      prometheus.Gauge
	RelayRecordsExpired     prometheus.Counter
	DatabaseOperationsTotal *prometheus.CounterVec

	gatherer       prometheus.Gatherer
	activeSessions int64
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// means the process-wide default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blindsend_sessions_total",
				Help: "Exchange sessions run to completion or failure",
			},
			[]string{"role", "status"},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "blindsend_sessions_active",
				Help: "Currently running exchange sessions",
			},
		),

		SessionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "blindsend_session_duration_seconds",
				Help:    "Exchange session completion time distribution",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
		),

		ExchangeCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blindsend_exchange_calls_total",
				Help: "Exchange service calls by route and HTTP status",
			},
			[]string{"route", "code"},
		),

		ExchangeCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blindsend_exchange_call_duration_seconds",
				Help:    "Exchange service call latency",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"route"},
		),

		ChunksUploadedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "blindsend_chunks_uploaded_total",
				Help: "Ciphertext chunks accepted by the exchange service",
			},
		),

		BytesTransferredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blindsend_bytes_transferred_total",
				Help: "Ciphertext bytes moved to or from the exchange service",
			},
			[]string{"direction"},
		),

		CryptoOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blindsend_crypto_operations_total",
				Help: "Cryptographic operations performed",
			},
			[]string{"operation"},
		),

		CryptoOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blindsend_crypto_operation_duration_seconds",
				Help:    "Crypto operation latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"operation"},
		),

		RelayRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blindsend_relay_requests_total",
				Help: "Requests served by the relay",
			},
			[]string{"route", "code"},
		),

		RelayRecordsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "blindsend_relay_records_active",
				Help: "Exchange records held by the relay",
			},
		),

		RelayRecordsExpired: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "blindsend_relay_records_expired_total",
				Help: "Exchange records removed after their TTL",
			},
		),

		DatabaseOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blindsend_database_operations_total",
				Help: "Record and blob store operation count",
			},
			[]string{"operation", "result"},
		),
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// RecordSessionStart increments active session counters.
func (m *Metrics) RecordSessionStart() {
	atomic.AddInt64(&m.activeSessions, 1)
	m.SessionsActive.Set(float64(atomic.LoadInt64(&m.activeSessions)))
}

// RecordSessionComplete records session completion metrics.
func (m *Metrics) RecordSessionComplete(role string, success bool, durationSeconds float64) {
	atomic.AddInt64(&m.activeSessions, -1)
	m.SessionsActive.Set(float64(atomic.LoadInt64(&m.activeSessions)))

	m.SessionsTotal.WithLabelValues(role, result(success)).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordExchangeCall records one client call. A status of 0 means no
// response was received.
func (m *Metrics) RecordExchangeCall(route string, status int, durationSeconds float64) {
	m.ExchangeCallsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.ExchangeCallDuration.WithLabelValues(route).Observe(durationSeconds)
}

// RecordChunkUploaded updates metrics for an accepted chunk.
func (m *Metrics) RecordChunkUploaded(bytes int) {
	m.ChunksUploadedTotal.Inc()
	m.BytesTransferredTotal.WithLabelValues("uploaded").Add(float64(bytes))
}

// RecordDownload updates metrics for a downloaded blob.
func (m *Metrics) RecordDownload(bytes int) {
	m.BytesTransferredTotal.WithLabelValues("downloaded").Add(float64(bytes))
}

// RecordCryptoOperation records cryptographic operation duration.
func (m *Metrics) RecordCryptoOperation(operation string, durationSeconds float64) {
	m.CryptoOperationsTotal.WithLabelValues(operation).Inc()
	m.CryptoOperationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordRelayRequest counts a request answered by the relay.
func (m *Metrics) RecordRelayRequest(route string, code int) {
	m.RelayRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// RecordDatabaseOperation counts a store operation.
func (m *Metrics) RecordDatabaseOperation(operation string, err error) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, result(err == nil)).Inc()
}

// SetRecordsActive publishes the relay record count.
func (m *Metrics) SetRecordsActive(n int) {
	m.RelayRecordsActive.Set(float64(n))
}

// RecordRecordsExpired counts records removed by TTL cleanup.
func (m *Metrics) RecordRecordsExpired(n int) {
	m.RelayRecordsExpired.Add(float64(n))
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.gatherer != nil {
		return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
