// Package metrics provides Prometheus metrics for the tap
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_sftp_connections_total",
			Help: "Total number of connection attempts",
		},
		[]string{"host", "status"},
	)

	ConnectionRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_sftp_connection_retries_total",
			Help: "Total number of reconnect attempts after transient handshake failures",
		},
		[]string{"host"},
	)

	ConnectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tap_sftp_connection_duration_seconds",
			Help:    "Time taken to establish connections",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host"},
	)

	// Discovery metrics
	FilesDiscovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_sftp_files_discovered_total",
			Help: "Total number of files matched for extraction",
		},
		[]string{"table"},
	)

	// Decryption metrics
	DecryptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_sftp_decryptions_total",
			Help: "Total number of file decryptions",
		},
		[]string{"status"},
	)

	// Data extraction metrics
	RecordsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_sftp_records_extracted_total",
			Help: "Total number of records extracted",
		},
		[]string{"table"},
	)

	BytesExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_sftp_bytes_extracted_total",
			Help: "Total bytes extracted",
		},
		[]string{"table"},
	)

	ExtractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tap_sftp_extraction_duration_seconds",
			Help:    "Time taken to extract a table",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
		},
		[]string{"table"},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_sftp_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type", "table"},
	)
)

// TapMetrics provides a convenient interface for recording tap metrics
type TapMetrics struct {
	host string
}

// NewTapMetrics creates a metrics recorder scoped to one remote host
func NewTapMetrics(host string) *TapMetrics {
	return &TapMetrics{host: host}
}

// RecordConnection records connection metrics
func (m *TapMetrics) RecordConnection(status string, duration time.Duration) {
	ConnectionsTotal.WithLabelValues(m.host, status).Inc()
	ConnectionDuration.WithLabelValues(m.host).Observe(duration.Seconds())
}

// RecordFilesDiscovered records how many files a table matched
func (m *TapMetrics) RecordFilesDiscovered(table string, count int) {
	FilesDiscovered.WithLabelValues(table).Add(float64(count))
}

// RecordExtraction records data extraction metrics
func (m *TapMetrics) RecordExtraction(table string, records int64, bytes int64, duration time.Duration) {
	RecordsExtracted.WithLabelValues(table).Add(float64(records))
	BytesExtracted.WithLabelValues(table).Add(float64(bytes))
	ExtractionDuration.WithLabelValues(table).Observe(duration.Seconds())
}

// RecordError records an error
func (m *TapMetrics) RecordError(errorType string, table string) {
	ErrorsTotal.WithLabelValues(errorType, table).Inc()
}

// Timer is a helper for measuring duration
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
