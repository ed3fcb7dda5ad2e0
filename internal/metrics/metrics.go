package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds every fruploader collector. The serve command exposes it
// on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// UploadsTotal counts finished upload tasks by outcome
	// (succeeded, failed, target_not_found).
	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fruploader_uploads_total",
			Help: "Total number of firmware uploads by outcome.",
		},
		[]string{"outcome"},
	)

	UploadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fruploader_upload_duration_seconds",
			Help:    "Wall time of the external flashing tool.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	// RestoreFailures counts monitor sessions that could not be reopened
	// after an upload.
	RestoreFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fruploader_restore_failures_total",
			Help: "Monitor sessions that failed to resume after an upload.",
		},
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fruploader_monitor_sessions_active",
			Help: "Number of serial monitor sessions holding an open port.",
		},
	)

	SerialBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fruploader_serial_bytes_total",
			Help: "Bytes received across all monitor sessions.",
		},
	)

	DownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fruploader_downloads_total",
			Help: "Firmware release downloads by status (ok, failed, offline).",
		},
		[]string{"status"},
	)
)

func init() {
	Registry.MustRegister(
		UploadsTotal,
		UploadDuration,
		RestoreFailures,
		SessionsActive,
		SerialBytes,
		DownloadsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}
