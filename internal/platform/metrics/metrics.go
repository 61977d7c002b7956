package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the segmenter.
type Metrics struct {
	registry               *prometheus.Registry
	requestsTotal          prometheus.Counter
	errorsTotal            prometheus.Counter
	segmentsWrittenTotal   prometheus.Counter
	segmentsDeletedTotal   prometheus.Counter
	deletionFailuresTotal  prometheus.Counter
	playlistWritesTotal    prometheus.Counter
	segmentDurationSeconds prometheus.Histogram
	averageBitrate         prometheus.Gauge
	maxBitrate             prometheus.Gauge
	mediaSequence          prometheus.Gauge
	segmentIndex           prometheus.Gauge
	activeJobs             prometheus.Gauge
}

// New creates and registers Prometheus metrics for the segmenter.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		segmentsWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_segments_written_total",
			Help: "Total number of segment files closed",
		}),
		segmentsDeletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_segments_deleted_total",
			Help: "Total number of expired segment files deleted",
		}),
		deletionFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_segment_deletion_failures_total",
			Help: "Total number of expired segment files that could not be deleted",
		}),
		playlistWritesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_playlist_writes_total",
			Help: "Total number of playlist files written",
		}),
		segmentDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hls_segment_duration_seconds",
			Help:    "Duration of closed segments",
			Buckets: []float64{1, 2, 4, 6, 8, 10, 12, 15, 20, 30},
		}),
		averageBitrate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hls_average_bitrate_bits_per_second",
			Help: "Running average of segment bitrates",
		}),
		maxBitrate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hls_max_bitrate_bits_per_second",
			Help: "Highest segment bitrate observed",
		}),
		mediaSequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hls_media_sequence",
			Help: "Index of the oldest advertised segment",
		}),
		segmentIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hls_segment_index",
			Help: "Index of the segment being written",
		}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hls_active_jobs",
			Help: "Number of segmenting jobs that are not ended",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.segmentsWrittenTotal,
		m.segmentsDeletedTotal,
		m.deletionFailuresTotal,
		m.playlistWritesTotal,
		m.segmentDurationSeconds,
		m.averageBitrate,
		m.maxBitrate,
		m.mediaSequence,
		m.segmentIndex,
		m.activeJobs,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// ObserveSegment records a closed segment and its duration in seconds.
func (m *Metrics) ObserveSegment(duration float64) {
	m.segmentsWrittenTotal.Inc()
	m.segmentDurationSeconds.Observe(duration)
}

// AddDeletions records the outcome of expired segment deletions.
func (m *Metrics) AddDeletions(deleted, failed int) {
	m.segmentsDeletedTotal.Add(float64(deleted))
	m.deletionFailuresTotal.Add(float64(failed))
}

// IncPlaylistWrites increments the playlist writes counter.
func (m *Metrics) IncPlaylistWrites() {
	m.playlistWritesTotal.Inc()
}

// SetBitrate sets the average and max bitrate gauges.
func (m *Metrics) SetBitrate(avg, peak float64) {
	m.averageBitrate.Set(avg)
	m.maxBitrate.Set(peak)
}

// SetWindow sets the media sequence and segment index gauges.
func (m *Metrics) SetWindow(sequence, index uint64) {
	m.mediaSequence.Set(float64(sequence))
	m.segmentIndex.Set(float64(index))
}

// SetActiveJobs sets the active jobs gauge.
func (m *Metrics) SetActiveJobs(n int) {
	m.activeJobs.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active jobs).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
