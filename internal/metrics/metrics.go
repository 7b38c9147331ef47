// Package metrics provides the Prometheus collectors for the recognition pipeline.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every pipeline collector. A nil *Metrics is valid and
// records nothing, which keeps call sites free of nil checks.
type Metrics struct {
	FramesTotal        *prometheus.CounterVec
	FacesDetected      prometheus.Counter
	MatchesTotal       *prometheus.CounterVec
	AlertsTotal        *prometheus.CounterVec
	AlertsDropped      prometheus.Counter
	ReconnectsTotal    prometheus.Counter
	DetectDuration     prometheus.Histogram
	EvidenceFailures   *prometheus.CounterVec
	EvidenceQueueDepth prometheus.Gauge
	LoopState          prometheus.Gauge
	GallerySize        prometheus.Gauge
}

// New creates the collectors and registers them with registry.
func New(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{}
	m.init()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register facewatch metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) init() {
	m.FramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facewatch_frames_total",
			Help: "Frames read from the video source, partitioned by outcome.",
		},
		[]string{"outcome"}, // processed, skipped, undecodable, detect_error
	)
	m.FacesDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "facewatch_faces_detected_total",
		Help: "Faces returned by the detector.",
	})
	m.MatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facewatch_matches_total",
			Help: "Match decisions, partitioned by result.",
		},
		[]string{"result"}, // known, unknown
	)
	m.AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facewatch_alerts_total",
			Help: "Alerts recorded in the notification log, partitioned by identity.",
		},
		[]string{"identity"},
	)
	m.AlertsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "facewatch_alerts_dropped_total",
		Help: "Alerts dropped because the evidence queue was full or closed.",
	})
	m.ReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "facewatch_reconnects_total",
		Help: "Video source reconnect attempts.",
	})
	m.DetectDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "facewatch_detect_duration_seconds",
		Help:    "Time spent in face detection per processed frame.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	})
	m.EvidenceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facewatch_evidence_failures_total",
			Help: "Evidence artifacts that could not be produced, partitioned by kind.",
		},
		[]string{"kind"}, // image, audio
	)
	m.EvidenceQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "facewatch_evidence_queue_depth",
		Help: "Alerts waiting for evidence to be written.",
	})
	m.LoopState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "facewatch_loop_state",
		Help: "Recognition loop state (0 connecting, 1 streaming, 2 reconnecting, 3 stopped).",
	})
	m.GallerySize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "facewatch_gallery_entries",
		Help: "Reference embeddings in the gallery.",
	})
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FramesTotal, m.FacesDetected, m.MatchesTotal, m.AlertsTotal, m.AlertsDropped,
		m.ReconnectsTotal, m.DetectDuration, m.EvidenceFailures, m.EvidenceQueueDepth,
		m.LoopState, m.GallerySize,
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

func (m *Metrics) Frame(outcome string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Faces(n int) {
	if m == nil {
		return
	}
	m.FacesDetected.Add(float64(n))
}

func (m *Metrics) Match(known bool) {
	if m == nil {
		return
	}
	if known {
		m.MatchesTotal.WithLabelValues("known").Inc()
	} else {
		m.MatchesTotal.WithLabelValues("unknown").Inc()
	}
}

func (m *Metrics) Alert(identity string) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(identity).Inc()
}

func (m *Metrics) AlertDropped() {
	if m == nil {
		return
	}
	m.AlertsDropped.Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.ReconnectsTotal.Inc()
}

func (m *Metrics) ObserveDetect(seconds float64) {
	if m == nil {
		return
	}
	m.DetectDuration.Observe(seconds)
}

func (m *Metrics) EvidenceFailure(kind string) {
	if m == nil {
		return
	}
	m.EvidenceFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.EvidenceQueueDepth.Set(float64(n))
}

func (m *Metrics) State(s int) {
	if m == nil {
		return
	}
	m.LoopState.Set(float64(s))
}

func (m *Metrics) Gallery(n int) {
	if m == nil {
		return
	}
	m.GallerySize.Set(float64(n))
}
