// Package metrics exposes Prometheus metrics for the counting pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crowdcount/internal/occupancy"
)

const namespace = "crowdcount"

// Metrics holds the service collectors. It implements occupancy.Observer.
type Metrics struct {
	registry *prometheus.Registry

	framesProcessed *prometheus.CounterVec
	framesRejected  *prometheus.CounterVec
	peopleCount     *prometheus.GaugeVec
	processingTime  *prometheus.HistogramVec
	uplinkFailures  prometheus.Counter
	alertsSent      *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := newMetrics(reg)
	m.registry = reg
	return m
}

func newMetrics(registerer prometheus.Registerer) *Metrics {
	framesProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "pipeline", Name: "frames_processed_total",
		Help: "Frames counted, per camera.",
	}, []string{"camera_id"})
	registerer.MustRegister(framesProcessed)

	framesRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "pipeline", Name: "frames_rejected_total",
		Help: "Frames rejected before counting, per camera and reason.",
	}, []string{"camera_id", "reason"})
	registerer.MustRegister(framesRejected)

	peopleCount := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "occupancy", Name: "people",
		Help: "People counted in the most recent frame.",
	}, []string{"camera_id"})
	registerer.MustRegister(peopleCount)

	processingTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "pipeline", Name: "frame_duration_seconds",
		Help:    "Time spent counting one frame.",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"camera_id"})
	registerer.MustRegister(processingTime)

	uplinkFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "uplink", Name: "publish_failures_total",
		Help: "Results that could not be delivered to the collector.",
	})
	registerer.MustRegister(uplinkFailures)

	alertsSent := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "alerts", Name: "sent_total",
		Help: "Capacity alerts sent, per camera.",
	}, []string{"camera_id"})
	registerer.MustRegister(alertsSent)

	return &Metrics{
		framesProcessed: framesProcessed,
		framesRejected:  framesRejected,
		peopleCount:     peopleCount,
		processingTime:  processingTime,
		uplinkFailures:  uplinkFailures,
		alertsSent:      alertsSent,
	}
}

// FrameProcessed implements occupancy.Observer
func (m *Metrics) FrameProcessed(cameraID string, peopleCount int, elapsed time.Duration) {
	m.framesProcessed.WithLabelValues(cameraID).Inc()
	m.peopleCount.WithLabelValues(cameraID).Set(float64(peopleCount))
	m.processingTime.WithLabelValues(cameraID).Observe(elapsed.Seconds())
}

// FrameRejected implements occupancy.Observer
func (m *Metrics) FrameRejected(cameraID string, reason string) {
	m.framesRejected.WithLabelValues(cameraID, reason).Inc()
}

// UplinkFailed records a failed publish to the collector
func (m *Metrics) UplinkFailed() {
	m.uplinkFailures.Inc()
}

// AlertSent records a capacity alert
func (m *Metrics) AlertSent(cameraID string) {
	m.alertsSent.WithLabelValues(cameraID).Inc()
}

// ForgetCamera drops the per-camera series of a removed camera
func (m *Metrics) ForgetCamera(cameraID string) {
	m.framesProcessed.DeleteLabelValues(cameraID)
	m.peopleCount.DeleteLabelValues(cameraID)
	m.processingTime.DeleteLabelValues(cameraID)
	m.alertsSent.DeleteLabelValues(cameraID)
	m.framesRejected.DeletePartialMatch(prometheus.Labels{"camera_id": cameraID})
}

// Registry returns the registry the collectors live in
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var _ occupancy.Observer = (*Metrics)(nil)
