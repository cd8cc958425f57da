package playbackmodule

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's prometheus collectors. A nil *Metrics is
// safe everywhere so tests can run without a registry.
type Metrics struct {
	JobsStarted     *prometheus.CounterVec
	JobsFinished    *prometheus.CounterVec
	ActiveProcesses prometheus.Gauge
	SegmentWaits    prometheus.Counter
	SegmentTimeouts prometheus.Counter
}

// NewMetrics creates and registers the collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ember_transcode_jobs_started_total",
			Help: "Transcode jobs started, by protocol.",
		}, []string{"protocol"}),
		JobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ember_transcode_jobs_finished_total",
			Help: "Transcode jobs finished, by terminal state.",
		}, []string{"state"}),
		ActiveProcesses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ember_transcode_active_processes",
			Help: "Currently registered transcoder processes.",
		}),
		SegmentWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ember_segment_waits_total",
			Help: "Waits for a segment still being generated.",
		}),
		SegmentTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ember_segment_wait_timeouts_total",
			Help: "Segment waits that timed out.",
		}),
	}
	reg.MustRegister(m.JobsStarted, m.JobsFinished, m.ActiveProcesses, m.SegmentWaits, m.SegmentTimeouts)
	return m
}

func (m *Metrics) jobStarted(protocol string) {
	if m == nil {
		return
	}
	m.JobsStarted.WithLabelValues(protocol).Inc()
	m.ActiveProcesses.Inc()
}

func (m *Metrics) jobFinished(state string) {
	if m == nil {
		return
	}
	m.JobsFinished.WithLabelValues(state).Inc()
	m.ActiveProcesses.Dec()
}

func (m *Metrics) segmentWait() {
	if m == nil {
		return
	}
	m.SegmentWaits.Inc()
}

func (m *Metrics) segmentTimeout() {
	if m == nil {
		return
	}
	m.SegmentTimeouts.Inc()
}
