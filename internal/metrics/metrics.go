// Package metrics exposes Prometheus instruments for the job queue, the video
// state machine and acquisition. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	jobsTotal    *prometheus.CounterVec
	jobsActive   prometheus.Gauge
	jobDuration  *prometheus.HistogramVec
	transitions  *prometheus.CounterVec
	acquisitions *prometheus.CounterVec
	clipsCut     prometheus.Counter
}

// New registers the instruments on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ezclips",
			Name:      "jobs_total",
			Help:      "Jobs reaching a state, by job name.",
		}, []string{"name", "state"}),
		jobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ezclips",
			Name:      "jobs_active",
			Help:      "Jobs currently executing in this process.",
		}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ezclips",
			Name:      "job_duration_seconds",
			Help:      "Wall time of job handlers.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		}, []string{"name"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ezclips",
			Name:      "video_transitions_total",
			Help:      "Video state machine transitions.",
		}, []string{"from", "to"}),
		acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ezclips",
			Name:      "acquisitions_total",
			Help:      "Source video acquisitions by outcome.",
		}, []string{"outcome"}),
		clipsCut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ezclips",
			Name:      "clips_cut_total",
			Help:      "Clip files produced.",
		}),
	}

	reg.MustRegister(m.jobsTotal, m.jobsActive, m.jobDuration, m.transitions, m.acquisitions, m.clipsCut)
	return m
}

func (m *Metrics) JobState(name, state string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(name, state).Inc()
}

// JobStarted marks a job active and returns the func that ends the measurement.
func (m *Metrics) JobStarted(name string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	m.jobsActive.Inc()
	return func() {
		m.jobsActive.Dec()
		m.jobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) Acquisition(outcome string) {
	if m == nil {
		return
	}
	m.acquisitions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ClipCut() {
	if m == nil {
		return
	}
	m.clipsCut.Inc()
}
