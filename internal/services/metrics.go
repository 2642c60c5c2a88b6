package services

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var phaseBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 180, 300}

// Metrics are the deploy pipeline's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	deployResults *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	rejections    *prometheus.CounterVec
	queueRunning  prometheus.Gauge
	queuePending  prometheus.Gauge
	appsRemoved   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg, reusing
// collectors that are already registered
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		deployResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spun",
			Subsystem: "deploy",
			Name:      "results_total",
			Help:      "Number of finished deploys by outcome",
		}, []string{"outcome"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "spun",
			Subsystem: "deploy",
			Name:      "phase_duration_seconds",
			Help:      "Time spent in each deploy phase",
			Buckets:   phaseBuckets,
		}, []string{"phase"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spun",
			Subsystem: "deploy",
			Name:      "rejections_total",
			Help:      "Deploy submissions rejected before queueing",
		}, []string{"reason"}),
		queueRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spun",
			Subsystem: "queue",
			Name:      "running",
			Help:      "Deploys currently running",
		}),
		queuePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spun",
			Subsystem: "queue",
			Name:      "pending",
			Help:      "Deploys waiting for a slot",
		}),
		appsRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spun",
			Subsystem: "apps",
			Name:      "removed_total",
			Help:      "Apps torn down by reason",
		}, []string{"reason"}),
	}

	m.deployResults = register(reg, m.deployResults)
	m.phaseDuration = register(reg, m.phaseDuration)
	m.rejections = register(reg, m.rejections)
	m.queueRunning = register(reg, m.queueRunning)
	m.queuePending = register(reg, m.queuePending)
	m.appsRemoved = register(reg, m.appsRemoved)
	return m
}

// register returns the already registered collector when there is one
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

// DeployFinished counts a deploy that reached live or failed
func (m *Metrics) DeployFinished(outcome string) {
	if m == nil {
		return
	}
	m.deployResults.WithLabelValues(outcome).Inc()
}

// ObservePhase records how long a phase took
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// SubmitRejected counts a submission refused before queueing
func (m *Metrics) SubmitRejected(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

// SetQueue publishes the queue occupancy
func (m *Metrics) SetQueue(running, pending int) {
	if m == nil {
		return
	}
	m.queueRunning.Set(float64(running))
	m.queuePending.Set(float64(pending))
}

// AppRemoved counts a teardown
func (m *Metrics) AppRemoved(reason string) {
	if m == nil {
		return
	}
	m.appsRemoved.WithLabelValues(reason).Inc()
}
