// Package metrics registers Prometheus instrumentation for deployment
// outcomes on a private registry, constructed explicitly rather than
// relying on the global default registerer, so the engine stays free
// of package-level state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "deploy_orchestrator"

// Recorder holds the orchestrator's Prometheus instrumentation.
type Recorder struct {
	Registry *prometheus.Registry

	attemptsTotal   *prometheus.CounterVec
	durationSeconds *prometheus.HistogramVec
	activeColor     prometheus.Gauge
	standbyPrewarm  prometheus.Gauge
}

// NewRecorder builds a Recorder on a fresh, private registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		Registry: registry,
		attemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployment_attempts_total",
			Help:      "Count of deployment attempts by mode and outcome.",
		}, []string{"mode", "outcome"}),
		durationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deployment_duration_seconds",
			Help:      "Duration of deployment operations in seconds.",
			Buckets:   []float64{1, 2, 5, 10, 15, 30, 60, 120, 300},
		}, []string{"mode"}),
		activeColor: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deployment_active_color",
			Help:      "0 if the first configured color is active, 1 if the second is.",
		}),
		standbyPrewarm: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "standby_prewarmed",
			Help:      "1 if the standby replica is currently pre-warmed, 0 otherwise.",
		}),
	}
}

// RecordAttempt records the outcome of one completed operation.
func (r *Recorder) RecordAttempt(mode, outcome string, durationSeconds float64) {
	r.attemptsTotal.WithLabelValues(mode, outcome).Inc()
	r.durationSeconds.WithLabelValues(mode).Observe(durationSeconds)
}

// SetActiveColor records which of the two configured colors is active.
// firstColor is the first entry in Config.Colors; isSecond reports
// whether the now-active color is the second entry.
func (r *Recorder) SetActiveColor(isSecond bool) {
	if isSecond {
		r.activeColor.Set(1)
		return
	}
	r.activeColor.Set(0)
}

// SetStandbyPrewarmed records the current pre-warm status.
func (r *Recorder) SetStandbyPrewarmed(prewarmed bool) {
	if prewarmed {
		r.standbyPrewarm.Set(1)
		return
	}
	r.standbyPrewarm.Set(0)
}
