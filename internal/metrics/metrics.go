// Package metrics exposes the prometheus collectors of a migration run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "treepump"

// Recorder groups every collector. A nil *Recorder is valid and records nothing.
type Recorder struct {
	Tasks        *prometheus.CounterVec   // labels: step, outcome
	TaskDuration *prometheus.HistogramVec // labels: step
	Escalations  prometheus.Counter
	Logins       *prometheus.CounterVec // labels: mode, result
	BytesCopied  prometheus.Counter

	ActiveRunners prometheus.Gauge
	StrandedKeys  prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		Tasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Tasks executed, by step kind and outcome.",
		}, []string{"step", "outcome"}),
		TaskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Time spent executing one task.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"step"}),
		Escalations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Tasks re-queued under the elevated identity.",
		}),
		Logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Session logins, by identity mode and result.",
		}, []string{"mode", "result"}),
		BytesCopied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_copied_total",
			Help:      "Content bytes written to the destination.",
		}),
		ActiveRunners: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runners",
			Help:      "Runners currently draining a runnable queue.",
		}),
		StrandedKeys: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stranded_keys",
			Help:      "Precondition keys still blocked at the end of the run.",
		}),
	}
}

// ObserveTask records one finished task.
func (r *Recorder) ObserveTask(step, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.Tasks.WithLabelValues(step, outcome).Inc()
	r.TaskDuration.WithLabelValues(step).Observe(d.Seconds())
}

// IncEscalations counts one escalation.
func (r *Recorder) IncEscalations() {
	if r == nil {
		return
	}
	r.Escalations.Inc()
}

// ObserveLogin records one login attempt.
func (r *Recorder) ObserveLogin(mode string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	r.Logins.WithLabelValues(mode, result).Inc()
}

// AddBytes counts transferred content.
func (r *Recorder) AddBytes(n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.BytesCopied.Add(float64(n))
}

// RunnerStarted and RunnerStopped track the number of live runners.
func (r *Recorder) RunnerStarted() {
	if r != nil {
		r.ActiveRunners.Inc()
	}
}

func (r *Recorder) RunnerStopped() {
	if r != nil {
		r.ActiveRunners.Dec()
	}
}

// SetStranded publishes the end-of-run stranded key count.
func (r *Recorder) SetStranded(n int) {
	if r != nil {
		r.StrandedKeys.Set(float64(n))
	}
}
