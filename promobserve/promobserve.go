// Package promobserve exports container and lifecycle events as Prometheus
// metrics.
//
//	m := promobserve.New(prometheus.DefaultRegisterer)
//	c := rewire.New(m.Options()...)
//	lc := rewire.NewLifecycle(m.LifecycleOptions()...)
//
// Metric families carry the rewire namespace. All methods are safe for
// concurrent use.
package promobserve

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/danpasecinic/rewire"
)

const namespace = "rewire"

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Metrics holds the collectors fed by the observers.
type Metrics struct {
	// NodesTotal counts finished nodes. Labels: node, state.
	NodesTotal *prometheus.CounterVec

	// NodeDuration measures callback time. Labels: node.
	NodeDuration *prometheus.HistogramVec

	// SolvesTotal counts Solve calls. Labels: status.
	SolvesTotal *prometheus.CounterVec

	SolveDuration prometheus.Histogram

	// SolveWaves records the waves of the last solve.
	SolveWaves prometheus.Gauge

	// TasksActive tracks running lifecycle tasks. Labels: task.
	TasksActive *prometheus.GaugeVec

	// TasksTotal counts exited tasks. Labels: task, status.
	TasksTotal *prometheus.CounterVec

	// HooksTotal counts stop hooks. Labels: group, status.
	HooksTotal *prometheus.CounterVec

	HookDuration *prometheus.HistogramVec
}

// New registers the collectors with reg. A nil reg creates unregistered
// collectors.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		NodesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "outcome_total",
			Help:      "Nodes that reached a terminal state",
		}, []string{"node", "state"}),

		NodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "duration_seconds",
			Help:      "Node callback duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"node"}),

		SolvesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solve",
			Name:      "total",
			Help:      "Solve calls by outcome",
		}, []string{"status"}),

		SolveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solve",
			Name:      "duration_seconds",
			Help:      "Solve duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		SolveWaves: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "solve",
			Name:      "waves",
			Help:      "Waves executed by the last solve",
		}),

		TasksActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "tasks_active",
			Help:      "Lifecycle tasks currently running",
		}, []string{"task"}),

		TasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "tasks_total",
			Help:      "Lifecycle tasks that exited, by outcome",
		}, []string{"task", "status"}),

		HooksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "hooks_total",
			Help:      "Stop hooks run, by outcome",
		}, []string{"group", "status"}),

		HookDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "hook_duration_seconds",
			Help:      "Stop hook duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"group"}),
	}
}

// ObserveNode records a node event. Skipped nodes count but carry no
// duration.
func (m *Metrics) ObserveNode(e rewire.NodeEvent) {
	label := e.Node.Label()
	m.NodesTotal.WithLabelValues(label, e.State.String()).Inc()
	if e.State != rewire.StateSkipped {
		m.NodeDuration.WithLabelValues(label).Observe(e.Duration.Seconds())
	}
}

func (m *Metrics) ObserveSolve(e rewire.SolveEvent) {
	m.SolvesTotal.WithLabelValues(status(e.Err)).Inc()
	m.SolveDuration.Observe(e.Duration.Seconds())
	m.SolveWaves.Set(float64(e.Waves))
}

// ObserveTask records a task start or exit.
func (m *Metrics) ObserveTask(e rewire.TaskEvent) {
	if e.Started {
		m.TasksActive.WithLabelValues(e.Task).Inc()
		return
	}
	m.TasksActive.WithLabelValues(e.Task).Dec()
	m.TasksTotal.WithLabelValues(e.Task, status(e.Err)).Inc()
}

func (m *Metrics) ObserveHook(e rewire.HookEvent) {
	m.HooksTotal.WithLabelValues(e.Group, status(e.Err)).Inc()
	m.HookDuration.WithLabelValues(e.Group).Observe(e.Duration.Seconds())
}

// Options returns the container options installing the observers.
func (m *Metrics) Options() []rewire.Option {
	return []rewire.Option{
		rewire.WithNodeObserver(m.ObserveNode),
		rewire.WithSolveObserver(m.ObserveSolve),
	}
}

// LifecycleOptions returns the lifecycle options installing the observers.
func (m *Metrics) LifecycleOptions() []rewire.LifecycleOption {
	return []rewire.LifecycleOption{
		rewire.WithTaskObserver(m.ObserveTask),
		rewire.WithHookObserver(m.ObserveHook),
	}
}

func status(err error) string {
	if err != nil {
		return statusError
	}
	return statusSuccess
}
