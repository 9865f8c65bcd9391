package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "geoframe"

var (
	BusEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "events_total",
			Help:      "Events emitted on the bus by name.",
		},
		[]string{"event"},
	)
	BusFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "listener_faults_total",
			Help:      "Listener errors and panics captured during emit.",
		},
		[]string{"event"},
	)

	PoolCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "created_total",
			Help:      "Objects built by a pool factory.",
		},
		[]string{"pool"},
	)
	PoolReused = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "reused_total",
			Help:      "Objects handed out from a pool's idle set.",
		},
		[]string{"pool"},
	)
	PoolDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "discarded_total",
			Help:      "Objects dropped on release because the pool was full.",
		},
		[]string{"pool"},
	)
	PoolCleanups = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "cleanups_total",
			Help:      "Completed memory cleanups.",
		},
	)

	CullTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "culling",
			Name:      "tracked_objects",
			Help:      "Objects registered with the culler.",
		},
	)
	CullVisible = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "culling",
			Name:      "visible_objects",
			Help:      "Objects in the current visible set.",
		},
	)
	CullDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "culling",
			Name:      "pass_duration_seconds",
			Help:      "Duration of a full culling pass.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.02, 0.05},
		},
	)

	LayerRender = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "layer",
			Name:      "render_duration_seconds",
			Help:      "Per-layer render time.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.004, 0.008, 0.016, 0.033},
		},
		[]string{"layer"},
	)
	LayerFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "layer",
			Name:      "render_faults_total",
			Help:      "Recovered panics from layer drawers.",
		},
		[]string{"layer"},
	)
	FramesSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "render",
			Name:      "frames_skipped_total",
			Help:      "Frame callbacks replaced by an empty placeholder.",
		},
	)

	CrisisActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "emergency",
			Name:      "crisis_active",
			Help:      "1 while the emergency manager is in crisis mode.",
		},
	)
	CrisisTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "emergency",
			Name:      "transitions_total",
			Help:      "Crisis transitions by direction.",
		},
		[]string{"direction"},
	)

	RuntimeFPS = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "fps",
			Help:      "Last measured frames per second.",
		},
	)
	RuntimeMemory = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "memory_megabytes",
			Help:      "Last sampled heap allocation in MB.",
		},
	)
	PerformanceAlerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "alerts_total",
			Help:      "Performance alerts raised by type.",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		BusEvents, BusFaults,
		PoolCreated, PoolReused, PoolDiscarded, PoolCleanups,
		CullTracked, CullVisible, CullDuration,
		LayerRender, LayerFaults, FramesSkipped,
		CrisisActive, CrisisTransitions,
		RuntimeFPS, RuntimeMemory, PerformanceAlerts,
	)
}
