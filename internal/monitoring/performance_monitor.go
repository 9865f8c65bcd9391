package monitoring

import (
	"maps"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"geoframe/internal/bus"
	"geoframe/internal/clock"
	"geoframe/internal/metrics"
)

const (
	// memoryRefresh bounds how often runtime.ReadMemStats runs.
	memoryRefresh = 500 * time.Millisecond
	fpsSmoothing  = 0.9
)

// Options configure a PerformanceMonitor.
type Options struct {
	Clock clock.Clock
	// FPSSource overrides the measured frame rate, e.g. ebiten.ActualFPS.
	FPSSource func() float64
	// ReadMemory overrides the heap reading in bytes.
	ReadMemory func() uint64
}

// PerformanceMonitor measures frame pacing and heap usage. It is the metrics
// source read by the emergency manager and the pool memory monitor.
type PerformanceMonitor struct {
	frameCount atomic.Uint64
	frameWork  atomic.Int64 // nanoseconds spent inside the last frame
	alerts     atomic.Uint64

	mutex        sync.RWMutex
	clock        clock.Clock
	fpsSource    func() float64
	readMemory   func() uint64
	lastStart    time.Time
	fps          float64
	avgFrameWork float64
	memoryMB     float64
	peakMemoryMB float64
	memoryRead   time.Time
	profiles     map[string]time.Duration
}

// NewPerformanceMonitor creates a monitor.
func NewPerformanceMonitor(opts Options) *PerformanceMonitor {
	pm := &PerformanceMonitor{
		clock:      clock.OrReal(opts.Clock),
		fpsSource:  opts.FPSSource,
		readMemory: opts.ReadMemory,
		profiles:   make(map[string]time.Duration),
	}
	if pm.readMemory == nil {
		pm.readMemory = heapAlloc
	}
	return pm
}

func heapAlloc() uint64 {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	return memStats.Alloc
}

// FrameTimer measures one frame.
type FrameTimer struct {
	monitor   *PerformanceMonitor
	startTime time.Time
}

// StartFrame begins frame timing and updates the measured frame rate from
// the interval since the previous frame started.
func (pm *PerformanceMonitor) StartFrame() *FrameTimer {
	now := pm.clock.Now()
	pm.mutex.Lock()
	if !pm.lastStart.IsZero() {
		if interval := now.Sub(pm.lastStart); interval > 0 {
			sample := float64(time.Second) / float64(interval)
			if pm.fps == 0 {
				pm.fps = sample
			} else {
				pm.fps = pm.fps*fpsSmoothing + sample*(1-fpsSmoothing)
			}
		}
	}
	pm.lastStart = now
	pm.mutex.Unlock()
	return &FrameTimer{monitor: pm, startTime: now}
}

// EndFrame completes frame timing.
func (ft *FrameTimer) EndFrame() {
	pm := ft.monitor
	work := pm.clock.Now().Sub(ft.startTime)
	pm.frameWork.Store(int64(work))
	count := pm.frameCount.Add(1)

	pm.mutex.Lock()
	pm.avgFrameWork += (float64(work) - pm.avgFrameWork) / float64(count)
	pm.mutex.Unlock()
}

// FPS returns the smoothed frame rate, or 0 while unknown.
func (pm *PerformanceMonitor) FPS() float64 {
	if pm.fpsSource != nil {
		return pm.fpsSource()
	}
	pm.mutex.RLock()
	defer pm.mutex.RUnlock()
	return pm.fps
}

// MemoryMB returns heap allocation in MB, refreshed at most every 500ms.
func (pm *PerformanceMonitor) MemoryMB() float64 {
	now := pm.clock.Now()
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	if pm.memoryRead.IsZero() || now.Sub(pm.memoryRead) >= memoryRefresh {
		pm.memoryMB = float64(pm.readMemory()) / 1024 / 1024
		pm.peakMemoryMB = max(pm.peakMemoryMB, pm.memoryMB)
		pm.memoryRead = now
	}
	return pm.memoryMB
}

// Metrics is a snapshot of the monitor.
type Metrics struct {
	FramesPerSecond float64                  `json:"fps"`
	MemoryUsageMB   float64                  `json:"memory_mb"`
	PeakMemoryMB    float64                  `json:"peak_memory_mb"`
	FrameCount      uint64                   `json:"frame_count"`
	LastFrameWork   time.Duration            `json:"last_frame_work"`
	AvgFrameWork    time.Duration            `json:"avg_frame_work"`
	Alerts          uint64                   `json:"alerts"`
	Profiles        map[string]time.Duration `json:"profiles,omitempty"`
}

// GetCurrentMetrics returns current performance metrics and publishes them
// to the runtime gauges.
func (pm *PerformanceMonitor) GetCurrentMetrics() Metrics {
	fps := pm.FPS()
	mem := pm.MemoryMB()

	pm.mutex.RLock()
	m := Metrics{
		FramesPerSecond: fps,
		MemoryUsageMB:   mem,
		PeakMemoryMB:    pm.peakMemoryMB,
		FrameCount:      pm.frameCount.Load(),
		LastFrameWork:   time.Duration(pm.frameWork.Load()),
		AvgFrameWork:    time.Duration(pm.avgFrameWork),
		Alerts:          pm.alerts.Load(),
		Profiles:        maps.Clone(pm.profiles),
	}
	pm.mutex.RUnlock()

	metrics.RuntimeFPS.Set(fps)
	metrics.RuntimeMemory.Set(mem)
	return m
}

// Readings supply the values alerts are checked against.
type Readings interface {
	FPS() float64
	MemoryMB() float64
}

// AlertLimits bound the readings. Zero disables a check.
type AlertLimits struct {
	MinFPS      float64
	MaxMemoryMB float64
	MaxObjects  int
}

// Alert types.
const (
	AlertLowFPS      = "low_fps"
	AlertHighMemory  = "high_memory"
	AlertHighObjects = "high_objects"
)

// PerformanceAlert represents a performance warning.
type PerformanceAlert struct {
	Type      string    `json:"type"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// Event returns the bus event name the alert is published under.
func (a PerformanceAlert) Event() string {
	switch a.Type {
	case AlertLowFPS:
		return bus.FPSLow
	case AlertHighMemory:
		return bus.MemoryHigh
	default:
		return bus.ObjectsHigh
	}
}

// CheckPerformanceAlerts compares r (the monitor itself when nil) and the
// object count against limits. Unknown readings (0) never alert.
func (pm *PerformanceMonitor) CheckPerformanceAlerts(limits AlertLimits, r Readings, objects int) []PerformanceAlert {
	if r == nil {
		r = pm
	}
	alerts := make([]PerformanceAlert, 0)
	now := pm.clock.Now()

	if fps := r.FPS(); limits.MinFPS > 0 && fps > 0 && fps < limits.MinFPS {
		alerts = append(alerts, PerformanceAlert{Type: AlertLowFPS, Value: fps, Threshold: limits.MinFPS, Timestamp: now})
	}
	if mem := r.MemoryMB(); limits.MaxMemoryMB > 0 && mem > limits.MaxMemoryMB {
		alerts = append(alerts, PerformanceAlert{Type: AlertHighMemory, Value: mem, Threshold: limits.MaxMemoryMB, Timestamp: now})
	}
	if limits.MaxObjects > 0 && objects > limits.MaxObjects {
		alerts = append(alerts, PerformanceAlert{Type: AlertHighObjects, Value: float64(objects), Threshold: float64(limits.MaxObjects), Timestamp: now})
	}
	for _, a := range alerts {
		metrics.PerformanceAlerts.WithLabelValues(a.Type).Inc()
	}
	pm.alerts.Add(uint64(len(alerts)))
	return alerts
}

// ProfiledFunction runs fn and records its duration under name.
func (pm *PerformanceMonitor) ProfiledFunction(name string, fn func()) time.Duration {
	start := pm.clock.Now()
	fn()
	duration := pm.clock.Now().Sub(start)

	pm.mutex.Lock()
	pm.profiles[name] = duration
	pm.mutex.Unlock()
	return duration
}

// Profiles returns a copy of the last duration recorded per name.
func (pm *PerformanceMonitor) Profiles() map[string]time.Duration {
	pm.mutex.RLock()
	defer pm.mutex.RUnlock()
	return maps.Clone(pm.profiles)
}
