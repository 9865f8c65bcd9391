package engine

import (
	"time"

	"geoframe/internal/bus"
	"geoframe/internal/culling"
	"geoframe/internal/emergency"
	"geoframe/internal/feed"
	"geoframe/internal/layer"
	"geoframe/internal/layers"
	"geoframe/internal/monitoring"
	"geoframe/internal/pool"
)

// Snapshot is a point-in-time view of every component.
type Snapshot struct {
	At          time.Time          `json:"at"`
	Steps       uint64             `json:"steps"`
	Agents      int                `json:"agents"`
	Bus         bus.Stats          `json:"bus"`
	Pools       []pool.Stats       `json:"pools"`
	Memory      pool.MemoryUsage   `json:"memory"`
	Cleanups    uint64             `json:"cleanups"`
	Culling     culling.Stats      `json:"culling"`
	Viewport    culling.Viewport   `json:"viewport"`
	Feed        feed.Stats         `json:"feed"`
	Render      layer.ManagerStats `json:"render"`
	Markers     layers.MarkerStats `json:"markers"`
	Emergency   emergency.Status   `json:"emergency"`
	Performance monitoring.Metrics `json:"performance"`
}

// Snapshot collects the stats of every component.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		At:          e.clock.Now(),
		Steps:       e.Steps(),
		Agents:      e.Swarm.Len(),
		Bus:         e.Bus.Stats(),
		Pools:       e.Pools.Stats(),
		Memory:      e.Pools.Usage(),
		Cleanups:    e.Pools.Cleanups(),
		Culling:     e.Culler.Stats(),
		Viewport:    e.Culler.Viewport(),
		Feed:        e.Feeder.Stats(),
		Render:      e.Layers.Stats(),
		Markers:     e.markers.Stats(),
		Emergency:   e.Emergency.Status(),
		Performance: e.Monitor.GetCurrentMetrics(),
	}
}
