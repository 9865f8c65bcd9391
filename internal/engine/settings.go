package engine

import (
	"geoframe/internal/config"
	"geoframe/internal/culling"
	"geoframe/internal/emergency"
	"geoframe/internal/layer"
	"geoframe/internal/monitoring"
)

// CullingSettings converts the culling section.
func CullingSettings(c config.CullingConfig) culling.Settings {
	return culling.Settings{
		Enabled:           c.Enabled,
		Margin:            c.Margin,
		Interval:          c.Interval.D(),
		Adaptive:          c.Adaptive,
		AdaptiveCeiling:   c.AdaptiveCeiling,
		ParallelThreshold: c.ParallelThreshold,
		Workers:           c.Workers,
	}
}

// EmergencySettings converts the emergency section.
func EmergencySettings(c config.EmergencyConfig) emergency.Settings {
	return emergency.Settings{
		Thresholds: emergency.Thresholds{
			ObjectCount: c.Thresholds.ObjectCount,
			MinFPS:      c.Thresholds.MinFPS,
			MaxMemoryMB: c.Thresholds.MaxMemoryMB,
		},
		Crisis: emergency.Optimizations{
			BatchSize:  c.Crisis.BatchSize,
			Throttle:   c.Crisis.Throttle.D(),
			CullMargin: c.Crisis.CullMargin,
			Quality:    layer.ParseQuality(c.Crisis.Quality),
			TargetFPS:  c.Crisis.TargetFPS,
			FrameSkip:  c.Crisis.FrameSkip,
		},
		PollInterval:    c.PollInterval.D(),
		RecoverySamples: c.RecoverySamples,
	}
}

// AlertLimits maps the crisis thresholds onto the monitor's alert bounds.
func AlertLimits(c config.ThresholdsConfig) monitoring.AlertLimits {
	return monitoring.AlertLimits{
		MinFPS:      c.MinFPS,
		MaxMemoryMB: c.MaxMemoryMB,
		MaxObjects:  c.ObjectCount,
	}
}
