// Package config loads the runtime configuration from yaml, toml or json.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks a configuration that failed validation.
var ErrInvalid = eris.New("invalid configuration")

// Config holds every tunable value.
type Config struct {
	Display     DisplayConfig     `yaml:"display" toml:"display" json:"display"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging" json:"logging"`
	Bus         BusConfig         `yaml:"bus" toml:"bus" json:"bus"`
	Pools       PoolsConfig       `yaml:"pools" toml:"pools" json:"pools"`
	Culling     CullingConfig     `yaml:"culling" toml:"culling" json:"culling"`
	Feed        FeedConfig        `yaml:"feed" toml:"feed" json:"feed"`
	Render      RenderConfig      `yaml:"render" toml:"render" json:"render"`
	Emergency   EmergencyConfig   `yaml:"emergency" toml:"emergency" json:"emergency"`
	Map         MapConfig         `yaml:"map" toml:"map" json:"map"`
	Swarm       SwarmConfig       `yaml:"swarm" toml:"swarm" json:"swarm"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics" toml:"diagnostics" json:"diagnostics"`
}

type DisplayConfig struct {
	ScreenWidth  int     `yaml:"screen_width" toml:"screen_width" json:"screen_width"`
	ScreenHeight int     `yaml:"screen_height" toml:"screen_height" json:"screen_height"`
	WindowTitle  string  `yaml:"window_title" toml:"window_title" json:"window_title"`
	Resizable    bool    `yaml:"resizable" toml:"resizable" json:"resizable"`
	Density      float64 `yaml:"density" toml:"density" json:"density"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" json:"level"`
	Pretty bool   `yaml:"pretty" toml:"pretty" json:"pretty"`
}

type BusConfig struct {
	HistorySize int  `yaml:"history_size" toml:"history_size" json:"history_size"`
	Debug       bool `yaml:"debug" toml:"debug" json:"debug"`
}

type PoolsConfig struct {
	// Scale multiplies every default pool bound.
	Scale             float64  `yaml:"scale" toml:"scale" json:"scale"`
	MemoryThresholdMB float64  `yaml:"memory_threshold_mb" toml:"memory_threshold_mb" json:"memory_threshold_mb"`
	CleanupRatio      float64  `yaml:"cleanup_ratio" toml:"cleanup_ratio" json:"cleanup_ratio"`
	Cooldown          Duration `yaml:"cooldown" toml:"cooldown" json:"cooldown"`
	MonitorInterval   Duration `yaml:"monitor_interval" toml:"monitor_interval" json:"monitor_interval"`
}

type CullingConfig struct {
	Enabled           bool     `yaml:"enabled" toml:"enabled" json:"enabled"`
	Margin            float64  `yaml:"margin" toml:"margin" json:"margin"`
	Interval          Duration `yaml:"interval" toml:"interval" json:"interval"`
	Adaptive          bool     `yaml:"adaptive" toml:"adaptive" json:"adaptive"`
	AdaptiveCeiling   int      `yaml:"adaptive_ceiling" toml:"adaptive_ceiling" json:"adaptive_ceiling"`
	ParallelThreshold int      `yaml:"parallel_threshold" toml:"parallel_threshold" json:"parallel_threshold"`
	Workers           int      `yaml:"workers" toml:"workers" json:"workers"`
}

type FeedConfig struct {
	BatchSize int      `yaml:"batch_size" toml:"batch_size" json:"batch_size"`
	Throttle  Duration `yaml:"throttle" toml:"throttle" json:"throttle"`
	MaxQueue  int      `yaml:"max_queue" toml:"max_queue" json:"max_queue"`
}

type RenderConfig struct {
	TargetFPS int    `yaml:"target_fps" toml:"target_fps" json:"target_fps"`
	Quality   string `yaml:"quality" toml:"quality" json:"quality"`
	FrameSkip int    `yaml:"frame_skip" toml:"frame_skip" json:"frame_skip"`
	// Strict panics on use of a destroyed layer.
	Strict bool `yaml:"strict" toml:"strict" json:"strict"`
	Debug  bool `yaml:"debug_overlay" toml:"debug_overlay" json:"debug_overlay"`
}

type ThresholdsConfig struct {
	ObjectCount int     `yaml:"object_count" toml:"object_count" json:"object_count"`
	MinFPS      float64 `yaml:"min_fps" toml:"min_fps" json:"min_fps"`
	MaxMemoryMB float64 `yaml:"max_memory_mb" toml:"max_memory_mb" json:"max_memory_mb"`
}

type CrisisConfig struct {
	BatchSize  int      `yaml:"batch_size" toml:"batch_size" json:"batch_size"`
	Throttle   Duration `yaml:"throttle" toml:"throttle" json:"throttle"`
	CullMargin float64  `yaml:"cull_margin" toml:"cull_margin" json:"cull_margin"`
	Quality    string   `yaml:"quality" toml:"quality" json:"quality"`
	TargetFPS  int      `yaml:"target_fps" toml:"target_fps" json:"target_fps"`
	FrameSkip  int      `yaml:"frame_skip" toml:"frame_skip" json:"frame_skip"`
}

type EmergencyConfig struct {
	Enabled         bool             `yaml:"enabled" toml:"enabled" json:"enabled"`
	PollInterval    Duration         `yaml:"poll_interval" toml:"poll_interval" json:"poll_interval"`
	AlertInterval   Duration         `yaml:"alert_interval" toml:"alert_interval" json:"alert_interval"`
	RecoverySamples int              `yaml:"recovery_samples" toml:"recovery_samples" json:"recovery_samples"`
	Thresholds      ThresholdsConfig `yaml:"thresholds" toml:"thresholds" json:"thresholds"`
	Crisis          CrisisConfig     `yaml:"crisis" toml:"crisis" json:"crisis"`
}

type MapConfig struct {
	// Zoom is the projection level of world pixel space.
	Zoom int `yaml:"zoom" toml:"zoom" json:"zoom"`
	// GeoJSON is a data file; empty uses the embedded world outline.
	GeoJSON string `yaml:"geojson" toml:"geojson" json:"geojson"`
	// GeoIPDB is an optional MaxMind database for IP-only records.
	GeoIPDB   string  `yaml:"geoip_db" toml:"geoip_db" json:"geoip_db"`
	CenterLat float64 `yaml:"center_lat" toml:"center_lat" json:"center_lat"`
	CenterLng float64 `yaml:"center_lng" toml:"center_lng" json:"center_lng"`
	// CameraZoom is the initial screen pixels per world pixel.
	CameraZoom float64 `yaml:"camera_zoom" toml:"camera_zoom" json:"camera_zoom"`
	TileCache  int     `yaml:"tile_cache" toml:"tile_cache" json:"tile_cache"`
}

type SwarmConfig struct {
	Agents      int     `yaml:"agents" toml:"agents" json:"agents"`
	SpawnRate   int     `yaml:"spawn_rate" toml:"spawn_rate" json:"spawn_rate"`
	EffectShare float64 `yaml:"effect_share" toml:"effect_share" json:"effect_share"`
	Speed       float64 `yaml:"speed" toml:"speed" json:"speed"`
	Seed        uint64  `yaml:"seed" toml:"seed" json:"seed"`
}

type DiagnosticsConfig struct {
	Enabled         bool     `yaml:"enabled" toml:"enabled" json:"enabled"`
	Addr            string   `yaml:"addr" toml:"addr" json:"addr"`
	AllowedOrigins  []string `yaml:"allowed_origins" toml:"allowed_origins" json:"allowed_origins"`
	// PublishInterval is how often the engine hands a snapshot to the server.
	PublishInterval Duration `yaml:"publish_interval" toml:"publish_interval" json:"publish_interval"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Display: DisplayConfig{ScreenWidth: 1280, ScreenHeight: 720, WindowTitle: "geoframe", Resizable: true, Density: 1},
		Logging: LoggingConfig{Level: "info", Pretty: true},
		Bus:     BusConfig{HistorySize: 100},
		Pools: PoolsConfig{
			Scale:             1,
			MemoryThresholdMB: 500,
			CleanupRatio:      0.8,
			Cooldown:          Duration(time.Minute),
			MonitorInterval:   Duration(5 * time.Second),
		},
		Culling: CullingConfig{
			Enabled:           true,
			Margin:            100,
			Interval:          Duration(100 * time.Millisecond),
			Adaptive:          true,
			AdaptiveCeiling:   1000,
			ParallelThreshold: 2048,
		},
		Feed:   FeedConfig{BatchSize: 200, Throttle: Duration(16 * time.Millisecond), MaxQueue: 10000},
		Render: RenderConfig{TargetFPS: 60, Quality: "high", FrameSkip: 1},
		Emergency: EmergencyConfig{
			Enabled:         true,
			PollInterval:    Duration(2 * time.Second),
			AlertInterval:   Duration(time.Second),
			RecoverySamples: 3,
			Thresholds:      ThresholdsConfig{ObjectCount: 1000, MinFPS: 30, MaxMemoryMB: 200},
			Crisis: CrisisConfig{
				BatchSize:  50,
				Throttle:   Duration(32 * time.Millisecond),
				CullMargin: 25,
				Quality:    "low",
				TargetFPS:  30,
				FrameSkip:  2,
			},
		},
		Map:         MapConfig{Zoom: 3, CenterLat: 20, CenterLng: 0, CameraZoom: 1, TileCache: 256},
		Swarm:       SwarmConfig{Agents: 800, SpawnRate: 50, EffectShare: 0.1, Speed: 40, Seed: 1},
		Diagnostics: DiagnosticsConfig{Addr: "127.0.0.1:8089", PublishInterval: Duration(500 * time.Millisecond)},
	}
}

// Load reads path over the defaults. The decoder is chosen by extension:
// .yaml/.yml, .toml or .json.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("empty config path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := Default()
	if err := Decode(data, Format(path), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad loads the configuration and panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}
	return cfg
}

// Format maps a file name onto "yaml", "toml" or "json" by extension. Unknown
// extensions come back as the bare extension.
func Format(path string) string {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	case ".json":
		return "json"
	default:
		return strings.TrimPrefix(ext, ".")
	}
}

// Decode unmarshals data in the given format into cfg.
func Decode(data []byte, format string, cfg *Config) error {
	switch format {
	case "yaml":
		return yaml.Unmarshal(data, cfg)
	case "toml":
		return toml.Unmarshal(data, cfg)
	case "json":
		return json.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format: %q", format)
	}
}

// Encode writes cfg in the given format.
func (c *Config) Encode(w io.Writer, format string) error {
	var buf bytes.Buffer
	switch format {
	case "yaml", "":
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(c); err != nil {
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}
	case "toml":
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return err
		}
	case "json":
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(c); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported config format: %q", format)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	check := func(ok bool, format string, args ...any) error {
		if ok {
			return nil
		}
		return eris.Wrapf(ErrInvalid, format, args...)
	}
	for _, err := range []error{
		check(c.Display.ScreenWidth > 0 && c.Display.ScreenHeight > 0, "display size %dx%d", c.Display.ScreenWidth, c.Display.ScreenHeight),
		check(c.Bus.HistorySize > 0, "bus.history_size %d", c.Bus.HistorySize),
		check(c.Pools.CleanupRatio > 0 && c.Pools.CleanupRatio <= 1, "pools.cleanup_ratio %v not in (0, 1]", c.Pools.CleanupRatio),
		check(c.Pools.MemoryThresholdMB > 0, "pools.memory_threshold_mb %v", c.Pools.MemoryThresholdMB),
		check(c.Culling.Margin >= 0, "culling.margin %v", c.Culling.Margin),
		check(c.Feed.BatchSize > 0, "feed.batch_size %d", c.Feed.BatchSize),
		check(c.Render.TargetFPS >= 0, "render.target_fps %d", c.Render.TargetFPS),
		check(c.Render.FrameSkip >= 1, "render.frame_skip %d", c.Render.FrameSkip),
		check(c.Emergency.PollInterval > 0, "emergency.poll_interval %v", c.Emergency.PollInterval),
		check(c.Emergency.AlertInterval >= 0, "emergency.alert_interval %v", c.Emergency.AlertInterval),
		check(c.Emergency.RecoverySamples >= 1, "emergency.recovery_samples %d", c.Emergency.RecoverySamples),
		check(c.Emergency.Crisis.FrameSkip >= 1, "emergency.crisis.frame_skip %d", c.Emergency.Crisis.FrameSkip),
		check(c.Map.Zoom >= 0 && c.Map.Zoom <= 12, "map.zoom %d not in [0, 12]", c.Map.Zoom),
		check(c.Map.CameraZoom > 0, "map.camera_zoom %v", c.Map.CameraZoom),
		check(c.Swarm.EffectShare >= 0 && c.Swarm.EffectShare <= 1, "swarm.effect_share %v", c.Swarm.EffectShare),
		check(!c.Diagnostics.Enabled || c.Diagnostics.PublishInterval > 0, "diagnostics.publish_interval %s", c.Diagnostics.PublishInterval),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}
