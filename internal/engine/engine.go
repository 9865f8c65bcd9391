// Package engine builds the rendering core from a configuration and runs it
// one step at a time. Every component gets its collaborators here; nothing
// reaches for a global.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"geoframe/assets"
	"geoframe/internal/bus"
	"geoframe/internal/clock"
	"geoframe/internal/config"
	"geoframe/internal/culling"
	"geoframe/internal/emergency"
	"geoframe/internal/feed"
	"geoframe/internal/geo"
	"geoframe/internal/geom"
	"geoframe/internal/layer"
	"geoframe/internal/layers"
	"geoframe/internal/logging"
	"geoframe/internal/monitoring"
	"geoframe/internal/pool"
	"geoframe/internal/schedule"
	"geoframe/internal/swarm"
)

// Layer names and paint order.
const (
	TerrainLayer = "terrain"
	MarkerLayer  = "markers"
	DebugLayer   = "debug"
)

// Options supply the host-specific pieces.
type Options struct {
	Clock  clock.Clock
	Logger *zerolog.Logger
	// Surfaces allocates layer surfaces; nil means CPU rasters.
	Surfaces layer.SurfaceFactory
	// FPSSource overrides the frame rate seen by the monitor.
	FPSSource func() float64
	// Metrics overrides what the emergency manager samples.
	Metrics emergency.MetricsSource
	// Memory overrides what the pool monitor samples.
	Memory pool.MemorySource
	// GeoJSON is the map data; nil means the embedded world.
	GeoJSON []byte
	Locator geo.Locator
}

// Engine owns every component of the core.
type Engine struct {
	cfg   config.Config
	clock clock.Clock
	log   zerolog.Logger

	Bus        *bus.Bus
	Loop       *schedule.Loop
	Pools      *pool.Manager
	Culler     *culling.Culler
	Feeder     *feed.Feeder
	Layers     *layer.Manager
	Emergency  *emergency.Manager
	Monitor    *monitoring.PerformanceMonitor
	Swarm      *swarm.Swarm
	Projection geo.Projection
	Data       *geo.Dataset

	readings monitoring.Readings

	terrain *layers.Terrain
	markers *layers.Markers
	debug   *layers.Debug

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	tasks   []schedule.Handle
	started bool
	steps   uint64
	screenW int
	screenH int
}

// New wires a stopped engine.
func New(cfg config.Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clk := clock.OrReal(opts.Clock)
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	e := &Engine{
		cfg:        cfg,
		clock:      clk,
		log:        logging.Component(logger, "engine"),
		Projection: geo.Projection{Zoom: cfg.Map.Zoom},
		screenW:    cfg.Display.ScreenWidth,
		screenH:    cfg.Display.ScreenHeight,
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.Bus = bus.New(bus.Options{HistorySize: cfg.Bus.HistorySize, Clock: clk, Logger: logger, Debug: cfg.Bus.Debug})
	e.Loop = schedule.NewLoop(clk)
	e.Monitor = monitoring.NewPerformanceMonitor(monitoring.Options{Clock: clk, FPSSource: opts.FPSSource})

	var memory pool.MemorySource = e.Monitor
	if opts.Memory != nil {
		memory = opts.Memory
	}
	e.Pools = pool.NewManager(pool.Options{
		Bus:               e.Bus,
		Clock:             clk,
		Logger:            logger,
		Memory:            memory,
		MemoryThresholdMB: cfg.Pools.MemoryThresholdMB,
		CleanupRatio:      cfg.Pools.CleanupRatio,
		Cooldown:          cfg.Pools.Cooldown.D(),
	})
	if err := pool.RegisterDefaults(e.Pools, cfg.Pools.Scale); err != nil {
		return nil, fmt.Errorf("failed to create pools: %w", err)
	}

	e.Culler = culling.New(culling.Options{Settings: CullingSettings(cfg.Culling), Clock: clk, Logger: logger})

	e.Feeder = feed.New(feed.Options{
		Pools:      e.Pools,
		Sink:       e.Culler,
		Projection: e.Projection,
		Locator:    opts.Locator,
		BatchSize:  cfg.Feed.BatchSize,
		Throttle:   cfg.Feed.Throttle.D(),
		MaxQueue:   cfg.Feed.MaxQueue,
		Clock:      clk,
		Logger:     logger,
	})

	data := opts.GeoJSON
	if data == nil {
		data = assets.WorldGeoJSON
	}
	ds, err := geo.LoadGeoJSON(data, e.Projection)
	if err != nil {
		return nil, fmt.Errorf("failed to load map data: %w", err)
	}
	e.Data = ds

	e.Layers = layer.NewManager(layer.ManagerOptions{
		Bus:       e.Bus,
		Frames:    e.Loop,
		Clock:     clk,
		Logger:    logger,
		TargetFPS: cfg.Render.TargetFPS,
	})
	if err := e.buildLayers(opts, logger); err != nil {
		return nil, err
	}
	e.Layers.SetQuality(layer.ParseQuality(cfg.Render.Quality))
	e.Layers.SetFrameSkip(cfg.Render.FrameSkip)

	e.Swarm = swarm.New(swarm.Options{
		World:       e.Projection.World(),
		Feeder:      e.Feeder,
		Updater:     e.Culler,
		Speed:       cfg.Swarm.Speed,
		EffectShare: cfg.Swarm.EffectShare,
		Workers:     cfg.Culling.Workers,
		Seed:        cfg.Swarm.Seed,
	})

	metricsSource := opts.Metrics
	if metricsSource == nil {
		metricsSource = e.Monitor
	}
	e.readings = metricsSource
	e.Emergency = emergency.New(emergency.Options{
		Settings: EmergencySettings(cfg.Emergency),
		Targets: emergency.Targets{
			Objects:  []emergency.ObjectCounter{e.Culler},
			Metrics:  metricsSource,
			Producer: e.Feeder,
			Culling:  e.Culler,
			Render:   e.Layers,
			Cleaner:  e.Pools,
			Timings:  e.Layers,
		},
		Bus:    e.Bus,
		Clock:  clk,
		Logger: logger,
	})

	e.CenterOn(cfg.Map.CenterLat, cfg.Map.CenterLng, cfg.Map.CameraZoom)
	return e, nil
}

func (e *Engine) buildLayers(opts Options, logger *zerolog.Logger) error {
	surfaces := opts.Surfaces
	if surfaces == nil {
		surfaces = layer.RasterSurfaces
	}
	lopts := layer.Options{
		Bus:      e.Bus,
		Surfaces: surfaces,
		Width:    e.cfg.Display.ScreenWidth,
		Height:   e.cfg.Display.ScreenHeight,
		Density:  e.cfg.Display.Density,
		Clock:    e.clock,
		Logger:   logger,
		Strict:   e.cfg.Render.Strict,
	}

	e.terrain = layers.NewTerrain(layers.TerrainOptions{
		Data:       e.Data,
		Projection: e.Projection,
		View:       e.Culler,
		CacheSize:  e.cfg.Map.TileCache,
		Pools:      e.Pools,
		Logger:     logger,
	})
	e.markers = layers.NewMarkers(layers.MarkerOptions{Source: e.Culler, Pools: e.Pools, Logger: logger})
	e.debug = layers.NewDebug(layers.DebugOptions{Lines: e.debugLines, Pools: e.Pools, Clock: e.clock})

	debugOpts := lopts
	debugOpts.Hidden = !e.cfg.Render.Debug
	for _, l := range []*layer.Layer{
		layer.New(TerrainLayer, 0, e.terrain, lopts),
		layer.New(MarkerLayer, 10, e.markers, lopts),
		layer.New(DebugLayer, 100, e.debug, debugOpts),
	} {
		if err := e.Layers.Register(l); err != nil {
			return fmt.Errorf("failed to register layer: %w", err)
		}
	}
	return nil
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() config.Config { return e.cfg }

// Start seeds the map markers, starts the frame loop, the crisis poller,
// the pool monitor and the swarm spawner.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	for _, m := range e.Data.Markers {
		rec := e.Feeder.New()
		rec.ID, rec.Kind = m.ID, m.Kind
		rec.SetXY(m.Position.X, m.Position.Y)
		e.Feeder.Push(rec)
	}

	e.Layers.Start()
	var tasks []schedule.Handle
	if e.cfg.Emergency.Enabled {
		e.Emergency.Start(e.Loop)
		if iv := e.cfg.Emergency.AlertInterval.D(); iv > 0 {
			tasks = append(tasks, e.Loop.Schedule(e.checkAlerts, iv))
		}
	}
	if iv := e.cfg.Pools.MonitorInterval.D(); iv > 0 {
		tasks = append(tasks, e.Loop.Schedule(e.Pools.Sample, iv))
	}
	if e.cfg.Swarm.Agents > 0 && e.cfg.Swarm.SpawnRate > 0 {
		tasks = append(tasks, e.Loop.Schedule(e.spawn, time.Second))
		e.spawn()
	}
	e.mu.Lock()
	e.tasks = tasks
	e.mu.Unlock()
	e.log.Info().
		Int("polygons", len(e.Data.Polygons)).
		Int("markers", len(e.Data.Markers)).
		Msg("engine started")
}

// checkAlerts publishes every breached performance bound on the bus.
func (e *Engine) checkAlerts() {
	limits := AlertLimits(e.cfg.Emergency.Thresholds)
	for _, a := range e.Monitor.CheckPerformanceAlerts(limits, e.readings, e.Culler.Len()) {
		e.log.Debug().Str("type", a.Type).Float64("value", a.Value).Float64("threshold", a.Threshold).Msg("performance alert")
		e.Bus.Emit(a.Event(), a)
	}
}

func (e *Engine) spawn() {
	if n := min(e.cfg.Swarm.SpawnRate, e.cfg.Swarm.Agents-e.Swarm.Len()); n > 0 {
		e.Swarm.Spawn(n)
	}
}

// Step runs one host frame: due timers, the simulation, one feed batch, a
// cull pass if its interval elapsed, then the frame callbacks that render.
func (e *Engine) Step(dt time.Duration) {
	ft := e.Monitor.StartFrame()
	e.Loop.Tick()
	e.Swarm.Step(e.ctx, dt)
	e.Monitor.ProfiledFunction("feed", func() { e.Feeder.Flush() })
	e.Monitor.ProfiledFunction("cull", func() { e.Culler.MaybeCull() })
	e.Loop.RunFrame()
	ft.EndFrame()

	e.mu.Lock()
	e.steps++
	e.mu.Unlock()
}

// Stop cancels every task and destroys the layers. The engine cannot be
// restarted.
func (e *Engine) Stop() {
	e.mu.Lock()
	tasks := e.tasks
	e.tasks = nil
	e.mu.Unlock()

	e.cancel()
	e.Emergency.Stop()
	for _, h := range tasks {
		e.Loop.Cancel(h)
	}
	e.Layers.Shutdown()
	e.log.Info().Msg("engine stopped")
}

// SetViewport moves the culling viewport, given in world pixels.
func (e *Engine) SetViewport(x, y, w, h, zoom float64) {
	e.Culler.UpdateViewport(x, y, w, h, zoom)
	e.Bus.Emit(bus.ViewportChanged, e.Culler.Viewport())
}

// CenterOn centres the viewport on lat/lng at the given camera zoom.
func (e *Engine) CenterOn(lat, lng, zoom float64) {
	if zoom <= 0 {
		zoom = 1
	}
	e.mu.Lock()
	w, h := float64(e.screenW)/zoom, float64(e.screenH)/zoom
	e.mu.Unlock()
	c := e.Projection.Project(lat, lng)
	r := geom.Centered(c.X, c.Y, w, h)
	e.SetViewport(r.Min.X, r.Min.Y, w, h, zoom)
}

// Resize changes the screen size, keeping the viewport centre and zoom.
func (e *Engine) Resize(w, h int, density float64) {
	e.mu.Lock()
	if w == e.screenW && h == e.screenH {
		e.mu.Unlock()
		return
	}
	e.screenW, e.screenH = w, h
	e.mu.Unlock()

	e.Layers.Resize(w, h, density)
	v := e.Culler.Viewport()
	c := v.Rect().Center()
	z := v.Zoom
	if z <= 0 {
		z = 1
	}
	r := geom.Centered(c.X, c.Y, float64(w)/z, float64(h)/z)
	e.SetViewport(r.Min.X, r.Min.Y, r.Width(), r.Height(), z)
}

// Surface returns the named layer's surface, or nil.
func (e *Engine) Surface(name string) layer.Surface {
	if l := e.Layers.Layer(name); l != nil {
		return l.Surface()
	}
	return nil
}

// Steps counts calls to Step.
func (e *Engine) Steps() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.steps
}

func (e *Engine) debugLines() []string {
	perf := e.Monitor.GetCurrentMetrics()
	cull := e.Culler.Stats()
	st := e.Emergency.Status()
	return []string{
		fmt.Sprintf("fps %.1f  mem %.1fMB", perf.FramesPerSecond, perf.MemoryUsageMB),
		fmt.Sprintf("objects %d  visible %d", cull.Total, cull.Visible),
		fmt.Sprintf("margin %.0f  quality %s  skip %d", e.Culler.EffectiveMargin(), e.Layers.Quality(), e.Layers.FrameSkip()),
		fmt.Sprintf("feed pending %d  state %s", e.Feeder.Pending(), st.State),
		fmt.Sprintf("feed %.2fms  cull %.2fms  alerts %d", ms(perf.Profiles["feed"]), ms(perf.Profiles["cull"]), perf.Alerts),
	}
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
