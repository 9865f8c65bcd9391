package layer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"geoframe/internal/bus"
	"geoframe/internal/clock"
	"geoframe/internal/logging"
	"geoframe/internal/metrics"
	"geoframe/internal/schedule"
)

const (
	DefaultTargetFPS = 60
	frameHistory     = 60
)

// Registration is the layer:register / layer:unregister payload.
type Registration struct {
	Name   string `json:"name"`
	ZIndex int    `json:"z_index"`
}

// ManagerOptions configure a Manager.
type ManagerOptions struct {
	Bus       *bus.Bus
	Frames    schedule.FrameScheduler
	Clock     clock.Clock
	Logger    *zerolog.Logger
	TargetFPS int
}

// ManagerStats summarise the render loop.
type ManagerStats struct {
	Layers       []Stats       `json:"layers"`
	FPS          float64       `json:"fps"`
	AverageFrame time.Duration `json:"average_frame"`
	TargetFPS    int           `json:"target_fps"`
	Quality      string        `json:"quality"`
	FrameSkip    int           `json:"frame_skip"`
	Skipped      uint64        `json:"skipped"`
	Throttled    uint64        `json:"throttled"`
	Frames       uint64        `json:"frames"`
	Faults       uint64        `json:"faults"`
	Running      bool          `json:"running"`
	Paused       bool          `json:"paused"`
}

// Manager owns the registered layers and drives their renders from a frame
// scheduler. Layers paint in ascending z; equal z keeps registration order.
type Manager struct {
	mu     sync.Mutex
	byName map[string]*Layer
	order  []*Layer
	seq    uint64

	bus     *bus.Bus
	skipper *schedule.FrameSkipper
	clock   clock.Clock
	log     zerolog.Logger
	subs    []*bus.Subscription

	targetFPS int
	quality   Quality
	running   bool
	paused    bool
	force     bool
	gen       uint64

	lastRender  time.Time
	frameTimes  [frameHistory]time.Duration
	frameIdx    int
	frameFilled int
	fps         float64
	fpsFrames   int
	fpsStart    time.Time
	frames      uint64
	throttled   uint64
	faults      uint64
}

// NewManager creates a manager. Frames may be nil when the host calls
// RenderFrame directly.
func NewManager(opts ManagerOptions) *Manager {
	target := opts.TargetFPS
	if target <= 0 {
		target = DefaultTargetFPS
	}
	m := &Manager{
		byName:    make(map[string]*Layer),
		bus:       opts.Bus,
		clock:     clock.OrReal(opts.Clock),
		log:       logging.Component(opts.Logger, "layers"),
		targetFPS: target,
	}
	if opts.Frames != nil {
		m.skipper = schedule.NewFrameSkipper(opts.Frames)
	}
	m.listen()
	return m
}

func (m *Manager) listen() {
	if m.bus == nil {
		return
	}
	name := func(data any) (string, error) {
		s, ok := data.(string)
		if !ok {
			return "", fmt.Errorf("expected layer name, got %T", data)
		}
		return s, nil
	}
	m.subs = append(m.subs,
		m.bus.On(bus.LayerShow, func(data any) error {
			n, err := name(data)
			if err == nil {
				m.Show(n)
			}
			return err
		}),
		m.bus.On(bus.LayerHide, func(data any) error {
			n, err := name(data)
			if err == nil {
				m.Hide(n)
			}
			return err
		}),
		m.bus.On(bus.RenderPause, func(any) error { m.Pause(); return nil }),
		m.bus.On(bus.RenderResume, func(any) error { m.Resume(); return nil }),
		m.bus.On(bus.RenderRequest, func(any) error {
			m.mu.Lock()
			m.force = true
			m.mu.Unlock()
			return nil
		}),
	)
}

// Register initializes l if needed and adds it to the render order.
func (m *Manager) Register(l *Layer) error {
	m.mu.Lock()
	if _, ok := m.byName[l.Name()]; ok {
		m.mu.Unlock()
		return eris.Wrapf(ErrDuplicate, "layer %q", l.Name())
	}
	m.mu.Unlock()

	if err := l.Init(); err != nil {
		return err
	}

	m.mu.Lock()
	m.seq++
	l.seq = m.seq
	l.SetQuality(m.quality)
	m.byName[l.Name()] = l
	m.order = append(m.order, l)
	m.sortLocked()
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Emit(bus.LayerRegister, Registration{Name: l.Name(), ZIndex: l.ZIndex()})
	}
	m.log.Debug().Str("layer", l.Name()).Int("z", l.ZIndex()).Msg("layer registered")
	return nil
}

func (m *Manager) sortLocked() {
	sort.SliceStable(m.order, func(i, j int) bool {
		zi, zj := m.order[i].ZIndex(), m.order[j].ZIndex()
		if zi != zj {
			return zi < zj
		}
		return m.order[i].seq < m.order[j].seq
	})
}

// Unregister destroys and removes the named layer.
func (m *Manager) Unregister(name string) bool {
	m.mu.Lock()
	l, ok := m.byName[name]
	if !ok {
		m.mu.Unlock()
		m.log.Warn().Str("layer", name).Msg("unregister of unknown layer")
		return false
	}
	delete(m.byName, name)
	for i, o := range m.order {
		if o == l {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	z := l.ZIndex()
	l.Destroy()
	if m.bus != nil {
		m.bus.Emit(bus.LayerUnregister, Registration{Name: name, ZIndex: z})
	}
	return true
}

// Layer returns the named layer or nil.
func (m *Manager) Layer(name string) *Layer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byName[name]
}

// Layers returns the layers in paint order.
func (m *Manager) Layers() []*Layer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Layer(nil), m.order...)
}

// SetZIndex moves a layer in the paint order.
func (m *Manager) SetZIndex(name string, z int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.byName[name]
	if !ok {
		m.log.Warn().Str("layer", name).Msg("unknown layer")
		return false
	}
	l.setZIndex(z)
	m.sortLocked()
	return true
}

func (m *Manager) setVisible(name string, v bool) bool {
	l := m.Layer(name)
	if l == nil {
		m.log.Warn().Str("layer", name).Msg("unknown layer")
		return false
	}
	l.SetVisible(v)
	return true
}

// Show makes the named layer visible. Unknown names are logged and ignored.
func (m *Manager) Show(name string) bool { return m.setVisible(name, true) }

// Hide makes the named layer invisible. Unknown names are logged and ignored.
func (m *Manager) Hide(name string) bool { return m.setVisible(name, false) }

// RenderFrame renders every layer once in paint order. A panicking drawer is
// recovered and logged; the remaining layers still render.
func (m *Manager) RenderFrame(dt time.Duration) {
	start := m.clock.Now()
	for _, l := range m.Layers() {
		m.renderSafe(l, dt)
	}
	elapsed := m.clock.Now().Sub(start)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames++
	m.frameTimes[m.frameIdx] = elapsed
	m.frameIdx = (m.frameIdx + 1) % frameHistory
	m.frameFilled = min(m.frameFilled+1, frameHistory)

	if m.fpsStart.IsZero() {
		m.fpsStart = start
	}
	m.fpsFrames++
	if window := start.Sub(m.fpsStart); window >= time.Second {
		m.fps = float64(m.fpsFrames) / window.Seconds()
		m.fpsFrames = 0
		m.fpsStart = start
	}
}

func (m *Manager) renderSafe(l *Layer, dt time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			m.mu.Lock()
			m.faults++
			m.mu.Unlock()
			metrics.LayerFaults.WithLabelValues(l.Name()).Inc()
			m.log.Error().Str("layer", l.Name()).Interface("panic", r).Msg("layer render failed")
		}
	}()
	l.Render(dt)
}

// Start begins the frame loop on the scheduler given at construction.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.running || m.skipper == nil {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.skipper.RequestFrame(m.frameFunc(gen))
}

func (m *Manager) frameFunc(gen uint64) func() {
	var step func()
	step = func() {
		m.mu.Lock()
		if !m.running || m.gen != gen {
			m.mu.Unlock()
			return
		}
		paused := m.paused
		now := m.clock.Now()
		minGap := time.Second / time.Duration(m.targetFPS)
		due := m.force || m.lastRender.IsZero() || now.Sub(m.lastRender) >= minGap*3/4
		var dt time.Duration
		if due && !paused {
			if !m.lastRender.IsZero() {
				dt = now.Sub(m.lastRender)
			}
			m.lastRender = now
			m.force = false
		} else if !paused {
			m.throttled++
		}
		m.mu.Unlock()

		m.skipper.RequestFrame(step)
		if due && !paused {
			m.RenderFrame(dt)
		}
	}
	return step
}

// Stop ends the frame loop. Pending callbacks become no-ops.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

// Pause keeps the loop alive but renders nothing.
func (m *Manager) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
}

// Resume undoes Pause.
func (m *Manager) Resume() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
}

// TargetFPS returns the render rate cap.
func (m *Manager) TargetFPS() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.targetFPS
}

// SetTargetFPS changes the render rate cap.
func (m *Manager) SetTargetFPS(fps int) {
	if fps <= 0 {
		fps = DefaultTargetFPS
	}
	m.mu.Lock()
	m.targetFPS = fps
	m.mu.Unlock()
}

// Quality returns the fidelity applied to every layer.
func (m *Manager) Quality() Quality {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quality
}

// SetQuality applies q to every registered layer.
func (m *Manager) SetQuality(q Quality) {
	m.mu.Lock()
	m.quality = q
	layers := append([]*Layer(nil), m.order...)
	m.mu.Unlock()
	for _, l := range layers {
		l.SetQuality(q)
	}
}

// FrameSkip returns K, where only every Kth frame does real work.
func (m *Manager) FrameSkip() int {
	if m.skipper == nil {
		return 1
	}
	return m.skipper.Every()
}

// SetFrameSkip sets K. Values below 2 disable skipping.
func (m *Manager) SetFrameSkip(k int) {
	if m.skipper != nil {
		m.skipper.SetEvery(k)
	}
}

// Resize forwards a viewport size change to every layer.
func (m *Manager) Resize(w, h int, density float64) {
	for _, l := range m.Layers() {
		l.Resize(w, h, density)
	}
}

// Stats summarises the loop and every layer.
func (m *Manager) Stats() ManagerStats {
	layers := m.Layers()
	out := ManagerStats{Layers: make([]Stats, len(layers))}
	for i, l := range layers {
		out.Layers[i] = l.Stats()
	}

	m.mu.Lock()
	var total time.Duration
	for i := 0; i < m.frameFilled; i++ {
		total += m.frameTimes[i]
	}
	if m.frameFilled > 0 {
		out.AverageFrame = total / time.Duration(m.frameFilled)
	}
	out.FPS = m.fps
	out.TargetFPS = m.targetFPS
	out.Quality = m.quality.String()
	out.Throttled = m.throttled
	out.Frames = m.frames
	out.Faults = m.faults
	out.Running = m.running
	out.Paused = m.paused
	m.mu.Unlock()

	out.FrameSkip = m.FrameSkip()
	if m.skipper != nil {
		out.Skipped = m.skipper.Skipped()
	}
	return out
}

// RenderAverages maps each layer name to its running mean render time.
func (m *Manager) RenderAverages() map[string]time.Duration {
	layers := m.Layers()
	out := make(map[string]time.Duration, len(layers))
	for _, l := range layers {
		out[l.Name()] = l.AverageRender()
	}
	return out
}

// Shutdown stops the loop, detaches from the bus and destroys every layer.
func (m *Manager) Shutdown() {
	m.Stop()
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	layers := m.order
	m.order = nil
	m.byName = make(map[string]*Layer)
	m.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	for _, l := range layers {
		l.Destroy()
	}
}
