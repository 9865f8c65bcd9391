// Package emergency watches global load signals and sheds rendering work
// while they are out of bounds.
//
// The manager polls object count, frame rate and memory. Any one of them past
// its threshold enters crisis mode. In order it shrinks producer batches,
// then tightens culling, then lowers render fidelity with frame skipping,
// and finally forces a pool cleanup. The settings in force before the first step are
// snapshotted and put back on exit. Exit requires RecoverySamples healthy
// polls in a row.
package emergency

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"geoframe/internal/bus"
	"geoframe/internal/clock"
	"geoframe/internal/layer"
	"geoframe/internal/logging"
	"geoframe/internal/metrics"
	"geoframe/internal/schedule"
)

// State of the manager.
type State int

const (
	StateNormal State = iota
	StateCrisis
)

func (s State) String() string {
	if s == StateCrisis {
		return "crisis"
	}
	return "normal"
}

// Capabilities the manager drives. Every one is optional.
type (
	ObjectCounter interface{ ObjectCount() int }

	// MetricsSource readings of 0 mean unknown and count as healthy.
	MetricsSource interface {
		FPS() float64
		MemoryMB() float64
	}

	ProducerControl interface {
		BatchSize() int
		SetBatchSize(n int)
		Throttle() time.Duration
		SetThrottle(d time.Duration)
	}

	CullingControl interface {
		Margin() float64
		SetMargin(m float64)
		Adaptive() bool
		SetAdaptive(on bool)
	}

	RenderControl interface {
		Quality() layer.Quality
		SetQuality(q layer.Quality)
		TargetFPS() int
		SetTargetFPS(fps int)
		FrameSkip() int
		SetFrameSkip(k int)
	}

	Cleaner interface{ PerformCleanup() bool }

	// RenderTimer reports per-layer mean render times.
	RenderTimer interface {
		RenderAverages() map[string]time.Duration
	}
)

// Thresholds decide when crisis mode starts. Zero disables a check.
type Thresholds struct {
	ObjectCount int
	MinFPS      float64
	MaxMemoryMB float64
}

// Optimizations are applied on entering crisis mode.
type Optimizations struct {
	BatchSize  int
	Throttle   time.Duration
	CullMargin float64
	Quality    layer.Quality
	TargetFPS  int
	FrameSkip  int
}

// Settings configure the manager.
type Settings struct {
	Thresholds      Thresholds
	Crisis          Optimizations
	PollInterval    time.Duration
	RecoverySamples int
}

// DefaultSettings returns the stock thresholds and crisis values.
func DefaultSettings() Settings {
	return Settings{
		Thresholds: Thresholds{ObjectCount: 1000, MinFPS: 30, MaxMemoryMB: 200},
		Crisis: Optimizations{
			BatchSize:  50,
			Throttle:   32 * time.Millisecond,
			CullMargin: 25,
			Quality:    layer.QualityLow,
			TargetFPS:  30,
			FrameSkip:  2,
		},
		PollInterval:    2 * time.Second,
		RecoverySamples: 3,
	}
}

// Targets are the components the manager samples and reconfigures.
type Targets struct {
	Objects  []ObjectCounter
	Metrics  MetricsSource
	Producer ProducerControl
	Culling  CullingControl
	Render   RenderControl
	Cleaner  Cleaner
	Timings  RenderTimer
}

// Options configure a Manager.
type Options struct {
	Settings Settings
	Targets  Targets
	Bus      *bus.Bus
	Clock    clock.Clock
	Logger   *zerolog.Logger
}

// Sample is one poll of the three signals. LayerRender is informational
// and takes no part in the crisis decision.
type Sample struct {
	ObjectCount int                      `json:"object_count"`
	FPS         float64                  `json:"fps"`
	MemoryMB    float64                  `json:"memory_mb"`
	LayerRender map[string]time.Duration `json:"layer_render,omitempty"`
	At          time.Time                `json:"at"`
}

// SlowestLayer returns the layer with the highest mean render time.
func (s Sample) SlowestLayer() (string, time.Duration) {
	var name string
	var worst time.Duration
	for n, d := range s.LayerRender {
		if d > worst || (d == worst && n < name) {
			name, worst = n, d
		}
	}
	return name, worst
}

// CrisisEvent is the payload of both crisis notifications.
type CrisisEvent struct {
	Sample
	Reasons []string `json:"reasons,omitempty"`
}

// Status reports the manager state.
type Status struct {
	State         string    `json:"state"`
	Reasons       []string  `json:"reasons,omitempty"`
	Last          Sample    `json:"last"`
	EnteredAt     time.Time `json:"entered_at,omitempty"`
	Entered       uint64    `json:"entered"`
	Exited        uint64    `json:"exited"`
	HealthyStreak int       `json:"healthy_streak"`
	Polling       bool      `json:"polling"`
}

type snapshot struct {
	batch     int
	throttle  time.Duration
	margin    float64
	adaptive  bool
	quality   layer.Quality
	targetFPS int
	frameSkip int
}

// Manager is the crisis controller.
type Manager struct {
	mu       sync.Mutex
	settings Settings
	targets  Targets
	bus      *bus.Bus
	clock    clock.Clock
	log      zerolog.Logger

	state     State
	reasons   []string
	last      Sample
	enteredAt time.Time
	healthy   int
	saved     snapshot
	entered   uint64
	exited    uint64

	sched  schedule.Scheduler
	handle schedule.Handle
	subs   []*bus.Subscription
}

// New creates a manager in the normal state.
func New(opts Options) *Manager {
	s := opts.Settings
	if s.PollInterval <= 0 {
		s.PollInterval = DefaultSettings().PollInterval
	}
	if s.RecoverySamples <= 0 {
		s.RecoverySamples = 1
	}
	return &Manager{
		settings: s,
		targets:  opts.Targets,
		bus:      opts.Bus,
		clock:    clock.OrReal(opts.Clock),
		log:      logging.Component(opts.Logger, "emergency"),
	}
}

// Start polls on sched every PollInterval. Performance alerts on the bus
// trigger an early check while the state is normal. Calling it twice is a
// no-op.
func (m *Manager) Start(sched schedule.Scheduler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sched != nil {
		return
	}
	m.sched = sched
	m.handle = sched.Schedule(func() { m.Check() }, m.settings.PollInterval)
	if m.bus != nil {
		for _, name := range []string{bus.FPSLow, bus.MemoryHigh, bus.ObjectsHigh} {
			m.subs = append(m.subs, m.bus.On(name, m.onAlert))
		}
	}
}

func (m *Manager) onAlert(any) error {
	if !m.InCrisis() {
		m.Check()
	}
	return nil
}

// Stop ends polling. The current state and settings are left as they are.
func (m *Manager) Stop() {
	m.mu.Lock()
	sched, h := m.sched, m.handle
	subs := m.subs
	m.sched, m.subs = nil, nil
	m.mu.Unlock()
	if sched != nil {
		sched.Cancel(h)
	}
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

func (m *Manager) sample() Sample {
	s := Sample{At: m.clock.Now()}
	for _, c := range m.targets.Objects {
		if c != nil {
			s.ObjectCount += c.ObjectCount()
		}
	}
	if m.targets.Metrics != nil {
		s.FPS = m.targets.Metrics.FPS()
		s.MemoryMB = m.targets.Metrics.MemoryMB()
	}
	if m.targets.Timings != nil {
		s.LayerRender = m.targets.Timings.RenderAverages()
	}
	return s
}

// evaluate returns the breached thresholds; empty means healthy.
func (m *Manager) evaluate(s Sample) []string {
	t := m.settings.Thresholds
	var reasons []string
	if t.ObjectCount > 0 && s.ObjectCount > t.ObjectCount {
		reasons = append(reasons, "objects")
	}
	if t.MinFPS > 0 && s.FPS > 0 && s.FPS < t.MinFPS {
		reasons = append(reasons, "fps")
	}
	if t.MaxMemoryMB > 0 && s.MemoryMB > 0 && s.MemoryMB > t.MaxMemoryMB {
		reasons = append(reasons, "memory")
	}
	return reasons
}

// Check takes one sample and performs a transition if one is due.
func (m *Manager) Check() State {
	s := m.sample()
	reasons := m.evaluate(s)

	m.mu.Lock()
	m.last = s
	switch {
	case m.state == StateNormal && len(reasons) > 0:
		m.mu.Unlock()
		m.enter(s, reasons)
	case m.state == StateCrisis && len(reasons) > 0:
		m.healthy = 0
		m.reasons = reasons
		m.mu.Unlock()
	case m.state == StateCrisis:
		m.healthy++
		done := m.healthy >= m.settings.RecoverySamples
		m.mu.Unlock()
		if done {
			m.exit(s)
		}
	default:
		m.mu.Unlock()
	}
	return m.State()
}

// Enter forces crisis mode, e.g. from an operator command.
func (m *Manager) Enter(reason string) {
	m.enter(m.sample(), []string{reason})
}

// Exit leaves crisis mode immediately.
func (m *Manager) Exit() {
	m.exit(m.sample())
}

func (m *Manager) enter(s Sample, reasons []string) {
	m.mu.Lock()
	if m.state == StateCrisis {
		m.mu.Unlock()
		return
	}
	m.state = StateCrisis
	m.reasons = reasons
	m.enteredAt = s.At
	m.healthy = 0
	m.entered++
	t := m.targets
	opt := m.settings.Crisis

	var saved snapshot
	if t.Producer != nil {
		saved.batch, saved.throttle = t.Producer.BatchSize(), t.Producer.Throttle()
	}
	if t.Culling != nil {
		saved.margin, saved.adaptive = t.Culling.Margin(), t.Culling.Adaptive()
	}
	if t.Render != nil {
		saved.quality, saved.targetFPS, saved.frameSkip = t.Render.Quality(), t.Render.TargetFPS(), t.Render.FrameSkip()
	}
	m.saved = saved
	m.mu.Unlock()

	slowest, slowestAvg := s.SlowestLayer()
	m.log.Warn().
		Str("reasons", strings.Join(reasons, ",")).
		Int("objects", s.ObjectCount).
		Float64("fps", s.FPS).
		Float64("memory_mb", s.MemoryMB).
		Str("slowest_layer", slowest).
		Dur("slowest_render", slowestAvg).
		Msg("entering crisis mode")

	if t.Producer != nil {
		t.Producer.SetBatchSize(capAt(saved.batch, opt.BatchSize))
		t.Producer.SetThrottle(max(saved.throttle, opt.Throttle))
	}
	if t.Culling != nil {
		t.Culling.SetAdaptive(true)
		t.Culling.SetMargin(crisisMargin(saved.margin, opt.CullMargin))
	}
	if t.Render != nil {
		t.Render.SetQuality(opt.Quality)
		t.Render.SetTargetFPS(capAt(saved.targetFPS, opt.TargetFPS))
		t.Render.SetFrameSkip(max(saved.frameSkip, opt.FrameSkip))
	}
	if t.Cleaner != nil {
		t.Cleaner.PerformCleanup()
	}

	metrics.CrisisActive.Set(1)
	metrics.CrisisTransitions.WithLabelValues("entered").Inc()
	if m.bus != nil {
		m.bus.Emit(bus.CrisisEntered, CrisisEvent{Sample: s, Reasons: reasons})
	}
}

// crisisMargin is always below a positive base: the crisis value when it is
// tighter, otherwise half the base.
func crisisMargin(base, crisis float64) float64 {
	if crisis >= 0 && crisis < base {
		return crisis
	}
	return base / 2
}

// capAt lowers cur to limit. A non-positive cur means unlimited.
func capAt(cur, limit int) int {
	if limit <= 0 {
		return cur
	}
	if cur <= 0 || cur > limit {
		return limit
	}
	return cur
}

func (m *Manager) exit(s Sample) {
	m.mu.Lock()
	if m.state != StateCrisis {
		m.mu.Unlock()
		return
	}
	m.state = StateNormal
	m.reasons = nil
	m.healthy = 0
	m.exited++
	saved := m.saved
	since := s.At.Sub(m.enteredAt)
	t := m.targets
	m.mu.Unlock()

	if t.Render != nil {
		t.Render.SetFrameSkip(saved.frameSkip)
		t.Render.SetTargetFPS(saved.targetFPS)
		t.Render.SetQuality(saved.quality)
	}
	if t.Culling != nil {
		t.Culling.SetMargin(saved.margin)
		t.Culling.SetAdaptive(saved.adaptive)
	}
	if t.Producer != nil {
		t.Producer.SetThrottle(saved.throttle)
		t.Producer.SetBatchSize(saved.batch)
	}

	m.log.Info().Dur("duration", since).Msg("leaving crisis mode")
	metrics.CrisisActive.Set(0)
	metrics.CrisisTransitions.WithLabelValues("exited").Inc()
	if m.bus != nil {
		m.bus.Emit(bus.CrisisExited, CrisisEvent{Sample: s})
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// InCrisis reports whether crisis mode is active.
func (m *Manager) InCrisis() bool { return m.State() == StateCrisis }

// Status returns a summary for diagnostics.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		State:         m.state.String(),
		Reasons:       append([]string(nil), m.reasons...),
		Last:          m.last,
		Entered:       m.entered,
		Exited:        m.exited,
		HealthyStreak: m.healthy,
		Polling:       m.sched != nil,
	}
	if m.state == StateCrisis {
		st.EnteredAt = m.enteredAt
	}
	return st
}

// Settings returns the configured settings.
func (m *Manager) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// SetThresholds replaces the thresholds used by later checks.
func (m *Manager) SetThresholds(t Thresholds) {
	m.mu.Lock()
	m.settings.Thresholds = t
	m.mu.Unlock()
}
