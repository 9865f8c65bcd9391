package emergency

import (
	"testing"
	"time"

	"geoframe/internal/bus"
	"geoframe/internal/clock"
	"geoframe/internal/culling"
	"geoframe/internal/layer"
	"geoframe/internal/schedule"
)

type fakeMetrics struct{ fps, mem float64 }

func (f *fakeMetrics) FPS() float64      { return f.fps }
func (f *fakeMetrics) MemoryMB() float64 { return f.mem }

type fakeCount int

func (f *fakeCount) ObjectCount() int { return int(*f) }

type fakeProducer struct {
	batch    int
	throttle time.Duration
}

func (p *fakeProducer) BatchSize() int              { return p.batch }
func (p *fakeProducer) SetBatchSize(n int)          { p.batch = n }
func (p *fakeProducer) Throttle() time.Duration     { return p.throttle }
func (p *fakeProducer) SetThrottle(d time.Duration) { p.throttle = d }

type fakeRender struct {
	quality layer.Quality
	fps     int
	skip    int
}

func (r *fakeRender) Quality() layer.Quality     { return r.quality }
func (r *fakeRender) SetQuality(q layer.Quality) { r.quality = q }
func (r *fakeRender) TargetFPS() int             { return r.fps }
func (r *fakeRender) SetTargetFPS(fps int)       { r.fps = fps }
func (r *fakeRender) FrameSkip() int             { return r.skip }
func (r *fakeRender) SetFrameSkip(k int)         { r.skip = k }

type fakeCleaner struct{ calls int }

func (c *fakeCleaner) PerformCleanup() bool { c.calls++; return true }

type fixture struct {
	clk      *clock.Manual
	bus      *bus.Bus
	metrics  *fakeMetrics
	count    *fakeCount
	producer *fakeProducer
	culler   *culling.Culler
	render   *fakeRender
	cleaner  *fakeCleaner
	entered  int
	exited   int
	last     CrisisEvent
}

func newFixture(t *testing.T, recovery int) (*fixture, *Manager) {
	t.Helper()
	f := &fixture{
		clk:      clock.NewManual(time.Time{}),
		metrics:  &fakeMetrics{fps: 60, mem: 50},
		count:    new(fakeCount),
		producer: &fakeProducer{batch: 200, throttle: 16 * time.Millisecond},
		render:   &fakeRender{quality: layer.QualityHigh, fps: 60, skip: 1},
		cleaner:  &fakeCleaner{},
	}
	f.bus = bus.New(bus.Options{Clock: f.clk})
	f.culler = culling.New(culling.Options{Settings: culling.DefaultSettings(), Clock: f.clk})
	f.culler.SetAdaptive(false)
	f.bus.On(bus.CrisisEntered, func(data any) error {
		f.entered++
		f.last = data.(CrisisEvent)
		return nil
	})
	f.bus.On(bus.CrisisExited, func(any) error {
		f.exited++
		return nil
	})

	s := DefaultSettings()
	s.RecoverySamples = recovery
	m := New(Options{
		Settings: s,
		Targets: Targets{
			Objects:  []ObjectCounter{f.count},
			Metrics:  f.metrics,
			Producer: f.producer,
			Culling:  f.culler,
			Render:   f.render,
			Cleaner:  f.cleaner,
		},
		Bus:   f.bus,
		Clock: f.clk,
	})
	return f, m
}

func TestLowFPSEntersCrisis(t *testing.T) {
	f, m := newFixture(t, 1)
	before := f.culler.Margin()

	f.metrics.fps = 20
	if got := m.Check(); got != StateCrisis {
		t.Fatalf("state = %v, want crisis", got)
	}
	if f.entered != 1 {
		t.Fatalf("entered events = %d, want 1", f.entered)
	}
	if after := f.culler.Margin(); after >= before {
		t.Errorf("margin %v did not decrease from %v", after, before)
	}
	if !f.culler.Adaptive() {
		t.Error("culler should be adaptive in crisis")
	}
	if f.producer.batch != 50 || f.producer.throttle != 32*time.Millisecond {
		t.Errorf("producer = %+v", *f.producer)
	}
	if f.render.quality != layer.QualityLow || f.render.fps != 30 || f.render.skip != 2 {
		t.Errorf("render = %+v", *f.render)
	}
	if f.cleaner.calls != 1 {
		t.Errorf("cleanups = %d, want 1", f.cleaner.calls)
	}
	if len(f.last.Reasons) != 1 || f.last.Reasons[0] != "fps" {
		t.Errorf("reasons = %v", f.last.Reasons)
	}

	// Steady crisis is a no-op.
	m.Check()
	m.Check()
	if f.entered != 1 || f.cleaner.calls != 1 {
		t.Errorf("steady crisis re-applied: entered=%d cleanups=%d", f.entered, f.cleaner.calls)
	}
}

func TestRecoveryRestoresSnapshot(t *testing.T) {
	f, m := newFixture(t, 1)
	f.culler.SetMargin(80)
	f.producer.batch = 120
	f.render.skip = 1

	f.metrics.fps = 10
	m.Check()
	f.metrics.fps = 60
	if got := m.Check(); got != StateNormal {
		t.Fatalf("state = %v, want normal", got)
	}
	if f.exited != 1 {
		t.Fatalf("exited events = %d, want 1", f.exited)
	}
	if f.culler.Margin() != 80 || f.culler.Adaptive() {
		t.Errorf("culler margin=%v adaptive=%v", f.culler.Margin(), f.culler.Adaptive())
	}
	if f.producer.batch != 120 || f.producer.throttle != 16*time.Millisecond {
		t.Errorf("producer = %+v", *f.producer)
	}
	if f.render.skip != 1 || f.render.fps != 60 || f.render.quality != layer.QualityHigh {
		t.Errorf("render = %+v", *f.render)
	}
	m.Check()
	if f.exited != 1 {
		t.Errorf("steady normal emitted exit again")
	}
}

func TestHysteresis(t *testing.T) {
	f, m := newFixture(t, 3)
	f.metrics.mem = 500
	m.Check()
	f.metrics.mem = 50

	m.Check()
	m.Check()
	if !m.InCrisis() {
		t.Fatal("left crisis before 3 healthy samples")
	}
	// A bad sample resets the streak.
	*f.count = 5000
	m.Check()
	*f.count = 10
	m.Check()
	m.Check()
	if !m.InCrisis() {
		t.Fatal("streak was not reset")
	}
	if st := m.Status(); st.HealthyStreak != 2 {
		t.Errorf("streak = %d, want 2", st.HealthyStreak)
	}
	m.Check()
	if m.InCrisis() {
		t.Fatal("still in crisis after 3 healthy samples")
	}
	if f.entered != 1 || f.exited != 1 {
		t.Errorf("entered=%d exited=%d", f.entered, f.exited)
	}
}

func TestUnknownMetricsAreHealthy(t *testing.T) {
	f, m := newFixture(t, 1)
	f.metrics.fps = 0
	f.metrics.mem = 0
	if m.Check() != StateNormal {
		t.Error("zero readings should count as healthy")
	}
}

func TestNilTargets(t *testing.T) {
	m := New(Options{Settings: DefaultSettings()})
	m.Enter("manual")
	if !m.InCrisis() {
		t.Fatal("Enter did not switch state")
	}
	m.Exit()
	if m.InCrisis() {
		t.Fatal("Exit did not switch state")
	}
}

func TestUnlimitedTargetFPSIsCapped(t *testing.T) {
	f, m := newFixture(t, 1)
	f.render.fps = 0
	m.Enter("manual")
	if f.render.fps != 30 {
		t.Errorf("target fps = %d, want 30", f.render.fps)
	}
	m.Exit()
	if f.render.fps != 0 {
		t.Errorf("target fps = %d, want 0 restored", f.render.fps)
	}
}

func TestPolling(t *testing.T) {
	f, m := newFixture(t, 1)
	loop := schedule.NewLoop(f.clk)
	m.Start(loop)
	m.Start(loop)
	if tasks, _ := loop.Pending(); tasks != 1 {
		t.Fatalf("pending tasks = %d, want 1", tasks)
	}

	*f.count = 2000
	f.clk.Advance(time.Second)
	loop.Tick()
	if m.InCrisis() {
		t.Fatal("polled before the interval elapsed")
	}
	f.clk.Advance(time.Second)
	loop.Tick()
	if !m.InCrisis() {
		t.Fatal("poll did not detect object overload")
	}
	if st := m.Status(); !st.Polling || st.Last.ObjectCount != 2000 {
		t.Errorf("status = %+v", st)
	}

	m.Stop()
	if tasks, _ := loop.Pending(); tasks != 0 {
		t.Errorf("pending tasks after Stop = %d", tasks)
	}
}

func TestCrisisTightensSmallBaseMargin(t *testing.T) {
	f, m := newFixture(t, 1)
	f.culler.SetMargin(20)
	before := f.culler.EffectiveMargin()

	f.metrics.fps = 10
	m.Check()
	if got := f.culler.EffectiveMargin(); got >= before {
		t.Fatalf("effective margin %v, want below %v", got, before)
	}
	if got := f.culler.Margin(); got != 10 {
		t.Errorf("margin = %v, want half of 20", got)
	}

	f.metrics.fps = 60
	m.Check()
	if got := f.culler.Margin(); got != 20 {
		t.Errorf("margin after exit = %v, want 20", got)
	}
}

func TestCrisisMargin(t *testing.T) {
	cases := []struct {
		base, crisis, want float64
	}{
		{100, 25, 25},
		{25, 25, 12.5},
		{20, 25, 10},
		{0, 25, 0},
		{40, 0, 0},
	}
	for _, c := range cases {
		if got := crisisMargin(c.base, c.crisis); got != c.want {
			t.Errorf("crisisMargin(%v, %v) = %v, want %v", c.base, c.crisis, got, c.want)
		}
	}
}

// callLog records every reconfiguration call in the order it happened.
type callLog []string

func (c *callLog) add(s string) { *c = append(*c, s) }

type loggedProducer struct{ log *callLog }

func (p loggedProducer) BatchSize() int            { return 200 }
func (p loggedProducer) SetBatchSize(int)          { p.log.add("producer.batch") }
func (p loggedProducer) Throttle() time.Duration   { return 16 * time.Millisecond }
func (p loggedProducer) SetThrottle(time.Duration) { p.log.add("producer.throttle") }

type loggedCulling struct{ log *callLog }

func (c loggedCulling) Margin() float64   { return 100 }
func (c loggedCulling) SetMargin(float64) { c.log.add("culling.margin") }
func (c loggedCulling) Adaptive() bool    { return false }
func (c loggedCulling) SetAdaptive(bool)  { c.log.add("culling.adaptive") }

type loggedRender struct{ log *callLog }

func (r loggedRender) Quality() layer.Quality   { return layer.QualityHigh }
func (r loggedRender) SetQuality(layer.Quality) { r.log.add("render.quality") }
func (r loggedRender) TargetFPS() int           { return 60 }
func (r loggedRender) SetTargetFPS(int)         { r.log.add("render.fps") }
func (r loggedRender) FrameSkip() int           { return 1 }
func (r loggedRender) SetFrameSkip(int)         { r.log.add("render.skip") }

type loggedCleaner struct{ log *callLog }

func (c loggedCleaner) PerformCleanup() bool { c.log.add("cleanup"); return true }

func TestCrisisStepOrder(t *testing.T) {
	calls := &callLog{}
	b := bus.New(bus.Options{})
	b.On(bus.CrisisEntered, func(any) error { calls.add("event.entered"); return nil })
	b.On(bus.CrisisExited, func(any) error { calls.add("event.exited"); return nil })
	m := New(Options{
		Settings: DefaultSettings(),
		Targets: Targets{
			Producer: loggedProducer{calls},
			Culling:  loggedCulling{calls},
			Render:   loggedRender{calls},
			Cleaner:  loggedCleaner{calls},
		},
		Bus: b,
	})

	m.Enter("manual")
	wantEnter := []string{
		"producer.batch", "producer.throttle",
		"culling.adaptive", "culling.margin",
		"render.quality", "render.fps", "render.skip",
		"cleanup",
		"event.entered",
	}
	assertCalls(t, "enter", *calls, wantEnter)

	*calls = nil
	m.Exit()
	wantExit := []string{
		"render.skip", "render.fps", "render.quality",
		"culling.margin", "culling.adaptive",
		"producer.throttle", "producer.batch",
		"event.exited",
	}
	assertCalls(t, "exit", *calls, wantExit)
}

func assertCalls(t *testing.T, phase string, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s calls = %v, want %v", phase, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s call %d = %q, want %q (all: %v)", phase, i, got[i], want[i], got)
		}
	}
}

type fakeTimings map[string]time.Duration

func (f fakeTimings) RenderAverages() map[string]time.Duration { return f }

func TestSampleCarriesLayerRenderTimes(t *testing.T) {
	f, _ := newFixture(t, 1)
	m := New(Options{
		Settings: DefaultSettings(),
		Targets: Targets{
			Metrics: f.metrics,
			Timings: fakeTimings{"terrain": 4 * time.Millisecond, "markers": 9 * time.Millisecond},
		},
		Clock: f.clk,
	})
	m.Check()
	last := m.Status().Last
	if last.LayerRender["markers"] != 9*time.Millisecond {
		t.Errorf("layer render = %v", last.LayerRender)
	}
	if name, d := last.SlowestLayer(); name != "markers" || d != 9*time.Millisecond {
		t.Errorf("slowest = %s %v", name, d)
	}
	if m.InCrisis() {
		t.Error("render times alone must not trigger crisis")
	}
}

func TestAlertTriggersEarlyCheck(t *testing.T) {
	f, m := newFixture(t, 1)
	loop := schedule.NewLoop(f.clk)
	m.Start(loop)

	f.metrics.fps = 15
	f.bus.Emit(bus.FPSLow, nil)
	if !m.InCrisis() || f.entered != 1 {
		t.Fatalf("alert did not trigger a check: crisis=%v entered=%d", m.InCrisis(), f.entered)
	}
	f.bus.Emit(bus.FPSLow, nil)
	if st := m.Status(); st.HealthyStreak != 0 || f.entered != 1 {
		t.Errorf("alert during crisis changed state: %+v", st)
	}

	m.Exit()
	m.Stop()
	f.bus.Emit(bus.FPSLow, nil)
	if m.InCrisis() {
		t.Error("alert handled after Stop")
	}
}
