// Package game hosts the engine inside an ebiten window: it feeds input to
// the camera, steps the engine once per tick and composites the layer
// canvases onto the screen.
package game

import (
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"geoframe/internal/engine"
	"geoframe/internal/layer"
	"geoframe/internal/logging"
)

// Options configures the host. Zero values pick ebiten's input and the
// monitor's scale factor.
type Options struct {
	Input   Input
	Density float64
	Logger  *zerolog.Logger
}

// Game implements ebiten.Game.
type Game struct {
	eng   *engine.Engine
	cam   *Camera
	input *inputHandler
	log   zerolog.Logger

	fixedDensity float64
	density      float64
	w, h         int
}

// New builds a host for eng. The engine should already be started.
func New(eng *engine.Engine, opts Options) *Game {
	in := opts.Input
	if in == nil {
		in = ebitenInput{}
	}
	cfg := eng.Config()
	g := &Game{
		eng:          eng,
		input:        &inputHandler{in: in},
		log:          logging.Component(opts.Logger, "game"),
		fixedDensity: opts.Density,
		density:      1,
		w:            cfg.Display.ScreenWidth,
		h:            cfg.Display.ScreenHeight,
	}
	g.cam = g.homeCamera()
	return g
}

func (g *Game) homeCamera() *Camera {
	m := g.eng.Config().Map
	return NewCamera(g.eng.Projection.World(), g.eng.Projection.Project(m.CenterLat, m.CenterLng), m.CameraZoom)
}

// Camera exposes the host camera.
func (g *Game) Camera() *Camera { return g.cam }

// Update handles input then advances the engine by one tick.
func (g *Game) Update() error {
	tps := ebiten.TPS()
	if tps <= 0 {
		tps = ebiten.DefaultTPS
	}
	return g.tick(time.Second / time.Duration(tps))
}

func (g *Game) tick(dt time.Duration) error {
	for _, c := range g.input.handle(g.cam, dt.Seconds(), g.w, g.h, g.density) {
		switch c {
		case cmdQuit:
			return ebiten.Termination
		case cmdToggleDebug:
			g.toggleLayer(engine.DebugLayer)
		case cmdToggleCrisis:
			if g.eng.Emergency.InCrisis() {
				g.eng.Emergency.Exit()
			} else {
				g.eng.Emergency.Enter("manual")
			}
		case cmdResetCamera:
			g.cam = g.homeCamera()
		}
	}
	g.syncViewport()
	g.eng.Step(dt)
	return nil
}

func (g *Game) toggleLayer(name string) {
	l := g.eng.Layers.Layer(name)
	if l == nil {
		return
	}
	if l.Visible() {
		g.eng.Layers.Hide(name)
	} else {
		g.eng.Layers.Show(name)
	}
	g.log.Debug().Str("layer", name).Bool("visible", l.Visible()).Msg("layer toggled")
}

// syncViewport pushes the camera view to the engine when it moved.
func (g *Game) syncViewport() {
	v := g.cam.View(g.w, g.h)
	cur := g.eng.Culler.Viewport()
	if cur.X == v.Min.X && cur.Y == v.Min.Y && cur.Width == v.Width() && cur.Height == v.Height() && cur.Zoom == g.cam.Zoom {
		return
	}
	g.eng.SetViewport(v.Min.X, v.Min.Y, v.Width(), v.Height(), g.cam.Zoom)
}

// Draw composites the visible layer canvases in paint order. Layers that
// skipped this frame keep their previous content.
func (g *Game) Draw(screen *ebiten.Image) {
	for _, l := range g.eng.Layers.Layers() {
		if !l.Visible() {
			continue
		}
		c, ok := l.Surface().(*layer.Canvas)
		if !ok || c.Image() == nil {
			continue
		}
		screen.DrawImage(c.Image(), nil)
	}
}

// Layout resizes the engine to the logical window size and returns the
// physical screen size, so canvases are drawn 1:1.
func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	d := g.fixedDensity
	if d <= 0 {
		d = ebiten.Monitor().DeviceScaleFactor()
	}
	if d <= 0 {
		d = 1
	}
	g.w, g.h, g.density = outsideWidth, outsideHeight, d
	g.eng.Resize(outsideWidth, outsideHeight, d)
	g.syncViewport()
	return int(float64(outsideWidth)*d + 0.5), int(float64(outsideHeight)*d + 0.5)
}

// Run opens the window and blocks until it closes.
func Run(eng *engine.Engine, opts Options) error {
	cfg := eng.Config().Display
	ebiten.SetWindowSize(cfg.ScreenWidth, cfg.ScreenHeight)
	ebiten.SetWindowTitle(cfg.WindowTitle)
	if cfg.Resizable {
		ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	}
	g := New(eng, opts)
	g.log.Info().Int("width", cfg.ScreenWidth).Int("height", cfg.ScreenHeight).Msg("opening window")
	if err := ebiten.RunGame(g); err != nil && !eris.Is(err, ebiten.Termination) {
		return eris.Wrap(err, "run game")
	}
	return nil
}
