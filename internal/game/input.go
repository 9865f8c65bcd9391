package game

import (
	"math"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"geoframe/internal/geom"
)

const (
	panSpeed  = 480.0 // screen px per second
	wheelStep = 1.15
	keyZoom   = 1.5
)

// Input is the slice of ebiten's input state the host reads each tick.
type Input interface {
	Pressed(k ebiten.Key) bool
	JustPressed(k ebiten.Key) bool
	MouseDown(b ebiten.MouseButton) bool
	Cursor() (x, y int)
	Wheel() (dx, dy float64)
}

type ebitenInput struct{}

func (ebitenInput) Pressed(k ebiten.Key) bool           { return ebiten.IsKeyPressed(k) }
func (ebitenInput) JustPressed(k ebiten.Key) bool       { return inpututil.IsKeyJustPressed(k) }
func (ebitenInput) MouseDown(b ebiten.MouseButton) bool { return ebiten.IsMouseButtonPressed(b) }
func (ebitenInput) Cursor() (int, int)                  { return ebiten.CursorPosition() }
func (ebitenInput) Wheel() (float64, float64)           { return ebiten.Wheel() }

// command is a one-shot action triggered by a key press.
type command int

const (
	cmdQuit command = iota + 1
	cmdToggleDebug
	cmdToggleCrisis
	cmdResetCamera
)

var bindings = []struct {
	key ebiten.Key
	cmd command
}{
	{ebiten.KeyEscape, cmdQuit},
	{ebiten.KeyF3, cmdToggleDebug},
	{ebiten.KeyF9, cmdToggleCrisis},
	{ebiten.KeyHome, cmdResetCamera},
}

type inputHandler struct {
	in       Input
	dragging bool
	dragFrom geom.Point
}

// handle applies one tick of input to the camera and returns the commands
// pressed this tick. Cursor coordinates are divided by density to get
// logical pixels.
func (h *inputHandler) handle(cam *Camera, dt float64, screenW, screenH int, density float64) []command {
	in := h.in
	var cmds []command
	for _, b := range bindings {
		if in.JustPressed(b.key) {
			cmds = append(cmds, b.cmd)
		}
	}

	var dx, dy float64
	if in.Pressed(ebiten.KeyLeft) || in.Pressed(ebiten.KeyA) {
		dx -= panSpeed * dt
	}
	if in.Pressed(ebiten.KeyRight) || in.Pressed(ebiten.KeyD) {
		dx += panSpeed * dt
	}
	if in.Pressed(ebiten.KeyUp) || in.Pressed(ebiten.KeyW) {
		dy -= panSpeed * dt
	}
	if in.Pressed(ebiten.KeyDown) || in.Pressed(ebiten.KeyS) {
		dy += panSpeed * dt
	}
	if dx != 0 || dy != 0 {
		cam.Pan(dx, dy)
	}

	if density <= 0 {
		density = 1
	}
	cx, cy := in.Cursor()
	cursor := geom.Point{X: float64(cx) / density, Y: float64(cy) / density}

	if in.MouseDown(ebiten.MouseButtonLeft) {
		if h.dragging {
			d := cursor.Sub(h.dragFrom)
			cam.Pan(-d.X, -d.Y)
		}
		h.dragging = true
		h.dragFrom = cursor
	} else {
		h.dragging = false
	}

	if _, wy := in.Wheel(); wy != 0 {
		cam.ZoomAt(math.Pow(wheelStep, wy), cursor, screenW, screenH)
	}
	mid := geom.Point{X: float64(screenW) / 2, Y: float64(screenH) / 2}
	if in.JustPressed(ebiten.KeyEqual) || in.JustPressed(ebiten.KeyKPAdd) {
		cam.ZoomAt(keyZoom, mid, screenW, screenH)
	}
	if in.JustPressed(ebiten.KeyMinus) || in.JustPressed(ebiten.KeyKPSubtract) {
		cam.ZoomAt(1/keyZoom, mid, screenW, screenH)
	}
	return cmds
}
