package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"geoframe/internal/bus"
	"geoframe/internal/clock"
	"geoframe/internal/emergency"
	"geoframe/internal/engine"
)

// simEpoch is the manual clock origin; event ids need a real timestamp.
var simEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// script is the metrics source of a headless run: a steady frame rate with
// one window of low frame rate.
type script struct {
	clk      clock.Clock
	start    time.Time
	fps      float64
	lowFPS   float64
	lowAt    time.Duration
	lowFor   time.Duration
	memoryMB float64
}

func (s *script) FPS() float64 {
	t := s.clk.Now().Sub(s.start)
	if t >= s.lowAt && t < s.lowAt+s.lowFor {
		return s.lowFPS
	}
	return s.fps
}

func (s *script) MemoryMB() float64 { return s.memoryMB }

type simOptions struct {
	duration time.Duration
	step     time.Duration
	script   script
	asJSON   bool
}

func newSimulateCmd(root *rootOptions) *cobra.Command {
	so := &simOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the engine headless against a scripted frame rate",
		Long: "simulate steps the engine on a manual clock with CPU surfaces. The frame rate\n" +
			"reported to the crisis manager is --fps, except for a --low-for window starting at\n" +
			"--low-at where it drops to --low-fps. Crisis transitions are printed as they happen.",
		Example: "  geoframe simulate --duration 30s --low-at 5s --low-for 6s\n  geoframe simulate --json",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if so.duration <= 0 || so.step <= 0 {
				return eris.Errorf("duration and step must be positive")
			}
			log := newLogger(cfg, cmd.ErrOrStderr())

			clk := clock.NewManual(simEpoch)
			src := so.script
			src.clk, src.start = clk, simEpoch
			eng, err := engine.New(cfg, engine.Options{
				Clock:   clk,
				Logger:  log,
				Metrics: &src,
				Memory:  &src,
			})
			if err != nil {
				return err
			}
			defer eng.Stop()
			return simulate(cmd.OutOrStdout(), eng, clk, so)
		},
	}
	f := cmd.Flags()
	f.DurationVar(&so.duration, "duration", 20*time.Second, "simulated time to run")
	f.DurationVar(&so.step, "step", 16*time.Millisecond, "simulated frame time")
	f.Float64Var(&so.script.fps, "fps", 60, "reported frame rate")
	f.Float64Var(&so.script.lowFPS, "low-fps", 12, "frame rate during the low window")
	f.DurationVar(&so.script.lowAt, "low-at", 5*time.Second, "start of the low window")
	f.DurationVar(&so.script.lowFor, "low-for", 4*time.Second, "length of the low window; 0 disables it")
	f.Float64Var(&so.script.memoryMB, "memory-mb", 64, "reported memory use")
	f.BoolVar(&so.asJSON, "json", false, "print the final snapshot as JSON")
	return cmd
}

func simulate(out io.Writer, eng *engine.Engine, clk *clock.Manual, so *simOptions) error {
	elapsed := func() time.Duration { return clk.Now().Sub(simEpoch) }
	eng.Bus.On(bus.CrisisEntered, func(data any) error {
		ev, _ := data.(emergency.CrisisEvent)
		fmt.Fprintf(out, "%9s  crisis entered  reasons=%s fps=%.1f objects=%d memory=%.1fMB\n",
			elapsed().Round(time.Millisecond), strings.Join(ev.Reasons, ","), ev.FPS, ev.ObjectCount, ev.MemoryMB)
		return nil
	})
	eng.Bus.On(bus.CrisisExited, func(data any) error {
		ev, _ := data.(emergency.CrisisEvent)
		fmt.Fprintf(out, "%9s  crisis exited   fps=%.1f objects=%d\n",
			elapsed().Round(time.Millisecond), ev.FPS, ev.ObjectCount)
		return nil
	})

	eng.Start()
	for t := time.Duration(0); t < so.duration; t += so.step {
		clk.Advance(so.step)
		eng.Step(so.step)
	}

	snap := eng.Snapshot()
	if so.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	p := message.NewPrinter(language.English)
	p.Fprintf(out, "steps     %d over %s\n", snap.Steps, so.duration)
	p.Fprintf(out, "agents    %d\n", snap.Agents)
	p.Fprintf(out, "culling   %d tracked, %d visible, %d passes, margin %.0f\n",
		snap.Culling.Total, snap.Culling.Visible, snap.Culling.Passes, snap.Culling.Margin)
	p.Fprintf(out, "feed      %d queued, %d flushed, %d dropped, %d pending\n",
		snap.Feed.Queued, snap.Feed.Flushed, snap.Feed.Dropped, snap.Feed.Pending)
	p.Fprintf(out, "render    %d frames, %d skipped, quality %s, target %d fps\n",
		snap.Render.Frames, snap.Render.Skipped, snap.Render.Quality, snap.Render.TargetFPS)
	p.Fprintf(out, "markers   %d drawn, %d skipped\n", snap.Markers.Drawn, snap.Markers.Skipped)
	p.Fprintf(out, "crisis    %d entered, %d exited, state %s\n",
		snap.Emergency.Entered, snap.Emergency.Exited, snap.Emergency.State)
	return nil
}
