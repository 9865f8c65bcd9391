package swarm

import (
	"context"
	"testing"
	"time"

	"geoframe/internal/culling"
	"geoframe/internal/feed"
	"geoframe/internal/geom"
)

func setup(share float64) (*Swarm, *feed.Feeder, *culling.Culler) {
	c := culling.New(culling.Options{Settings: culling.DefaultSettings()})
	f := feed.New(feed.Options{Sink: c, BatchSize: 1000})
	s := New(Options{
		World:       geom.RectXYWH(0, 0, 1000, 1000),
		Feeder:      f,
		Updater:     c,
		Speed:       500,
		EffectShare: share,
		EffectLife:  500 * time.Millisecond,
		Workers:     4,
		Seed:        7,
	})
	return s, f, c
}

func TestSpawnGoesThroughFeed(t *testing.T) {
	s, f, c := setup(0)
	s.Spawn(20)
	if f.Pending() != 20 || c.Len() != 0 {
		t.Fatalf("pending=%d tracked=%d", f.Pending(), c.Len())
	}
	f.Drain()
	if c.Len() != 20 {
		t.Fatalf("tracked = %d, want 20", c.Len())
	}
}

func TestStepStaysInWorld(t *testing.T) {
	s, f, c := setup(0)
	s.Spawn(50)
	f.Drain()
	world := geom.RectXYWH(0, 0, 1000, 1000)
	for range 20 {
		s.Step(context.Background(), 500*time.Millisecond)
	}
	moved := 0
	for _, a := range s.agents {
		obj, ok := c.Object(a.id)
		if !ok {
			t.Fatalf("agent %s not tracked", a.id)
		}
		if !world.ContainsPoint(obj.Position) {
			t.Errorf("agent %s left the world: %+v", a.id, obj.Position)
		}
		if obj.Position == a.pos {
			moved++
		}
	}
	if moved != 50 {
		t.Errorf("%d of 50 tracked positions match the agents", moved)
	}
}

func TestEffectsExpire(t *testing.T) {
	s, f, c := setup(1)
	s.Spawn(10)
	f.Drain()
	s.Step(context.Background(), 200*time.Millisecond)
	if s.Len() != 10 {
		t.Fatalf("effects expired early: %d left", s.Len())
	}
	s.Step(context.Background(), 400*time.Millisecond)
	if s.Len() != 0 {
		t.Fatalf("%d effects outlived their life", s.Len())
	}
	f.Drain()
	if c.Len() != 0 {
		t.Errorf("culler still tracks %d expired effects", c.Len())
	}
	if spawned, expired := s.Counters(); spawned != 10 || expired != 10 {
		t.Errorf("spawned=%d expired=%d", spawned, expired)
	}
}
