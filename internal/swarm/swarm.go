// Package swarm is a synthetic workload: agents wander the world, new ones
// enter through the feed and short-lived effects expire.
package swarm

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"geoframe/internal/culling"
	"geoframe/internal/feed"
	"geoframe/internal/geom"
	"geoframe/internal/parallel"
)

// Updater receives position changes for agents already tracked.
type Updater interface {
	UpdateObject(id string, p culling.Patch) bool
}

// Options configure a Swarm.
type Options struct {
	World   geom.Rect
	Feeder  *feed.Feeder
	Updater Updater
	// Speed is the maximum agent speed in world pixels per second.
	Speed float64
	// EffectShare is the fraction of spawned agents that are effects.
	EffectShare float64
	// EffectLife is how long an effect lives.
	EffectLife time.Duration
	Workers    int
	Seed       uint64
}

type agent struct {
	id   string
	kind culling.Kind
	pos  geom.Point
	vel  geom.Point
	life time.Duration
	dead bool
}

// Swarm owns the agents.
type Swarm struct {
	mu      sync.Mutex
	opts    Options
	rng     *rand.Rand
	agents  []*agent
	spawned uint64
	expired uint64
}

// New creates an empty swarm.
func New(opts Options) *Swarm {
	if opts.Speed <= 0 {
		opts.Speed = 40
	}
	if opts.EffectLife <= 0 {
		opts.EffectLife = 3 * time.Second
	}
	return &Swarm{
		opts: opts,
		rng:  rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
	}
}

// Spawn creates n agents at random positions and queues them on the feeder.
func (s *Swarm) Spawn(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.opts.World
	for range n {
		a := &agent{
			id:  uuid.NewString(),
			pos: geom.Point{X: w.Min.X + s.rng.Float64()*w.Width(), Y: w.Min.Y + s.rng.Float64()*w.Height()},
		}
		angle := s.rng.Float64() * 2 * math.Pi
		speed := s.rng.Float64() * s.opts.Speed
		a.vel = geom.Point{X: math.Cos(angle) * speed, Y: math.Sin(angle) * speed}
		switch r := s.rng.Float64(); {
		case r < s.opts.EffectShare:
			a.kind = culling.KindEffect
			a.life = s.opts.EffectLife
		case r < s.opts.EffectShare+(1-s.opts.EffectShare)/2:
			a.kind = culling.KindPlayer
		default:
			a.kind = culling.KindMarker
		}
		s.agents = append(s.agents, a)
		s.spawned++
		s.push(a, false)
	}
}

func (s *Swarm) push(a *agent, remove bool) {
	if s.opts.Feeder == nil {
		return
	}
	rec := s.opts.Feeder.New()
	rec.ID = a.id
	rec.Kind = a.kind.String()
	rec.SetXY(a.pos.X, a.pos.Y)
	rec.Removed = remove
	s.opts.Feeder.Push(rec)
}

// Step advances every agent by dt, bouncing off the world edges, and reports
// the new positions to the updater. Expired effects are queued for removal.
func (s *Swarm) Step(ctx context.Context, dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	secs := dt.Seconds()
	w := s.opts.World
	agents := s.agents

	parallel.ForEachIndex(ctx, len(agents), s.opts.Workers, func(i int) {
		a := agents[i]
		a.pos = a.pos.Add(a.vel.Scale(secs))
		if a.pos.X < w.Min.X || a.pos.X > w.Max.X {
			a.vel.X = -a.vel.X
			a.pos.X = max(w.Min.X, min(w.Max.X, a.pos.X))
		}
		if a.pos.Y < w.Min.Y || a.pos.Y > w.Max.Y {
			a.vel.Y = -a.vel.Y
			a.pos.Y = max(w.Min.Y, min(w.Max.Y, a.pos.Y))
		}
		if a.kind == culling.KindEffect {
			a.life -= dt
			a.dead = a.life <= 0
		}
	})

	live := agents[:0]
	for _, a := range agents {
		if a.dead {
			s.expired++
			s.push(a, true)
			continue
		}
		if s.opts.Updater != nil {
			pos := a.pos
			s.opts.Updater.UpdateObject(a.id, culling.Patch{Position: &pos})
		}
		live = append(live, a)
	}
	clear(agents[len(live):])
	s.agents = live
}

// Len returns the number of live agents.
func (s *Swarm) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.agents)
}

// Counters returns how many agents were spawned and how many expired.
func (s *Swarm) Counters() (spawned, expired uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawned, s.expired
}
