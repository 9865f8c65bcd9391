package feed

import (
	"testing"
	"time"

	"geoframe/internal/clock"
	"geoframe/internal/culling"
	"geoframe/internal/geo"
	"geoframe/internal/pool"
)

type stubLocator map[string][2]float64

func (s stubLocator) Locate(ip string) (float64, float64, bool) {
	c, ok := s[ip]
	return c[0], c[1], ok
}

func newFeeder(t *testing.T, batch int, throttle time.Duration) (*Feeder, *culling.Culler, *pool.Manager, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Time{})
	pools := pool.NewManager(pool.Options{Clock: clk})
	if err := pool.RegisterDefaults(pools, 1); err != nil {
		t.Fatal(err)
	}
	c := culling.New(culling.Options{Settings: culling.DefaultSettings(), Clock: clk})
	f := New(Options{
		Pools:      pools,
		Sink:       c,
		Projection: geo.Projection{Zoom: 2},
		Locator:    stubLocator{"10.0.0.1": {0, 0.0001}},
		BatchSize:  batch,
		Throttle:   throttle,
		Clock:      clk,
	})
	return f, c, pools, clk
}

func push(f *Feeder, id string, x, y float64) {
	rec := f.New()
	rec.ID = id
	rec.SetXY(x, y)
	f.Push(rec)
}

func TestBatchAndThrottle(t *testing.T) {
	f, c, _, clk := newFeeder(t, 3, 50*time.Millisecond)
	for i := range 7 {
		push(f, string(rune('a'+i)), float64(i), 1)
	}
	if n := f.Flush(); n != 3 {
		t.Fatalf("first flush = %d, want 3", n)
	}
	if n := f.Flush(); n != 0 {
		t.Fatalf("flush inside throttle window = %d, want 0", n)
	}
	clk.Advance(50 * time.Millisecond)
	if n := f.Flush(); n != 3 {
		t.Fatalf("second flush = %d, want 3", n)
	}
	if c.Len() != 6 || f.Pending() != 1 {
		t.Errorf("culler=%d pending=%d", c.Len(), f.Pending())
	}
	st := f.Stats()
	if st.Queued != 7 || st.Flushed != 6 || st.Batches != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestRecordsReturnToPool(t *testing.T) {
	f, _, pools, _ := newFeeder(t, 10, 0)
	push(f, "a", 1, 1)
	push(f, "b", 2, 2)
	f.Flush()
	p := pool.Lookup[pool.MapObject](pools, pool.MapObjectPool)
	if p.Len() != 2 {
		t.Fatalf("pool holds %d, want 2", p.Len())
	}
	rec := f.New()
	if rec.ID != "" || rec.X != 0 || rec.HasXY {
		t.Errorf("reused record not reset: %+v", *rec)
	}
}

func TestRemoveAndResolve(t *testing.T) {
	f, c, _, _ := newFeeder(t, 10, 0)
	push(f, "keep", 5, 5)

	geoRec := f.New()
	geoRec.ID, geoRec.Kind = "geo", "player"
	geoRec.SetLatLng(0, 90)
	f.Push(geoRec)

	ipRec := f.New()
	ipRec.ID, ipRec.IP = "ip", "10.0.0.1"
	f.Push(ipRec)

	lost := f.New()
	lost.ID, lost.IP = "lost", "192.0.2.1"
	f.Push(lost)
	f.Flush()

	if c.Len() != 3 {
		t.Fatalf("culler has %d objects, want 3", c.Len())
	}
	obj, _ := c.Object("geo")
	if obj.Kind != culling.KindPlayer || obj.Position.X != 768 {
		t.Errorf("geo object = %+v", obj)
	}
	if f.Stats().Unresolved != 1 {
		t.Errorf("unresolved = %d", f.Stats().Unresolved)
	}

	rm := f.New()
	rm.ID, rm.Removed = "keep", true
	f.Push(rm)
	f.Flush()
	if _, ok := c.Object("keep"); ok {
		t.Error("removal record did not remove")
	}
	if f.Stats().Removed != 1 {
		t.Errorf("removed = %d", f.Stats().Removed)
	}
}

func TestOriginAndMissingPositions(t *testing.T) {
	f, c, _, _ := newFeeder(t, 10, 0)

	origin := f.New()
	origin.ID = "origin"
	origin.SetXY(0, 0)
	origin.SetLatLng(0, 90)
	f.Push(origin)

	nowhere := f.New()
	nowhere.ID = "nowhere"
	f.Push(nowhere)
	f.Flush()

	obj, ok := c.Object("origin")
	if !ok || obj.Position.X != 0 || obj.Position.Y != 0 {
		t.Errorf("origin record = %+v, %v; want it kept at 0,0", obj, ok)
	}
	if _, ok := c.Object("nowhere"); ok {
		t.Error("record without a position was tracked")
	}
	if f.Stats().Unresolved != 1 {
		t.Errorf("unresolved = %d, want 1", f.Stats().Unresolved)
	}
}

func TestQueueBound(t *testing.T) {
	clk := clock.NewManual(time.Time{})
	f := New(Options{MaxQueue: 2, Clock: clk})
	push(f, "a", 1, 1)
	push(f, "b", 1, 1)
	push(f, "c", 1, 1)
	if f.Pending() != 2 || f.Stats().Dropped != 1 {
		t.Errorf("pending=%d stats=%+v", f.Pending(), f.Stats())
	}
}

func TestDrainIgnoresThrottle(t *testing.T) {
	f, c, _, _ := newFeeder(t, 2, time.Hour)
	for i := range 5 {
		push(f, string(rune('a'+i)), 1, 1)
	}
	if n := f.Drain(); n != 5 || c.Len() != 5 {
		t.Errorf("drained %d, culler %d", n, c.Len())
	}
}

func TestSetters(t *testing.T) {
	f := New(Options{})
	if f.BatchSize() != DefaultBatchSize || f.Throttle() != 0 {
		t.Fatalf("defaults: %d %v", f.BatchSize(), f.Throttle())
	}
	f.SetBatchSize(0)
	if f.BatchSize() != DefaultBatchSize {
		t.Error("zero batch size accepted")
	}
	f.SetBatchSize(50)
	f.SetThrottle(32 * time.Millisecond)
	if f.BatchSize() != 50 || f.Throttle() != 32*time.Millisecond {
		t.Errorf("setters: %d %v", f.BatchSize(), f.Throttle())
	}
}
