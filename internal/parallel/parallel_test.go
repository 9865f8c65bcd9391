package parallel

import (
	"context"
	"sync/atomic"
	"testing"
)

func TestFilterKeepsOrder(t *testing.T) {
	items := make([]int, 10000)
	for i := range items {
		items[i] = i
	}
	even := Filter(context.Background(), items, 4, func(v int) bool { return v%2 == 0 })
	if len(even) != 5000 {
		t.Fatalf("expected 5000 results, got %d", len(even))
	}
	for i, v := range even {
		if v != i*2 {
			t.Fatalf("result %d out of order: %d", i, v)
		}
	}
}

func TestForEachIndexVisitsAll(t *testing.T) {
	var sum atomic.Int64
	ForEachIndex(context.Background(), 100, 3, func(i int) { sum.Add(int64(i)) })
	if sum.Load() != 4950 {
		t.Errorf("expected 4950, got %d", sum.Load())
	}
}

func TestCancelledContextStopsWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int64
	ForEachIndex(ctx, 1000, 4, func(int) { calls.Add(1) })
	if calls.Load() != 0 {
		t.Errorf("expected no calls after cancel, got %d", calls.Load())
	}
	if got := Filter(ctx, []int{1, 2, 3}, 2, func(int) bool { return true }); len(got) != 0 {
		t.Errorf("expected empty result after cancel, got %v", got)
	}
}

func TestFilterDefaultsWorkers(t *testing.T) {
	got := Filter(context.Background(), []int{5, 1, 7, 2}, 0, func(v int) bool { return v > 1 })
	if len(got) != 3 || got[0] != 5 || got[1] != 7 || got[2] != 2 {
		t.Errorf("Filter = %v", got)
	}
}
