// Package parallel holds chunked fan-out helpers for CPU-bound passes over
// large slices. Results keep input order.
package parallel

import (
	"context"
	"runtime"
	"sync"

	"geoframe/internal/mathutil"
)

func chunkSize(n, workers int) int {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = mathutil.IntMax(1, mathutil.IntMin(workers, n))
	return mathutil.IntMax(1, (n+workers-1)/workers)
}

// ForEachIndex calls fn(i) for every i in [0, n) across up to workers
// goroutines. Goroutines stop early once ctx is cancelled.
func ForEachIndex(ctx context.Context, n, workers int, fn func(i int)) {
	if n <= 0 {
		return
	}
	size := chunkSize(n, workers)

	var wg sync.WaitGroup
	for start := 0; start < n; start += size {
		end := mathutil.IntMin(start+size, n)
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				select {
				case <-ctx.Done():
					return
				default:
					fn(i)
				}
			}
		}(start, end)
	}
	wg.Wait()
}

// Filter returns the items matching predicate, in input order. Each worker
// collects into its own slice and the slices are merged afterwards.
func Filter[T any](ctx context.Context, items []T, workers int, predicate func(T) bool) []T {
	if len(items) == 0 {
		return nil
	}
	size := chunkSize(len(items), workers)
	perWorker := make([][]T, (len(items)+size-1)/size)

	var wg sync.WaitGroup
	for idx := range perWorker {
		start := idx * size
		end := mathutil.IntMin(start+size, len(items))
		wg.Add(1)
		go func(idx, start, end int) {
			defer wg.Done()
			local := make([]T, 0, end-start)
			for j := start; j < end; j++ {
				select {
				case <-ctx.Done():
					perWorker[idx] = local
					return
				default:
					if predicate(items[j]) {
						local = append(local, items[j])
					}
				}
			}
			perWorker[idx] = local
		}(idx, start, end)
	}
	wg.Wait()

	total := 0
	for _, part := range perWorker {
		total += len(part)
	}
	out := make([]T, 0, total)
	for _, part := range perWorker {
		out = append(out, part...)
	}
	return out
}
