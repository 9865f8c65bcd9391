package layers

import (
	"image"
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

const defaultTileCacheSize = 256

// TileKey identifies one rendered tile. Level is the zoom quantised to half
// octaves, so small zoom changes reuse tiles and scale them at draw time.
type TileKey struct {
	Level  int
	TX, TY int
}

// levelFor quantises a zoom factor.
func levelFor(zoom float64) int {
	if zoom <= 0 {
		zoom = 1
	}
	return int(math.Round(math.Log2(zoom) * 2))
}

// levelZoom is the zoom factor a level was rendered at.
func levelZoom(level int) float64 { return math.Exp2(float64(level) / 2) }

// TileCache keeps rendered tiles in an LRU.
type TileCache struct {
	mu     sync.Mutex
	cache  *lru.Cache
	hits   uint64
	misses uint64
}

// NewTileCache creates a cache holding up to size tiles.
func NewTileCache(size int) *TileCache {
	if size <= 0 {
		size = defaultTileCacheSize
	}
	c, _ := lru.New(size)
	return &TileCache{cache: c}
}

// GetOrCreate returns the cached tile for key, rendering it with create on a
// miss.
func (tc *TileCache) GetOrCreate(key TileKey, create func(TileKey) *image.RGBA) *image.RGBA {
	if v, ok := tc.cache.Get(key); ok {
		tc.mu.Lock()
		tc.hits++
		tc.mu.Unlock()
		return v.(*image.RGBA)
	}
	img := create(key)
	tc.cache.Add(key, img)
	tc.mu.Lock()
	tc.misses++
	tc.mu.Unlock()
	return img
}

// Len returns the number of cached tiles.
func (tc *TileCache) Len() int { return tc.cache.Len() }

// Purge drops every tile.
func (tc *TileCache) Purge() { tc.cache.Purge() }

// Counters returns hits and misses.
func (tc *TileCache) Counters() (hits, misses uint64) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.hits, tc.misses
}
