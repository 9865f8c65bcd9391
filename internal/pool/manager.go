package pool

import (
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"geoframe/internal/bus"
	"geoframe/internal/clock"
	"geoframe/internal/logging"
	"geoframe/internal/metrics"
)

// ErrPoolType is returned when a name is already registered with another
// element type.
var ErrPoolType = eris.New("pool registered with a different type")

const (
	DefaultMemoryThresholdMB = 500
	DefaultCleanupRatio      = 0.8
	DefaultCooldown          = 60 * time.Second
)

// MemorySource reports current heap usage in MB. Zero means unknown.
type MemorySource interface {
	MemoryMB() float64
}

// Options configure a Manager.
type Options struct {
	Bus    *bus.Bus
	Clock  clock.Clock
	Logger *zerolog.Logger
	Memory MemorySource

	// MemoryThresholdMB is the budget; cleanup starts at CleanupRatio of it.
	MemoryThresholdMB float64
	CleanupRatio      float64
	Cooldown          time.Duration
}

// MemoryUsage is the monitor's view of heap usage.
type MemoryUsage struct {
	CurrentMB float64 `json:"current_mb" yaml:"current_mb"`
	PeakMB    float64 `json:"peak_mb" yaml:"peak_mb"`
	AverageMB float64 `json:"average_mb" yaml:"average_mb"`
	Samples   uint64  `json:"samples" yaml:"samples"`
}

// CleanupReport is the memory:cleanup payload.
type CleanupReport struct {
	MemoryMB    float64   `json:"memory_mb"`
	ThresholdMB float64   `json:"threshold_mb"`
	Trimmed     int       `json:"trimmed"`
	Swept       int       `json:"swept"`
	At          time.Time `json:"at"`
}

// Snapshot is the serialisable form of the manager counters.
type Snapshot struct {
	Pools    []Stats     `yaml:"pools"`
	Cleanups uint64      `yaml:"cleanups"`
	Memory   MemoryUsage `yaml:"memory"`
	TakenAt  time.Time   `yaml:"taken_at"`
}

type managed interface {
	Name() string
	MaxSize() int
	Trim(target int) int
	Stats() Stats
	restore(Stats)
}

// Manager owns a set of named pools and the memory monitor that trims them.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]managed

	bus    *bus.Bus
	clock  clock.Clock
	log    zerolog.Logger
	memory MemorySource

	thresholdMB float64
	cleanupMB   float64
	cooldown    time.Duration

	stateMu     sync.Mutex
	usage       MemoryUsage
	lastCleanup time.Time
	cleanups    uint64
	weak        []weakRef
}

// NewManager creates an empty manager.
func NewManager(opts Options) *Manager {
	threshold := opts.MemoryThresholdMB
	if threshold <= 0 {
		threshold = DefaultMemoryThresholdMB
	}
	ratio := opts.CleanupRatio
	if ratio <= 0 || ratio > 1 {
		ratio = DefaultCleanupRatio
	}
	cooldown := opts.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Manager{
		pools:       make(map[string]managed),
		bus:         opts.Bus,
		clock:       clock.OrReal(opts.Clock),
		log:         logging.Component(opts.Logger, "pool"),
		memory:      opts.Memory,
		thresholdMB: threshold,
		cleanupMB:   threshold * ratio,
		cooldown:    cooldown,
	}
}

// CreatePool registers a pool under name. Registering the same name twice
// with the same type returns the existing pool.
func CreatePool[T any](m *Manager, name string, factory func() *T, reset func(*T), maxSize int) (*Pool[T], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.pools[name]; ok {
		p, ok := existing.(*Pool[T])
		if !ok {
			return nil, eris.Wrapf(ErrPoolType, "pool %q", name)
		}
		m.log.Warn().Str("pool", name).Msg("pool already exists")
		return p, nil
	}
	p := NewPool(name, factory, reset, maxSize)
	m.pools[name] = p
	return p, nil
}

// Lookup returns the typed pool for name, or nil when missing.
func Lookup[T any](m *Manager, name string) *Pool[T] {
	m.mu.RLock()
	existing, ok := m.pools[name]
	m.mu.RUnlock()
	if !ok {
		m.log.Warn().Str("pool", name).Msg("unknown pool")
		return nil
	}
	p, ok := existing.(*Pool[T])
	if !ok {
		m.log.Warn().Str("pool", name).Msg("pool type mismatch")
		return nil
	}
	return p
}

// Acquire takes an object from the named pool. Unknown names log a warning
// and return nil.
func Acquire[T any](m *Manager, name string) *T {
	if p := Lookup[T](m, name); p != nil {
		return p.Get()
	}
	return nil
}

// Release resets obj and returns it to the named pool. Unknown names log a
// warning and drop the object.
func Release[T any](m *Manager, name string, obj *T) {
	if p := Lookup[T](m, name); p != nil {
		p.Put(obj)
	}
}

// Names returns the registered pool names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (m *Manager) snapshotPools() []managed {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]managed, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Stats returns per-pool statistics sorted by name.
func (m *Manager) Stats() []Stats {
	pools := m.snapshotPools()
	out := make([]Stats, len(pools))
	for i, p := range pools {
		out[i] = p.Stats()
	}
	return out
}

// Usage returns the latest memory monitor readings.
func (m *Manager) Usage() MemoryUsage {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.usage
}

// Cleanups returns how many cleanups have run.
func (m *Manager) Cleanups() uint64 {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.cleanups
}

// CleanupThresholdMB is the usage at which Sample triggers a cleanup.
func (m *Manager) CleanupThresholdMB() float64 { return m.cleanupMB }

// Sample reads the memory source and runs a cleanup once usage reaches the
// cleanup threshold. It is a no-op without a memory source.
func (m *Manager) Sample() {
	if m.memory == nil {
		return
	}
	current := m.memory.MemoryMB()
	if current <= 0 {
		return
	}

	m.stateMu.Lock()
	m.usage.CurrentMB = current
	m.usage.PeakMB = max(m.usage.PeakMB, current)
	if m.usage.Samples == 0 {
		m.usage.AverageMB = current
	} else {
		m.usage.AverageMB = m.usage.AverageMB*0.9 + current*0.1
	}
	m.usage.Samples++
	m.stateMu.Unlock()

	if current >= m.cleanupMB {
		m.log.Info().Float64("memory_mb", current).Float64("threshold_mb", m.cleanupMB).Msg("memory above cleanup threshold")
		m.PerformCleanup()
	}
}

// PerformCleanup trims every pool to half its maximum and sweeps collected
// weak references. At most one cleanup runs per cooldown window; it reports
// whether this call ran one.
func (m *Manager) PerformCleanup() bool {
	now := m.clock.Now()

	m.stateMu.Lock()
	if !m.lastCleanup.IsZero() && now.Sub(m.lastCleanup) < m.cooldown {
		m.stateMu.Unlock()
		m.log.Debug().Msg("cleanup skipped, cooling down")
		return false
	}
	m.lastCleanup = now
	m.cleanups++
	current := m.usage.CurrentMB
	m.stateMu.Unlock()

	trimmed := 0
	for _, p := range m.snapshotPools() {
		trimmed += p.Trim(p.MaxSize() / 2)
	}
	swept := m.SweepWeak()

	metrics.PoolCleanups.Inc()
	m.log.Info().Int("trimmed", trimmed).Int("swept", swept).Msg("memory cleanup")

	if m.bus != nil {
		m.bus.Emit(bus.MemoryCleanup, CleanupReport{
			MemoryMB:    current,
			ThresholdMB: m.thresholdMB,
			Trimmed:     trimmed,
			Swept:       swept,
			At:          now,
		})
	}
	return true
}

// MarshalStats serialises pool counters as yaml.
func (m *Manager) MarshalStats() ([]byte, error) {
	snap := Snapshot{
		Pools:    m.Stats(),
		Cleanups: m.Cleanups(),
		Memory:   m.Usage(),
		TakenAt:  m.clock.Now().UTC(),
	}
	return yaml.Marshal(snap)
}

// RestoreStats merges a MarshalStats document back in. Counters only move
// forward; pools missing from this manager are ignored.
func (m *Manager) RestoreStats(data []byte) error {
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return eris.Wrap(err, "failed to decode pool stats")
	}
	m.mu.RLock()
	for _, st := range snap.Pools {
		if p, ok := m.pools[st.Name]; ok {
			p.restore(st)
		}
	}
	m.mu.RUnlock()

	m.stateMu.Lock()
	m.cleanups = max(m.cleanups, snap.Cleanups)
	m.usage.PeakMB = max(m.usage.PeakMB, snap.Memory.PeakMB)
	m.stateMu.Unlock()
	return nil
}
