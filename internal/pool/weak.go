package pool

import "weak"

type weakRef interface {
	alive() bool
}

type weakPtr[T any] struct {
	p weak.Pointer[T]
}

func (w weakPtr[T]) alive() bool { return w.p.Value() != nil }

// TrackWeak records obj without keeping it alive. Cleanup drops entries
// whose target has been collected.
func TrackWeak[T any](m *Manager, obj *T) {
	if obj == nil {
		return
	}
	m.stateMu.Lock()
	m.weak = append(m.weak, weakPtr[T]{p: weak.Make(obj)})
	m.stateMu.Unlock()
}

// WeakTracked returns the number of weak entries still held.
func (m *Manager) WeakTracked() int {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return len(m.weak)
}

// SweepWeak removes weak entries whose targets are gone and returns how many
// were removed.
func (m *Manager) SweepWeak() int {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	kept := m.weak[:0]
	for _, ref := range m.weak {
		if ref.alive() {
			kept = append(kept, ref)
		}
	}
	swept := len(m.weak) - len(kept)
	for i := len(kept); i < len(m.weak); i++ {
		m.weak[i] = nil
	}
	m.weak = kept
	return swept
}
