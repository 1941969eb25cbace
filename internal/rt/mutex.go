package rt

import "sync"

// lockMutex panics on unlock of an unheld lock instead of corrupting state.
type lockMutex struct {
	mu    sync.Mutex
	state sync.Mutex
	held  bool
}

func (m *lockMutex) Lock() {
	m.mu.Lock()
	m.state.Lock()
	m.held = true
	m.state.Unlock()
}

func (m *lockMutex) TryLock() bool {
	if !m.mu.TryLock() {
		return false
	}
	m.state.Lock()
	m.held = true
	m.state.Unlock()
	return true
}

func (m *lockMutex) Unlock() {
	m.state.Lock()
	if !m.held {
		m.state.Unlock()
		panic("rt: unlock of unlocked mutex")
	}
	m.held = false
	m.state.Unlock()
	m.mu.Unlock()
}
