package statestore

import "time"

// SetClock overrides the time source of the memory store.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Purge exposes the purge pass for tests.
func (m *Memory) Purge() int {
	return m.purge()
}
