package statestore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

type entry struct {
	attempt  Attempt
	deadline time.Time
}

// Memory is an in-process attempt store. Attempts are lost on restart.
type Memory struct {
	mu       sync.Mutex
	attempts map[string]entry
	now      func() time.Time

	stop chan struct{}
	done chan struct{}
}

// NewMemory returns a memory store, purging expired attempts every purgeInterval.
// No purge goroutine is started when purgeInterval is not positive.
func NewMemory(purgeInterval time.Duration) *Memory {
	m := &Memory{
		attempts: make(map[string]entry),
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if purgeInterval <= 0 {
		close(m.done)
		return m
	}

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(purgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := m.purge(); n > 0 {
					slog.Debug("Purged expired authorization attempts", "count", n)
				}
			case <-m.stop:
				return
			}
		}
	}()

	return m
}

// Save records the attempt for ttl.
func (m *Memory) Save(_ context.Context, a Attempt, ttl time.Duration) error {
	if a.State == "" {
		return errors.New("attempt has no state")
	}
	if ttl <= 0 {
		return errors.New("attempt ttl must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[a.State] = entry{attempt: a, deadline: m.now().Add(ttl)}
	return nil
}

// Consume returns and removes the attempt for state. Attempts past their ttl are not returned.
func (m *Memory) Consume(_ context.Context, state string) (*Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.attempts[state]
	if !ok {
		return nil, nil
	}
	delete(m.attempts, state)

	if !m.now().Before(e.deadline) {
		return nil, nil
	}
	return &e.attempt, nil
}

// Len returns the number of attempts currently held, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attempts)
}

// Close stops the purge goroutine.
func (m *Memory) Close() error {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	<-m.done
	return nil
}

func (m *Memory) purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var n int
	for state, e := range m.attempts {
		if !now.Before(e.deadline) {
			delete(m.attempts, state)
			n++
		}
	}
	return n
}
