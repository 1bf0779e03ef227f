package flow

import "time"

// WithClock overrides the time source of the engine.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// DiscoveredCount returns the number of OIDC providers discovered so far.
func (e *Engine) DiscoveredCount() int {
	e.discoveredMu.Lock()
	defer e.discoveredMu.Unlock()

	var n int
	for _, d := range e.discovered {
		d.mu.Lock()
		if d.provider != nil {
			n++
		}
		d.mu.Unlock()
	}
	return n
}
