package providers

import (
	"github.com/ubuntu/oauth-flows/internal/providers/google"
)

// Default returns the provider products built into the daemon.
func Default() []Provider {
	var ps []Provider
	for _, p := range google.Products() {
		ps = append(ps, p)
	}
	return ps
}
