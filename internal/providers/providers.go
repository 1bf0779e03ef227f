// Package providers define provider-specific configurations to be used by the flow engine.
package providers

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/oauth2"
)

// ScopeProvider supplies the exact, space-delimited permission scope requested for one provider product.
type ScopeProvider interface {
	Scope() string
}

// Provider defines the provider-specific facts consumed by the flow engine.
type Provider interface {
	ScopeProvider
	Name() string
	Endpoint() oauth2.Endpoint
	AuthOptions() []oauth2.AuthCodeOption
	RequiresRefreshToken() bool
}

// Discoverer is implemented by providers whose endpoints come from OIDC discovery.
// Their Endpoint() is ignored and issued ID tokens are verified.
type Discoverer interface {
	Issuer() string
}

// FlowConfig is the immutable description of one registered provider.
type FlowConfig struct {
	Name                string
	Scope               string
	Endpoint            oauth2.Endpoint
	Issuer              string
	AuthOptions         []oauth2.AuthCodeOption
	RequireRefreshToken bool
}

// Scopes returns the scope as the list expected by oauth2.Config.
func (c FlowConfig) Scopes() []string {
	return strings.Fields(c.Scope)
}

// Registry maps a provider name to its flow configuration.
type Registry struct {
	configs map[string]FlowConfig
}

// NewRegistry validates and registers all the given providers.
// All invalid definitions are reported together.
func NewRegistry(ps ...Provider) (*Registry, error) {
	r := &Registry{configs: make(map[string]FlowConfig, len(ps))}

	var err error
	for _, p := range ps {
		err = errors.Join(err, r.register(p))
	}
	if err != nil {
		return nil, fmt.Errorf("invalid provider registration: %w", err)
	}
	return r, nil
}

func (r *Registry) register(p Provider) error {
	name := p.Name()
	if name == "" {
		return errors.New("provider name is required")
	}
	if _, exists := r.configs[name]; exists {
		return fmt.Errorf("provider %q is registered more than once", name)
	}

	scope := p.Scope()
	if scope == "" {
		return fmt.Errorf("provider %q does not define any scope", name)
	}
	if strings.Join(strings.Fields(scope), " ") != scope {
		return fmt.Errorf("scope of provider %q must be separated by single spaces without surrounding blanks: %q", name, scope)
	}

	cfg := FlowConfig{
		Name:                name,
		Scope:               scope,
		AuthOptions:         p.AuthOptions(),
		RequireRefreshToken: p.RequiresRefreshToken(),
	}

	if d, ok := p.(Discoverer); ok && d.Issuer() != "" {
		if err := requireHTTPS(d.Issuer()); err != nil {
			return fmt.Errorf("issuer of provider %q: %w", name, err)
		}
		cfg.Issuer = d.Issuer()
	} else {
		cfg.Endpoint = p.Endpoint()
		if err := requireHTTPS(cfg.Endpoint.AuthURL); err != nil {
			return fmt.Errorf("authorization endpoint of provider %q: %w", name, err)
		}
		if err := requireHTTPS(cfg.Endpoint.TokenURL); err != nil {
			return fmt.Errorf("token endpoint of provider %q: %w", name, err)
		}
	}

	r.configs[name] = cfg
	return nil
}

// Get returns the flow configuration registered for name.
func (r *Registry) Get(name string) (FlowConfig, bool) {
	cfg, ok := r.configs[name]
	return cfg, ok
}

// List returns all registered flow configurations, sorted by name.
func (r *Registry) List() []FlowConfig {
	cfgs := make([]FlowConfig, 0, len(r.configs))
	for _, cfg := range r.configs {
		cfgs = append(cfgs, cfg)
	}
	sort.Slice(cfgs, func(i, j int) bool { return cfgs[i].Name < cfgs[j].Name })
	return cfgs
}

func requireHTTPS(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%q is not an https URL", rawURL)
	}
	return nil
}
