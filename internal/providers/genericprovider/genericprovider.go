// Package genericprovider is the generic oidc extension.
//
// Generic providers are declared in the client configuration file rather than compiled in:
// their endpoints come from the discovery document of the issuer.
package genericprovider

import (
	"slices"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// GenericProvider is a generic OIDC provider.
type GenericProvider struct {
	name   string
	issuer string
	scope  string
}

// New returns a new GenericProvider. The openid scope is always requested, so that the
// credential can be bound to the authenticated subject.
func New(name, issuer, scope string) GenericProvider {
	if scope == "" {
		scope = oidc.ScopeOpenID
	} else if !hasScope(scope, oidc.ScopeOpenID) {
		scope = oidc.ScopeOpenID + " " + scope
	}
	return GenericProvider{name: name, issuer: issuer, scope: scope}
}

// Name returns the provider name.
func (p GenericProvider) Name() string {
	return p.name
}

// Scope returns the scope requested to the issuer.
func (p GenericProvider) Scope() string {
	return p.scope
}

// Issuer returns the issuer URL used for discovery.
func (p GenericProvider) Issuer() string {
	return p.issuer
}

// Endpoint is empty: it is resolved by discovery.
func (p GenericProvider) Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{}
}

// AuthOptions is a no-op for generic providers.
func (p GenericProvider) AuthOptions() []oauth2.AuthCodeOption {
	return nil
}

// RequiresRefreshToken is false, as generic providers only issue one when offline_access is requested.
func (p GenericProvider) RequiresRefreshToken() bool {
	return false
}

func hasScope(scope, want string) bool {
	return slices.Contains(strings.Fields(scope), want)
}
