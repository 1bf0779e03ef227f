package flow_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ubuntu/oauth-flows/internal/credentials"
	"github.com/ubuntu/oauth-flows/internal/flow"
	"github.com/ubuntu/oauth-flows/internal/providers"
	"github.com/ubuntu/oauth-flows/internal/providers/genericprovider"
	"github.com/ubuntu/oauth-flows/internal/providers/google"
	"github.com/ubuntu/oauth-flows/internal/statestore"
	"github.com/ubuntu/oauth-flows/internal/testutils"
	"golang.org/x/oauth2"
)

const (
	staticProvider       = "mock-youtube-analytics"
	oidcProvider         = "mock-oidc"
	unconfiguredProvider = "mock-unconfigured"

	redirectURI = "https://app.example.com/oauth/callback"
)

// mockProduct is a provider with the facts of YouTube Analytics, served by the mock provider.
type mockProduct struct {
	name     string
	endpoint oauth2.Endpoint
}

func (p mockProduct) Name() string              { return p.name }
func (p mockProduct) Scope() string             { return google.YouTubeAnalytics.Scope() }
func (p mockProduct) Endpoint() oauth2.Endpoint { return p.endpoint }
func (p mockProduct) AuthOptions() []oauth2.AuthCodeOption {
	return google.YouTubeAnalytics.AuthOptions()
}
func (p mockProduct) RequiresRefreshToken() bool { return true }

type engineFixture struct {
	engine   *flow.Engine
	store    *credentials.Store
	attempts *statestore.Memory
	server   *httptest.Server
}

type fixtureOptions struct {
	providerOpts []testutils.OptionProvider
	engineOpts   []flow.Option
	// client is the http client of the engine. The mock provider client is used when nil.
	client *http.Client
	// extraProviders are registered along the mock ones, with their default client in extraClients.
	extraProviders []providers.Provider
	extraClients   map[string]credentials.ClientConfig
}

func newEngineFixture(t *testing.T, o fixtureOptions) engineFixture {
	t.Helper()

	server, cleanup := testutils.StartMockProvider(o.providerOpts...)
	t.Cleanup(cleanup)

	ps := []providers.Provider{
		mockProduct{name: staticProvider, endpoint: testutils.MockEndpoint(server.URL)},
		mockProduct{name: unconfiguredProvider, endpoint: testutils.MockEndpoint(server.URL)},
		genericprovider.New(oidcProvider, server.URL, "email"),
	}
	registry, err := providers.NewRegistry(append(ps, o.extraProviders...)...)
	require.NoError(t, err, "Setup: NewRegistry should not return an error")

	clients := credentials.Clients{
		Defaults: map[string]credentials.ClientConfig{
			staticProvider: {ClientID: "yt-client-id", ClientSecret: "yt-client-secret"},
			oidcProvider:   {ClientID: "oidc-client-id", ClientSecret: "oidc-client-secret"},
		},
		Workspaces: map[string]map[string]credentials.ClientConfig{
			staticProvider: {"ws-override": {ClientID: "override-client-id", ClientSecret: "override-client-secret"}},
		},
	}
	for name, c := range o.extraClients {
		clients.Defaults[name] = c
	}
	store := credentials.NewStore(clients, credentials.NewFileBackend(t.TempDir(), ""))

	attempts := statestore.NewMemory(0)
	t.Cleanup(func() { _ = attempts.Close() })

	client := o.client
	if client == nil {
		client = server.Client()
	}
	opts := append([]flow.Option{flow.WithHTTPClient(client)}, o.engineOpts...)

	e, err := flow.New(registry, store, attempts, opts...)
	require.NoError(t, err, "Setup: New should not return an error")

	return engineFixture{engine: e, store: store, attempts: attempts, server: server}
}
