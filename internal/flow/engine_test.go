package flow_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ubuntu/oauth-flows/internal/credentials"
	"github.com/ubuntu/oauth-flows/internal/flow"
	"github.com/ubuntu/oauth-flows/internal/providers"
	"github.com/ubuntu/oauth-flows/internal/providers/genericprovider"
	"github.com/ubuntu/oauth-flows/internal/providers/google"
	"github.com/ubuntu/oauth-flows/internal/statestore"
	"github.com/ubuntu/oauth-flows/internal/testutils"
)

const youtubeScope = "https://www.googleapis.com/auth/yt-analytics.readonly https://www.googleapis.com/auth/yt-analytics-monetary.readonly"

func TestNew(t *testing.T) {
	t.Parallel()

	registry, err := providers.NewRegistry(google.YouTubeAnalytics)
	require.NoError(t, err, "Setup: NewRegistry should not return an error")
	store := credentials.NewStore(credentials.Clients{}, credentials.NewFileBackend(t.TempDir(), ""))
	attempts := statestore.NewMemory(0)
	t.Cleanup(func() { _ = attempts.Close() })

	tests := map[string]struct {
		noRegistry bool
		noStore    bool
		noAttempts bool

		wantErr bool
	}{
		"Successfully_create_engine": {},

		"Error_when_registry_is_missing":      {noRegistry: true, wantErr: true},
		"Error_when_store_is_missing":         {noStore: true, wantErr: true},
		"Error_when_attempt_store_is_missing": {noAttempts: true, wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			r, s, a := registry, flow.CredentialStore(store), statestore.Store(attempts)
			if tc.noRegistry {
				r = nil
			}
			if tc.noStore {
				s = nil
			}
			if tc.noAttempts {
				a = nil
			}

			e, err := flow.New(r, s, a)
			if tc.wantErr {
				require.Error(t, err, "New should return an error")
				return
			}
			require.NoError(t, err, "New should not return an error")
			require.NotNil(t, e, "New should return an engine")
		})
	}
}

func TestBeginAuthorization(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		provider     string
		workspaceID  string
		redirectURI  string
		providerOpts []testutils.OptionProvider
		engineOpts   []flow.Option

		wantClientID string
		wantScope    string
		wantParams   map[string]string
		wantErr      error
		wantAnyErr   bool
	}{
		"Successfully_build_url_for_static_provider": {
			wantClientID: "yt-client-id",
			wantScope:    youtubeScope,
			wantParams: map[string]string{
				"access_type":            "offline",
				"prompt":                 "consent",
				"include_granted_scopes": "true",
			},
		},
		"Successfully_build_url_with_workspace_client": {
			workspaceID:  "ws-override",
			wantClientID: "override-client-id",
			wantScope:    youtubeScope,
		},
		"Successfully_build_url_for_discovered_provider": {
			provider:     oidcProvider,
			wantClientID: "oidc-client-id",
			wantScope:    "openid email",
		},
		"Successfully_build_url_with_loopback_redirect": {
			redirectURI:  "http://127.0.0.1:8080/callback",
			wantClientID: "yt-client-id",
			wantScope:    youtubeScope,
		},

		"Error_when_provider_is_unknown":         {provider: "unknown", wantErr: flow.ErrUnknownProvider},
		"Error_when_client_is_not_configured":    {provider: unconfiguredProvider, wantErr: flow.ErrConfigurationMissing},
		"Error_when_workspace_id_is_empty":       {workspaceID: "-", wantErr: flow.ErrInvalidRequest},
		"Error_when_redirect_uri_is_relative":    {redirectURI: "/callback", wantErr: flow.ErrInvalidRequest},
		"Error_when_redirect_uri_is_not_http":    {redirectURI: "ftp://app.example.com/callback", wantErr: flow.ErrInvalidRequest},
		"Error_when_redirect_uri_has_a_fragment": {redirectURI: "https://app.example.com/callback#x", wantErr: flow.ErrInvalidRequest},
		"Error_when_discovery_document_is_missing": {
			provider:     oidcProvider,
			providerOpts: []testutils.OptionProvider{testutils.WithHandler("/.well-known/openid-configuration", testutils.UnavailableHandler())},
			wantAnyErr:   true,
		},
		"Error_when_discovery_times_out": {
			provider:     oidcProvider,
			providerOpts: []testutils.OptionProvider{testutils.WithHandler("/.well-known/openid-configuration", testutils.HangingHandler(5*time.Second))},
			engineOpts:   []flow.Option{flow.WithExchangeTimeout(200 * time.Millisecond)},
			wantErr:      flow.ErrTransport,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			if tc.provider == "" {
				tc.provider = staticProvider
			}
			switch tc.workspaceID {
			case "":
				tc.workspaceID = "ws1"
			case "-":
				tc.workspaceID = ""
			}
			if tc.redirectURI == "" {
				tc.redirectURI = redirectURI
			}

			f := newEngineFixture(t, fixtureOptions{
				providerOpts: tc.providerOpts,
				engineOpts:   append([]flow.Option{flow.WithStateSupplier(testutils.FixedStateSupplier("state-1"))}, tc.engineOpts...),
			})

			authURL, err := f.engine.BeginAuthorization(context.Background(), flow.AuthorizationRequest{
				Provider:    tc.provider,
				WorkspaceID: tc.workspaceID,
				RedirectURI: tc.redirectURI,
			})
			if tc.wantErr != nil || tc.wantAnyErr {
				require.Error(t, err, "BeginAuthorization should return an error")
				if tc.wantErr != nil {
					require.ErrorIs(t, err, tc.wantErr, "BeginAuthorization should return the expected error")
				}
				require.Zero(t, f.attempts.Len(), "No attempt should be recorded on error")
				return
			}
			require.NoError(t, err, "BeginAuthorization should not return an error")

			u, err := url.Parse(authURL)
			require.NoError(t, err, "Authorization URL should be valid")
			require.Equal(t, f.server.URL+"/auth", u.Scheme+"://"+u.Host+u.Path, "Authorization URL should target the provider authorization endpoint")

			q := u.Query()
			require.Equal(t, "code", q.Get("response_type"), "response_type should be code")
			require.Equal(t, tc.wantClientID, q.Get("client_id"), "client_id should be the workspace client")
			require.Equal(t, tc.redirectURI, q.Get("redirect_uri"), "redirect_uri should be the requested one")
			require.Equal(t, tc.wantScope, q.Get("scope"), "scope should be the provider scope")
			require.Equal(t, "state-1", q.Get("state"), "state should come from the state supplier")
			for k, v := range tc.wantParams {
				require.Equal(t, v, q.Get(k), "Provider parameter %q should be set", k)
			}

			require.Equal(t, 1, f.attempts.Len(), "The attempt should be recorded")
		})
	}
}

// tokenHandlerWithoutRefreshToken answers like an OIDC provider that was not asked for offline access.
func tokenHandlerWithoutRefreshToken(w http.ResponseWriter, r *http.Request) {
	tokenHandlerSignedWith(testutils.MockKey)(w, r)
}

func tokenHandlerSignedWith(key *rsa.PrivateKey) testutils.ProviderHandler {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		idToken, err := testutils.SignIDToken(key, "https://"+r.Host, r.PostForm.Get("client_id"))
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Add("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"access_token": "accesstoken", "token_type": "Bearer", "expires_in": 3600, "id_token": %q}`, idToken)
	}
}

func TestCompleteAuthorization(t *testing.T) {
	t.Parallel()

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "Setup: could not generate RSA key")

	tests := map[string]struct {
		provider          string
		callbackProvider  string
		callbackWorkspace string
		callbackState     string
		noState           bool
		noCode            bool
		replay            bool
		advanceClock      time.Duration
		providerOpts      []testutils.OptionProvider
		engineOpts        []flow.Option

		wantScope        string
		wantRefreshToken string
		wantSubject      string
		wantEmail        string
		wantErr          error
		wantErrCode      string
	}{
		"Successfully_complete_static_provider": {
			wantScope:        youtubeScope,
			wantRefreshToken: "refreshtoken",
		},
		"Successfully_complete_with_granted_scope": {
			providerOpts:     []testutils.OptionProvider{testutils.WithGrantedScope("https://www.googleapis.com/auth/yt-analytics.readonly")},
			wantScope:        "https://www.googleapis.com/auth/yt-analytics.readonly",
			wantRefreshToken: "refreshtoken",
		},
		"Successfully_complete_discovered_provider": {
			provider:         oidcProvider,
			wantScope:        "openid email",
			wantRefreshToken: "refreshtoken",
			wantSubject:      "test-user-id",
			wantEmail:        "test-user@anotheremail.com",
		},
		"Successfully_complete_without_refresh_token_when_not_required": {
			provider:     oidcProvider,
			providerOpts: []testutils.OptionProvider{testutils.WithHandler("/token", tokenHandlerWithoutRefreshToken)},
			wantScope:    "openid email",
			wantSubject:  "test-user-id",
			wantEmail:    "test-user@anotheremail.com",
		},
		"Successfully_complete_just_before_expiry": {
			advanceClock:     10*time.Minute - time.Second,
			wantScope:        youtubeScope,
			wantRefreshToken: "refreshtoken",
		},

		"Error_when_state_is_unknown":                  {callbackState: "forged-state", wantErr: flow.ErrInvalidState},
		"Error_when_state_is_empty":                    {noState: true, wantErr: flow.ErrInvalidState},
		"Error_when_state_is_replayed":                 {replay: true, wantErr: flow.ErrInvalidState},
		"Error_when_attempt_expired":                   {advanceClock: 10 * time.Minute, wantErr: flow.ErrInvalidState},
		"Error_when_callback_is_for_another_workspace": {callbackWorkspace: "ws2", wantErr: flow.ErrInvalidState},
		"Error_when_callback_is_for_another_provider":  {callbackProvider: oidcProvider, wantErr: flow.ErrInvalidState},
		"Error_when_callback_provider_is_unknown":      {callbackProvider: "unknown", wantErr: flow.ErrUnknownProvider},
		"Error_when_code_is_empty":                     {noCode: true, wantErr: flow.ErrInvalidRequest},
		"Error_when_provider_rejects_code": {
			providerOpts: []testutils.OptionProvider{testutils.WithHandler("/token", testutils.BadRequestHandler())},
			wantErr:      flow.ErrExchangeFailed,
			wantErrCode:  "invalid_grant",
		},
		"Error_when_token_endpoint_is_unavailable": {
			providerOpts: []testutils.OptionProvider{testutils.WithHandler("/token", testutils.UnavailableHandler())},
			wantErr:      flow.ErrExchangeFailed,
		},
		"Error_when_token_response_is_malformed": {
			providerOpts: []testutils.OptionProvider{testutils.WithHandler("/token", testutils.CustomResponseHandler("not json"))},
			wantErr:      flow.ErrExchangeFailed,
		},
		"Error_when_token_response_has_no_access_token": {
			providerOpts: []testutils.OptionProvider{testutils.WithHandler("/token", testutils.CustomResponseHandler(`{"token_type": "Bearer", "refresh_token": "refreshtoken"}`))},
			wantErr:      flow.ErrExchangeFailed,
		},
		"Error_when_token_response_has_no_refresh_token": {
			providerOpts: []testutils.OptionProvider{testutils.WithHandler("/token", testutils.CustomResponseHandler(`{"access_token": "accesstoken", "token_type": "Bearer", "expires_in": 3600}`))},
			wantErr:      flow.ErrExchangeFailed,
		},
		"Error_when_id_token_is_missing": {
			provider:     oidcProvider,
			providerOpts: []testutils.OptionProvider{testutils.WithHandler("/token", testutils.CustomResponseHandler(`{"access_token": "accesstoken", "token_type": "Bearer"}`))},
			wantErr:      flow.ErrExchangeFailed,
		},
		"Error_when_id_token_signature_is_invalid": {
			provider:     oidcProvider,
			providerOpts: []testutils.OptionProvider{testutils.WithHandler("/token", tokenHandlerSignedWith(otherKey))},
			wantErr:      flow.ErrExchangeFailed,
		},
		"Error_when_token_endpoint_times_out": {
			providerOpts: []testutils.OptionProvider{testutils.WithHandler("/token", testutils.HangingHandler(5*time.Second))},
			engineOpts:   []flow.Option{flow.WithExchangeTimeout(200 * time.Millisecond)},
			wantErr:      flow.ErrTransport,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			if tc.provider == "" {
				tc.provider = staticProvider
			}
			if tc.callbackProvider == "" {
				tc.callbackProvider = tc.provider
			}
			if tc.callbackWorkspace == "" {
				tc.callbackWorkspace = "ws1"
			}
			if tc.callbackState == "" && !tc.noState {
				tc.callbackState = "state-1"
			}
			code := "authcode"
			if tc.noCode {
				code = ""
			}

			var clockMu sync.Mutex
			now := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)
			clock := func() time.Time {
				clockMu.Lock()
				defer clockMu.Unlock()
				return now
			}

			engineOpts := append([]flow.Option{
				flow.WithStateSupplier(testutils.FixedStateSupplier("state-1")),
				flow.WithAttemptTTL(10 * time.Minute),
				flow.WithClock(clock),
			}, tc.engineOpts...)
			f := newEngineFixture(t, fixtureOptions{providerOpts: tc.providerOpts, engineOpts: engineOpts})
			ctx := context.Background()

			payload := map[string]string{"return_to": "/dashboard"}
			_, err := f.engine.BeginAuthorization(ctx, flow.AuthorizationRequest{
				Provider:    tc.provider,
				WorkspaceID: "ws1",
				RedirectURI: redirectURI,
				Payload:     payload,
			})
			require.NoError(t, err, "Setup: BeginAuthorization should not return an error")

			clockMu.Lock()
			now = now.Add(tc.advanceClock)
			clockMu.Unlock()

			callback := flow.CallbackRequest{
				Provider:    tc.callbackProvider,
				WorkspaceID: tc.callbackWorkspace,
				Code:        code,
				State:       tc.callbackState,
			}
			if tc.replay {
				_, _, err := f.engine.CompleteAuthorization(ctx, callback)
				require.NoError(t, err, "Setup: first CompleteAuthorization should not return an error")
			}

			cred, gotPayload, err := f.engine.CompleteAuthorization(ctx, callback)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr, "CompleteAuthorization should return the expected error")
				if tc.wantErrCode != "" {
					var exchangeErr *flow.ExchangeError
					require.ErrorAs(t, err, &exchangeErr, "Error should detail the failed exchange")
					require.Equal(t, tc.wantErrCode, exchangeErr.Code, "Error should carry the provider error code")
				}
				if !tc.replay {
					_, err := f.store.LoadCredential(ctx, "ws1", tc.provider)
					require.ErrorIs(t, err, credentials.ErrNoCredential, "No credential should be stored on error")
				}
				return
			}
			require.NoError(t, err, "CompleteAuthorization should not return an error")

			require.Equal(t, tc.provider, cred.Provider, "Credential should be for the provider")
			require.Equal(t, "ws1", cred.WorkspaceID, "Credential should be for the workspace")
			require.Equal(t, "accesstoken", cred.AccessToken, "Credential should carry the access token")
			require.Equal(t, tc.wantRefreshToken, cred.RefreshToken, "Credential should carry the refresh token")
			require.Equal(t, "Bearer", cred.TokenType, "Credential should carry the token type")
			require.Equal(t, tc.wantScope, cred.Scope, "Credential should carry the granted scope")
			require.Equal(t, tc.wantSubject, cred.Subject, "Credential should carry the verified subject")
			require.Equal(t, tc.wantEmail, cred.Email, "Credential should carry the verified email")
			require.False(t, cred.Expiry.IsZero(), "Credential should carry the token expiry")
			require.True(t, cred.CreatedAt.Equal(now), "Credential should be dated by the engine clock")
			require.Equal(t, payload, gotPayload, "Payload of the attempt should be handed back")

			stored, err := f.store.LoadCredential(ctx, "ws1", tc.provider)
			require.NoError(t, err, "Credential should be stored")
			require.Equal(t, cred, stored, "Stored credential should be the returned one")

			require.Zero(t, f.attempts.Len(), "The attempt should be consumed")
		})
	}
}

func TestFailedExchangeConsumesAttempt(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, fixtureOptions{
		providerOpts: []testutils.OptionProvider{testutils.WithHandler("/token", testutils.BadRequestHandler())},
		engineOpts:   []flow.Option{flow.WithStateSupplier(testutils.FixedStateSupplier("state-1"))},
	})
	ctx := context.Background()

	_, err := f.engine.BeginAuthorization(ctx, flow.AuthorizationRequest{Provider: staticProvider, WorkspaceID: "ws1", RedirectURI: redirectURI})
	require.NoError(t, err, "Setup: BeginAuthorization should not return an error")

	callback := flow.CallbackRequest{Provider: staticProvider, WorkspaceID: "ws1", Code: "authcode", State: "state-1"}
	_, _, err = f.engine.CompleteAuthorization(ctx, callback)
	require.ErrorIs(t, err, flow.ErrExchangeFailed, "First completion should fail at the exchange")

	_, _, err = f.engine.CompleteAuthorization(ctx, callback)
	require.ErrorIs(t, err, flow.ErrInvalidState, "A failed attempt should not be resumable")
}

func TestTokenRequestForm(t *testing.T) {
	t.Parallel()

	rec := &testutils.FormRecorder{}
	f := newEngineFixture(t, fixtureOptions{
		providerOpts: []testutils.OptionProvider{testutils.WithTokenRecorder(rec)},
		engineOpts:   []flow.Option{flow.WithStateSupplier(testutils.FixedStateSupplier("state-1"))},
	})
	ctx := context.Background()

	_, err := f.engine.BeginAuthorization(ctx, flow.AuthorizationRequest{Provider: staticProvider, WorkspaceID: "ws-override", RedirectURI: redirectURI})
	require.NoError(t, err, "Setup: BeginAuthorization should not return an error")

	_, _, err = f.engine.CompleteAuthorization(ctx, flow.CallbackRequest{Provider: staticProvider, WorkspaceID: "ws-override", Code: "authcode", State: "state-1"})
	require.NoError(t, err, "CompleteAuthorization should not return an error")

	forms := rec.Forms()
	require.Len(t, forms, 1, "Exactly one token request should be sent")
	form := forms[0]
	require.Equal(t, "authorization_code", form.Get("grant_type"), "grant_type should be authorization_code")
	require.Equal(t, "authcode", form.Get("code"), "code should be the callback code")
	require.Equal(t, "override-client-id", form.Get("client_id"), "client_id should be the workspace client")
	require.Equal(t, "override-client-secret", form.Get("client_secret"), "client_secret should be the workspace secret")
	require.Equal(t, redirectURI, form.Get("redirect_uri"), "redirect_uri should be the one of the attempt")
}

func TestConcurrentCompletionsOfSameState(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, fixtureOptions{
		engineOpts: []flow.Option{flow.WithStateSupplier(testutils.FixedStateSupplier("state-1"))},
	})
	ctx := context.Background()

	_, err := f.engine.BeginAuthorization(ctx, flow.AuthorizationRequest{Provider: staticProvider, WorkspaceID: "ws1", RedirectURI: redirectURI})
	require.NoError(t, err, "Setup: BeginAuthorization should not return an error")

	const callers = 10
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.engine.CompleteAuthorization(ctx, flow.CallbackRequest{
				Provider: staticProvider, WorkspaceID: "ws1", Code: "authcode", State: "state-1",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded int
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, flow.ErrInvalidState, "Losing callers should get an invalid state")
	}
	require.Equal(t, 1, succeeded, "Exactly one caller should complete the attempt")
}

func TestStateSupplierIsUsedForEachAttempt(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, fixtureOptions{
		engineOpts: []flow.Option{flow.WithStateSupplier(testutils.FixedStateSupplier("first", "second"))},
	})

	var states []string
	for range 2 {
		authURL, err := f.engine.BeginAuthorization(context.Background(), flow.AuthorizationRequest{
			Provider: staticProvider, WorkspaceID: "ws1", RedirectURI: redirectURI,
		})
		require.NoError(t, err, "BeginAuthorization should not return an error")
		u, err := url.Parse(authURL)
		require.NoError(t, err, "Authorization URL should be valid")
		states = append(states, u.Query().Get("state"))
	}

	require.Equal(t, []string{"first", "second"}, states, "Each attempt should take the next supplied state")
	require.Equal(t, 2, f.attempts.Len(), "Both attempts should be pending")
}

func TestEmptyStateIsRejected(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, fixtureOptions{
		engineOpts: []flow.Option{flow.WithStateSupplier(func() string { return "" })},
	})

	_, err := f.engine.BeginAuthorization(context.Background(), flow.AuthorizationRequest{
		Provider: staticProvider, WorkspaceID: "ws1", RedirectURI: redirectURI,
	})
	require.Error(t, err, "BeginAuthorization should refuse an empty state")
	require.Zero(t, f.attempts.Len(), "No attempt should be recorded")
}

func TestRandomState(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{})
	for range 100 {
		s := flow.RandomState()
		require.Regexp(t, `^[A-Za-z0-9_-]{43}$`, s, "State should be 32 bytes encoded in base64url")
		require.NotContains(t, seen, s, "States should not repeat")
		seen[s] = struct{}{}
	}
}

func TestDiscoveryIsDoneOnce(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, fixtureOptions{})
	for range 3 {
		_, err := f.engine.BeginAuthorization(context.Background(), flow.AuthorizationRequest{
			Provider: oidcProvider, WorkspaceID: "ws1", RedirectURI: redirectURI,
		})
		require.NoError(t, err, "BeginAuthorization should not return an error")
	}
	require.Equal(t, 1, f.engine.DiscoveredCount(), "The provider should be discovered once")
}

func TestSlowDiscoveryDoesNotBlockOtherProviders(t *testing.T) {
	t.Parallel()

	const slowProvider = "mock-slow-oidc"

	requested := make(chan struct{}, 1)
	slow, cleanup := testutils.StartMockProvider(
		testutils.WithHandler("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
			select {
			case requested <- struct{}{}:
			default:
			}
			testutils.HangingHandler(5*time.Second)(w, r)
		}),
	)
	t.Cleanup(cleanup)

	f := newEngineFixture(t, fixtureOptions{
		engineOpts:     []flow.Option{flow.WithExchangeTimeout(3 * time.Second)},
		extraProviders: []providers.Provider{genericprovider.New(slowProvider, slow.URL, "email")},
		extraClients:   map[string]credentials.ClientConfig{slowProvider: {ClientID: "slow-client-id"}},
	})

	slowDone := make(chan error, 1)
	go func() {
		_, err := f.engine.BeginAuthorization(context.Background(), flow.AuthorizationRequest{
			Provider: slowProvider, WorkspaceID: "ws1", RedirectURI: redirectURI,
		})
		slowDone <- err
	}()
	<-requested

	start := time.Now()
	_, err := f.engine.BeginAuthorization(context.Background(), flow.AuthorizationRequest{
		Provider: oidcProvider, WorkspaceID: "ws1", RedirectURI: redirectURI,
	})
	require.NoError(t, err, "BeginAuthorization should not return an error")
	require.Less(t, time.Since(start), time.Second, "Discovery of another provider should not wait on the slow one")

	err = <-slowDone
	require.ErrorIs(t, err, flow.ErrTransport, "Slow discovery should time out as a transport error")
}

func TestBeginAuthorizationStates(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		supplier flow.StateSupplier

		wantSameState bool
	}{
		"Default_supplier_gives_distinct_states":    {},
		"Fixed_supplier_gives_the_same_state_twice": {supplier: testutils.FixedStateSupplier("fixed-state"), wantSameState: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var opts []flow.Option
			if tc.supplier != nil {
				opts = append(opts, flow.WithStateSupplier(tc.supplier))
			}
			f := newEngineFixture(t, fixtureOptions{engineOpts: opts})

			var states []string
			for range 2 {
				authURL, err := f.engine.BeginAuthorization(context.Background(), flow.AuthorizationRequest{
					Provider: staticProvider, WorkspaceID: "ws1", RedirectURI: redirectURI,
				})
				require.NoError(t, err, "BeginAuthorization should not return an error")
				u, err := url.Parse(authURL)
				require.NoError(t, err, "Authorization URL should be valid")
				state := u.Query().Get("state")
				require.NotEmpty(t, state, "Authorization URL should carry a state")
				states = append(states, state)
			}

			if tc.wantSameState {
				require.Equal(t, []string{"fixed-state", "fixed-state"}, states, "Both attempts should carry the supplied state")
				return
			}
			require.NotEqual(t, states[0], states[1], "Each attempt should get its own state")
			require.Equal(t, 2, f.attempts.Len(), "Both attempts should be pending")
		})
	}
}

func TestProviders(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, fixtureOptions{})

	require.Equal(t, []flow.ProviderInfo{
		{Name: oidcProvider, Scope: "openid email"},
		{Name: unconfiguredProvider, Scope: youtubeScope},
		{Name: staticProvider, Scope: youtubeScope},
	}, f.engine.Providers(), "Providers should list all registered providers by name")
}

func TestExchangeError(t *testing.T) {
	t.Parallel()

	cause := errors.New("cause")
	tests := map[string]struct {
		err *flow.ExchangeError

		wantMsg string
	}{
		"With_provider_code_and_description": {
			err:     &flow.ExchangeError{Code: "invalid_grant", Description: "Bad Request", Err: cause},
			wantMsg: `token exchange failed: provider answered "invalid_grant" (Bad Request)`,
		},
		"With_provider_code_only": {
			err:     &flow.ExchangeError{Code: "invalid_grant", Err: cause},
			wantMsg: `token exchange failed: provider answered "invalid_grant"`,
		},
		"Without_provider_code": {
			err:     &flow.ExchangeError{Err: cause},
			wantMsg: "token exchange failed: cause",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.wantMsg, tc.err.Error(), "Error message should describe the failure")
			require.ErrorIs(t, tc.err, flow.ErrExchangeFailed, "ExchangeError should match ErrExchangeFailed")
			require.ErrorIs(t, tc.err, cause, "ExchangeError should wrap its cause")
		})
	}
}
