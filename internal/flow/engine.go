// Package flow is the generic OAuth authorization-code engine shared by all providers.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/ubuntu/decorate"
	"github.com/ubuntu/oauth-flows/internal/consts"
	"github.com/ubuntu/oauth-flows/internal/credentials"
	"github.com/ubuntu/oauth-flows/internal/providers"
	"github.com/ubuntu/oauth-flows/internal/statestore"
	"github.com/ubuntu/oauth-flows/internal/stringutils"
	"golang.org/x/oauth2"
)

// CredentialStore resolves the client of a workspace and keeps the issued credentials.
type CredentialStore interface {
	GetClientConfig(ctx context.Context, workspaceID, provider string) (credentials.ClientConfig, error)
	SaveCredential(ctx context.Context, c credentials.Credential) error
}

// AuthorizationRequest starts an attempt.
type AuthorizationRequest struct {
	Provider    string
	WorkspaceID string
	RedirectURI string
	// Payload is opaque caller data handed back when the attempt completes.
	Payload map[string]string
}

// CallbackRequest carries what the provider redirected back with.
type CallbackRequest struct {
	Provider    string
	WorkspaceID string
	Code        string
	State       string
}

// ProviderInfo describes a registered provider.
type ProviderInfo struct {
	Name  string
	Scope string
}

// Engine builds authorization URLs and completes code exchanges for every registered provider.
type Engine struct {
	registry *providers.Registry
	store    CredentialStore
	attempts statestore.Store

	nextState       StateSupplier
	httpClient      *http.Client
	attemptTTL      time.Duration
	exchangeTimeout time.Duration
	now             func() time.Time

	discovered   map[string]*discovery
	discoveredMu sync.Mutex
}

// discovery is the OIDC provider of one issuer, resolved on first use.
type discovery struct {
	mu       sync.Mutex
	provider *oidc.Provider
}

type options struct {
	stateSupplier   StateSupplier
	httpClient      *http.Client
	attemptTTL      time.Duration
	exchangeTimeout time.Duration

	// private member that we export for tests.
	now func() time.Time
}

// Option is the function signature used to tweak the engine creation.
type Option func(*options)

// WithStateSupplier replaces the random state generator, typically with a deterministic one in tests.
func WithStateSupplier(s StateSupplier) Option {
	return func(o *options) {
		if s != nil {
			o.stateSupplier = s
		}
	}
}

// WithHTTPClient sets the client used to reach the providers.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithAttemptTTL sets how long an attempt waits for its callback.
func WithAttemptTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.attemptTTL = d
		}
	}
}

// WithExchangeTimeout bounds each call to a provider.
func WithExchangeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.exchangeTimeout = d
		}
	}
}

// New returns an engine serving the providers of registry.
func New(registry *providers.Registry, store CredentialStore, attempts statestore.Store, args ...Option) (e *Engine, err error) {
	defer decorate.OnError(&err, "could not create flow engine")

	if registry == nil {
		err = errors.Join(err, errors.New("provider registry is required"))
	}
	if store == nil {
		err = errors.Join(err, errors.New("credential store is required"))
	}
	if attempts == nil {
		err = errors.Join(err, errors.New("attempt store is required"))
	}
	if err != nil {
		return nil, err
	}

	opts := options{
		stateSupplier:   RandomState,
		httpClient:      http.DefaultClient,
		attemptTTL:      consts.DefaultAttemptTTL,
		exchangeTimeout: consts.DefaultExchangeTimeout,
		now:             time.Now,
	}
	for _, arg := range args {
		arg(&opts)
	}

	return &Engine{
		registry: registry,
		store:    store,
		attempts: attempts,

		nextState:       opts.stateSupplier,
		httpClient:      opts.httpClient,
		attemptTTL:      opts.attemptTTL,
		exchangeTimeout: opts.exchangeTimeout,
		now:             opts.now,

		discovered: make(map[string]*discovery),
	}, nil
}

// Providers lists the registered providers, sorted by name.
func (e *Engine) Providers() []ProviderInfo {
	var infos []ProviderInfo
	for _, cfg := range e.registry.List() {
		infos = append(infos, ProviderInfo{Name: cfg.Name, Scope: cfg.Scope})
	}
	return infos
}

// BeginAuthorization records a new attempt and returns the URL the user must visit to grant access.
func (e *Engine) BeginAuthorization(ctx context.Context, req AuthorizationRequest) (authURL string, err error) {
	defer decorate.OnError(&err, "could not begin authorization with provider %q", req.Provider)

	cfg, ok := e.registry.Get(req.Provider)
	if !ok {
		return "", ErrUnknownProvider
	}
	if !stringutils.IsPathComponent(req.WorkspaceID) {
		return "", fmt.Errorf("%w: invalid workspace id %q", ErrInvalidRequest, req.WorkspaceID)
	}
	if err := validateRedirectURI(req.RedirectURI); err != nil {
		return "", err
	}

	client, err := e.clientConfig(ctx, req.WorkspaceID, cfg.Name)
	if err != nil {
		return "", err
	}

	endpoint, _, err := e.endpoint(ctx, cfg)
	if err != nil {
		return "", err
	}

	state := e.nextState()
	if state == "" {
		return "", errors.New("state supplier returned an empty state")
	}

	now := e.now()
	attempt := statestore.Attempt{
		State:       state,
		ID:          uuid.New().String(),
		WorkspaceID: req.WorkspaceID,
		Provider:    cfg.Name,
		RedirectURI: req.RedirectURI,
		Payload:     req.Payload,
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.attemptTTL),
	}
	if err := e.attempts.Save(ctx, attempt, e.attemptTTL); err != nil {
		return "", err
	}

	oauthCfg := oauth2Config(cfg, client, endpoint, req.RedirectURI)
	authURL = oauthCfg.AuthCodeURL(state, cfg.AuthOptions...)

	slog.Info("Authorization started",
		"attempt", attempt.ID, "provider", cfg.Name, "workspace_id", req.WorkspaceID, "expires_at", attempt.ExpiresAt)

	return authURL, nil
}

// CompleteAuthorization consumes the attempt matching the state, exchanges the code and stores
// the resulting credential. The payload given when the attempt began is returned along with it.
//
// An attempt is consumed before the exchange: whatever the outcome, the same state can not be used twice.
func (e *Engine) CompleteAuthorization(ctx context.Context, req CallbackRequest) (cred credentials.Credential, payload map[string]string, err error) {
	defer decorate.OnError(&err, "could not complete authorization with provider %q", req.Provider)

	cfg, ok := e.registry.Get(req.Provider)
	if !ok {
		return credentials.Credential{}, nil, ErrUnknownProvider
	}
	if req.State == "" {
		return credentials.Credential{}, nil, fmt.Errorf("%w: no state was provided", ErrInvalidState)
	}
	if req.Code == "" {
		return credentials.Credential{}, nil, fmt.Errorf("%w: authorization code is required", ErrInvalidRequest)
	}

	attempt, err := e.attempts.Consume(ctx, req.State)
	if err != nil {
		return credentials.Credential{}, nil, err
	}
	if attempt == nil {
		slog.Warn("Rejected callback with unknown or already used state", "provider", cfg.Name, "workspace_id", req.WorkspaceID)
		return credentials.Credential{}, nil, fmt.Errorf("%w: unknown or already used", ErrInvalidState)
	}

	log := slog.With("attempt", attempt.ID, "provider", cfg.Name, "workspace_id", attempt.WorkspaceID)

	if attempt.Expired(e.now()) {
		log.Warn("Rejected callback for expired attempt")
		return credentials.Credential{}, nil, fmt.Errorf("%w: attempt expired at %s", ErrInvalidState, attempt.ExpiresAt.Format(time.RFC3339))
	}
	if attempt.Provider != cfg.Name || attempt.WorkspaceID != req.WorkspaceID {
		log.Warn("Rejected callback for another workspace or provider", "callback_workspace_id", req.WorkspaceID, "callback_provider", req.Provider)
		return credentials.Credential{}, nil, fmt.Errorf("%w: attempt was not issued for this workspace and provider", ErrInvalidState)
	}

	client, err := e.clientConfig(ctx, attempt.WorkspaceID, cfg.Name)
	if err != nil {
		return credentials.Credential{}, nil, err
	}

	endpoint, verifier, err := e.endpoint(ctx, cfg)
	if err != nil {
		return credentials.Credential{}, nil, err
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, e.exchangeTimeout)
	defer cancel()
	exchangeCtx = context.WithValue(exchangeCtx, oauth2.HTTPClient, e.httpClient)

	oauthCfg := oauth2Config(cfg, client, endpoint, attempt.RedirectURI)
	token, err := oauthCfg.Exchange(exchangeCtx, req.Code)
	if err != nil {
		err = classifyExchangeError(err)
		log.Warn("Token exchange failed", "error", err)
		return credentials.Credential{}, nil, err
	}

	if cfg.RequireRefreshToken && token.RefreshToken == "" {
		log.Warn("Token response has no refresh token")
		return credentials.Credential{}, nil, &ExchangeError{Err: errors.New("response has no refresh token")}
	}

	cred = credentials.Credential{
		Provider:     cfg.Name,
		WorkspaceID:  attempt.WorkspaceID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.Type(),
		Scope:        grantedScope(token, cfg.Scope),
		Expiry:       token.Expiry.UTC().Round(0),
		CreatedAt:    e.now().UTC().Round(0),
	}

	if verifier != nil {
		if err := e.verifyIdentity(exchangeCtx, verifier, client.ClientID, token, &cred); err != nil {
			log.Warn("ID token verification failed", "error", err)
			return credentials.Credential{}, nil, &ExchangeError{Err: err}
		}
	}

	if err := e.store.SaveCredential(ctx, cred); err != nil {
		return credentials.Credential{}, nil, err
	}

	log.Info("Authorization completed", "scope", cred.Scope)
	return cred, attempt.Payload, nil
}

func (e *Engine) clientConfig(ctx context.Context, workspaceID, provider string) (credentials.ClientConfig, error) {
	client, err := e.store.GetClientConfig(ctx, workspaceID, provider)
	if errors.Is(err, credentials.ErrNoClientConfig) {
		return credentials.ClientConfig{}, fmt.Errorf("%w: %w", ErrConfigurationMissing, err)
	}
	if err != nil {
		return credentials.ClientConfig{}, err
	}
	return client, nil
}

// endpoint returns the endpoint of cfg. OIDC providers are discovered on first use and their
// ID token verifier is returned too. Only callers of the same provider wait on each other.
func (e *Engine) endpoint(ctx context.Context, cfg providers.FlowConfig) (oauth2.Endpoint, *oidc.Provider, error) {
	if cfg.Issuer == "" {
		return cfg.Endpoint, nil, nil
	}

	d := e.discoveryOf(cfg.Name)
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.provider != nil {
		return d.provider.Endpoint(), d.provider, nil
	}

	p, err := e.discover(ctx, cfg.Issuer)
	if err != nil {
		if isTransportError(err) {
			return oauth2.Endpoint{}, nil, fmt.Errorf("%w: discovery of %s: %w", ErrTransport, cfg.Issuer, err)
		}
		return oauth2.Endpoint{}, nil, fmt.Errorf("discovery of %s: %w", cfg.Issuer, err)
	}
	d.provider = p
	return p.Endpoint(), p, nil
}

func (e *Engine) discoveryOf(name string) *discovery {
	e.discoveredMu.Lock()
	defer e.discoveredMu.Unlock()

	d, ok := e.discovered[name]
	if !ok {
		d = &discovery{}
		e.discovered[name] = d
	}
	return d
}

func (e *Engine) discover(ctx context.Context, issuer string) (*oidc.Provider, error) {
	ctx, cancel := context.WithTimeout(ctx, e.exchangeTimeout)
	defer cancel()

	return oidc.NewProvider(oidc.ClientContext(ctx, e.httpClient), issuer)
}

type identityClaims struct {
	Email string `json:"email"`
}

func (e *Engine) verifyIdentity(ctx context.Context, p *oidc.Provider, clientID string, token *oauth2.Token, cred *credentials.Credential) error {
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return errors.New("response has no ID token")
	}

	idToken, err := p.Verifier(&oidc.Config{ClientID: clientID, Now: e.now}).Verify(ctx, rawIDToken)
	if err != nil {
		return fmt.Errorf("could not verify ID token: %w", err)
	}

	var claims identityClaims
	if err := idToken.Claims(&claims); err != nil {
		return fmt.Errorf("could not read ID token claims: %w", err)
	}

	cred.Subject = idToken.Subject
	cred.Email = claims.Email
	return nil
}

func oauth2Config(cfg providers.FlowConfig, client credentials.ClientConfig, endpoint oauth2.Endpoint, redirectURI string) oauth2.Config {
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	return oauth2.Config{
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  redirectURI,
		Scopes:       cfg.Scopes(),
	}
}

// grantedScope returns the scope granted by the provider, or the requested one if the
// response does not tell.
func grantedScope(token *oauth2.Token, requested string) string {
	granted, ok := token.Extra("scope").(string)
	if !ok {
		return requested
	}
	if granted = strings.Join(strings.Fields(granted), " "); granted == "" {
		return requested
	}
	return granted
}

func validateRedirectURI(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: redirect uri is required", ErrInvalidRequest)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: redirect uri: %w", ErrInvalidRequest, err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("%w: redirect uri %q must be an absolute http(s) URL", ErrInvalidRequest, raw)
	}
	if u.Fragment != "" {
		return fmt.Errorf("%w: redirect uri %q must not have a fragment", ErrInvalidRequest, raw)
	}
	return nil
}
