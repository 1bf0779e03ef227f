package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/ubuntu/decorate"
	"github.com/ubuntu/oauth-flows/internal/credentials"
	"github.com/ubuntu/oauth-flows/internal/providers"
	"github.com/ubuntu/oauth-flows/internal/providers/genericprovider"
	"github.com/ubuntu/oauth-flows/internal/statestore"
)

// components are the long-lived dependencies of the flow engine.
type components struct {
	registry *providers.Registry
	store    *credentials.Store
	attempts statestore.Store
}

func newComponents(ctx context.Context, config daemonConfig) (c *components, err error) {
	defer decorate.OnError(&err, "can't initialize components")

	clients, err := credentials.ParseClientsFile(config.Paths.Clients)
	if err != nil {
		return nil, err
	}

	ps := providers.Default()
	for _, p := range clients.OIDC {
		ps = append(ps, genericprovider.New(p.Name, p.Issuer, p.Scope))
	}
	registry, err := providers.NewRegistry(ps...)
	if err != nil {
		return nil, err
	}

	backend, err := newCredentialBackend(config.Paths.DataDir, config.Storage)
	if err != nil {
		return nil, err
	}
	store := credentials.NewStore(clients, backend)

	attempts, err := newAttemptStore(ctx, config.State)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	slog.Debug("Components initialized", "storage_backend", config.Storage.Backend, "state_backend", config.State.Backend)

	return &components{
		registry: registry,
		store:    store,
		attempts: attempts,
	}, nil
}

func newCredentialBackend(dataDir string, config storageConfig) (credentials.Backend, error) {
	switch config.Backend {
	case storageBackendFiles:
		return credentials.NewFileBackend(dataDir, config.Passphrase), nil
	case storageBackendSQLite:
		return credentials.OpenSQLite(filepath.Join(dataDir, sqliteFileName), config.Passphrase)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", config.Backend)
	}
}

func newAttemptStore(ctx context.Context, config stateConfig) (statestore.Store, error) {
	switch config.Backend {
	case stateBackendMemory:
		return statestore.NewMemory(attemptPurgeInterval), nil
	case stateBackendRedis:
		return statestore.DialRedis(ctx, config.RedisAddr)
	default:
		return nil, fmt.Errorf("unknown attempt store backend %q", config.Backend)
	}
}

func (c *components) close() {
	for name, r := range map[string]io.Closer{"credential store": c.store, "attempt store": c.attempts} {
		if err := r.Close(); err != nil {
			slog.Warn("Could not close component", "component", name, "error", err)
		}
	}
}
