// Package credentials resolves the client configuration of each workspace and persists the
// credentials issued by the providers.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ubuntu/decorate"
	"github.com/ubuntu/oauth-flows/internal/stringutils"
)

var (
	// ErrNoClientConfig is returned when no client is configured for a workspace and provider.
	ErrNoClientConfig = errors.New("no client configuration")
	// ErrNoCredential is returned when no credential was stored for a workspace and provider.
	ErrNoCredential = errors.New("no stored credential")
)

// Credential is the outcome of a successful authorization.
type Credential struct {
	Provider     string    `json:"provider"`
	WorkspaceID  string    `json:"workspace_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Scope        string    `json:"scope"`
	Expiry       time.Time `json:"expiry,omitzero"`
	Subject      string    `json:"subject,omitempty"`
	Email        string    `json:"email,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (c Credential) validate() error {
	if !stringutils.IsPathComponent(c.Provider) {
		return fmt.Errorf("invalid provider %q", c.Provider)
	}
	if !stringutils.IsPathComponent(c.WorkspaceID) {
		return fmt.Errorf("invalid workspace id %q", c.WorkspaceID)
	}
	if c.AccessToken == "" {
		return errors.New("credential has no access token")
	}
	return nil
}

// Backend persists credentials, one per workspace and provider.
type Backend interface {
	Save(ctx context.Context, c Credential) error
	// Load returns ErrNoCredential when nothing is stored.
	Load(ctx context.Context, workspaceID, provider string) (Credential, error)
	Close() error
}

// codec serializes credentials, sealing them when a passphrase is set.
type codec struct {
	passphrase []byte
}

func (c codec) marshal(cred Credential) ([]byte, error) {
	data, err := json.Marshal(cred)
	if err != nil {
		return nil, err
	}
	if len(c.passphrase) == 0 {
		return data, nil
	}
	return encrypt(data, c.passphrase)
}

func (c codec) unmarshal(data []byte) (cred Credential, err error) {
	if len(c.passphrase) > 0 {
		if data, err = decrypt(data, c.passphrase); err != nil {
			return Credential{}, fmt.Errorf("could not decrypt credential: %w", err)
		}
	}
	if err := json.Unmarshal(data, &cred); err != nil {
		return Credential{}, err
	}
	return cred, nil
}

// Store gives access to client configurations and issued credentials.
type Store struct {
	clients Clients
	backend Backend
}

// NewStore returns a store serving clients and persisting through backend.
func NewStore(clients Clients, backend Backend) *Store {
	return &Store{clients: clients, backend: backend}
}

// GetClientConfig returns the client of workspaceID for provider.
// The workspace override wins over the instance-wide client.
func (s *Store) GetClientConfig(_ context.Context, workspaceID, provider string) (ClientConfig, error) {
	cfg, ok := s.clients.lookup(workspaceID, provider)
	if !ok || cfg.ClientID == "" {
		return ClientConfig{}, fmt.Errorf("%w for provider %q in workspace %q", ErrNoClientConfig, provider, workspaceID)
	}
	return cfg, nil
}

// SaveCredential stores c, replacing any previous credential of the same workspace and provider.
func (s *Store) SaveCredential(ctx context.Context, c Credential) (err error) {
	defer decorate.OnError(&err, "can't save credential")

	if err := c.validate(); err != nil {
		return err
	}
	return s.backend.Save(ctx, c)
}

// LoadCredential returns the credential of workspaceID for provider.
func (s *Store) LoadCredential(ctx context.Context, workspaceID, provider string) (c Credential, err error) {
	defer decorate.OnError(&err, "can't load credential")

	return s.backend.Load(ctx, workspaceID, provider)
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
