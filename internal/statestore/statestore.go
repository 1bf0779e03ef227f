// Package statestore keeps the pending authorization attempts until their callback arrives.
package statestore

import (
	"context"
	"time"
)

// Attempt is one in-flight authorization, keyed by its state token.
type Attempt struct {
	State       string            `json:"state"`
	ID          string            `json:"id"`
	WorkspaceID string            `json:"workspace_id"`
	Provider    string            `json:"provider"`
	RedirectURI string            `json:"redirect_uri"`
	Payload     map[string]string `json:"payload,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

// Expired reports whether the attempt can no longer be completed at now.
func (a Attempt) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

// Store saves attempts and hands each of them out at most once.
type Store interface {
	// Save records the attempt for ttl. Saving an existing state overwrites it.
	Save(ctx context.Context, a Attempt, ttl time.Duration) error
	// Consume atomically returns and removes the attempt for state.
	// It returns nil, nil when no such attempt exists.
	Consume(ctx context.Context, state string) (*Attempt, error)
	Close() error
}
