package provisioning

import (
	"context"
	"errors"
)

// Instance states as reported by the backend.
type State string

const (
	StatePending State = "pending"
	StateReady   State = "ready"
	StateError   State = "error"
)

// InstanceRef identifies a backing machine on the provisioning side.
type InstanceRef struct {
	ID      string `json:"id"`
	Address string `json:"address,omitempty"`
	State   State  `json:"state"`
}

var ErrBackendUnavailable = errors.New("provisioning backend unavailable")

// Backend is the external pool/provisioning collaborator. Connect
// establishes or reuses the backend session and must be called before any
// request method; implementations keep it cheap when a session already
// exists.
type Backend interface {
	Connect(ctx context.Context) error
	// Acquire requests a machine for the service pool. A StatePending ref
	// means provisioning is in flight; callers surface that as the
	// retryable not-ready condition.
	Acquire(ctx context.Context, servicePoolID string) (InstanceRef, error)
	Status(ctx context.Context, refID string) (InstanceRef, error)
	Release(ctx context.Context, refID string) error
}
