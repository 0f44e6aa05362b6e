package provisioning

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Fake is a canned in-process backend for tests and demo wiring. It is bound
// explicitly by the caller; there is no global simulation toggle.
type Fake struct {
	mu       sync.Mutex
	machines map[string]InstanceRef

	// ReadyImmediately makes Acquire hand out a ready machine right away
	// instead of a pending one.
	ReadyImmediately bool
	// NextAddress is assigned to the next machine that becomes ready.
	NextAddress string
}

func NewFake() *Fake {
	return &Fake{machines: make(map[string]InstanceRef), NextAddress: "10.0.0.5"}
}

func (f *Fake) Connect(context.Context) error { return nil }

func (f *Fake) Acquire(_ context.Context, servicePoolID string) (InstanceRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := InstanceRef{ID: "machine-" + uuid.NewString(), State: StatePending}
	if f.ReadyImmediately {
		ref.State = StateReady
		ref.Address = f.NextAddress
	}
	f.machines[ref.ID] = ref
	return ref, nil
}

func (f *Fake) Status(_ context.Context, refID string) (InstanceRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.machines[refID]
	if !ok {
		return InstanceRef{}, fmt.Errorf("%w: unknown machine %s", ErrBackendUnavailable, refID)
	}
	return ref, nil
}

func (f *Fake) Release(_ context.Context, refID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.machines, refID)
	return nil
}

// MarkReady flips a pending machine to ready at the given address.
func (f *Fake) MarkReady(refID, address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ref, ok := f.machines[refID]; ok {
		ref.State = StateReady
		ref.Address = address
		f.machines[refID] = ref
	}
}

// MarkError flips a machine into the error state.
func (f *Fake) MarkError(refID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ref, ok := f.machines[refID]; ok {
		ref.State = StateError
		f.machines[refID] = ref
	}
}
