package pool

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vdi-broker/vdi-broker/internal/broker"
	"github.com/vdi-broker/vdi-broker/internal/contracts"
	"github.com/vdi-broker/vdi-broker/internal/provisioning"
)

type memRepo struct {
	mu        sync.Mutex
	instances map[string]broker.ServiceInstance
}

func newMemRepo() *memRepo {
	return &memRepo{instances: make(map[string]broker.ServiceInstance)}
}

func (r *memRepo) add(inst broker.ServiceInstance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.ID] = inst
}

func (r *memRepo) get(id string) broker.ServiceInstance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.instances[id]
}

func (r *memRepo) InstancesInState(_ context.Context, state broker.InstanceState) ([]broker.ServiceInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []broker.ServiceInstance
	for _, inst := range r.instances {
		if inst.State == state {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (r *memRepo) UpdateInstanceState(_ context.Context, instanceID string, state broker.InstanceState, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst := r.instances[instanceID]
	inst.State = state
	if address != "" {
		inst.Address = address
	}
	r.instances[instanceID] = inst
	return nil
}

type capturingPublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newCapturingPublisher() *capturingPublisher {
	return &capturingPublisher{messages: make(map[string][][]byte)}
}

func (p *capturingPublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[subject] = append(p.messages[subject], data)
	return nil
}

func (p *capturingPublisher) count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages[subject])
}

func TestProcessOncePromotesReadyMachines(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newMemRepo()
	backend := provisioning.NewFake()
	pub := newCapturingPublisher()
	w := NewWorker(repo, backend, pub, zerolog.Nop())

	ref, err := backend.Acquire(ctx, "pool-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	owner := "user-1"
	repo.add(broker.ServiceInstance{ID: "inst-1", ServiceID: "desktop1", OwnerUserID: &owner, BackendRef: ref.ID, State: broker.InstanceProvisioning})

	// Still pending: nothing should change.
	if err := w.ProcessOnce(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := repo.get("inst-1").State; got != broker.InstanceProvisioning {
		t.Fatalf("expected still provisioning, got %s", got)
	}
	if pub.count(contracts.SubjectInstanceReady) != 0 {
		t.Fatal("premature ready event")
	}

	backend.MarkReady(ref.ID, "10.1.2.3")
	if err := w.ProcessOnce(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	inst := repo.get("inst-1")
	if inst.State != broker.InstanceReady || inst.Address != "10.1.2.3" {
		t.Fatalf("expected ready at 10.1.2.3, got %+v", inst)
	}
	if pub.count(contracts.SubjectInstanceReady) != 1 {
		t.Fatalf("expected one ready event, got %d", pub.count(contracts.SubjectInstanceReady))
	}

	// Idempotent: the promoted instance leaves the sweep's working set.
	if err := w.ProcessOnce(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	if pub.count(contracts.SubjectInstanceReady) != 1 {
		t.Fatal("duplicate ready event on repeated sweep")
	}
}

func TestProcessOnceMarksFailedMachines(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newMemRepo()
	backend := provisioning.NewFake()
	pub := newCapturingPublisher()
	w := NewWorker(repo, backend, pub, zerolog.Nop())

	ref, err := backend.Acquire(ctx, "pool-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	repo.add(broker.ServiceInstance{ID: "inst-1", ServiceID: "desktop1", BackendRef: ref.ID, State: broker.InstanceProvisioning})
	backend.MarkError(ref.ID)

	if err := w.ProcessOnce(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := repo.get("inst-1").State; got != broker.InstanceError {
		t.Fatalf("expected error state, got %s", got)
	}
	if pub.count(contracts.SubjectInstanceReady) != 0 {
		t.Fatal("failed machine must not emit a ready event")
	}
}

func TestProcessOnceSkipsUnknownBackendRef(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newMemRepo()
	backend := provisioning.NewFake()
	w := NewWorker(repo, backend, newCapturingPublisher(), zerolog.Nop())

	repo.add(broker.ServiceInstance{ID: "inst-1", ServiceID: "desktop1", BackendRef: "machine-gone", State: broker.InstanceProvisioning})

	// Backend no longer knows the machine; the sweep logs and moves on.
	if err := w.ProcessOnce(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := repo.get("inst-1").State; got != broker.InstanceProvisioning {
		t.Fatalf("unknown ref must not change state, got %s", got)
	}
}
