package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vdi-broker/vdi-broker/internal/access"
)

// fakeRepo is an in-memory Repository with the same atomicity guarantees the
// postgres implementation provides.
type fakeRepo struct {
	mu        sync.Mutex
	users     map[string]User
	services  map[string]LogicalService
	instances map[string]ServiceInstance
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:     make(map[string]User),
		services:  make(map[string]LogicalService),
		instances: make(map[string]ServiceInstance),
	}
}

func (r *fakeRepo) addService(svc LogicalService) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[svc.ID] = svc
}

func (r *fakeRepo) addInstance(inst ServiceInstance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	r.instances[inst.ID] = inst
}

func (r *fakeRepo) instanceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

func (r *fakeRepo) instance(id string) (ServiceInstance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	return inst, ok
}

func (r *fakeRepo) UserByUsername(_ context.Context, username string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (r *fakeRepo) CreateUser(_ context.Context, username, passwordHash string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := User{ID: uuid.NewString(), Username: username, PasswordHash: passwordHash, CreatedAt: time.Now().UTC()}
	r.users[u.ID] = u
	return u, nil
}

func (r *fakeRepo) ServiceByID(_ context.Context, serviceID string) (LogicalService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.services[serviceID]
	if !ok {
		return LogicalService{}, fmt.Errorf("%w: service %s", ErrNotFound, serviceID)
	}
	return svc, nil
}

func (r *fakeRepo) ListServices(_ context.Context) ([]LogicalService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LogicalService
	for _, svc := range r.services {
		out = append(out, svc)
	}
	return out, nil
}

func (r *fakeRepo) AssignedInstance(_ context.Context, userID, serviceID string) (ServiceInstance, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.assignedLocked(userID, serviceID)
	return inst, ok, nil
}

func (r *fakeRepo) assignedLocked(userID, serviceID string) (ServiceInstance, bool) {
	for _, inst := range r.instances {
		if inst.ServiceID == serviceID && inst.OwnerUserID != nil && *inst.OwnerUserID == userID && inst.State != InstanceRemoving {
			return inst, true
		}
	}
	return ServiceInstance{}, false
}

func (r *fakeRepo) ClaimPooledInstance(_ context.Context, userID, serviceID string) (ServiceInstance, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, inst := range r.instances {
		if inst.ServiceID == serviceID && inst.OwnerUserID == nil && inst.State == InstanceReady {
			now := time.Now().UTC()
			inst.OwnerUserID = &userID
			inst.AssignedAt = &now
			r.instances[id] = inst
			return inst, true, nil
		}
	}
	return ServiceInstance{}, false, nil
}

func (r *fakeRepo) CreateAssignedInstance(_ context.Context, userID, serviceID, backendRef, address string, state InstanceState) (ServiceInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.assignedLocked(userID, serviceID); ok {
		return existing, nil
	}
	now := time.Now().UTC()
	inst := ServiceInstance{
		ID:          uuid.NewString(),
		ServiceID:   serviceID,
		OwnerUserID: &userID,
		BackendRef:  backendRef,
		Address:     address,
		State:       state,
		AssignedAt:  &now,
		CreatedAt:   now,
	}
	r.instances[inst.ID] = inst
	return inst, nil
}

func (r *fakeRepo) CountInstances(_ context.Context, serviceID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, inst := range r.instances {
		if inst.ServiceID == serviceID && inst.State != InstanceRemoving {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) InstancesInState(_ context.Context, state InstanceState) ([]ServiceInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ServiceInstance
	for _, inst := range r.instances {
		if inst.State == state {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpdateInstanceState(_ context.Context, instanceID string, state InstanceState, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[instanceID]
	if !ok {
		return fmt.Errorf("%w: instance %s", ErrNotFound, instanceID)
	}
	inst.State = state
	if address != "" {
		inst.Address = address
	}
	r.instances[instanceID] = inst
	return nil
}

func (r *fakeRepo) ReleaseInstance(_ context.Context, instanceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[instanceID]
	if !ok {
		return fmt.Errorf("%w: instance %s", ErrNotFound, instanceID)
	}
	inst.OwnerUserID = nil
	inst.AssignedAt = nil
	inst.State = InstanceRemoving
	r.instances[instanceID] = inst
	return nil
}

func (r *fakeRepo) SetConnectionSource(_ context.Context, instanceID, sourceIP, sourceHost string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[instanceID]
	if !ok {
		return fmt.Errorf("%w: instance %s", ErrNotFound, instanceID)
	}
	inst.SourceIP = sourceIP
	inst.SourceHost = sourceHost
	r.instances[instanceID] = inst
	return nil
}

type fakeAccess struct {
	mu      sync.Mutex
	granted map[string]bool
}

func newFakeAccess() *fakeAccess { return &fakeAccess{granted: make(map[string]bool)} }

func (a *fakeAccess) grant(userID, serviceID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.granted[userID+"/"+serviceID] = true
}

func (a *fakeAccess) HasAccess(_ context.Context, userID, serviceID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.granted[userID+"/"+serviceID], nil
}

func (a *fakeAccess) Capabilities() access.CapabilitySet { return 0 }
