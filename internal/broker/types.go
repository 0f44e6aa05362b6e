package broker

import "time"

// InstanceState tracks a backing machine through its life.
type InstanceState string

const (
	InstanceProvisioning InstanceState = "provisioning"
	InstanceReady        InstanceState = "ready"
	InstanceError        InstanceState = "error"
	InstanceRemoving     InstanceState = "removing"
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// LogicalService is a named pool of interchangeable backing machines.
type LogicalService struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	PoolID       string    `json:"pool_id"`
	MaxInstances int       `json:"max_instances"`
	CreatedAt    time.Time `json:"created_at"`
}

// ServiceInstance is a concrete backing machine. OwnerUserID is nil while
// the instance sits unassigned in the pool; at most one instance per
// (owner, service) exists at any time.
type ServiceInstance struct {
	ID          string         `json:"id"`
	ServiceID   string         `json:"service_id"`
	OwnerUserID *string        `json:"owner_user_id,omitempty"`
	BackendRef  string         `json:"backend_ref"`
	Address     string         `json:"address"`
	State       InstanceState  `json:"state"`
	SourceIP    string         `json:"source_ip,omitempty"`
	SourceHost  string         `json:"source_host,omitempty"`
	AssignedAt  *time.Time     `json:"assigned_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
