package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vdi-broker/vdi-broker/internal/access"
	"github.com/vdi-broker/vdi-broker/internal/provisioning"
	"github.com/vdi-broker/vdi-broker/internal/transport"
)

// Resolution is the explicit outcome of an assignment resolution. Either
// Ready is true and the handles are populated, or Code carries the
// retryable not-ready condition. Terminal failures are returned as errors.
type Resolution struct {
	Ready     bool
	Code      ErrorCode
	Address   string
	Instance  ServiceInstance
	Service   LogicalService
	Transport transport.Transport
}

func notReady(code ErrorCode) Resolution { return Resolution{Code: code} }

// Resolver maps (user, logical service, transport) to a concrete ready
// machine, provisioning one when the user has no assignment yet.
type Resolver struct {
	repo       Repository
	registry   *transport.Registry
	negotiator *transport.Negotiator
	backend    provisioning.Backend
	access     access.Provider
	logger     zerolog.Logger
}

func NewResolver(repo Repository, registry *transport.Registry, negotiator *transport.Negotiator, backend provisioning.Backend, accessProvider access.Provider, logger zerolog.Logger) *Resolver {
	return &Resolver{
		repo:       repo,
		registry:   registry,
		negotiator: negotiator,
		backend:    backend,
		access:     accessProvider,
		logger:     logger,
	}
}

// Resolve is idempotent per request: repeated calls for the same
// (user, service) re-check state without duplicating side effects, so a
// polling client can retry freely while provisioning is in flight.
func (r *Resolver) Resolve(ctx context.Context, userID, serviceID, transportID, clientOS, clientIP string, validateAccess bool) (Resolution, error) {
	svc, err := r.repo.ServiceByID(ctx, serviceID)
	if err != nil {
		return Resolution{}, err
	}
	tr, ok := r.registry.ForService(serviceID, transportID)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: transport %s for service %s", ErrNotFound, transportID, serviceID)
	}

	if validateAccess {
		granted, err := r.access.HasAccess(ctx, userID, serviceID)
		if err != nil {
			return Resolution{}, fmt.Errorf("access check: %w", err)
		}
		if !granted {
			return Resolution{}, fmt.Errorf("%w: user %s on service %s", ErrAccessDenied, userID, serviceID)
		}
	}

	inst, assigned, err := r.repo.AssignedInstance(ctx, userID, serviceID)
	if err != nil {
		return Resolution{}, err
	}
	if !assigned {
		inst, err = r.assign(ctx, userID, svc)
		if err != nil {
			return Resolution{}, err
		}
	}

	switch inst.State {
	case InstanceProvisioning:
		return notReady(CodeServicePreparing), nil
	case InstanceError:
		return Resolution{}, fmt.Errorf("%w: instance %s", ErrInstanceDown, inst.ID)
	case InstanceRemoving:
		return Resolution{}, fmt.Errorf("%w: instance %s is being removed", ErrNotFound, inst.ID)
	}

	// Probe outside any assignment write; a slow listener must not hold
	// the assignment path.
	available, err := r.negotiator.IsAvailable(ctx, tr, inst.Address)
	if err != nil {
		return Resolution{}, err
	}
	if !available {
		return notReady(CodeTransportNotReady), nil
	}

	r.logger.Debug().
		Str("user_id", userID).
		Str("service_id", serviceID).
		Str("instance_id", inst.ID).
		Str("transport_id", tr.ID).
		Msg("assignment resolved")

	return Resolution{
		Ready:     true,
		Address:   inst.Address,
		Instance:  inst,
		Service:   svc,
		Transport: tr,
	}, nil
}

func (r *Resolver) assign(ctx context.Context, userID string, svc LogicalService) (ServiceInstance, error) {
	if inst, ok, err := r.repo.ClaimPooledInstance(ctx, userID, svc.ID); err != nil {
		return ServiceInstance{}, err
	} else if ok {
		return inst, nil
	}

	count, err := r.repo.CountInstances(ctx, svc.ID)
	if err != nil {
		return ServiceInstance{}, err
	}
	if svc.MaxInstances > 0 && count >= svc.MaxInstances {
		return ServiceInstance{}, fmt.Errorf("%w: service %s", ErrMaxServices, svc.ID)
	}

	if err := r.backend.Connect(ctx); err != nil {
		return ServiceInstance{}, err
	}
	ref, err := r.backend.Acquire(ctx, svc.PoolID)
	if err != nil {
		return ServiceInstance{}, err
	}

	state := InstanceProvisioning
	if ref.State == provisioning.StateReady {
		state = InstanceReady
	}
	inst, err := r.repo.CreateAssignedInstance(ctx, userID, svc.ID, ref.ID, ref.Address, state)
	if err != nil {
		return ServiceInstance{}, err
	}
	// Lost the race: another resolve created the assignment first. Hand
	// the surplus machine back so the pool does not leak.
	if inst.BackendRef != ref.ID {
		if releaseErr := r.backend.Release(ctx, ref.ID); releaseErr != nil {
			r.logger.Warn().Err(releaseErr).Str("backend_ref", ref.ID).Msg("could not release surplus machine")
		}
	}
	return inst, nil
}

// IsTerminal reports whether a resolve error is one of the broker's
// non-retryable conditions rather than an internal failure.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrMaxServices) || errors.Is(err, ErrInstanceDown)
}
