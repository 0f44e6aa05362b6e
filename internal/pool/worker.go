package pool

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vdi-broker/vdi-broker/internal/broker"
	"github.com/vdi-broker/vdi-broker/internal/contracts"
	"github.com/vdi-broker/vdi-broker/internal/provisioning"
)

type Publisher interface {
	Publish(subject string, data []byte) error
}

// Repository is the instance-state slice of the broker repository the
// worker needs.
type Repository interface {
	InstancesInState(ctx context.Context, state broker.InstanceState) ([]broker.ServiceInstance, error)
	UpdateInstanceState(ctx context.Context, instanceID string, state broker.InstanceState, address string) error
}

// Worker reconciles provisioning instances against the backend: machines
// that came up are promoted to ready, machines the backend gave up on are
// marked errored.
type Worker struct {
	repo      Repository
	backend   provisioning.Backend
	publisher Publisher
	logger    zerolog.Logger
	now       func() time.Time
	newID     func() string
}

func NewWorker(repo Repository, backend provisioning.Backend, publisher Publisher, logger zerolog.Logger) *Worker {
	return &Worker{
		repo:      repo,
		backend:   backend,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// ProcessOnce runs a single reconciliation sweep. Per-instance failures are
// logged and skipped so one bad machine cannot stall the rest of the sweep.
func (w *Worker) ProcessOnce(ctx context.Context) error {
	if err := w.backend.Connect(ctx); err != nil {
		return err
	}
	instances, err := w.repo.InstancesInState(ctx, broker.InstanceProvisioning)
	if err != nil {
		return err
	}
	for _, inst := range instances {
		if err := w.reconcile(ctx, inst); err != nil {
			w.logger.Warn().Err(err).Str("instance_id", inst.ID).Msg("could not reconcile instance")
		}
	}
	return nil
}

func (w *Worker) reconcile(ctx context.Context, inst broker.ServiceInstance) error {
	ref, err := w.backend.Status(ctx, inst.BackendRef)
	if err != nil {
		return err
	}
	switch ref.State {
	case provisioning.StateReady:
		if err := w.repo.UpdateInstanceState(ctx, inst.ID, broker.InstanceReady, ref.Address); err != nil {
			return err
		}
		w.logger.Info().Str("instance_id", inst.ID).Str("address", ref.Address).Msg("instance ready")
		return w.publishReady(inst, ref.Address)
	case provisioning.StateError:
		if err := w.repo.UpdateInstanceState(ctx, inst.ID, broker.InstanceError, ""); err != nil {
			return err
		}
		w.logger.Warn().Str("instance_id", inst.ID).Msg("instance failed to provision")
		return nil
	default:
		return nil
	}
}

func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.ProcessOnce(ctx); err != nil {
				w.logger.Error().Err(err).Msg("reconcile sweep failed")
			}
		}
	}
}

func (w *Worker) publishReady(inst broker.ServiceInstance, address string) error {
	if w.publisher == nil {
		return nil
	}
	payload := contracts.InstanceReadyV1{InstanceID: inst.ID, ServiceID: inst.ServiceID, Address: address}
	raw, err := contracts.MarshalV1(w.newID(), contracts.EventInstanceReady, w.now(), "", inst.OwnerUserID, payload)
	if err != nil {
		return err
	}
	return w.publisher.Publish(contracts.SubjectInstanceReady, raw)
}
