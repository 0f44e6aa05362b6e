package broker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Repository persists users, logical services and instance assignments.
// Implementations must make CreateAssignedInstance and ClaimPooledInstance
// atomic so concurrent resolves for the same (user, service) converge on one
// instance.
type Repository interface {
	UserByUsername(ctx context.Context, username string) (User, error)
	CreateUser(ctx context.Context, username, passwordHash string) (User, error)

	ServiceByID(ctx context.Context, serviceID string) (LogicalService, error)
	ListServices(ctx context.Context) ([]LogicalService, error)

	AssignedInstance(ctx context.Context, userID, serviceID string) (ServiceInstance, bool, error)
	// ClaimPooledInstance atomically assigns an unowned ready instance to
	// the user. ok is false when the pool has none.
	ClaimPooledInstance(ctx context.Context, userID, serviceID string) (ServiceInstance, bool, error)
	// CreateAssignedInstance inserts a new instance owned by the user. If a
	// concurrent resolve already created one, the existing instance is
	// returned instead.
	CreateAssignedInstance(ctx context.Context, userID, serviceID, backendRef, address string, state InstanceState) (ServiceInstance, error)
	CountInstances(ctx context.Context, serviceID string) (int, error)

	InstancesInState(ctx context.Context, state InstanceState) ([]ServiceInstance, error)
	UpdateInstanceState(ctx context.Context, instanceID string, state InstanceState, address string) error
	ReleaseInstance(ctx context.Context, instanceID string) error
	SetConnectionSource(ctx context.Context, instanceID, sourceIP, sourceHost string) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const instanceColumns = `id::text, service_id::text, owner_user_id::text, backend_ref, address, state, source_ip, source_host, assigned_at, created_at`

func scanInstance(row interface{ Scan(...any) error }) (ServiceInstance, error) {
	var inst ServiceInstance
	var owner sql.NullString
	var sourceIP, sourceHost sql.NullString
	var assignedAt sql.NullTime
	err := row.Scan(&inst.ID, &inst.ServiceID, &owner, &inst.BackendRef, &inst.Address, &inst.State, &sourceIP, &sourceHost, &assignedAt, &inst.CreatedAt)
	if err != nil {
		return ServiceInstance{}, err
	}
	if owner.Valid {
		inst.OwnerUserID = &owner.String
	}
	inst.SourceIP = sourceIP.String
	inst.SourceHost = sourceHost.String
	if assignedAt.Valid {
		inst.AssignedAt = &assignedAt.Time
	}
	return inst, nil
}

func (r *PostgresRepository) UserByUsername(ctx context.Context, username string) (User, error) {
	const q = `SELECT id::text, username, password_hash, created_at FROM users WHERE username = $1`
	var u User
	err := r.db.QueryRowContext(ctx, q, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (r *PostgresRepository) CreateUser(ctx context.Context, username, passwordHash string) (User, error) {
	const q = `INSERT INTO users (id, username, password_hash) VALUES ($1, $2, $3) RETURNING id::text, username, password_hash, created_at`
	var u User
	err := r.db.QueryRowContext(ctx, q, uuid.NewString(), username, passwordHash).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	return u, err
}

func (r *PostgresRepository) ServiceByID(ctx context.Context, serviceID string) (LogicalService, error) {
	const q = `SELECT id::text, name, pool_id, max_instances, created_at FROM logical_services WHERE id = $1`
	var svc LogicalService
	err := r.db.QueryRowContext(ctx, q, serviceID).Scan(&svc.ID, &svc.Name, &svc.PoolID, &svc.MaxInstances, &svc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return LogicalService{}, ErrNotFound
	}
	return svc, err
}

func (r *PostgresRepository) ListServices(ctx context.Context) ([]LogicalService, error) {
	const q = `SELECT id::text, name, pool_id, max_instances, created_at FROM logical_services ORDER BY name`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LogicalService
	for rows.Next() {
		var svc LogicalService
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.PoolID, &svc.MaxInstances, &svc.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) AssignedInstance(ctx context.Context, userID, serviceID string) (ServiceInstance, bool, error) {
	q := `SELECT ` + instanceColumns + ` FROM service_instances WHERE service_id = $1 AND owner_user_id = $2 AND state <> 'removing'`
	inst, err := scanInstance(r.db.QueryRowContext(ctx, q, serviceID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return ServiceInstance{}, false, nil
	}
	if err != nil {
		return ServiceInstance{}, false, err
	}
	return inst, true, nil
}

func (r *PostgresRepository) ClaimPooledInstance(ctx context.Context, userID, serviceID string) (ServiceInstance, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return ServiceInstance{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	q := `UPDATE service_instances SET owner_user_id = $1, assigned_at = now()
		WHERE id = (
			SELECT id FROM service_instances
			WHERE service_id = $2 AND owner_user_id IS NULL AND state = 'ready'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + instanceColumns
	inst, err := scanInstance(tx.QueryRowContext(ctx, q, userID, serviceID))
	if errors.Is(err, sql.ErrNoRows) {
		return ServiceInstance{}, false, nil
	}
	if err != nil {
		return ServiceInstance{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return ServiceInstance{}, false, err
	}
	return inst, true, nil
}

func (r *PostgresRepository) CreateAssignedInstance(ctx context.Context, userID, serviceID, backendRef, address string, state InstanceState) (ServiceInstance, error) {
	// The unique index on (service_id, owner_user_id) turns a concurrent
	// duplicate into a no-op; the racing resolve re-reads the winner's row.
	q := `INSERT INTO service_instances (id, service_id, owner_user_id, backend_ref, address, state, assigned_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (service_id, owner_user_id) WHERE owner_user_id IS NOT NULL AND state <> 'removing' DO NOTHING
		RETURNING ` + instanceColumns
	inst, err := scanInstance(r.db.QueryRowContext(ctx, q, uuid.NewString(), serviceID, userID, backendRef, address, state))
	if errors.Is(err, sql.ErrNoRows) {
		existing, ok, err := r.AssignedInstance(ctx, userID, serviceID)
		if err != nil {
			return ServiceInstance{}, err
		}
		if !ok {
			return ServiceInstance{}, fmt.Errorf("assignment conflict without existing instance for user %s service %s", userID, serviceID)
		}
		return existing, nil
	}
	return inst, err
}

func (r *PostgresRepository) CountInstances(ctx context.Context, serviceID string) (int, error) {
	const q = `SELECT count(*) FROM service_instances WHERE service_id = $1 AND state <> 'removing'`
	var n int
	err := r.db.QueryRowContext(ctx, q, serviceID).Scan(&n)
	return n, err
}

func (r *PostgresRepository) InstancesInState(ctx context.Context, state InstanceState) ([]ServiceInstance, error) {
	q := `SELECT ` + instanceColumns + ` FROM service_instances WHERE state = $1 ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, q, state)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ServiceInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) UpdateInstanceState(ctx context.Context, instanceID string, state InstanceState, address string) error {
	const q = `UPDATE service_instances SET state = $2, address = COALESCE(NULLIF($3, ''), address) WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, instanceID, state, address)
	return err
}

func (r *PostgresRepository) ReleaseInstance(ctx context.Context, instanceID string) error {
	const q = `UPDATE service_instances SET owner_user_id = NULL, assigned_at = NULL, state = 'removing' WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, instanceID)
	return err
}

func (r *PostgresRepository) SetConnectionSource(ctx context.Context, instanceID, sourceIP, sourceHost string) error {
	const q = `UPDATE service_instances SET source_ip = $2, source_host = $3 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, instanceID, sourceIP, sourceHost)
	return err
}
