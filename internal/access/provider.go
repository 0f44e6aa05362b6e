package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Capability is a feature an access provider declares statically. Callers
// check the declared set instead of probing which methods an implementation
// overrides.
type Capability uint8

const (
	CapSearchUsers Capability = 1 << iota
	CapTestConnection
)

type CapabilitySet uint8

func Capabilities(caps ...Capability) CapabilitySet {
	var set CapabilitySet
	for _, c := range caps {
		set |= CapabilitySet(c)
	}
	return set
}

func (s CapabilitySet) Has(c Capability) bool { return s&CapabilitySet(c) != 0 }

// Provider answers permission checks for (user, logical service) pairs.
type Provider interface {
	HasAccess(ctx context.Context, userID, serviceID string) (bool, error)
	Capabilities() CapabilitySet
}

// UserSearcher is implemented only by providers declaring CapSearchUsers.
type UserSearcher interface {
	SearchUsers(ctx context.Context, pattern string) ([]string, error)
}

// PostgresProvider resolves grants from the service_grants table.
type PostgresProvider struct {
	db *sql.DB
}

func NewPostgresProvider(db *sql.DB) *PostgresProvider {
	return &PostgresProvider{db: db}
}

func (p *PostgresProvider) Capabilities() CapabilitySet {
	return Capabilities(CapSearchUsers, CapTestConnection)
}

func (p *PostgresProvider) HasAccess(ctx context.Context, userID, serviceID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM service_grants WHERE user_id = $1 AND service_id = $2)`
	var granted bool
	if err := p.db.QueryRowContext(ctx, q, userID, serviceID).Scan(&granted); err != nil {
		return false, fmt.Errorf("grant lookup: %w", err)
	}
	return granted, nil
}

func (p *PostgresProvider) SearchUsers(ctx context.Context, pattern string) ([]string, error) {
	const q = `SELECT username FROM users WHERE username ILIKE '%' || $1 || '%' ORDER BY username LIMIT 50`
	rows, err := p.db.QueryContext(ctx, q, pattern)
	if err != nil {
		return nil, fmt.Errorf("user search: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// TestConnection verifies the backing store answers.
func (p *PostgresProvider) TestConnection(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return errors.Join(errors.New("access provider unreachable"), err)
	}
	return nil
}
