//go:build integration

package itest

import (
	"database/sql"
	"os"
	"sync"
	"testing"

	"github.com/vdi-broker/vdi-broker/internal/broker"
)

func openDB(t *testing.T, dsn string) *sql.DB {
	t.Helper()
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func migrate(t *testing.T, h *Harness) {
	t.Helper()
	raw, err := os.ReadFile("../../deploy/sql/migrations/0001_init.up.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	RunSQL(t, h.PostgresURL, string(raw))
}

func TestRepositoryAssignmentUniqueness(t *testing.T) {
	h := Start(t)
	migrate(t, h)
	db := openDB(t, h.PostgresURL)
	repo := broker.NewPostgresRepository(db)

	ctx, cancel := WaitContext()
	defer cancel()

	user, err := repo.CreateUser(ctx, "alice", "x")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	RunSQL(t, h.PostgresURL, `INSERT INTO logical_services (id, name, pool_id, max_instances) VALUES ('desktop1', 'Desktop One', 'pool-1', 10)`)

	// Concurrent inserts for the same (user, service) must converge on one row.
	const writers = 8
	var wg sync.WaitGroup
	ids := make(chan string, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst, err := repo.CreateAssignedInstance(ctx, user.ID, "desktop1", "machine-x", "10.0.0.1", broker.InstanceProvisioning)
			if err != nil {
				t.Errorf("create assigned: %v", err)
				return
			}
			ids <- inst.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	if len(seen) != 1 {
		t.Fatalf("expected all writers to converge on one instance, got %d", len(seen))
	}

	n, err := repo.CountInstances(ctx, "desktop1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 instance in the table, got %d", n)
	}
}

func TestRepositoryPooledClaimSingleWinner(t *testing.T) {
	h := Start(t)
	migrate(t, h)
	db := openDB(t, h.PostgresURL)
	repo := broker.NewPostgresRepository(db)

	ctx, cancel := WaitContext()
	defer cancel()

	RunSQL(t, h.PostgresURL, `INSERT INTO logical_services (id, name, pool_id, max_instances) VALUES ('desktop1', 'Desktop One', 'pool-1', 10)`)
	RunSQL(t, h.PostgresURL, `INSERT INTO service_instances (service_id, backend_ref, address, state) VALUES ('desktop1', 'machine-1', '10.0.0.9', 'ready')`)

	userA, _ := repo.CreateUser(ctx, "alice", "x")
	userB, _ := repo.CreateUser(ctx, "bob", "x")

	instA, okA, err := repo.ClaimPooledInstance(ctx, userA.ID, "desktop1")
	if err != nil {
		t.Fatalf("claim a: %v", err)
	}
	_, okB, err := repo.ClaimPooledInstance(ctx, userB.ID, "desktop1")
	if err != nil {
		t.Fatalf("claim b: %v", err)
	}
	if !okA || okB {
		t.Fatalf("expected exactly one winner, got okA=%v okB=%v", okA, okB)
	}
	if instA.OwnerUserID == nil || *instA.OwnerUserID != userA.ID {
		t.Fatalf("claimed instance not owned by winner: %+v", instA)
	}

	// Release puts it into removing; the claimer's assignment lookup must
	// no longer see it.
	if err := repo.ReleaseInstance(ctx, instA.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := repo.AssignedInstance(ctx, userA.ID, "desktop1"); ok {
		t.Fatal("released instance still visible as assignment")
	}
}
