package migrate_test

import (
	"database/sql"
	"testing"

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/db"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/migrate"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func tableExists(t *testing.T, conn *sql.DB, name string) bool {
	t.Helper()
	var n int
	err := conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return n > 0
}

func TestMigrateIsIdempotent(t *testing.T) {
	conn := openDB(t)
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	v, err := migrate.Version(conn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v < 1 {
		t.Fatalf("version = %d after migrate, want >= 1", v)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	again, err := migrate.Version(conn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if again != v {
		t.Fatalf("version moved from %d to %d on re-migrate", v, again)
	}
	if !tableExists(t, conn, "goals") {
		t.Fatal("goals table missing after migrate")
	}
}

func TestVersionOnFreshDatabase(t *testing.T) {
	conn := openDB(t)
	v, err := migrate.Version(conn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v != 0 {
		t.Fatalf("version = %d on fresh database, want 0", v)
	}
}

func TestRollbackToZeroDropsSchema(t *testing.T) {
	conn := openDB(t)
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := migrate.RollbackTo(conn, 0); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	v, err := migrate.Version(conn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v != 0 {
		t.Fatalf("version = %d after rollback, want 0", v)
	}
	if tableExists(t, conn, "goals") {
		t.Fatal("goals table still present after rollback")
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("re-migrate after rollback: %v", err)
	}
	if !tableExists(t, conn, "goals") {
		t.Fatal("goals table missing after re-migrate")
	}
}

func TestRollbackRejectsForwardTarget(t *testing.T) {
	conn := openDB(t)
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := migrate.RollbackTo(conn, 99); err == nil {
		t.Fatal("expected error for target ahead of schema version")
	}
}
