package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kos-kit/kos-server/internal/infrastructure/config"
)

func TestOpen(t *testing.T) {
	t.Run("creates database file and directory", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "nested", "kos.db")

		db, err := Open(config.DatabaseConfig{Path: dbPath, WALMode: true, BusyTimeout: 5})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer db.Close() //nolint:errcheck // Test cleanup

		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Error("database file was not created")
		}
		if db.Path() != dbPath {
			t.Errorf("Path() = %q, want %q", db.Path(), dbPath)
		}
		if db.InMemory() {
			t.Error("InMemory() = true for file database")
		}
	})

	t.Run("empty path opens in-memory database", func(t *testing.T) {
		db := openTestDB(t)
		if !db.InMemory() {
			t.Error("InMemory() = false, want true")
		}
	})

	t.Run("in-memory databases are isolated", func(t *testing.T) {
		ctx := context.Background()
		a := openTestDB(t)
		b := openTestDB(t)

		if _, err := a.ExecContext(ctx, "CREATE TABLE only_a (x INTEGER)"); err != nil {
			t.Fatalf("create table: %v", err)
		}
		var n int
		err := b.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE name = 'only_a'").Scan(&n)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if n != 0 {
			t.Error("table created in one in-memory database is visible in another")
		}
	})
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)
	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestCheckpoint(t *testing.T) {
	ctx := context.Background()

	mem := openTestDB(t)
	if err := mem.Checkpoint(ctx); err != nil {
		t.Errorf("Checkpoint() on memory database error = %v", err)
	}

	file, err := Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "kos.db"),
		WALMode:     true,
		BusyTimeout: 1,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer file.Close() //nolint:errcheck // Test cleanup

	if _, err := file.ExecContext(ctx, "CREATE TABLE t (x INTEGER)"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := file.Checkpoint(ctx); err != nil {
		t.Errorf("Checkpoint() error = %v", err)
	}
}

func TestBeginTxRollback(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	if _, err := db.ExecContext(ctx, "CREATE TABLE t (x INTEGER)"); err != nil {
		t.Fatalf("create: %v", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx() error = %v", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO t VALUES (1)"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("rows after rollback = %d, want 0", n)
	}
}

func TestClose(t *testing.T) {
	db, err := Open(config.DatabaseConfig{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(config.DatabaseConfig{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	return db
}
