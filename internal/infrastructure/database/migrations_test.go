package database

import (
	"context"
	"testing"
	"testing/fstest"
)

func useMigrations(t *testing.T, files fstest.MapFS) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	MigrationsFS, MigrationsDir = files, "."
	t.Cleanup(func() { MigrationsFS, MigrationsDir = origFS, origDir })
}

func TestMigrate(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20260101_000000_first.up.sql":    {Data: []byte("CREATE TABLE first (x TEXT);")},
		"20260101_000000_first.down.sql":  {Data: []byte("DROP TABLE first;")},
		"20260102_000000_second.up.sql":   {Data: []byte("CREATE TABLE second (y TEXT); CREATE INDEX idx_second ON second (y);")},
		"README.md":                       {Data: []byte("ignored")},
		"20260103_000000_broken.txt":      {Data: []byte("ignored")},
	})

	ctx := context.Background()
	db := openTestDB(t)

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	for _, table := range []string{"first", "second"} {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}

	status, err := db.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(status.Applied) != 2 || len(status.Pending) != 0 {
		t.Errorf("Status() = %+v, want 2 applied, 0 pending", status)
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrate_FailureStopsLaterMigrations(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20260101_000000_ok.up.sql":   {Data: []byte("CREATE TABLE ok (x TEXT);")},
		"20260102_000000_bad.up.sql":  {Data: []byte("CREATE TABLE;")},
		"20260103_000000_late.up.sql": {Data: []byte("CREATE TABLE late (x TEXT);")},
	})

	ctx := context.Background()
	db := openTestDB(t)

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() expected error for invalid SQL")
	}

	status, err := db.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(status.Applied) != 1 || status.Applied[0] != "20260101_000000" {
		t.Errorf("Applied = %v, want only the first migration", status.Applied)
	}
	if len(status.Pending) != 2 {
		t.Errorf("Pending = %v, want 2", status.Pending)
	}
}

func TestMigrate_NoMigrations(t *testing.T) {
	origFS := MigrationsFS
	MigrationsFS = nil
	t.Cleanup(func() { MigrationsFS = origFS })

	if err := openTestDB(t).Migrate(context.Background()); err != nil {
		t.Errorf("Migrate() with no migrations error = %v", err)
	}
}

func TestLoadMigrations_MissingUp(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20260101_000000_orphan.down.sql": {Data: []byte("DROP TABLE x;")},
	})
	if _, err := loadMigrations(); err == nil {
		t.Error("loadMigrations() expected error for down-only migration")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename string
		version  string
		name     string
		isUp     bool
		ok       bool
	}{
		{"20260301_120000_quad_store.up.sql", "20260301_120000", "quad_store", true, true},
		{"20260301_120000_quad_store.down.sql", "20260301_120000", "quad_store", false, true},
		{"20260301_120000.up.sql", "20260301_120000", "20260301_120000", true, true},
		{"20260301_120000_x.sql", "", "", false, false},
		{"notes.txt", "", "", false, false},
		{"single.up.sql", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.ok || version != tt.version || isUp != tt.isUp {
				t.Fatalf("parseMigrationFilename(%q) = (%q, %q, %v, %v)", tt.filename, version, name, isUp, ok)
			}
			if ok && name != tt.name {
				t.Errorf("name = %q, want %q", name, tt.name)
			}
		})
	}
}
