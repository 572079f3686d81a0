package database

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260101_000000_users.up.sql": {Data: []byte(
			"CREATE TABLE test_users (id INTEGER PRIMARY KEY, name TEXT NOT NULL);",
		)},
		"20260102_000000_user_email.up.sql": {Data: []byte(
			"ALTER TABLE test_users ADD COLUMN email TEXT;",
		)},
		"README.md":                  {Data: []byte("not a migration")},
		"20260103_000000_x.down.sql": {Data: []byte("DROP TABLE test_users;")},
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantOK      bool
	}{
		{"20260118_120000_initial_schema.up.sql", "20260118_120000", "initial_schema", true},
		{"20260118_120000_a.up.sql", "20260118_120000", "a", true},
		{"20260118_120000_initial.down.sql", "", "", false},
		{"20260118_initial.up.sql", "", "", false},
		{"2026011_120000_initial.up.sql", "", "", false},
		{"20260118_120000_.up.sql", "", "", false},
		{"notes.txt", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOK || version != tt.wantVersion || name != tt.wantName {
				t.Errorf("parseMigrationFilename(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.filename, version, name, ok, tt.wantVersion, tt.wantName, tt.wantOK)
			}
		})
	}
}

func TestLoadMigrations(t *testing.T) {
	migrations, err := LoadMigrations(testMigrations())
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("LoadMigrations() len = %d, want 2", len(migrations))
	}
	if migrations[0].Version != "20260101_000000" || migrations[1].Name != "user_email" {
		t.Errorf("LoadMigrations() = %+v, want users then user_email", migrations)
	}
}

// TestMigrate verifies migration application.
func TestMigrate(t *testing.T) {
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := db.Migrate(ctx, testMigrations())
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Migrate() applied = %d, want 2", n)
	}

	if _, err := db.ExecContext(ctx,
		"INSERT INTO test_users (name, email) VALUES (?, ?)", "alice", "a@example.com",
	); err != nil {
		t.Fatalf("schema not applied: %v", err)
	}

	applied, err := db.AppliedMigrations(ctx)
	if err != nil {
		t.Fatalf("AppliedMigrations() error = %v", err)
	}
	if len(applied) != 2 {
		t.Fatalf("AppliedMigrations() len = %d, want 2", len(applied))
	}
	if applied[0].AppliedAt.IsZero() {
		t.Error("AppliedAt not recorded")
	}

	// Running again should be idempotent.
	n, err = db.Migrate(ctx, testMigrations())
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if n != 0 {
		t.Errorf("second Migrate() applied = %d, want 0", n)
	}
}

func TestMigrate_Incremental(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first := testMigrations()
	delete(first, "20260102_000000_user_email.up.sql")
	if n, err := db.Migrate(ctx, first); err != nil || n != 1 {
		t.Fatalf("Migrate(first) = %d, %v, want 1, nil", n, err)
	}

	if n, err := db.Migrate(ctx, testMigrations()); err != nil || n != 1 {
		t.Fatalf("Migrate(all) = %d, %v, want 1, nil", n, err)
	}
}

func TestMigrate_FailureStopsAndRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := testMigrations()
	fsys["20260102_000000_user_email.up.sql"] = &fstest.MapFile{Data: []byte(
		"ALTER TABLE test_users ADD COLUMN email TEXT; SELECT * FROM missing_table;",
	)}

	n, err := db.Migrate(ctx, fsys)
	if err == nil {
		t.Fatal("Migrate() error = nil, want error")
	}
	if n != 1 {
		t.Errorf("Migrate() applied = %d, want 1", n)
	}
	if !strings.Contains(err.Error(), "20260102_000000") {
		t.Errorf("error = %q, want it to name the failed version", err)
	}

	applied, err := db.AppliedMigrations(ctx)
	if err != nil {
		t.Fatalf("AppliedMigrations() error = %v", err)
	}
	if len(applied) != 1 {
		t.Errorf("AppliedMigrations() len = %d, want 1", len(applied))
	}
}
