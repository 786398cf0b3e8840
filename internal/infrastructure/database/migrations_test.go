package database

import (
	"context"
	"testing"
	"testing/fstest"
	"time"
)

// testMigrations is a two-step schema used by the migration tests.
var testMigrations = fstest.MapFS{
	"20260101_000000_test_runs.up.sql": {Data: []byte(`
		CREATE TABLE test_runs (
			id TEXT PRIMARY KEY,
			script TEXT NOT NULL
		);`)},
	"20260101_000000_test_runs.down.sql": {Data: []byte(`DROP TABLE test_runs;`)},
	"20260102_000000_test_frames.up.sql": {Data: []byte(`
		ALTER TABLE test_runs ADD COLUMN frames INTEGER NOT NULL DEFAULT 0;`)},
	"README.md": {Data: []byte("not a migration")},
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return count == 1
}

// TestMigrate verifies migration application.
func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx, testMigrations); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "test_runs") {
		t.Fatal("table test_runs not created")
	}

	// Second migration added the frames column.
	if _, err := db.ExecContext(ctx, "INSERT INTO test_runs (id, script, frames) VALUES ('a', 'x.dmx', 3)"); err != nil {
		t.Fatalf("insert using migrated column: %v", err)
	}

	applied, pending, err := db.GetMigrationStatus(ctx, testMigrations)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("expected 2 applied migrations, got %d", len(applied))
	}
	if len(pending) != 0 {
		t.Errorf("expected 0 pending migrations, got %d", len(pending))
	}
	if applied[0].AppliedAt.IsZero() {
		t.Error("AppliedAt not recorded")
	}

	if err := db.Migrate(ctx, testMigrations); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

// TestMigrateDown verifies migration rollback.
func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	first := fstest.MapFS{
		"20260101_000000_test_runs.up.sql":   testMigrations["20260101_000000_test_runs.up.sql"],
		"20260101_000000_test_runs.down.sql": testMigrations["20260101_000000_test_runs.down.sql"],
	}

	if err := db.Migrate(ctx, first); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, first); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	if tableExists(t, db, "test_runs") {
		t.Error("table test_runs should have been dropped")
	}

	applied, _, err := db.GetMigrationStatus(ctx, first)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("expected 0 applied migrations after rollback, got %d", len(applied))
	}

	// Nothing left to roll back.
	if err := db.MigrateDown(ctx, first); err != nil {
		t.Errorf("MigrateDown() with nothing applied error = %v", err)
	}
}

func TestMigrateDown_NoDownSQL(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if err := db.Migrate(ctx, testMigrations); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, testMigrations); err == nil {
		t.Error("MigrateDown() = nil, want error for migration without down SQL")
	}
}

func TestMigrate_FailureRollsBack(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	broken := fstest.MapFS{
		"20260101_000000_ok.up.sql":     {Data: []byte("CREATE TABLE ok_table (id INTEGER);")},
		"20260102_000000_broken.up.sql": {Data: []byte("CREATE TABLE broken (;")},
	}

	ctx := context.Background()
	if err := db.Migrate(ctx, broken); err == nil {
		t.Fatal("Migrate() = nil, want error")
	}

	applied, pending, err := db.GetMigrationStatus(ctx, broken)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 1 || len(pending) != 1 {
		t.Errorf("applied=%d pending=%d, want 1/1", len(applied), len(pending))
	}
	if !tableExists(t, db, "ok_table") {
		t.Error("earlier migration should stay committed")
	}
}

// TestMigrateNoMigrations verifies behaviour with no migrations.
func TestMigrateNoMigrations(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if err := db.Migrate(ctx, nil); err != nil {
		t.Fatalf("Migrate(nil) error = %v", err)
	}
	if err := db.Migrate(ctx, fstest.MapFS{}); err != nil {
		t.Fatalf("Migrate(empty) error = %v", err)
	}
}

// TestGetMigrationStatus verifies status reporting before anything is applied.
func TestGetMigrationStatus(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	applied, pending, err := db.GetMigrationStatus(context.Background(), testMigrations)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("expected 0 applied, got %d", len(applied))
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	if pending[0].Version != "20260101_000000" || pending[0].Name != "test_runs" {
		t.Errorf("pending[0] = %s/%s, want oldest first", pending[0].Version, pending[0].Name)
	}
}

// TestParseMigrationFilename verifies filename parsing.
func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		wantVersion string
		wantIsUp    bool
		wantOk      bool
	}{
		{"valid up migration", "20260301_000000_script_runs.up.sql", "20260301_000000", true, true},
		{"valid down migration", "20260301_000000_script_runs.down.sql", "20260301_000000", false, true},
		{"not sql file", "readme.txt", "", false, false},
		{"missing direction", "20260301_000000_script_runs.sql", "", false, false},
		{"invalid format", "invalid.up.sql", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Errorf("ok = %v, want %v", ok, tt.wantOk)
			}
			if ok {
				if version != tt.wantVersion {
					t.Errorf("version = %v, want %v", version, tt.wantVersion)
				}
				if isUp != tt.wantIsUp {
					t.Errorf("isUp = %v, want %v", isUp, tt.wantIsUp)
				}
			}
		})
	}
}

// TestExtractMigrationName verifies name extraction.
func TestExtractMigrationName(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"20260301_000000_script_runs.up.sql", "script_runs"},
		{"20260301_000000_initial_schema.down.sql", "initial_schema"},
		{"20260301_000000_add_frames_to_runs.up.sql", "add_frames_to_runs"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			if got := extractMigrationName(tt.filename); got != tt.want {
				t.Errorf("extractMigrationName(%q) = %q, want %q", tt.filename, got, tt.want)
			}
		})
	}
}
