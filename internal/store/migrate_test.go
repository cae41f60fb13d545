package store

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestMigrate_FreshDB(t *testing.T) {
	db := testDB(t)

	if v, err := SchemaVersion(db); err != nil || v != 0 {
		t.Fatalf("fresh db should be v0, got %d (%v)", v, err)
	}
	if err := Migrate(context.Background(), db, testLogger()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	v, err := SchemaVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if v != LatestVersion() {
		t.Errorf("expected schema v%d, got v%d", LatestVersion(), v)
	}

	for _, table := range []string{"cust_filters", "cust_filter_buttons", "connections"} {
		var name string
		if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name); err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, db, testLogger()); err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
	}
	if v, _ := SchemaVersion(db); v != LatestVersion() {
		t.Errorf("expected schema v%d, got v%d", LatestVersion(), v)
	}
}

func TestMigrate_ResumesFromPartialVersion(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := apply(ctx, db, migrations[0]); err != nil {
		t.Fatal(err)
	}
	if err := Migrate(ctx, db, testLogger()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	var name string
	if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='connections'").Scan(&name); err != nil {
		t.Fatalf("connections table missing after resume: %v", err)
	}
}

func TestMigrate_RejectsNewerSchema(t *testing.T) {
	db := testDB(t)
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatal(err)
	}
	if err := Migrate(context.Background(), db, testLogger()); err == nil {
		t.Fatal("expected error for a schema newer than this build")
	}
}

func TestApply_FailedStepRollsBack(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	bad := migration{
		version:     1,
		description: "broken",
		statements: []string{
			"CREATE TABLE half (id INTEGER)",
			"CREATE TABLE oops (",
		},
	}
	if err := apply(ctx, db, bad); err == nil {
		t.Fatal("expected error from invalid statement")
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name='half'").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Error("table from a failed migration should be rolled back")
	}
	if v, _ := SchemaVersion(db); v != 0 {
		t.Errorf("version should stay 0, got %d", v)
	}
}

func TestMigrate_UniqueKeywordPerChat(t *testing.T) {
	db := testDB(t)
	if err := Migrate(context.Background(), db, testLogger()); err != nil {
		t.Fatal(err)
	}

	insert := "INSERT INTO cust_filters (chat_id, keyword, reply) VALUES (?, ?, ?)"
	if _, err := db.Exec(insert, 1, "hello", "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(insert, 2, "hello", "b"); err != nil {
		t.Fatalf("same keyword in another chat should be allowed: %v", err)
	}
	if _, err := db.Exec(insert, 1, "hello", "c"); err == nil {
		t.Fatal("expected unique constraint violation")
	}
}
