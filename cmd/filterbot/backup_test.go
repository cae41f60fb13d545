package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"filterbot/internal/domain"
	"filterbot/internal/store"
)

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "filters.db")
	cfgPath := filepath.Join(dir, "config.json")

	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Add(ctx, -100, "hello", domain.Response{Reply: "hi there", Kind: domain.KindText}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := os.WriteFile(cfgPath, []byte(`{"store": {"dbPath": "x"}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	// Snapshot while the store is still open.
	snapshot, err := snapshotDatabase(ctx, dbPath)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	defer os.Remove(snapshot)
	st.Close()

	archive := filepath.Join(dir, "backup.tar.gz")
	writeTestArchive(t, archive, manifest{Version: "test", Schema: store.LatestVersion()}, []archiveEntry{
		{path: snapshot, name: archiveDBName},
		{path: cfgPath, name: archiveConfigName},
	})

	restoreDir := t.TempDir()
	restoredDB := filepath.Join(restoreDir, "data", "restored.db")
	restoredCfg := filepath.Join(restoreDir, "config.json")
	// A stale WAL must not survive the restore.
	if err := os.MkdirAll(filepath.Dir(restoredDB), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(restoredDB+"-wal", []byte("stale"), 0o600); err != nil {
		t.Fatal(err)
	}

	restored, err := restoreArchive(archive, map[string]string{archiveDBName: restoredDB, archiveConfigName: restoredCfg})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(restored) != 2 || restored[0] != restoredDB || restored[1] != restoredCfg {
		t.Fatalf("unexpected restored files %v", restored)
	}
	if _, err := os.Stat(restoredDB + "-wal"); !os.IsNotExist(err) {
		t.Fatalf("stale wal should be removed, stat err = %v", err)
	}

	data, err := os.ReadFile(restoredCfg)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"store": {"dbPath": "x"}}` {
		t.Fatalf("unexpected config content %q", data)
	}

	st2, err := store.NewSQLiteStore(restoredDB, logger)
	if err != nil {
		t.Fatalf("open restored store: %v", err)
	}
	defer st2.Close()
	trig, err := st2.Get(ctx, -100, "hello")
	if err != nil {
		t.Fatalf("get restored filter: %v", err)
	}
	if trig.Reply != "hi there" {
		t.Fatalf("expected restored reply, got %q", trig.Reply)
	}
}

func writeTestArchive(t *testing.T, path string, m manifest, entries []archiveEntry) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := writeArchive(f, m, entries); err != nil {
		t.Fatalf("write archive: %v", err)
	}
}

func TestRestoreArchive_NewerSchemaLeavesDataAlone(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	if err := os.WriteFile(cfgPath, []byte(`{"new": true}`), 0o600); err != nil {
		t.Fatal(err)
	}
	archive := filepath.Join(dir, "future.tar.gz")
	writeTestArchive(t, archive, manifest{Schema: store.LatestVersion() + 1}, []archiveEntry{{path: cfgPath, name: archiveConfigName}})

	current := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(current, []byte(`{"old": true}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := restoreArchive(archive, map[string]string{archiveConfigName: current}); err == nil {
		t.Fatal("expected error for a newer schema")
	}

	data, err := os.ReadFile(current)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"old": true}` {
		t.Fatalf("current config was modified: %q", data)
	}
	left, _ := filepath.Glob(filepath.Join(filepath.Dir(current), ".restore-*"))
	if len(left) != 0 {
		t.Fatalf("staged files left behind: %v", left)
	}
}

func TestRestoreArchive_ManifestListsFiles(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	if err := os.WriteFile(cfgPath, []byte(`{}`), 0o600); err != nil {
		t.Fatal(err)
	}
	archive := filepath.Join(dir, "cfg.tar.gz")
	writeTestArchive(t, archive, manifest{Version: "1"}, []archiveEntry{{path: cfgPath, name: archiveConfigName}})

	f, err := os.Open(archive)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	tr := tar.NewReader(gz)
	hdr, err := tr.Next()
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Name != manifestName {
		t.Fatalf("first entry should be the manifest, got %q", hdr.Name)
	}
	var m manifest
	if err := json.NewDecoder(tr).Decode(&m); err != nil {
		t.Fatal(err)
	}
	if len(m.Files) != 1 || m.Files[0] != archiveConfigName {
		t.Fatalf("unexpected manifest files %v", m.Files)
	}
}

func TestRestoreArchive_NotGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.tar.gz")
	if err := os.WriteFile(path, []byte("not an archive"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := restoreArchive(path, map[string]string{archiveDBName: filepath.Join(t.TempDir(), "f.db")}); err == nil {
		t.Fatal("expected error for non-gzip input")
	}
}
