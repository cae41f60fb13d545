package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"filterbot/internal/config"
	"filterbot/internal/store"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// Entries of a backup archive. The manifest is written first.
const (
	manifestName      = "manifest.json"
	archiveDBName     = "filters.db"
	archiveConfigName = "config.json"
)

// manifest describes what a backup holds.
type manifest struct {
	Version string    `json:"version"`
	Created time.Time `json:"created"`
	Schema  int       `json:"schema"`
	Files   []string  `json:"files"`
}

type archiveEntry struct {
	path string // file on disk
	name string // name inside the archive
}

func backupCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the filter database and config",
		Long: `Writes a .tar.gz holding a consistent snapshot of the filter database,
the config file and a manifest. The gateway can keep running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			dbPath := resolveDBPath(cfgPath)

			if output == "" {
				dir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(dir, 0o700); err != nil {
					return fmt.Errorf("create backup directory: %w", err)
				}
				output = filepath.Join(dir, "filterbot-"+time.Now().Format("20060102-150405")+".tar.gz")
			}

			m := manifest{Version: version, Created: time.Now().UTC()}
			var entries []archiveEntry
			if fileExists(dbPath) {
				snapshot, err := snapshotDatabase(cmd.Context(), dbPath)
				if err != nil {
					return fmt.Errorf("snapshot database: %w", err)
				}
				defer os.Remove(snapshot)
				if m.Schema, err = schemaVersion(snapshot); err != nil {
					return fmt.Errorf("read snapshot schema: %w", err)
				}
				entries = append(entries, archiveEntry{path: snapshot, name: archiveDBName})
			}
			if fileExists(cfgPath) {
				entries = append(entries, archiveEntry{path: cfgPath, name: archiveConfigName})
			}
			if len(entries) == 0 {
				return fmt.Errorf("nothing to back up: neither %s nor %s exists", dbPath, cfgPath)
			}

			f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return fmt.Errorf("create %s: %w", output, err)
			}
			if err := writeArchive(f, m, entries); err != nil {
				f.Close()
				os.Remove(output)
				return fmt.Errorf("write backup: %w", err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("write backup: %w", err)
			}

			fmt.Printf("Wrote %s\n", output)
			for _, e := range entries {
				var size uint64
				if info, err := os.Stat(e.path); err == nil {
					size = uint64(info.Size())
				}
				fmt.Printf("  %-12s %s\n", e.name, humanize.IBytes(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "archive path (default ~/.filterbot/backups/filterbot-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Replace the filter database and config with a backup",
		Long: `Restores the files of an archive made by 'filterbot backup'. Every file is
staged first and only moved into place once the whole archive has been read,
so a damaged archive leaves the current data alone. Stop the gateway first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			dbPath := resolveDBPath(cfgPath)

			if !force && (fileExists(dbPath) || fileExists(cfgPath)) {
				return fmt.Errorf("%s or %s already exists; pass --force to overwrite", dbPath, cfgPath)
			}

			restored, err := restoreArchive(args[0], map[string]string{
				archiveDBName:     dbPath,
				archiveConfigName: cfgPath,
			})
			if err != nil {
				return fmt.Errorf("restore %s: %w", args[0], err)
			}
			for _, path := range restored {
				fmt.Printf("Restored %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite the existing database and config")
	return cmd
}

// resolveDBPath returns the store path from the config file, or the
// default store path when the config cannot be loaded.
func resolveDBPath(cfgPath string) string {
	if cfg, err := config.Load(cfgPath); err == nil {
		return cfg.Store.DBPath
	}
	return config.ExpandPath(config.Defaults().Store.DBPath)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// snapshotDatabase copies the database into a temporary file with
// VACUUM INTO and returns its path. Writers may keep running.
func snapshotDatabase(ctx context.Context, dbPath string) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dbPath), ".filterbot-snapshot-*.db")
	if err != nil {
		return "", err
	}
	snapshot := tmp.Name()
	tmp.Close()
	// VACUUM INTO refuses to overwrite an existing file.
	os.Remove(snapshot)

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return "", err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", snapshot); err != nil {
		os.Remove(snapshot)
		return "", err
	}
	return snapshot, nil
}

// writeArchive streams the manifest and entries as a gzipped tarball.
func writeArchive(w io.Writer, m manifest, entries []archiveEntry) error {
	for _, e := range entries {
		m.Files = append(m.Files, e.name)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	hdr := &tar.Header{Name: manifestName, Mode: 0o600, Size: int64(len(data)), ModTime: m.Created, Typeflag: tar.TypeReg}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := tw.Write(data); err != nil {
		return err
	}
	for _, e := range entries {
		if err := appendFile(tw, e); err != nil {
			return fmt.Errorf("add %s: %w", e.name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func appendFile(tw *tar.Writer, e archiveEntry) error {
	f, err := os.Open(e.path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr := &tar.Header{Name: e.name, Mode: 0o600, Size: info.Size(), ModTime: info.ModTime(), Typeflag: tar.TypeReg}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// restoreArchive stages each entry named in targets next to its target
// path, checks the manifest, then renames the staged files into place.
// Unknown entries are skipped. It returns the restored paths.
func restoreArchive(archivePath string, targets map[string]string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("not a gzip archive: %w", err)
	}
	defer gz.Close()

	staged := map[string]string{} // target path -> staged temp file
	defer func() {
		for _, tmp := range staged {
			os.Remove(tmp)
		}
	}()

	var m *manifest
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := filepath.Base(hdr.Name)
		if name == manifestName {
			m = &manifest{}
			if err := json.NewDecoder(tr).Decode(m); err != nil {
				return nil, fmt.Errorf("read manifest: %w", err)
			}
			continue
		}
		target, ok := targets[name]
		if !ok {
			logger.Warn("skipping unknown backup entry", "name", hdr.Name)
			continue
		}
		tmp, err := stage(target, tr)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", name, err)
		}
		staged[target] = tmp
	}

	if m != nil && m.Schema > store.LatestVersion() {
		return nil, fmt.Errorf("backup schema v%d is newer than this build (v%d)", m.Schema, store.LatestVersion())
	}
	if len(staged) == 0 {
		return nil, errors.New("archive holds no database or config")
	}

	var restored []string
	for _, name := range []string{archiveDBName, archiveConfigName} {
		target := targets[name]
		tmp, ok := staged[target]
		if !ok {
			continue
		}
		if err := os.Rename(tmp, target); err != nil {
			return restored, err
		}
		delete(staged, target)
		if name == archiveDBName {
			// Stale WAL files would be replayed over the restored database.
			for _, suffix := range []string{"-wal", "-shm"} {
				if err := os.Remove(target + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
					return restored, err
				}
			}
		}
		restored = append(restored, target)
	}
	return restored, nil
}

// stage copies r into a temporary file beside target.
func stage(target string, r io.Reader) (string, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".restore-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}
