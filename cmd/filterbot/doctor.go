package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"filterbot/internal/config"
	"filterbot/internal/store"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

type severity int

const (
	sevPass severity = iota
	sevWarn
	sevFail
)

func (s severity) String() string {
	switch s {
	case sevWarn:
		return "WARN"
	case sevFail:
		return "FAIL"
	}
	return "PASS"
}

// finding is the outcome of one diagnostic check.
type finding struct {
	check  string
	sev    severity
	detail string
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the config, database and listen addresses",
		Long: `Loads the config and checks everything the gateway needs at startup:
the database is writable and its schema is known, the Telegram and webhook
settings are usable and the listen addresses are free.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if !fileExists(cfgPath) {
				return fmt.Errorf("no config at %s; run 'filterbot init' or 'filterbot wizard'", cfgPath)
			}

			var findings []finding
			cfg, err := config.Load(cfgPath)
			if err != nil {
				findings = append(findings, finding{"config", sevFail, err.Error()})
			} else {
				findings = append(findings, finding{"config", sevPass, cfgPath})
				findings = append(findings, diagnose(cmd.Context(), cfg)...)
			}

			if worst := report(os.Stdout, findings); worst == sevFail {
				return fmt.Errorf("doctor found problems")
			}
			return nil
		},
	}
}

// diagnose runs every check that applies to cfg.
func diagnose(ctx context.Context, cfg *config.Config) []finding {
	var out []finding
	add := func(check string, sev severity, format string, args ...any) {
		out = append(out, finding{check, sev, fmt.Sprintf(format, args...)})
	}

	if err := checkDatabase(ctx, cfg.Store.DBPath); err != nil {
		add("database", sevFail, "%s: %v", cfg.Store.DBPath, err)
	} else {
		add("database", sevPass, "%s is writable", cfg.Store.DBPath)
		switch v, err := schemaVersion(cfg.Store.DBPath); {
		case err != nil:
			add("schema", sevFail, "%v", err)
		case v > store.LatestVersion():
			add("schema", sevFail, "v%d is newer than this build (v%d)", v, store.LatestVersion())
		case v < store.LatestVersion():
			add("schema", sevWarn, "v%d, will migrate to v%d on start", v, store.LatestVersion())
		default:
			add("schema", sevPass, "v%d", v)
		}
	}

	tg := cfg.Telegram
	switch {
	case !tg.Enabled:
		add("telegram", sevWarn, "disabled, only 'filterbot console' will run")
	case len(tg.AllowChats) == 0:
		add("telegram", sevWarn, "answers every chat (telegram.allowChats is empty)")
	default:
		add("telegram", sevPass, "limited to %d chat(s)", len(tg.AllowChats))
	}

	if tg.Enabled && tg.Mode == "webhook" {
		if u, err := url.Parse(tg.Webhook.PublicURL); err != nil || u.Scheme != "https" {
			add("webhook url", sevFail, "telegram.webhook.publicURL must be https, got %q", tg.Webhook.PublicURL)
		} else {
			add("webhook url", sevPass, "%s%s", u, tg.Webhook.Path)
		}
		if tg.Webhook.Secret == "" {
			add("webhook secret", sevWarn, "empty, updates are not authenticated")
		}
		out = append(out, listenFinding("webhook listen", tg.Webhook.Listen))
	}

	if cfg.Metrics.Enabled {
		out = append(out, listenFinding("metrics listen", cfg.Metrics.Listen))
	}

	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			add("log file", sevWarn, "%v", err)
		} else {
			add("log file", sevPass, "%s", cfg.General.LogFile)
		}
	}
	return out
}

// report prints findings and returns the worst severity.
func report(w io.Writer, findings []finding) severity {
	fmt.Fprintf(w, "filterbot %s doctor\n\n", version)
	worst := sevPass
	counts := map[severity]int{}
	for _, f := range findings {
		fmt.Fprintf(w, "  %-4s  %-15s %s\n", f.sev, f.check, f.detail)
		counts[f.sev]++
		worst = max(worst, f.sev)
	}
	fmt.Fprintf(w, "\n%d ok, %d warnings, %d failures\n", counts[sevPass], counts[sevWarn], counts[sevFail])
	return worst
}

func listenFinding(check, addr string) finding {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return finding{check, sevWarn, fmt.Sprintf("%s is not available: %v", addr, err)}
	}
	ln.Close()
	return finding{check, sevPass, addr + " is free"}
}

// checkDatabase opens the database and creates then drops a scratch table.
func checkDatabase(ctx context.Context, dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_probe (id INTEGER)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	_, err = db.ExecContext(ctx, "DROP TABLE _doctor_probe")
	return err
}

// schemaVersion reports the applied migration version without migrating.
func schemaVersion(dbPath string) (int, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return 0, err
	}
	defer db.Close()
	return store.SchemaVersion(db)
}
