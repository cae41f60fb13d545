package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"text/template"

	"filterbot/internal/config"

	"github.com/spf13/cobra"
)

const (
	launchdLabel = "com.filterbot.gateway"
	systemdUnit  = "filterbot.service"
)

// serviceSpec is what the service files are rendered from.
type serviceSpec struct {
	Label      string
	Exec       string
	Config     string
	LogPath    string
	ErrLogPath string
}

func installDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install the gateway as a user service (launchd/systemd)",
		Long:  "Generates and installs a service file that runs 'filterbot gateway' with the current config on login.",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			logDir := filepath.Join(config.DefaultConfigDir(), "logs")
			svc := serviceSpec{
				Label:      launchdLabel,
				Exec:       execPath,
				Config:     resolveConfigPath(),
				LogPath:    filepath.Join(logDir, "gateway.log"),
				ErrLogPath: filepath.Join(logDir, "gateway-error.log"),
			}

			path, err := servicePath()
			if err != nil {
				return err
			}
			content, err := renderService(runtime.GOOS, svc)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(logDir, 0o755); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, content, 0o644); err != nil {
				return err
			}

			fmt.Printf("Service installed: %s\n", path)
			if runtime.GOOS == "darwin" {
				fmt.Printf("To start: launchctl load %s\n", path)
				fmt.Printf("To stop:  launchctl unload %s\n", path)
			} else {
				fmt.Printf("To start:  systemctl --user start filterbot\n")
				fmt.Printf("To enable: systemctl --user enable filterbot\n")
				fmt.Printf("To stop:   systemctl --user stop filterbot\n")
			}
			return nil
		},
	}
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the gateway user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := servicePath()
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Service uninstalled: %s\n", path)
			return nil
		},
	}
}

func servicePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"), nil
	case "linux":
		return filepath.Join(home, ".config", "systemd", "user", systemdUnit), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
	}
}

var serviceTemplates = map[string]*template.Template{
	"darwin": template.Must(template.New("launchd").Parse(launchdTemplate)),
	"linux":  template.Must(template.New("systemd").Parse(systemdTemplate)),
}

func renderService(goos string, svc serviceSpec) ([]byte, error) {
	tmpl, ok := serviceTemplates[goos]
	if !ok {
		return nil, fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, svc); err != nil {
		return nil, fmt.Errorf("render service file: %w", err)
	}
	return buf.Bytes(), nil
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.Exec}}</string>
        <string>gateway</string>
        <string>--config</string>
        <string>{{.Config}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{.LogPath}}</string>
    <key>StandardErrorPath</key>
    <string>{{.ErrLogPath}}</string>
</dict>
</plist>
`

const systemdTemplate = `[Unit]
Description=filterbot Telegram keyword auto-responder
Wants=network-online.target
After=network-online.target

[Service]
Type=simple
ExecStart="{{.Exec}}" gateway --config "{{.Config}}"
Restart=on-failure
RestartSec=5
TimeoutStopSec=15

[Install]
WantedBy=default.target
`
