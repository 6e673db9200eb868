package main

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"text/template"

	"qqbridge/internal/config"

	"github.com/spf13/cobra"
)

const (
	launchdLabel = "com.qqbridge.serve"
	systemdUnit  = "qqbridge.service"
)

// serviceSpec is everything a unit file needs to run "qqbridge serve" the
// same way the installing shell would.
type serviceSpec struct {
	Label   string
	Exec    string
	Config  string
	EnvFile string // empty when no --env-file was given
	WorkDir string // the config's directory, so relative sqlite DSNs resolve
	Log     string
	ErrLog  string
	Listen  string // host:port+receivePath, for the install message
}

// Args is the serve command line baked into the unit.
func (s serviceSpec) Args() []string {
	args := []string{"serve", "--config", s.Config}
	if s.EnvFile != "" {
		args = append(args, "--env-file", s.EnvFile)
	}
	return args
}

func newServiceSpec(cfg *config.Config, execPath, cfgPath, envPath string) (serviceSpec, error) {
	absCfg, err := filepath.Abs(cfgPath)
	if err != nil {
		return serviceSpec{}, err
	}
	spec := serviceSpec{
		Label:   launchdLabel,
		Exec:    execPath,
		Config:  absCfg,
		WorkDir: filepath.Dir(absCfg),
		Listen:  net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)) + cfg.Server.ReceivePath,
	}
	if envPath != "" {
		absEnv, err := filepath.Abs(envPath)
		if err != nil {
			return serviceSpec{}, err
		}
		if _, err := os.Stat(absEnv); err != nil {
			return serviceSpec{}, fmt.Errorf("env file: %w", err)
		}
		spec.EnvFile = absEnv
	}
	return spec, nil
}

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Install or remove qqbridge as a user service",
	}
	cmd.AddCommand(installDaemonCmd(), uninstallDaemonCmd())
	return cmd
}

func installDaemonCmd() *cobra.Command {
	var skipPortCheck bool
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install qqbridge serve as a daemon (launchd/systemd)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !skipPortCheck {
				if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
					return fmt.Errorf("server.port %d is not available (stop the running bridge or pass --skip-port-check): %w", cfg.Server.Port, err)
				}
			}
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			spec, err := newServiceSpec(cfg, execPath, resolveConfigPath(), envFile)
			if err != nil {
				return err
			}

			switch runtime.GOOS {
			case "darwin":
				return installLaunchd(spec)
			case "linux":
				return installSystemd(spec)
			default:
				return fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
			}
		},
	}
	cmd.Flags().BoolVar(&skipPortCheck, "skip-port-check", false, "install even if server.port is in use")
	return cmd
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the qqbridge daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch runtime.GOOS {
			case "darwin":
				return uninstallLaunchd()
			case "linux":
				return uninstallSystemd()
			default:
				return fmt.Errorf("unsupported OS: %s", runtime.GOOS)
			}
		},
	}
}

var unitFuncs = template.FuncMap{
	"xml": func(s string) string {
		var b strings.Builder
		xml.EscapeText(&b, []byte(s))
		return b.String()
	},
	"join": strings.Join,
}

var (
	launchdTmpl = template.Must(template.New("launchd").Funcs(unitFuncs).Parse(launchdTemplate))
	systemdTmpl = template.Must(template.New("systemd").Funcs(unitFuncs).Parse(systemdTemplate))
)

func renderUnit(tmpl *template.Template, spec serviceSpec) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, spec); err != nil {
		return "", fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

func installLaunchd(spec serviceSpec) error {
	home, _ := os.UserHomeDir()
	plistDir := filepath.Join(home, "Library", "LaunchAgents")
	plistPath := filepath.Join(plistDir, launchdLabel+".plist")
	logDir := filepath.Join(home, ".qqbridge", "logs")

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	spec.Log = filepath.Join(logDir, "qqbridge.log")
	spec.ErrLog = filepath.Join(logDir, "qqbridge-error.log")
	plist, err := renderUnit(launchdTmpl, spec)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(plistDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(plistPath, []byte(plist), 0o644); err != nil {
		return err
	}

	fmt.Printf("Daemon installed: %s\n", plistPath)
	fmt.Printf("Bridge will receive on %s\n", spec.Listen)
	fmt.Printf("To start: launchctl load %s\n", plistPath)
	fmt.Printf("To stop:  launchctl unload %s\n", plistPath)
	return nil
}

func uninstallLaunchd() error {
	home, _ := os.UserHomeDir()
	plistPath := filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
	if err := os.Remove(plistPath); err != nil {
		return fmt.Errorf("remove plist: %w", err)
	}
	fmt.Printf("Daemon uninstalled: %s\n", plistPath)
	return nil
}

func installSystemd(spec serviceSpec) error {
	home, _ := os.UserHomeDir()
	unitDir := filepath.Join(home, ".config", "systemd", "user")
	unitPath := filepath.Join(unitDir, systemdUnit)

	unit, err := renderUnit(systemdTmpl, spec)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(unitDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(unitPath, []byte(unit), 0o644); err != nil {
		return err
	}

	fmt.Printf("Daemon installed: %s\n", unitPath)
	fmt.Printf("Bridge will receive on %s\n", spec.Listen)
	fmt.Printf("To start:  systemctl --user start qqbridge\n")
	fmt.Printf("To enable: systemctl --user enable qqbridge\n")
	return nil
}

func uninstallSystemd() error {
	home, _ := os.UserHomeDir()
	unitPath := filepath.Join(home, ".config", "systemd", "user", systemdUnit)
	if err := os.Remove(unitPath); err != nil {
		return fmt.Errorf("remove unit: %w", err)
	}
	fmt.Printf("Daemon uninstalled: %s\n", unitPath)
	return nil
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{xml .Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{xml .Exec}}</string>
{{- range .Args}}
        <string>{{xml .}}</string>
{{- end}}
    </array>
    <key>WorkingDirectory</key>
    <string>{{xml .WorkDir}}</string>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{xml .Log}}</string>
    <key>StandardErrorPath</key>
    <string>{{xml .ErrLog}}</string>
</dict>
</plist>
`

const systemdTemplate = `[Unit]
Description=qqbridge OneBot bridge
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
WorkingDirectory={{.WorkDir}}
{{- if .EnvFile}}
EnvironmentFile={{.EnvFile}}
{{- end}}
ExecStart={{.Exec}} {{join .Args " "}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`
