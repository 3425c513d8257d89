// Package svc provides cross-platform system service support for idclaim.
package svc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/kardianos/service"
	"github.com/rs/zerolog/log"
)

// Service modes.
const (
	ModeServe = "serve" // run the namespace server
	ModeHold  = "hold"  // claim an instance ID and hold it
)

// RunFunc is the function signature for running serve or hold modes.
type RunFunc func(ctx context.Context, configPath string) error

// Program implements service.Interface for the kardianos/service library.
type Program struct {
	Mode       string  // ModeServe or ModeHold
	ConfigPath string  // Path to configuration file
	RunServe   RunFunc // Function to run the namespace server
	RunHold    RunFunc // Function to run the claim holder

	ctx    context.Context
	cancel context.CancelFunc
	done   chan error
}

// Start is called when the service starts.
// It must not block; the actual work runs in a goroutine.
func (p *Program) Start(s service.Service) error {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan error, 1)

	go func() {
		var err error
		switch p.Mode {
		case ModeServe:
			if p.RunServe == nil {
				err = fmt.Errorf("serve function not configured")
			} else {
				err = p.RunServe(p.ctx, p.ConfigPath)
			}
		case ModeHold:
			if p.RunHold == nil {
				err = fmt.Errorf("hold function not configured")
			} else {
				err = p.RunHold(p.ctx, p.ConfigPath)
			}
		default:
			err = fmt.Errorf("unknown mode: %s", p.Mode)
		}
		p.done <- err
	}()

	return nil
}

// Stop is called when the service stops.
// It signals the running goroutine to stop and waits for it, which also
// gives the claim holder the chance to release its slot.
func (p *Program) Stop(s service.Service) error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		err := <-p.done
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

// ServiceConfig holds configuration for service installation.
type ServiceConfig struct {
	Name        string // Service name (e.g., "idclaim-server", "idclaim-hold")
	DisplayName string // Display name shown in service manager
	Description string // Service description
	Mode        string // ModeServe or ModeHold
	ConfigPath  string // Path to configuration file
	UserName    string // User to run service as (Linux/macOS only)
	AuthToken   string // Store auth token (passed via environment, not argv)
}

// DefaultServiceName returns the default service name based on mode.
func DefaultServiceName(mode string) string {
	if mode == ModeServe {
		return "idclaim-server"
	}
	return "idclaim-hold"
}

// DefaultDisplayName returns a human-readable display name.
func DefaultDisplayName(mode string) string {
	if mode == ModeServe {
		return "idclaim Namespace Server"
	}
	return "idclaim Instance ID Holder"
}

// DefaultDescription returns the service description.
func DefaultDescription(mode string) string {
	if mode == ModeServe {
		return "idclaim shared namespace server for instance ID coordination"
	}
	return "idclaim daemon holding this host's application instance ID"
}

// DefaultConfigPath returns the default config file path for the platform.
func DefaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "idclaim", "idclaim.yaml")
	default: // linux, darwin
		return "/etc/idclaim/idclaim.yaml"
	}
}

// NewServiceConfig creates service.Config from our ServiceConfig.
func NewServiceConfig(cfg *ServiceConfig) *service.Config {
	args := []string{
		"--service-run",
		"--service-mode", cfg.Mode,
		cfg.Mode,
		"--config", cfg.ConfigPath,
	}

	// The token travels via environment so it is not visible in process
	// listings the way argv is.
	env := make(map[string]string)
	if cfg.AuthToken != "" {
		env["IDCLAIM_TOKEN"] = cfg.AuthToken
	}

	svcCfg := &service.Config{
		Name:        cfg.Name,
		DisplayName: cfg.DisplayName,
		Description: cfg.Description,
		Arguments:   args,
		EnvVars:     env,
	}

	switch runtime.GOOS {
	case "linux":
		svcCfg.Dependencies = []string{"After=network-online.target", "Wants=network-online.target"}
		svcCfg.Option = service.KeyValue{
			"Restart":    "on-failure",
			"RestartSec": "5",
		}
		if cfg.UserName != "" {
			svcCfg.UserName = cfg.UserName
		}
	case "darwin":
		svcCfg.Option = service.KeyValue{
			"KeepAlive":     true,
			"RunAtLoad":     true,
			"SessionCreate": true,
		}
		if cfg.UserName != "" {
			svcCfg.UserName = cfg.UserName
		}
	case "windows":
		svcCfg.Option = service.KeyValue{
			"OnFailure":      "restart",
			"OnFailureDelay": "5s",
		}
	}

	return svcCfg
}

// CreateService creates a new service instance.
func CreateService(prg *Program, cfg *ServiceConfig) (service.Service, error) {
	return service.New(prg, NewServiceConfig(cfg))
}

// Install installs the service.
func Install(cfg *ServiceConfig, force bool) error {
	prg := &Program{Mode: cfg.Mode, ConfigPath: cfg.ConfigPath}
	svc, err := CreateService(prg, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	status, err := svc.Status()
	if err == nil {
		switch status {
		case service.StatusRunning:
			if !force {
				return fmt.Errorf("service %q is running; stop it first or use --force", cfg.Name)
			}
			if err := svc.Stop(); err != nil {
				log.Warn().Err(err).Msg("failed to stop service")
			}
			if err := svc.Uninstall(); err != nil {
				log.Warn().Err(err).Msg("failed to uninstall service")
			}
		case service.StatusStopped:
			if !force {
				return fmt.Errorf("service %q already installed; use --force to reinstall", cfg.Name)
			}
			if err := svc.Uninstall(); err != nil {
				log.Warn().Err(err).Msg("failed to uninstall service")
			}
		}
	}

	if err := svc.Install(); err != nil {
		return fmt.Errorf("install service: %w", err)
	}

	return nil
}

// Uninstall removes the service.
func Uninstall(cfg *ServiceConfig) error {
	prg := &Program{Mode: cfg.Mode, ConfigPath: cfg.ConfigPath}
	svc, err := CreateService(prg, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	status, _ := svc.Status()
	if status == service.StatusRunning {
		if err := svc.Stop(); err != nil {
			log.Warn().Err(err).Msg("failed to stop service")
		}
	}

	if err := svc.Uninstall(); err != nil {
		return fmt.Errorf("uninstall service: %w", err)
	}

	return nil
}

// Start starts the service.
func Start(cfg *ServiceConfig) error {
	prg := &Program{Mode: cfg.Mode, ConfigPath: cfg.ConfigPath}
	svc, err := CreateService(prg, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	if err := svc.Start(); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	return nil
}

// Stop stops the service.
func Stop(cfg *ServiceConfig) error {
	prg := &Program{Mode: cfg.Mode, ConfigPath: cfg.ConfigPath}
	svc, err := CreateService(prg, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	if err := svc.Stop(); err != nil {
		return fmt.Errorf("stop service: %w", err)
	}

	return nil
}

// Status returns the service status.
func Status(cfg *ServiceConfig) (service.Status, error) {
	prg := &Program{Mode: cfg.Mode, ConfigPath: cfg.ConfigPath}
	svc, err := CreateService(prg, cfg)
	if err != nil {
		return service.StatusUnknown, fmt.Errorf("create service: %w", err)
	}

	return svc.Status()
}

// StatusString returns a human-readable status string.
func StatusString(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Run runs the service (called when started by the service manager).
func Run(prg *Program, cfg *ServiceConfig) error {
	svc, err := CreateService(prg, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	return svc.Run()
}

// CheckPrivileges checks if the current user can manage services.
func CheckPrivileges() error {
	switch runtime.GOOS {
	case "windows":
		// Install will fail with a better error if not admin.
		return nil
	default:
		if os.Geteuid() != 0 {
			return fmt.Errorf("root privileges required (use sudo)")
		}
		return nil
	}
}

// IsServiceMode returns true if running as a service (--service-run flag is set).
func IsServiceMode(args []string) bool {
	for _, arg := range args {
		if arg == "--service-run" {
			return true
		}
	}
	return false
}
