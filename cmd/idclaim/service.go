package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/idclaim/idclaim/internal/svc"
)

var (
	serviceMode       string
	serviceConfigPath string
	serviceName       string
	serviceUser       string
	forceInstall      bool
	logsFollow        bool
	logsLines         int
)

func newServiceCmd() *cobra.Command {
	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage idclaim system services",
		Long: `Install, control, and manage idclaim as a system service.

Supported platforms:
  - Linux (systemd)
  - macOS (launchd)
  - Windows (Service Control Manager)

Examples:
  # Install the namespace server
  sudo idclaim service install --mode serve --config /etc/idclaim/idclaim.yaml

  # Install the claim holder daemon
  sudo idclaim service install --mode hold

  # Control the service
  sudo idclaim service start --mode serve
  sudo idclaim service stop --mode serve
  idclaim service status --mode serve

  # View logs
  sudo idclaim service logs --mode serve --follow`,
	}

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install idclaim as a system service",
		Long: `Install idclaim as a system service that starts automatically at boot.

Requires administrator/root privileges.`,
		RunE: runServiceInstall,
	}
	installCmd.Flags().StringVar(&serviceMode, "mode", svc.ModeHold, "Service mode: 'serve' (namespace server) or 'hold' (claim holder)")
	installCmd.Flags().StringVarP(&serviceConfigPath, "config", "c", "", "Path to configuration file")
	installCmd.Flags().StringVarP(&serviceName, "name", "n", "", "Service name (default: idclaim-hold or idclaim-server)")
	installCmd.Flags().StringVar(&serviceUser, "user", "", "Run service as this user (Linux/macOS only)")
	installCmd.Flags().BoolVarP(&forceInstall, "force", "f", false, "Force reinstall if service already exists")
	serviceCmd.AddCommand(installCmd)

	uninstallCmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the idclaim system service",
		RunE:  runServiceUninstall,
	}
	addServiceSelectionFlags(uninstallCmd)
	serviceCmd.AddCommand(uninstallCmd)

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the idclaim service",
		RunE:  runServiceStart,
	}
	addServiceSelectionFlags(startCmd)
	serviceCmd.AddCommand(startCmd)

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the idclaim service",
		RunE:  runServiceStop,
	}
	addServiceSelectionFlags(stopCmd)
	serviceCmd.AddCommand(stopCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show idclaim service status",
		RunE:  runServiceStatus,
	}
	addServiceSelectionFlags(statusCmd)
	serviceCmd.AddCommand(statusCmd)

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "View idclaim service logs",
		Long: `View logs from the idclaim service.

Log locations by platform:
  - Linux: journalctl -u idclaim-hold (or idclaim-server)
  - macOS: /var/log/<service-name>.out.log`,
		RunE: runServiceLogs,
	}
	addServiceSelectionFlags(logsCmd)
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().IntVar(&logsLines, "lines", 50, "Number of log lines to show")
	serviceCmd.AddCommand(logsCmd)

	return serviceCmd
}

func addServiceSelectionFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&serviceMode, "mode", svc.ModeHold, "Service mode: 'serve' or 'hold'")
	cmd.Flags().StringVarP(&serviceName, "name", "n", "", "Service name")
}

func getServiceConfig() *svc.ServiceConfig {
	mode := serviceMode
	if mode == "" {
		mode = svc.ModeHold
	}

	name := serviceName
	if name == "" {
		name = svc.DefaultServiceName(mode)
	}

	configPath := serviceConfigPath
	if configPath == "" {
		configPath = svc.DefaultConfigPath()
	}

	return &svc.ServiceConfig{
		Name:        name,
		DisplayName: svc.DefaultDisplayName(mode),
		Description: svc.DefaultDescription(mode),
		Mode:        mode,
		ConfigPath:  configPath,
		UserName:    serviceUser,
	}
}

func runServiceInstall(cmd *cobra.Command, args []string) error {
	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	if serviceMode != svc.ModeServe && serviceMode != svc.ModeHold {
		return fmt.Errorf("invalid mode %q: must be 'serve' or 'hold'", serviceMode)
	}

	cfg := getServiceConfig()

	// The hold daemon runs fine on a default config, but serve needs at
	// least a data directory decision, so require the file to exist.
	if _, err := os.Stat(cfg.ConfigPath); os.IsNotExist(err) && serviceMode == svc.ModeServe {
		return fmt.Errorf("config file not found: %s\nCreate the config file first or specify a different path with --config", cfg.ConfigPath)
	}

	log.Info().
		Str("name", cfg.Name).
		Str("mode", cfg.Mode).
		Str("config", cfg.ConfigPath).
		Msg("installing service")

	if err := svc.Install(cfg, forceInstall); err != nil {
		return err
	}

	fmt.Printf("Service %q installed successfully.\n", cfg.Name)
	fmt.Printf("\nTo start the service:\n")
	fmt.Printf("  idclaim service start --mode %s --name %s\n", cfg.Mode, cfg.Name)
	fmt.Printf("\nTo view logs:\n")
	fmt.Printf("  idclaim service logs --mode %s --name %s\n", cfg.Mode, cfg.Name)

	return nil
}

func runServiceUninstall(cmd *cobra.Command, args []string) error {
	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()

	log.Info().Str("name", cfg.Name).Msg("uninstalling service")

	if err := svc.Uninstall(cfg); err != nil {
		return err
	}

	fmt.Printf("Service %q uninstalled successfully.\n", cfg.Name)
	return nil
}

func runServiceStart(cmd *cobra.Command, args []string) error {
	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()

	log.Info().Str("name", cfg.Name).Msg("starting service")

	if err := svc.Start(cfg); err != nil {
		return err
	}

	fmt.Printf("Service %q started.\n", cfg.Name)
	return nil
}

func runServiceStop(cmd *cobra.Command, args []string) error {
	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()

	log.Info().Str("name", cfg.Name).Msg("stopping service")

	if err := svc.Stop(cfg); err != nil {
		return err
	}

	fmt.Printf("Service %q stopped.\n", cfg.Name)
	return nil
}

func runServiceStatus(cmd *cobra.Command, args []string) error {
	cfg := getServiceConfig()

	status, err := svc.Status(cfg)
	if err != nil {
		fmt.Printf("Service: %s\n", cfg.Name)
		fmt.Printf("Status:  not installed or unknown\n")
		fmt.Printf("Error:   %v\n", err)
		return nil
	}

	fmt.Printf("Service: %s\n", cfg.Name)
	fmt.Printf("Status:  %s\n", svc.StatusString(status))
	fmt.Printf("Mode:    %s\n", cfg.Mode)
	fmt.Printf("Config:  %s\n", cfg.ConfigPath)

	return nil
}

func runServiceLogs(cmd *cobra.Command, args []string) error {
	cfg := getServiceConfig()

	return svc.ViewLogs(svc.LogOptions{
		ServiceName: cfg.Name,
		Follow:      logsFollow,
		Lines:       logsLines,
	})
}
