// idclaim allocates process-lifetime application instance IDs through a
// shared record store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/idclaim/idclaim/internal/allocator"
	"github.com/idclaim/idclaim/internal/config"
	"github.com/idclaim/idclaim/internal/lifecycle"
	"github.com/idclaim/idclaim/internal/logging/loki"
	"github.com/idclaim/idclaim/internal/store"
	"github.com/idclaim/idclaim/internal/svc"
	"github.com/idclaim/idclaim/pkg/instanceid"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Global flags
var (
	cfgFile  string
	logLevel string

	// Purge command flags
	purgeKeepHistory bool

	// Service mode flags (hidden, used when running as a service)
	serviceRun     bool
	serviceRunMode string
)

func main() {
	// Check if running as a service (invoked by service manager)
	if svc.IsServiceMode(os.Args) {
		runAsService()
		return
	}

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "idclaim",
		Short: "Application instance ID allocation over a shared record store",
		Long: `idclaim assigns each running instance of an application a small unique
integer ID, coordinating through a shared record store instead of a lock
service. The smallest free ID always wins, and IDs are released on
graceful shutdown.

Examples:
  # Claim an ID and hold it until interrupted
  idclaim hold

  # Run the shared namespace server
  idclaim serve

  # Inspect the namespace
  idclaim list

  # Clean up a slot leaked by a crashed instance
  idclaim purge 7

  # Install the holder as a system service
  sudo idclaim service install --mode hold`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildTime),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	root.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")

	// Hidden service mode flags (used when running as a service)
	root.PersistentFlags().BoolVar(&serviceRun, "service-run", false, "Run as a service (internal use)")
	root.PersistentFlags().StringVar(&serviceRunMode, "service-mode", "", "Service mode: serve or hold (internal use)")
	_ = root.PersistentFlags().MarkHidden("service-run")
	_ = root.PersistentFlags().MarkHidden("service-mode")

	holdCmd := &cobra.Command{
		Use:   "hold",
		Short: "Claim an instance ID and hold it until shutdown",
		Long: `Claim the smallest free instance ID and hold it for the life of the
process. The ID is printed on stdout; on SIGINT or SIGTERM the claim is
released and the process exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHold(cmd.Context(), cfgFile)
		},
	}
	root.AddCommand(holdCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List currently claimed instance IDs",
		RunE:  runList,
	}
	root.AddCommand(listCmd)

	purgeCmd := &cobra.Command{
		Use:   "purge <id>",
		Short: "Delete the claim record for an ID",
		Long: `Delete the claim record for an ID, including its archived history.

This is an operator override for slots leaked by instances that died
without releasing. Never purge the record of a live instance: its ID
would be handed to the next claimant and the two would collide.`,
		Args: cobra.ExactArgs(1),
		RunE: runPurge,
	}
	purgeCmd.Flags().BoolVar(&purgeKeepHistory, "keep-history", false, "Keep archived record history")
	root.AddCommand(purgeCmd)

	root.AddCommand(newServeCmd())
	root.AddCommand(newServiceCmd())

	return root
}

func setupLogging() {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	})
}

// setupLokiShipping attaches a Loki writer to the global logger when
// configured. The returned stop function flushes the final batch.
func setupLokiShipping(cfg *config.Config, labels map[string]string) func() {
	if !cfg.Loki.Enabled || cfg.Loki.URL == "" {
		return func() {}
	}

	flushInterval, err := time.ParseDuration(cfg.Loki.FlushInterval)
	if err != nil {
		flushInterval = 5 * time.Second
	}
	labels["version"] = Version

	w := loki.NewWriter(loki.Config{
		URL:           cfg.Loki.URL,
		BatchSize:     cfg.Loki.BatchSize,
		FlushInterval: flushInterval,
		Labels:        labels,
	})
	w.Start()

	log.Logger = log.Output(zerolog.MultiLevelWriter(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
		w,
	))
	log.Info().Str("url", cfg.Loki.URL).Msg("Loki log shipping enabled")
	return w.Stop
}

// buildRepo constructs the record store backend selected by the config.
func buildRepo(cfg *config.Config) (store.Repo, error) {
	switch cfg.Store.Backend {
	case config.BackendFS:
		return store.NewFSRepo(cfg.Store.Path, cfg.Namespace)
	case config.BackendHTTP:
		token := cfg.Store.AuthToken
		if token == "" {
			token = os.Getenv("IDCLAIM_TOKEN")
		}
		return store.NewHTTPRepo(cfg.Store.Endpoint, cfg.Namespace, token)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// runHold claims an ID and keeps it until ctx is cancelled or a shutdown
// signal arrives. Used by both the CLI command and the service runner.
func runHold(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	stopLoki := setupLokiShipping(cfg, map[string]string{
		"instance":  cfg.InstanceName,
		"namespace": cfg.Namespace,
	})
	defer stopLoki()

	repo, err := buildRepo(cfg)
	if err != nil {
		return err
	}

	notifier := lifecycle.NewSignalNotifier()
	defer notifier.Stop()

	alloc := allocator.New(repo, allocator.Config{
		InstanceName: cfg.InstanceName,
		Notifier:     notifier,
		OnReleaseError: func(err error) {
			log.Warn().Err(err).Msg("failed to release instance ID, slot leaked")
		},
		Metrics: allocator.InitMetrics(nil),
	})

	id, err := alloc.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire instance ID: %w", err)
	}
	fmt.Println(id)

	log.Info().
		Str("instance", cfg.InstanceName).
		Str("id", id.String()).
		Msg("holding instance ID, press Ctrl+C to release")

	shutdown := make(chan struct{})
	unsubscribe := notifier.Subscribe(func() { close(shutdown) })
	defer unsubscribe()

	select {
	case <-ctx.Done():
	case <-shutdown:
	}

	// The notifier subscription releases on signal; this covers the
	// ctx-cancel path and is a no-op if the release already ran.
	alloc.Release(context.Background())
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	repo, err := buildRepo(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	names, err := repo.ListRecordNames(ctx)
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}
	if len(names) == 0 {
		fmt.Printf("No claimed IDs in namespace %q.\n", cfg.Namespace)
		return nil
	}

	type claim struct {
		id   instanceid.ID
		name string
	}
	claims := make([]claim, 0, len(names))
	for _, name := range names {
		id, err := instanceid.Parse(name)
		if err != nil {
			fmt.Printf("  ?      %s (foreign record)\n", name)
			continue
		}
		claims = append(claims, claim{id: id, name: name})
	}
	sort.Slice(claims, func(i, j int) bool { return claims[i].id < claims[j].id })

	reader, _ := repo.(store.RecordReader)
	fmt.Printf("Claimed IDs in namespace %q:\n", cfg.Namespace)
	for _, c := range claims {
		line := "  " + c.id.String()
		if reader != nil {
			if data, err := reader.ReadRecord(ctx, c.name); err == nil {
				line += "  " + strings.Join(strings.Fields(string(data)), " ")
			}
		}
		fmt.Println(line)
	}
	return nil
}

func runPurge(cmd *cobra.Command, args []string) error {
	id, err := instanceid.Parse(args[0])
	if err != nil {
		return err
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	repo, err := buildRepo(cfg)
	if err != nil {
		return err
	}

	if err := repo.DeleteRecord(cmd.Context(), id.String(), !purgeKeepHistory); err != nil {
		return fmt.Errorf("purge record: %w", err)
	}

	fmt.Printf("Purged claim record for ID %s.\n", id)
	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("received interrupt signal, shutting down...")
		cancel()
	}()

	return ctx, cancel
}

// runAsService runs the application as a system service.
// Called when the service manager starts the binary with --service-run.
func runAsService() {
	setupLogging()

	// Parse the service-specific flags manually
	var mode, configPath string
	for i, arg := range os.Args {
		if arg == "--service-mode" && i+1 < len(os.Args) {
			mode = os.Args[i+1]
		}
		if (arg == "--config" || arg == "-c") && i+1 < len(os.Args) {
			configPath = os.Args[i+1]
		}
	}

	if mode == "" {
		log.Fatal().Msg("service mode not specified")
	}
	if configPath == "" {
		configPath = svc.DefaultConfigPath()
	}

	log.Info().
		Str("mode", mode).
		Str("config", configPath).
		Msg("starting as service")

	cfg := &svc.ServiceConfig{
		Name:        svc.DefaultServiceName(mode),
		DisplayName: svc.DefaultDisplayName(mode),
		Description: svc.DefaultDescription(mode),
		Mode:        mode,
		ConfigPath:  configPath,
	}

	prg := &svc.Program{
		Mode:       mode,
		ConfigPath: configPath,
		RunServe:   runServe,
		RunHold:    runHold,
	}

	if err := svc.Run(prg, cfg); err != nil {
		log.Fatal().Err(err).Msg("service error")
	}
}
