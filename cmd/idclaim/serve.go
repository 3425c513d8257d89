package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/idclaim/idclaim/internal/config"
	"github.com/idclaim/idclaim/internal/logging/audit"
	"github.com/idclaim/idclaim/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the shared namespace server",
		Long: `Run the HTTP namespace server that instances on other hosts coordinate
through. Records live in the server's data directory; clients use the
"http" store backend pointed at this server.

Prometheus metrics are exposed on /metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return runServe(ctx, cfgFile)
		},
	}
}

// runServe runs the namespace server until ctx is cancelled. Used by both
// the CLI command and the service runner.
func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	stopLoki := setupLokiShipping(cfg, map[string]string{"component": "server"})
	defer stopLoki()

	srv := store.NewServer(cfg.Server.DataDir, cfg.Server.AuthToken, store.InitMetrics(nil))
	if cfg.Server.Audit {
		srv.SetAudit(audit.NewLogger(log.Logger))
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/namespaces/", srv.Handler())
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpSrv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("server shutdown failed")
		}
	}()

	log.Info().
		Str("listen", cfg.Server.Listen).
		Str("data_dir", cfg.Server.DataDir).
		Bool("auth", cfg.Server.AuthToken != "").
		Msg("namespace server listening")

	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("namespace server: %w", err)
	}
	return nil
}
