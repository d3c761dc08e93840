package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	web "github.com/revolutedigital/igreja-betania/internal/adapters/http"
	"github.com/revolutedigital/igreja-betania/internal/adapters/storage"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

var trustedOrigins []string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local API and sync in the background (default)",
	Long: `Serve the local JSON API the UI talks to.

The server probes the remote API, answers reads from the remote when it is
reachable and from the local store otherwise, queues writes made offline and
replays them on every reconnect. Connectivity changes and sync results are
pushed to clients of /api/status/stream.`,
	RunE: runServe,
}

func init() {
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringSliceVar(&trustedOrigins, "trusted-origin", nil, "extra origin allowed for form posts and the status stream (repeatable)")
	}
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	csrfKey, err := web.LoadCSRFKey(cfg.CSRFKey, cfg.IsProduction())
	if err != nil {
		return err
	}

	rt := openRuntime(ctx, cfg)
	defer rt.close()

	go rt.prober.Run(ctx)
	stopSync := rt.reconciler.Start(ctx, rt.monitor)
	defer stopSync()

	hub := web.NewHub(trustedOrigins)
	stopFollow := hub.Follow(rt.monitor, rt.reconciler)
	defer stopFollow()

	handler := web.NewMux(&web.App{
		Facade:     rt.facade,
		Reconciler: rt.reconciler,
		Local:      rt.local,
		Monitor:    rt.monitor,
		Hub:        hub,
	}, rt.collector, web.Options{
		CSRFKey:        csrfKey,
		Secure:         cfg.IsProduction(),
		TrustedOrigins: trustedOrigins,
		SlowRequest:    cfg.SlowRequest,
	})
	defer web.Shutdown()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	slog.Info("server_started", "version", version, "addr", cfg.ListenAddr, "env", cfg.Env,
		"remote", cfg.RemoteURL, "offline_cache", rt.local != nil, "schema_version", storage.LatestSchemaVersion)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	slog.Info("server_stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server_shutdown_failed", "error", err)
	}
	return nil
}
