package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zarigata/CHAOSV3/internal/config"
	"github.com/zarigata/CHAOSV3/internal/telemetry"
)

const (
	otelShutdownTimeout = 5 * time.Second
	readHeaderTimeout   = 5 * time.Second
)

func newServeCmd(snapshot func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the C.H.A.O.S HTTP server",
		Long: `Start the HTTP server on the configured host and port (default 0.0.0.0:8000).

The database pool is initialized before the listener opens; if it cannot
reach READY the process exits non-zero without serving. On SIGTERM or SIGINT
the server stops admitting new work, drains in-flight requests and closes
the pool.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, snapshot())
		},
	}
}

func runServe(cmd *cobra.Command, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A missing or unreachable collector is non-fatal.
	tp, err := telemetry.InitProvider(ctx, cfg.Telemetry, cfg.Version)
	if err != nil {
		slog.Warn("OTEL provider init failed, telemetry disabled", "err", err)
	} else {
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), otelShutdownTimeout)
			defer cancel()
			if shutErr := tp.Shutdown(shutCtx); shutErr != nil {
				slog.Warn("OTEL shutdown error", "err", shutErr)
			}
		}()
	}

	app, err := buildAppContext(cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("building app context: %w", err)
	}
	defer func() {
		if closeErr := app.close(); closeErr != nil {
			slog.Warn("closing clients", "error", closeErr)
		}
	}()

	slog.Info("starting server",
		"project", cfg.ProjectName,
		"version", cfg.Version,
		"environment", cfg.Environment,
		"otel", tp != nil && tp.Enabled(),
	)

	if err := app.svc.Start(ctx); err != nil {
		return err
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           app.router.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("chaos server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case err := <-serverErr:
		runErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	return errors.Join(runErr, shutdown(cfg, app, srv))
}

// shutdown stops admission, drains HTTP then closes the database. The database
// is closed even when the HTTP drain times out.
func shutdown(cfg *config.Config, app *AppContext, srv *http.Server) error {
	app.svc.Drain()

	httpCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	httpErr := srv.Shutdown(httpCtx)
	if httpErr != nil {
		slog.Warn("http drain incomplete", "error", httpErr)
		httpErr = fmt.Errorf("graceful shutdown failed: %w", httpErr)
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), cfg.Database.ShutdownGrace+time.Second)
	defer dbCancel()
	if err := app.svc.Shutdown(dbCtx); err != nil {
		// Logged by the service; a slow pool never changes the exit status.
		slog.Debug("database shutdown returned", "error", err)
	}

	if httpErr == nil {
		slog.Info("server stopped cleanly")
	}
	return httpErr
}
