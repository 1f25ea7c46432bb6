package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/zarigata/CHAOSV3/internal/config"
	"github.com/zarigata/CHAOSV3/internal/database"
	"github.com/zarigata/CHAOSV3/internal/telemetry"
)

// Process exit codes.
const (
	exitError        = 1
	exitConfig       = 2
	exitDatabaseDown = 3
)

// rootOptions carries the persistent flags and the state they resolve to.
// Subcommands receive the snapshot through resolved, never through a global.
type rootOptions struct {
	cfgFile  string
	cfgDir   string
	envFile  string
	logLevel string

	cfg       *config.Config
	logCloser io.Closer
}

// resolved returns the snapshot loaded by the root pre-run hook.
func (o *rootOptions) resolved() *config.Config { return o.cfg }

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "chaos",
		Short: "C.H.A.O.S server core",
		Long: `C.H.A.O.S (Cross-platform Hub for Audio, Organizing & Socializing) server.

Resolves configuration, brings up the PostgreSQL connection pool and serves
the health and API endpoints until SIGINT or SIGTERM.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd.Flags().Changed("log-level"))
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if opts.logCloser != nil {
				return opts.logCloser.Close()
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "path to a YAML config file (must exist when set)")
	flags.StringVar(&opts.cfgDir, "config-dir", "", "directory of per-section YAML files (database.yaml, ai.yaml, ...)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded below the process environment")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(opts.resolved),
		newCheckDBCmd(opts.resolved),
		newConfigCmd(opts.resolved),
	)
	return cmd
}

// load resolves the snapshot and installs the process logger it describes.
func (o *rootOptions) load(levelFlagSet bool) error {
	// Bootstrap logger until the snapshot says otherwise.
	slog.SetDefault(slog.New(telemetry.NewContextHandler(slog.NewJSONHandler(os.Stderr, nil))))

	cfg, err := config.NewResolver(config.Options{
		File:    o.cfgFile,
		Dir:     o.cfgDir,
		EnvFile: o.envFile,
	}).Resolve()
	if err != nil {
		return err
	}

	// The snapshot is shared and immutable; the flag only shapes the logger.
	tcfg := cfg.Telemetry
	if levelFlagSet {
		tcfg.LogLevel = o.logLevel
	}
	logger, closer, err := telemetry.NewLogger(tcfg, os.Stdout)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	slog.SetDefault(logger)

	o.cfg = cfg
	o.logCloser = closer
	return nil
}

// Execute is the entry point called by main.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("chaos exited with error", "error", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps a command error onto the process exit status.
func exitCode(err error) int {
	var cfgErr *config.Error
	switch {
	case err == nil:
		return 0
	case errors.As(err, &cfgErr):
		return exitConfig
	case errors.Is(err, database.ErrDatabaseUnavailable):
		return exitDatabaseDown
	default:
		return exitError
	}
}
