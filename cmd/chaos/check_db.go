package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/zarigata/CHAOSV3/internal/config"
	"github.com/zarigata/CHAOSV3/internal/database"
	"github.com/zarigata/CHAOSV3/internal/lifecycle"
)

func newCheckDBCmd(snapshot func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "check-db",
		Short: "Initialize the database pool once, print its state and exit",
		Long: `check-db resolves configuration, initializes the PostgreSQL pool, runs one
liveness probe and prints a JSON result to stdout.

The command exits 0 when the pool reached READY and non-zero when it FAILED.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheckDB(cmd, snapshot())
		},
	}
}

// checkResult is the JSON document printed by check-db.
type checkResult struct {
	State string                 `json:"state"`
	Error string                 `json:"error,omitempty"`
	Probe *lifecycle.ProbeResult `json:"probe,omitempty"`
	Stats database.Stats         `json:"stats"`
}

func runCheckDB(cmd *cobra.Command, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Database.ProbeTimeout+cfg.Database.PoolTimeout)
	defer cancel()

	db := database.New(cfg.Database, nil, slog.Default().With("component", "database"))
	return checkDatabase(ctx, db, cmd.OutOrStdout())
}

func checkDatabase(ctx context.Context, db *database.Bootstrap, out io.Writer) error {
	initErr := db.Initialize(ctx)
	defer db.Shutdown(context.Background()) //nolint:errcheck

	result := checkResult{State: db.State().String()}
	if initErr != nil {
		result.Error = initErr.Error()
	} else {
		probe := db.Probe(ctx)
		result.Probe = &probe
	}
	result.Stats = db.Stats()

	if err := writeJSON(out, result); err != nil {
		return err
	}
	if initErr != nil {
		return fmt.Errorf("database check failed: %w", initErr)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	return nil
}
