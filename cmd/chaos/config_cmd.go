package main

import (
	"github.com/spf13/cobra"

	"github.com/zarigata/CHAOSV3/internal/config"
)

func newConfigCmd(snapshot func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeJSON(cmd.OutOrStdout(), snapshot().Redacted())
		},
	}
}
