package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and the configured bookmark source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer syncLogger(logger)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: db=%s storage=%s port=%d\n", cfg.DB.Driver, cfg.Storage.Backend, cfg.Server.Port)
			if cfg.Source.Path == "" {
				fmt.Fprintln(out, "source: not configured")
				return nil
			}
			n, err := checkSource(cmd.Context(), cfg.Source.Path, cfg.Source.Format)
			if err != nil {
				return fmt.Errorf("source %s: %w", cfg.Source.Path, err)
			}
			fmt.Fprintf(out, "source ok: %s (%d links)\n", cfg.Source.Path, n)
			return nil
		},
	}
}
