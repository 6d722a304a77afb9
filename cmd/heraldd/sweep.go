package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	envFiles := defaultEnvFiles

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a single retry sweep and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(envFiles)
			if err != nil {
				return err
			}
			if cfg.Store == "memory" {
				return errors.New("sweep needs a shared store; HERALD_STORE is memory")
			}
			logger := cfg.Logger()
			ctx := cmd.Context()

			s, locker, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck // best-effort

			hd, err := newHerald(cfg, s, locker, prometheus.NewRegistry(), logger)
			if err != nil {
				return fmt.Errorf("init herald: %w", err)
			}

			report, err := hd.Sweep(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringSliceVar(&envFiles, "env-file", envFiles, "env files to load before reading HERALD_* variables")
	return cmd
}
