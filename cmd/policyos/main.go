// Package main is the entry point for the policyos binary.
// It provides operator tooling around the policy decision engine: template
// validation, schema inspection, and offline lifecycle simulation.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/polisai/policyos/pkg/config"
	"github.com/polisai/policyos/pkg/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for policyos.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "policyos",
		Short: "Merchant policy decision engine tooling",
		Long: `Operator tooling for the PolicyOS decision engine.

Validate policy templates against the registered schemas, inspect the
schemas themselves, or simulate a full draft-to-decision lifecycle from a
scenario file without touching production state.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newSchemasCmd())
	rootCmd.AddCommand(newSimulateCmd())
	return rootCmd
}

// loadConfig resolves the effective configuration and logger for a command.
func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("read config flag: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
	})
	return cfg, logger, nil
}
