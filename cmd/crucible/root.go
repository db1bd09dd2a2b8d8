// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/crucible-dev/crucible/internal/config"
)

// NewRootCmd creates the root crucible command with all subcommands
// registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "crucible",
		Short:         "Crucible — autonomous coding agent runtime",
		Long:          "Crucible runs an LLM-driven agent loop with tool-call approval, loop detection, and subagent delegation.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newRunCmd(),
		newAgentsCmd(),
		newSessionsCmd(),
		newVersionCmd(),
	)

	return root
}

// loadConfig reads the configuration honoring the --config flag. An
// absent flag loads defaults plus CRUCIBLE_ environment overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}
