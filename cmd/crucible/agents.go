// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/crucible-dev/crucible/internal/agent"
)

func newAgentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List available subagent types",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			registry := agent.NewAgentRegistry()
			if dir := cfg.Subagents.AgentsDir; dir != "" {
				if err := registry.LoadDir(dir); err != nil {
					return err
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tMAX ITER\tTOOLS\tDESCRIPTION")
			for _, info := range agent.BuiltinTypes() {
				tools := "all"
				if len(info.AllowedTools) > 0 {
					tools = strings.Join(info.AllowedTools, ",")
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
					info.Name,
					agent.ParseSubagentType(info.Name).MaxIterations(),
					tools,
					info.Description,
				)
			}
			for _, custom := range registry.List() {
				tools := "all"
				if len(custom.Tools) > 0 {
					tools = strings.Join(custom.Tools, ",")
				}
				maxTurns := agent.CustomSubagent(custom.Name).MaxIterations()
				if custom.MaxTurns > 0 {
					maxTurns = custom.MaxTurns
				}
				fmt.Fprintf(w, "%s (custom)\t%d\t%s\t%s\n",
					strings.ToLower(custom.Name), maxTurns, tools, custom.Description)
			}
			return w.Flush()
		},
	}
}
