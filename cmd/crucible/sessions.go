// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/crucible-dev/crucible/internal/store"
	"github.com/crucible-dev/crucible/internal/store/sqlite"
	crucerr "github.com/crucible-dev/crucible/pkg/errors"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions <session-id>",
		Short: "Show the recorded turns of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Storage.Backend != "sqlite" {
				return crucerr.Errorf(crucerr.CodeConfigValidateInvalidValue,
					"sessions requires the sqlite storage backend (configured: %s)", cfg.Storage.Backend)
			}

			st, err := sqlite.New(cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			turns, err := st.ListTurns(cmd.Context(), args[0], store.ListOpts{Limit: limit})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TURN\tSTATUS\tITER\tTOKENS\tSTARTED")
			for _, turn := range turns {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
					turn.ID, turn.Status, turn.ToolIterations,
					turn.InputTokens+turn.OutputTokens,
					turn.StartedAt.Format("2006-01-02 15:04:05"),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().Int("limit", 50, "maximum turns to list")
	return cmd
}
