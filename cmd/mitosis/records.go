// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jllopis/mitosis/pkg/errors"
	"github.com/jllopis/mitosis/pkg/workflow"
	"github.com/spf13/cobra"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Manage saved roster records (requires store.path)",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := recordsApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		records, err := a.orch.Records(cmd.Context())
		if err != nil {
			return err
		}
		if global.JSON {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(records)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tAGENTS\tCONNECTIONS\tCREATED")
		for _, r := range records {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", r.ID, r.Name, len(r.Agents), len(r.Connections), r.CreatedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

var recordsSaveCmd = &cobra.Command{
	Use:   "save <name> <document>",
	Short: "Save a workflow document as a named record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := recordsApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		doc, err := workflow.LoadDocument(args[1])
		if err != nil {
			return err
		}
		if err := a.orch.Import(cmd.Context(), doc); err != nil {
			return err
		}
		rec, err := a.orch.SaveRecord(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rec.ID)
		return nil
	},
}

var recordsExportCmd = &cobra.Command{
	Use:   "export <id> <file>",
	Short: "Write a record as a workflow document (.json, .yaml or .yml)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := recordsApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.orch.LoadRecord(cmd.Context(), args[0]); err != nil {
			return err
		}
		return workflow.SaveDocument(args[1], a.orch.Export())
	},
}

var recordsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a saved record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := recordsApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		return a.orch.DeleteRecord(cmd.Context(), args[0])
	},
}

var recordsAuditCmd = &cobra.Command{
	Use:   "audit [run-id]",
	Short: "Show the step audit of past runs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := recordsApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		runID := ""
		if len(args) == 1 {
			runID = args[0]
		}
		events, err := a.orch.Audit(cmd.Context(), runID)
		if err != nil {
			return err
		}
		if global.JSON {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(events)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "RUN\tSTEP\tAGENT\tSTATUS\tDURATION")
		for _, ev := range events {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", ev.RunID, ev.Step, ev.AgentName, ev.Status,
				ev.FinishedAt.Sub(ev.StartedAt).Round(time.Millisecond))
		}
		return tw.Flush()
	},
}

func init() {
	recordsCmd.AddCommand(recordsListCmd, recordsSaveCmd, recordsExportCmd, recordsDeleteCmd, recordsAuditCmd)
}

// recordsApp builds the app and insists on persistent storage, since
// records kept in memory vanish when the command exits.
func recordsApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Store.Path) == "" {
		return nil, NewCLIError(
			errors.NewInvalidInputError("records need a SQLite store"),
			"set store.path in the config or pass --set store.path="+filepath.Join(".", "mitosis.db"),
		)
	}
	return newApp(cmd.Context(), cfg)
}
