// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Manage the knowledge base of the configured backend",
	Long: `Manage knowledge entries. Changes only persist with the sqlite or
qdrant backend; the memory backend lives as long as the command.`,
}

var knowledgeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List entries in insertion order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := appFromFlags(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		entries, err := a.knowledge.Entries(cmd.Context())
		if err != nil {
			return err
		}
		if global.JSON {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(entries)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tVALUE")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\n", e.Key, e.Value)
		}
		return tw.Flush()
	},
}

var knowledgeAddCmd = &cobra.Command{
	Use:   "add <key> <value>",
	Short: "Add or overwrite an entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := appFromFlags(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		return a.knowledge.AddEntry(cmd.Context(), args[0], args[1])
	},
}

var knowledgeRemoveCmd = &cobra.Command{
	Use:   "remove <key>",
	Short: "Remove an entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := appFromFlags(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		return a.knowledge.Remove(cmd.Context(), args[0])
	},
}

var knowledgeLoadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Upsert the entries of a YAML or JSON seed file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := appFromFlags(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		n, err := a.knowledge.LoadFile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "loaded %d entries\n", n)
		return nil
	},
}

var knowledgeQueryCmd = &cobra.Command{
	Use:   "query <prompt>",
	Short: "Show what an agent would retrieve for a prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := appFromFlags(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		fmt.Fprintln(cmd.OutOrStdout(), a.knowledge.Query(cmd.Context(), args[0]))
		return nil
	},
}

func init() {
	knowledgeCmd.AddCommand(knowledgeListCmd, knowledgeAddCmd, knowledgeRemoveCmd, knowledgeLoadCmd, knowledgeQueryCmd)
}

func appFromFlags(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg)
}
