// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if global.JSON {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{
				"version": version,
				"commit":  commit,
				"go":      runtime.Version(),
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "mitosis %s (%s) %s\n", version, commit, runtime.Version())
		return nil
	},
}
