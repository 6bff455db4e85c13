// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Command mitosis runs ACE agent workflows from the terminal and serves
// them over HTTP and MCP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jllopis/mitosis/pkg/config"
	"github.com/spf13/cobra"
)

// Set at build time via ldflags.
var (
	version = "dev"
	commit  = "none"
)

type globalFlags struct {
	ConfigPath string
	Profile    string
	Sets       []string
	JSON       bool
}

var global globalFlags

var rootCmd = &cobra.Command{
	Use:   "mitosis",
	Short: "Multi-agent workflow orchestrator",
	Long: `Mitosis turns a goal into a roster of ACE agents, runs them one after
another with a delegator steering each step, and lets agents that produce
long output split into clones.

Configuration comes from defaults, an optional YAML file, MITOSIS_*
environment variables and --set key=value flags, in that order.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&global.ConfigPath, "config", "", "Path to a YAML config file")
	pf.StringVar(&global.Profile, "profile", "", "Config profile overlay (config.<profile>.yaml)")
	pf.StringArrayVar(&global.Sets, "set", nil, "Override a config key (key=value), repeatable")
	pf.BoolVar(&global.JSON, "json", false, "Print machine-readable JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(knowledgeCmd)
	rootCmd.AddCommand(recordsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError(os.Stderr, err, global.JSON)
		stop()
		os.Exit(1)
	}
}

// configArgs renders the global flags in the form config.LoadWithCLI
// understands.
func (g globalFlags) configArgs() []string {
	var args []string
	if g.ConfigPath != "" {
		args = append(args, "--config", g.ConfigPath)
	}
	if g.Profile != "" {
		args = append(args, "--profile", g.Profile)
	}
	for _, s := range g.Sets {
		args = append(args, "--set", s)
	}
	return args
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithCLI(global.configArgs())
	if err != nil {
		return nil, NewConfigError(err, global.ConfigPath)
	}
	if err := cfg.Validate(); err != nil {
		return nil, NewConfigError(err, global.ConfigPath)
	}
	return cfg, nil
}
