// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/jllopis/mitosis/pkg/errors"
	"github.com/jllopis/mitosis/pkg/mcp"
	"github.com/spf13/cobra"
)

var mcpFlags struct {
	Transport  string
	Addr       string
	Credential string
	URL        string
	Args       []string
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Expose or drive a workflow session over the Model Context Protocol",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the workflow tools over stdio or streamable HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.watchKnowledge(ctx); err != nil {
			return err
		}

		credential := mcpFlags.Credential
		if credential == "" {
			credential = cfg.LLM.APIKey
		}
		srv := mcp.NewServer("mitosis", version, a.orch,
			mcp.WithCredential(credential),
			mcp.WithServerLogger(a.logger),
		)

		transport := mcpFlags.Transport
		if transport == "" {
			transport = cfg.MCP.Transport
		}
		addr := mcpFlags.Addr
		if addr == "" {
			addr = cfg.MCP.Addr
		}
		switch transport {
		case "stdio":
			return srv.ServeStdio()
		case "http":
			return srv.ServeStreamableHTTP(ctx, addr)
		default:
			return errors.NewInvalidInputError(fmt.Sprintf("unknown transport %q (want stdio or http)", transport))
		}
	},
}

var mcpToolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools of a remote MCP server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := mcp.NewClientWithStreamableHTTP(mcpFlags.URL)
		if err != nil {
			return errors.New(errors.CodeInternal, "cannot connect to "+mcpFlags.URL, err)
		}
		defer client.Close()

		tools, err := client.ListTools(cmd.Context())
		if err != nil {
			return err
		}
		if global.JSON {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(tools)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tDESCRIPTION")
		for _, t := range tools {
			fmt.Fprintf(tw, "%s\t%s\n", t.Name, t.Description)
		}
		return tw.Flush()
	},
}

var mcpCallCmd = &cobra.Command{
	Use:   "call <tool>",
	Short: "Call a tool on a remote MCP server",
	Example: `  mitosis mcp call run_workflow --url http://localhost:8090/mcp --arg input="Plan a launch" --arg wait=true
  mitosis mcp call connect_agents --arg from=0 --arg to=1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		toolArgs, err := parseToolArgs(mcpFlags.Args)
		if err != nil {
			return err
		}
		client, err := mcp.NewClientWithStreamableHTTP(mcpFlags.URL)
		if err != nil {
			return errors.New(errors.CodeInternal, "cannot connect to "+mcpFlags.URL, err)
		}
		defer client.Close()

		text, err := client.CallText(cmd.Context(), args[0], toolArgs)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	},
}

func init() {
	sf := mcpServeCmd.Flags()
	sf.StringVar(&mcpFlags.Transport, "transport", "", "stdio or http (defaults to mcp.transport)")
	sf.StringVar(&mcpFlags.Addr, "addr", "", "Listen address for http (defaults to mcp.addr)")
	sf.StringVar(&mcpFlags.Credential, "credential", "", "Default completion API key (defaults to llm.api_key)")

	for _, c := range []*cobra.Command{mcpToolsCmd, mcpCallCmd} {
		c.Flags().StringVar(&mcpFlags.URL, "url", "http://localhost:8090/mcp", "Streamable HTTP endpoint")
	}
	mcpCallCmd.Flags().StringArrayVar(&mcpFlags.Args, "arg", nil, "Tool argument key=value, repeatable; JSON values are decoded")

	mcpCmd.AddCommand(mcpServeCmd, mcpToolsCmd, mcpCallCmd)
}

// parseToolArgs turns key=value pairs into tool arguments. Values that
// parse as JSON (numbers, booleans, objects) keep their type.
func parseToolArgs(pairs []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(pairs))
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, errors.NewInvalidInputError(fmt.Sprintf("--arg expects key=value, got %q", p))
		}
		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[strings.TrimSpace(key)] = v
	}
	return out, nil
}
