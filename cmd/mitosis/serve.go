// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/jllopis/mitosis/pkg/config"
	"github.com/jllopis/mitosis/pkg/mcp"
	"github.com/jllopis/mitosis/pkg/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveFlags struct {
	Addr       string
	Credential string
	WithMCP    bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the workflow API and live trace feed over HTTP",
	Long: `Serve one orchestrator session over HTTP: a JSON API under /api, a
websocket feed on /api/ws and server-sent events on /api/events.

With --config, edits to the file (or its profile overlay) update the
mitosis settings of the next run without a restart.`,
	Args: cobra.NoArgs,
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
		if global.ConfigPath != "" {
			w, err := config.NewWatcher(global.ConfigPath, global.Profile, config.WithWatchLogger(a.logger))
			if err != nil {
				return err
			}
			w.OnChange(func(c *config.Config) {
				a.orch.SetConfig(orchestratorConfig(c.Orchestrator))
			})
			w.Start(ctx)
			defer w.Stop()
		}

		credential := serveFlags.Credential
		if credential == "" {
			credential = cfg.LLM.APIKey
		}
		addr := serveFlags.Addr
		if addr == "" {
			addr = cfg.Server.Addr
		}

		hub := server.NewHub(a.logger)
		a.events.Add(hub)
		srv := server.New(a.orch,
			server.WithHub(hub),
			server.WithHealth(a.health),
			server.WithCredential(credential),
			server.WithLogger(a.logger),
			server.WithVersion(version),
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Serve(gctx, addr) })
		if serveFlags.WithMCP {
			m := mcp.NewServer("mitosis", version, a.orch,
				mcp.WithCredential(credential),
				mcp.WithServerLogger(a.logger),
			)
			g.Go(func() error { return m.ServeStreamableHTTP(gctx, cfg.MCP.Addr) })
		}
		return g.Wait()
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.Addr, "addr", "", "Listen address (defaults to server.addr)")
	f.StringVar(&serveFlags.Credential, "credential", "", "Default completion API key (defaults to llm.api_key)")
	f.BoolVar(&serveFlags.WithMCP, "mcp", false, "Also serve MCP over streamable HTTP on mcp.addr")
}
