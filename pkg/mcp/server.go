// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	mitosiserrors "github.com/jllopis/mitosis/pkg/errors"
	"github.com/jllopis/mitosis/pkg/orchestrator"
	"github.com/jllopis/mitosis/pkg/workflow"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const shutdownTimeout = 5 * time.Second

// Server exposes an orchestrator session as MCP tools.
type Server struct {
	mcpServer  *server.MCPServer
	orch       *orchestrator.Orchestrator
	credential string
	logger     *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithCredential sets the completion credential used when a tool call
// does not pass one.
func WithCredential(c string) ServerOption {
	return func(s *Server) { s.credential = c }
}

// WithServerLogger sets the logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates an MCP server for orch with every workflow tool
// registered.
func NewServer(name, version string, orch *orchestrator.Orchestrator, opts ...ServerOption) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(name, version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
			server.WithInstructions("Drive a mitosis multi-agent workflow: edit the roster, run it, pause or resume it and read the output."),
		),
		orch:   orch,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// ServeStdio serves on stdin and stdout until the stream closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// Handler returns the streamable HTTP transport as an http.Handler.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer)
}

// ServeStreamableHTTP serves the streamable HTTP transport on addr until
// ctx is done.
func (s *Server) ServeStreamableHTTP(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("mcp.http.listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	return nil
}

func (s *Server) registerTools() {
	add := func(tool mcp.Tool, h server.ToolHandlerFunc) { s.mcpServer.AddTool(tool, h) }

	add(mcp.NewTool("run_workflow",
		mcp.WithDescription("Start a workflow run. An empty roster is generated from the input first."),
		mcp.WithString("input", mcp.Required(), mcp.Description("Goal for the workflow")),
		mcp.WithString("credential", mcp.Description("Completion API key; defaults to the server key")),
		mcp.WithBoolean("wait", mcp.Description("Block until the run ends and return its output")),
	), s.runWorkflow)
	add(mcp.NewTool("workflow_state",
		mcp.WithDescription("Current state, roster, output and trace of the session"),
	), s.workflowState)
	add(mcp.NewTool("pause_workflow",
		mcp.WithDescription("Pause the running workflow before its next step"),
	), s.control(func(ctx context.Context) error { return s.orch.Pause(ctx) }))
	add(mcp.NewTool("resume_workflow",
		mcp.WithDescription("Resume a paused workflow"),
	), s.control(func(ctx context.Context) error { return s.orch.Resume(ctx) }))
	add(mcp.NewTool("abort_workflow",
		mcp.WithDescription("Abort the active run"),
	), s.control(func(context.Context) error { return s.orch.Abort() }))
	add(mcp.NewTool("set_input",
		mcp.WithDescription("Replace the workflow input. While paused it feeds the next step."),
		mcp.WithString("input", mcp.Required()),
	), s.setInput)

	add(mcp.NewTool("list_agents",
		mcp.WithDescription("List the roster in run order"),
	), s.listAgents)
	add(mcp.NewTool("add_agent",
		mcp.WithDescription("Append a default agent to the roster"),
		mcp.WithString("name", mcp.Description("Agent name; generated when empty")),
	), s.addAgent)
	add(mcp.NewTool("remove_agent",
		mcp.WithDescription("Remove an agent and its connections"),
		mcp.WithString("id", mcp.Required()),
	), s.removeAgent)
	add(mcp.NewTool("connect_agents",
		mcp.WithDescription("Connect two agents by roster index"),
		mcp.WithNumber("from", mcp.Required()),
		mcp.WithNumber("to", mcp.Required()),
	), s.connectAgents)
	add(mcp.NewTool("export_workflow",
		mcp.WithDescription("Export the roster and connections as a document"),
		mcp.WithString("format", mcp.Enum("json", "yaml")),
	), s.exportWorkflow)
	add(mcp.NewTool("import_workflow",
		mcp.WithDescription("Replace the roster and connections with a document"),
		mcp.WithString("document", mcp.Required()),
		mcp.WithString("format", mcp.Enum("json", "yaml")),
	), s.importWorkflow)

	add(mcp.NewTool("save_record",
		mcp.WithDescription("Save the roster and connections under a name"),
		mcp.WithString("name", mcp.Required()),
	), s.saveRecord)
	add(mcp.NewTool("list_records",
		mcp.WithDescription("List saved records"),
	), s.listRecords)
	add(mcp.NewTool("load_record",
		mcp.WithDescription("Restore a saved record into the session"),
		mcp.WithString("id", mcp.Required()),
	), s.loadRecord)

	add(mcp.NewTool("add_knowledge",
		mcp.WithDescription("Add or overwrite a knowledge entry"),
		mcp.WithString("key", mcp.Required()),
		mcp.WithString("value", mcp.Required()),
	), s.addKnowledge)
	add(mcp.NewTool("query_knowledge",
		mcp.WithDescription("Return the knowledge entries whose key appears in the prompt"),
		mcp.WithString("prompt", mcp.Required()),
	), s.queryKnowledge)
}

func (s *Server) runWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input := req.GetString("input", "")
	credential := req.GetString("credential", s.credential)
	if req.GetBool("wait", false) {
		res, err := s.orch.Run(ctx, input, credential)
		if res == nil {
			return toolError(err), nil
		}
		out := map[string]any{
			"runId":  res.RunID,
			"state":  res.State,
			"output": res.Output,
			"trace":  res.Trace,
			"steps":  res.Steps,
			"clones": res.Clones,
		}
		if err != nil {
			out["error"] = mitosiserrors.As(err)
		}
		return jsonResult(out)
	}
	if err := s.orch.Start(ctx, input, credential); err != nil {
		return toolError(err), nil
	}
	return jsonResult(s.orch.Snapshot())
}

func (s *Server) workflowState(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.orch.Snapshot())
}

func (s *Server) control(fn func(context.Context) error) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := fn(ctx); err != nil {
			return toolError(err), nil
		}
		return mcp.NewToolResultText(string(s.orch.State())), nil
	}
}

func (s *Server) setInput(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := req.RequireString("input")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.orch.SetInput(input); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText("ok"), nil
}

func (s *Server) listAgents(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.orch.Roster())
}

func (s *Server) addAgent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, err := s.orch.AddAgent(ctx, req.GetString("name", ""))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(a)
}

func (s *Server) removeAgent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.orch.RemoveAgent(ctx, id); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText("removed " + id), nil
}

func (s *Server) connectAgents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, err := req.RequireInt("from")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	to, err := req.RequireInt("to")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	added, err := s.orch.AddConnection(ctx, from, to)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{"added": added, "connections": s.orch.Connections()})
}

func (s *Server) exportWorkflow(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc := s.orch.Export()
	if req.GetString("format", "json") == "yaml" {
		data, err := workflow.MarshalYAML(doc)
		if err != nil {
			return toolError(err), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
	data, err := workflow.MarshalJSON(doc, true)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) importWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("document")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var doc *workflow.Document
	if req.GetString("format", "json") == "yaml" {
		doc, err = workflow.ParseYAML([]byte(raw))
	} else {
		doc, err = workflow.ParseJSON([]byte(raw))
	}
	if err != nil {
		return toolError(err), nil
	}
	if err := s.orch.Import(ctx, doc); err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]int{"agents": len(doc.Agents), "connections": len(doc.Connections)})
}

func (s *Server) saveRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.orch.SaveRecord(ctx, name)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{"id": rec.ID, "name": rec.Name, "agents": len(rec.Agents)})
}

func (s *Server) listRecords(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	records, err := s.orch.Records(ctx)
	if err != nil {
		return toolError(err), nil
	}
	type summary struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		Agents    int       `json:"agents"`
		CreatedAt time.Time `json:"createdAt"`
	}
	out := make([]summary, 0, len(records))
	for _, r := range records {
		out = append(out, summary{ID: r.ID, Name: r.Name, Agents: len(r.Agents), CreatedAt: r.CreatedAt})
	}
	return jsonResult(out)
}

func (s *Server) loadRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.orch.LoadRecord(ctx, id); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText("loaded " + id), nil
}

func (s *Server) addKnowledge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.orch.Env().Knowledge.AddEntry(ctx, key, req.GetString("value", "")); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText("stored " + key), nil
}

func (s *Server) queryKnowledge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := req.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(s.orch.Env().Knowledge.Query(ctx, prompt)), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

// toolError reports a domain failure as a tool result so the caller's
// model can read it; protocol errors are reserved for transport faults.
func toolError(err error) *mcp.CallToolResult {
	e := mitosiserrors.As(err)
	return mcp.NewToolResultError(string(e.Code) + ": " + e.Message)
}
