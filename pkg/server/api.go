// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/jllopis/mitosis/pkg/agent"
	"github.com/jllopis/mitosis/pkg/core"
	"github.com/jllopis/mitosis/pkg/errors"
	"github.com/jllopis/mitosis/pkg/knowledge"
	"github.com/jllopis/mitosis/pkg/workflow"
)

const maxBody = 1 << 20

var errStreamingUnsupported = errors.New(errors.CodeInternal, "streaming not supported", nil)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// System
	mux.HandleFunc("GET /api/health", s.getHealth)
	mux.HandleFunc("GET /api/status", s.getStatus)

	// Runs
	mux.HandleFunc("GET /api/state", s.getState)
	mux.HandleFunc("POST /api/run", s.startRun)
	mux.HandleFunc("POST /api/pause", s.pauseRun)
	mux.HandleFunc("POST /api/resume", s.resumeRun)
	mux.HandleFunc("POST /api/abort", s.abortRun)
	mux.HandleFunc("PUT /api/input", s.setInput)

	// Roster
	mux.HandleFunc("GET /api/agents", s.listAgents)
	mux.HandleFunc("POST /api/agents", s.addAgent)
	mux.HandleFunc("DELETE /api/agents", s.clearAgents)
	mux.HandleFunc("POST /api/agents/move", s.moveAgent)
	mux.HandleFunc("PUT /api/agents/{id}", s.updateAgent)
	mux.HandleFunc("DELETE /api/agents/{id}", s.removeAgent)
	mux.HandleFunc("GET /api/connections", s.listConnections)
	mux.HandleFunc("POST /api/connections", s.addConnection)
	mux.HandleFunc("DELETE /api/connections", s.removeConnection)

	// Documents and records
	mux.HandleFunc("GET /api/export", s.exportDocument)
	mux.HandleFunc("POST /api/import", s.importDocument)
	mux.HandleFunc("GET /api/records", s.listRecords)
	mux.HandleFunc("POST /api/records", s.saveRecord)
	mux.HandleFunc("POST /api/records/{id}/load", s.loadRecord)
	mux.HandleFunc("DELETE /api/records/{id}", s.deleteRecord)
	mux.HandleFunc("GET /api/audit", s.listAudit)

	// Knowledge
	mux.HandleFunc("GET /api/knowledge", s.listKnowledge)
	mux.HandleFunc("POST /api/knowledge", s.addKnowledge)
	mux.HandleFunc("DELETE /api/knowledge/{key}", s.removeKnowledge)

	// Prompt assistant
	mux.HandleFunc("GET /api/assistant", s.assistantHistory)
	mux.HandleFunc("POST /api/assistant", s.assistantSend)
	mux.HandleFunc("DELETE /api/assistant", s.assistantReset)
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	results, overall := s.health.CheckAll(r.Context())
	code := http.StatusOK
	if overall == core.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": overall, "components": results})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":   s.version,
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"state":     s.orch.State(),
		"agents":    len(s.orch.Roster()),
		"listeners": s.hub.Clients(),
	})
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Snapshot())
}

type runRequest struct {
	Input      string `json:"input"`
	Credential string `json:"credential"`
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.orch.Start(r.Context(), req.Input, s.resolveCredential(r, req.Credential)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.orch.Snapshot())
}

func (s *Server) pauseRun(w http.ResponseWriter, r *http.Request) {
	s.control(w, s.orch.Pause(r.Context()))
}

func (s *Server) resumeRun(w http.ResponseWriter, r *http.Request) {
	s.control(w, s.orch.Resume(r.Context()))
}

func (s *Server) abortRun(w http.ResponseWriter, r *http.Request) {
	s.control(w, s.orch.Abort())
}

func (s *Server) control(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Snapshot())
}

func (s *Server) setInput(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input string `json:"input"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.control(w, s.orch.SetInput(req.Input))
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Roster())
}

func (s *Server) addAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	a, err := s.orch.AddAgent(r.Context(), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) updateAgent(w http.ResponseWriter, r *http.Request) {
	var a agent.Agent
	if err := decodeJSON(r, &a); err != nil {
		writeError(w, err)
		return
	}
	a.ID = r.PathValue("id")
	a.Layers.Normalize()
	a.InputOutput.Normalize()
	if err := s.orch.UpdateAgent(r.Context(), &a); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &a)
}

func (s *Server) removeAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.RemoveAgent(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearAgents(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.ClearRoster(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) moveAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From int `json:"from"`
		To   int `json:"to"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.orch.MoveAgent(r.Context(), req.From, req.To); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Roster())
}

func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Connections())
}

func (s *Server) addConnection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromIndex int `json:"fromIndex"`
		ToIndex   int `json:"toIndex"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	added, err := s.orch.AddConnection(r.Context(), req.FromIndex, req.ToIndex)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": added, "connections": s.orch.Connections()})
}

func (s *Server) removeConnection(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := s.orch.RemoveConnection(r.Context(), q.Get("from"), q.Get("to")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) exportDocument(w http.ResponseWriter, r *http.Request) {
	doc := s.orch.Export()
	if r.URL.Query().Get("format") == "yaml" {
		data, err := workflow.MarshalYAML(doc)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.Header().Set("Content-Disposition", `attachment; filename="ace_agents_config.yaml"`)
		w.Write(data)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="ace_agents_config.json"`)
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) importDocument(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, errors.NewInvalidInputError("cannot read request body"))
		return
	}
	var doc *workflow.Document
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.Contains(mediaType, "yaml") {
		doc, err = workflow.ParseYAML(data)
	} else {
		doc, err = workflow.ParseJSON(data)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.orch.Import(r.Context(), doc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Export())
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.orch.Records(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) saveRecord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.orch.SaveRecord(r.Context(), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) loadRecord(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.LoadRecord(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Export())
}

func (s *Server) deleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.DeleteRecord(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	events, err := s.orch.Audit(r.Context(), r.URL.Query().Get("run_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) listKnowledge(w http.ResponseWriter, r *http.Request) {
	entries, err := s.orch.Env().Knowledge.Entries(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []knowledge.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) addKnowledge(w http.ResponseWriter, r *http.Request) {
	var e knowledge.Entry
	if err := decodeJSON(r, &e); err != nil {
		writeError(w, err)
		return
	}
	if err := s.orch.Env().Knowledge.AddEntry(r.Context(), e.Key, e.Value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) removeKnowledge(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Env().Knowledge.Remove(r.Context(), r.PathValue("key")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) assistantHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.assistant.History())
}

func (s *Server) assistantSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message    string `json:"message"`
		Credential string `json:"credential"`
		// Apply makes the suggestion the workflow input.
		Apply bool `json:"apply"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ex, err := s.assistant.Send(r.Context(), req.Message, s.resolveCredential(r, req.Credential))
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Apply {
		if err := s.orch.SetInput(ex.Suggestion); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, ex)
}

func (s *Server) assistantReset(w http.ResponseWriter, r *http.Request) {
	s.assistant.Reset()
	w.WriteHeader(http.StatusNoContent)
}

// resolveCredential prefers the body, then the X-API-Key header, then
// the server default.
func (s *Server) resolveCredential(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if h := r.Header.Get("X-API-Key"); h != "" {
		return h
	}
	return s.credential
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.NewInvalidInputError("request body is required")
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v); err != nil {
		if err == io.EOF {
			return errors.NewInvalidInputError("request body is required")
		}
		return errors.New(errors.CodeInvalidInput, "invalid JSON body", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError renders err as {"error": {...}}. Completion failures map to
// 502 whatever the upstream status was.
func writeError(w http.ResponseWriter, err error) {
	e := errors.As(err)
	writeJSON(w, httpStatus(e), map[string]any{"error": e})
}

func httpStatus(e *errors.Error) int {
	switch e.Code {
	case errors.CodeCompletionService, errors.CodeCompletionContent, errors.CodeAgentGeneration:
		return http.StatusBadGateway
	case errors.CodeCancelled:
		return http.StatusConflict
	}
	if e.StatusCode >= 400 && e.StatusCode < 600 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

func marshalEvent(e core.Event) ([]byte, error) {
	return json.Marshal(e)
}
