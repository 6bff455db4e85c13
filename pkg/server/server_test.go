// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jllopis/mitosis/pkg/agent"
	"github.com/jllopis/mitosis/pkg/core"
	"github.com/jllopis/mitosis/pkg/errors"
	"github.com/jllopis/mitosis/pkg/knowledge"
	"github.com/jllopis/mitosis/pkg/llm"
	"github.com/jllopis/mitosis/pkg/orchestrator"
	"github.com/jllopis/mitosis/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	srv  *Server
	orch *orchestrator.Orchestrator
	ts   *httptest.Server
}

func newFixture(t *testing.T, p llm.Provider, opts ...Option) *fixture {
	t.Helper()
	store := knowledge.NewInMemory(knowledge.WithLatency(time.Millisecond))
	completion := agent.DefaultCompletion(p)
	completion.Stream = false
	env := agent.NewEnv(store, completion, nil)

	hub := NewHub(nil)
	orch := orchestrator.New(env, orchestrator.WithEmitter(hub))
	srv := New(orch, append([]Option{WithHub(hub)}, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		cancel()
		wg.Wait()
		ts.Close()
	})
	return &fixture{srv: srv, orch: orch, ts: ts}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers ...string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &body))
	return body.Error.Code
}

func TestHealth(t *testing.T) {
	health := core.NewHealth()
	health.Register("knowledge", core.ErrorCheck(func(context.Context) error { return nil }))
	f := newFixture(t, &llm.MockProvider{}, WithHealth(health))

	resp, data := f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `"status":"HEALTHY"`)

	health.Register("store", core.ErrorCheck(func(context.Context) error { return fmt.Errorf("disk gone") }))
	resp, data = f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(data), "disk gone")
}

func TestRunLifecycle(t *testing.T) {
	p := llm.NewScriptedMockProvider(
		`[{"name": "A", "layers": {"aspirational": {"mission": "ship"}}}]`,
		"route to A",
		"all done",
	)
	f := newFixture(t, p)

	resp, data := f.do(t, http.MethodPost, "/api/run", runRequest{Input: "build it"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, data))

	resp, data = f.do(t, http.MethodPost, "/api/run", runRequest{Input: " "}, "X-API-Key", "key")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_INPUT", errorCode(t, data))

	resp, _ = f.do(t, http.MethodPost, "/api/run", runRequest{Input: "build it"}, "X-API-Key", "key")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		return f.orch.State() == orchestrator.StateCompleted
	}, 2*time.Second, 5*time.Millisecond)

	resp, data = f.do(t, http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap orchestrator.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, orchestrator.StateCompleted, snap.State)
	assert.Contains(t, snap.Output, "### A\n**Input:**\nbuild it\n\n**Delegation:**\nroute to A\n\n**Output:**\nall done")
	require.Len(t, snap.Agents, 1)

	resp, data = f.do(t, http.MethodGet, "/api/audit?run_id="+snap.RunID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var events []workflow.AuditEvent
	require.NoError(t, json.Unmarshal(data, &events))
	require.Len(t, events, 1)
	assert.Equal(t, workflow.StepCompleted, events[0].Status)

	resp, data = f.do(t, http.MethodPost, "/api/pause", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "CONFLICT", errorCode(t, data))
}

func TestRunUsesDefaultCredential(t *testing.T) {
	p := &llm.MockProvider{ChatFunc: func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		if req.APIKey != "server-key" {
			return nil, fmt.Errorf("unexpected key %q", req.APIKey)
		}
		return &llm.ChatResponse{Content: "fine"}, nil
	}}
	f := newFixture(t, p, WithCredential("server-key"))
	_, err := f.orch.AddAgent(context.Background(), "solo")
	require.NoError(t, err)

	resp, _ := f.do(t, http.MethodPost, "/api/run", runRequest{Input: "go"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool {
		return f.orch.State() == orchestrator.StateCompleted
	}, 2*time.Second, 5*time.Millisecond)
	assert.NotContains(t, f.orch.Output(), "Output (error)")
}

func TestRosterAPI(t *testing.T) {
	f := newFixture(t, &llm.MockProvider{})

	for _, name := range []string{"A", "B", "C"} {
		resp, _ := f.do(t, http.MethodPost, "/api/agents", map[string]string{"name": name})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	roster := f.orch.Roster()
	require.Len(t, roster, 3)

	resp, data := f.do(t, http.MethodPost, "/api/connections", map[string]int{"fromIndex": 0, "toIndex": 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `"added":true`)
	resp, data = f.do(t, http.MethodPost, "/api/connections", map[string]int{"fromIndex": 1, "toIndex": 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `"added":false`)
	resp, _ = f.do(t, http.MethodPost, "/api/connections", map[string]int{"fromIndex": 0, "toIndex": 7})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	updated := roster[1]
	updated.Name = "B prime"
	updated.Layers.Aspirational.Mission = "review"
	resp, _ = f.do(t, http.MethodPut, "/api/agents/"+updated.ID, updated)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "B prime", f.orch.Roster()[1].Name)

	resp, _ = f.do(t, http.MethodPost, "/api/agents/move", map[string]int{"from": 2, "to": 0})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "C", f.orch.Roster()[0].Name)

	resp, _ = f.do(t, http.MethodDelete, "/api/connections?from="+roster[0].ID+"&to="+roster[1].ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(t, http.MethodDelete, "/api/connections?from=x&to=y", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/agents/"+roster[2].ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(t, http.MethodDelete, "/api/agents/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPut, "/api/input", map[string]string{"input": "new goal"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "new goal", f.orch.Snapshot().Input)

	resp, _ = f.do(t, http.MethodPost, "/api/agents", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDocumentsAndRecords(t *testing.T) {
	f := newFixture(t, &llm.MockProvider{})
	ctx := context.Background()
	for _, n := range []string{"A", "B"} {
		_, err := f.orch.AddAgent(ctx, n)
		require.NoError(t, err)
	}
	_, err := f.orch.AddConnection(ctx, 0, 1)
	require.NoError(t, err)

	resp, exported := f.do(t, http.MethodGet, "/api/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, yamlDoc := f.do(t, http.MethodGet, "/api/export?format=yaml", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(yamlDoc), "connections:")

	resp, data := f.do(t, http.MethodPost, "/api/records", map[string]string{"name": "pair"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var rec workflow.RunRecord
	require.NoError(t, json.Unmarshal(data, &rec))

	resp, _ = f.do(t, http.MethodPost, "/api/records", map[string]string{"name": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/agents", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, f.orch.Roster())

	resp, _ = f.do(t, http.MethodPost, "/api/import", string(exported))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, f.orch.Roster(), 2)
	assert.Len(t, f.orch.Connections(), 1)

	resp, data = f.do(t, http.MethodPost, "/api/import", `{"agents": [], "connections": [{"from": "x", "to": "y"}]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "CONFIGURATION_IMPORT", errorCode(t, data))

	req, err := http.NewRequest(http.MethodPost, f.ts.URL+"/api/import", bytes.NewReader(yamlDoc))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/yaml")
	yresp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	yresp.Body.Close()
	assert.Equal(t, http.StatusOK, yresp.StatusCode)

	require.NoError(t, f.orch.ClearRoster(ctx))
	resp, _ = f.do(t, http.MethodPost, "/api/records/"+rec.ID+"/load", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, f.orch.Roster(), 2)

	resp, data = f.do(t, http.MethodGet, "/api/records", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `"name":"pair"`)

	resp, _ = f.do(t, http.MethodDelete, "/api/records/"+rec.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, "/api/records/"+rec.ID+"/load", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestKnowledgeAPI(t *testing.T) {
	f := newFixture(t, &llm.MockProvider{})

	resp, data := f.do(t, http.MethodGet, "/api/knowledge", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(data))

	resp, _ = f.do(t, http.MethodPost, "/api/knowledge", knowledge.Entry{Key: "login", Value: "use oauth"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, "/api/knowledge", knowledge.Entry{Key: "empty"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, data = f.do(t, http.MethodGet, "/api/knowledge", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[{"key":"login","value":"use oauth"}]`, string(data))

	resp, _ = f.do(t, http.MethodDelete, "/api/knowledge/login", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAssistantAPI(t *testing.T) {
	p := llm.NewScriptedMockProvider("Tell me more about the users.", "Build a login page for admins")
	f := newFixture(t, p)

	resp, data := f.do(t, http.MethodPost, "/api/assistant",
		map[string]any{"message": "I want a login page", "apply": true}, "X-API-Key", "key")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ex agent.Exchange
	require.NoError(t, json.Unmarshal(data, &ex))
	assert.Equal(t, "Build a login page for admins", ex.Suggestion)
	assert.Equal(t, "Build a login page for admins", f.orch.Snapshot().Input)

	resp, data = f.do(t, http.MethodGet, "/api/assistant", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "I want a login page")

	resp, _ = f.do(t, http.MethodDelete, "/api/assistant", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, f.srv.assistant.History())
}

func TestWebSocketStreamsEvents(t *testing.T) {
	f := newFixture(t, &llm.MockProvider{})

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/api/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	var first core.Event
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, EventSnapshot, first.Type)

	require.Eventually(t, func() bool { return f.srv.Hub().Clients() == 1 }, time.Second, time.Millisecond)
	_, err = f.orch.AddAgent(context.Background(), "A")
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev core.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, core.EventRosterChanged, ev.Type)
	assert.EqualValues(t, 1, ev.Payload["agents"])
}

func TestServerSentEvents(t *testing.T) {
	f := newFixture(t, &llm.MockProvider{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.ts.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "data: "))
	assert.Contains(t, line, `"type":"snapshot"`)

	require.Eventually(t, func() bool { return f.srv.Hub().Clients() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, f.orch.ClearRoster(context.Background()))

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	assert.Contains(t, line, `"type":"roster.changed"`)
}

func TestServeStopsWithContext(t *testing.T) {
	store := knowledge.NewInMemory()
	env := agent.NewEnv(store, agent.DefaultCompletion(&llm.MockProvider{}), nil)
	srv := New(orchestrator.New(env))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"plain", fmt.Errorf("plain"), http.StatusInternalServerError},
		{"not found", errors.NewNotFoundError("record", "r1"), http.StatusNotFound},
		{"upstream 429", errors.NewCompletionServiceError(http.StatusTooManyRequests, "slow down", nil), http.StatusBadGateway},
		{"cancelled", errors.New(errors.CodeCancelled, "aborted", nil), http.StatusConflict},
		{"import", errors.NewConfigurationImportError("bad", nil), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, httpStatus(errors.As(tt.err)))
		})
	}
}
