package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petal-labs/obridge/mcp"
	"github.com/petal-labs/obridge/status"
	"github.com/petal-labs/obridge/stream"
	"github.com/petal-labs/obridge/tool"
	"github.com/petal-labs/obridge/tool/builtins"
)

var fixedStatus = status.Fixed{Value: status.Snapshot{
	Status:     "running",
	Uptime:     3,
	Goroutines: 4,
	Timestamp:  time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC),
}}

type streamRecorder struct {
	mu           sync.Mutex
	observations []stream.Observation
}

func (o *streamRecorder) ObserveStream(observation stream.Observation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observations = append(o.observations, observation)
}

func (o *streamRecorder) snapshot() []stream.Observation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]stream.Observation(nil), o.observations...)
}

type testEnv struct {
	server      *Server
	coordinator *stream.Coordinator
	streams     *streamRecorder
}

func newTestEnv(t *testing.T, delay time.Duration, mutate func(*ServerConfig)) *testEnv {
	t.Helper()
	registry, err := builtins.Catalog(builtins.Options{ServerName: "obridge", Version: "1.0.0", Status: fixedStatus})
	require.NoError(t, err)
	inv, err := tool.NewInvoker(tool.InvokerConfig{Registry: registry})
	require.NoError(t, err)

	streams := &streamRecorder{}
	coordinator, err := stream.NewCoordinator(stream.Config{Invoker: inv, Delay: delay, Observer: streams})
	require.NoError(t, err)
	mcpServer, err := mcp.NewServer(mcp.ServerConfig{Name: "obridge", Version: "1.0.0", Invoker: inv})
	require.NoError(t, err)

	cfg := ServerConfig{
		Name:        "obridge",
		Version:     "1.0.0",
		Invoker:     inv,
		Coordinator: coordinator,
		MCP:         mcpServer,
		Status:      fixedStatus,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	return &testEnv{server: srv, coordinator: coordinator, streams: streams}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, r)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) tool.Envelope {
	t.Helper()
	var env tool.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

// readEvents decodes SSE data lines into stream events until stop returns
// true or the body ends.
func readEvents(t *testing.T, body io.Reader, stop func(stream.Event) bool) []stream.Event {
	t.Helper()
	var events []stream.Event
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var event stream.Event
		require.NoError(t, json.Unmarshal([]byte(data), &event))
		events = append(events, event)
		if stop != nil && stop(event) {
			break
		}
	}
	return events
}

func kinds(events []stream.Event) []stream.Kind {
	out := make([]stream.Kind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	require.ErrorContains(t, err, "invoker is required")

	env := newTestEnv(t, -1, nil)
	_, err = NewServer(ServerConfig{Invoker: env.server.invoker})
	require.ErrorContains(t, err, "coordinator is required")

	_, err = NewServer(ServerConfig{Invoker: env.server.invoker, Coordinator: env.coordinator, StatusSchedule: "CRON_TZ=UTC @every 1s"})
	require.ErrorContains(t, err, "UTC-only")

	_, err = NewServer(ServerConfig{Invoker: env.server.invoker, Coordinator: env.coordinator, StatusSchedule: "every so often"})
	require.ErrorContains(t, err, "invalid status schedule")
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, -1, nil)
	w := env.do(t, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t,
		`{"status":"healthy","service":"obridge","version":"1.0.0","timestamp":"2026-05-06T07:08:09Z"}`,
		w.Body.String())
}

func TestListTools(t *testing.T) {
	env := newTestEnv(t, -1, nil)

	var first, second struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(env.do(t, http.MethodGet, "/tools", "").Body.Bytes(), &first))
	require.NoError(t, json.Unmarshal(env.do(t, http.MethodGet, "/tools", "").Body.Bytes(), &second))

	require.Len(t, first.Tools, len(builtins.Names()))
	for i, name := range builtins.Names() {
		assert.Equal(t, name, first.Tools[i].Name)
		assert.NotEmpty(t, first.Tools[i].Description)
		assert.Equal(t, "object", first.Tools[i].InputSchema["type"])
	}
	assert.Equal(t, first, second)
}

func TestCallTool(t *testing.T) {
	env := newTestEnv(t, -1, nil)

	w := env.do(t, http.MethodPost, "/tools/call", `{"name":"echo","arguments":{"input":"hi"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	result := decodeEnvelope(t, w)
	assert.False(t, result.IsError)
	assert.Contains(t, result.Text(), `"input": "hi"`)

	w = env.do(t, http.MethodPost, "/tools/call", `{"toolName":"calculate","arguments":{"expression":"2+2"}}`)
	result = decodeEnvelope(t, w)
	assert.False(t, result.IsError)
	assert.Contains(t, result.Text(), `"result": 4`)
}

func TestCallToolFailuresAreEnvelopes(t *testing.T) {
	env := newTestEnv(t, -1, nil)

	cases := []struct {
		name   string
		body   string
		status int
		text   string
	}{
		{"unknown tool", `{"name":"teleport"}`, http.StatusOK, `unknown tool "teleport"`},
		{"missing field", `{"name":"calculate","arguments":{}}`, http.StatusOK, `missing required field "expression"`},
		{"wrong type", `{"name":"calculate","arguments":{"expression":12}}`, http.StatusOK, "invalid arguments"},
		{"handler fault", `{"name":"calculate","arguments":{"expression":"import os"}}`, http.StatusOK, "calculation failed"},
		{"bad json", `{"name":`, http.StatusBadRequest, "invalid request body"},
		{"no name", `{"arguments":{}}`, http.StatusBadRequest, "tool name is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/tools/call", tc.body)
			require.Equal(t, tc.status, w.Code)
			result := decodeEnvelope(t, w)
			assert.True(t, result.IsError)
			assert.Contains(t, result.Text(), tc.text)
		})
	}
}

func TestBodyLimit(t *testing.T) {
	env := newTestEnv(t, -1, func(cfg *ServerConfig) { cfg.MaxBody = 16 })

	w := env.do(t, http.MethodPost, "/tools/call", `{"name":"echo","arguments":{"input":"far too long for the limit"}}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	var body apiError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "BODY_TOO_LARGE", body.Error.Code)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, -1, func(cfg *ServerConfig) { cfg.CORSOrigin = "https://example.com" })

	w := env.do(t, http.MethodOptions, "/tools/call", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), ConnectionHeader)

	w = env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, "https://example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestStreamTool(t *testing.T) {
	env := newTestEnv(t, -1, nil)

	w := env.do(t, http.MethodPost, "/tools/call/stream", `{"name":"stream","arguments":{"data":"a b c"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	events := readEvents(t, w.Body, nil)
	require.Equal(t, []stream.Kind{stream.KindStart, stream.KindChunk, stream.KindChunk, stream.KindChunk, stream.KindEnd}, kinds(events))
	for i, payload := range []string{"a", "b", "c"} {
		assert.Equal(t, i, events[i+1].Index)
		assert.Equal(t, payload, events[i+1].Payload)
	}
	assert.Equal(t, 3, events[4].TotalChunks)
	assert.Equal(t, "Stream completed", events[4].Message)
}

func TestStreamToolErrors(t *testing.T) {
	env := newTestEnv(t, -1, nil)

	w := env.do(t, http.MethodPost, "/tools/call/stream", `{"name":"teleport"}`)
	events := readEvents(t, w.Body, nil)
	require.Equal(t, []stream.Kind{stream.KindStart, stream.KindError}, kinds(events))
	assert.Contains(t, events[1].Message, `unknown tool "teleport"`)

	w = env.do(t, http.MethodPost, "/tools/call/stream", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamStopsOnDisconnect(t *testing.T) {
	env := newTestEnv(t, 100*time.Millisecond, nil)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+"/tools/call/stream",
		strings.NewReader(`{"name":"stream","arguments":{"data":"a b c d e f"}}`))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	events := readEvents(t, resp.Body, func(e stream.Event) bool { return e.Kind == stream.KindChunk })
	require.Equal(t, []stream.Kind{stream.KindStart, stream.KindChunk}, kinds(events))
	cancel()

	require.Eventually(t, func() bool {
		observations := env.streams.snapshot()
		return len(observations) == 1 && env.coordinator.ActiveCount() == 0
	}, 5*time.Second, 10*time.Millisecond)

	obs := env.streams.snapshot()[0]
	assert.Equal(t, stream.OutcomeCancelled, obs.Outcome)
	assert.Less(t, obs.Chunks, 6)
}

func TestSecondStreamOnNamedConnection(t *testing.T) {
	env := newTestEnv(t, 200*time.Millisecond, nil)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	open := func(ctx context.Context) *http.Response {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+"/tools/call/stream",
			strings.NewReader(`{"name":"stream","arguments":{"data":"a b c"}}`))
		require.NoError(t, err)
		req.Header.Set(ConnectionHeader, "conn-7")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := open(ctx)
	defer first.Body.Close()
	readEvents(t, first.Body, func(e stream.Event) bool { return e.Kind == stream.KindStart })

	second := open(context.Background())
	defer second.Body.Close()
	events := readEvents(t, second.Body, nil)
	require.Equal(t, []stream.Kind{stream.KindStart, stream.KindError}, kinds(events))
	assert.Contains(t, events[1].Message, "already has an active stream")
}

func TestStatusStream(t *testing.T) {
	env := newTestEnv(t, -1, nil)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/status/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var got map[string]any
		require.NoError(t, json.Unmarshal([]byte(data), &got))
		assert.Equal(t, "status", got["type"])
		assert.Equal(t, "running", got["status"])
		assert.EqualValues(t, 4, got["goroutines"])
		return
	}
	t.Fatal("no status message received")
}

func TestMCPEndpoint(t *testing.T) {
	env := newTestEnv(t, -1, nil)

	w := env.do(t, http.MethodPost, "/mcp", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"input":"hi"}}}`)
	require.Equal(t, http.StatusOK, w.Code)
	var response mcp.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.Nil(t, response.Error)
	var result mcp.ToolsCallResult
	require.NoError(t, json.Unmarshal(response.Result, &result))
	assert.False(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, `"input": "hi"`)

	w = env.do(t, http.MethodPost, "/mcp", `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, w.Body.String())

	w = env.do(t, http.MethodPost, "/mcp", `{"jsonrpc":`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, mcp.CodeParseError, response.Error.Code)
}

func TestMCPRouteRequiresServer(t *testing.T) {
	env := newTestEnv(t, -1, func(cfg *ServerConfig) { cfg.MCP = nil })
	w := env.do(t, http.MethodPost, "/mcp", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
