package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petal-labs/obridge/daemon"
	"github.com/petal-labs/obridge/mcp"
	"github.com/petal-labs/obridge/stream"
)

// executeCommand runs a fresh command tree with the given args and captures
// stdout/stderr.
func executeCommand(t *testing.T, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	return executeCommandContext(context.Background(), t, stdin, args...)
}

func executeCommandContext(ctx context.Context, t *testing.T, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	root := NewRootCmd("test")
	var outBuf, errBuf bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&outBuf)
	root.SetErr(&errBuf)
	root.SetArgs(args)
	err = root.ExecuteContext(ctx)
	return outBuf.String(), errBuf.String(), err
}

// testConfig writes an isolated config file with pacing disabled.
func testConfig(t *testing.T) string {
	t.Helper()
	t.Setenv("OBRIDGE_PORT", "")
	t.Setenv("PORT", "")
	path := filepath.Join(t.TempDir(), "obridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stream:\n  delay: -1ms\n  heartbeat: 1s\n"), 0o600))
	return path
}

func requireExitCode(t *testing.T, err error, code int) {
	t.Helper()
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr), "error %v is not an ExitError", err)
	assert.Equal(t, code, exitErr.Code)
}

func TestRootCommandTree(t *testing.T) {
	root := NewRootCmd("1.2.3")
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "stdio", "tools", "call", "inspect"} {
		assert.Contains(t, names, want)
	}

	stdout, _, err := executeCommand(t, "", "--version")
	require.NoError(t, err)
	assert.Equal(t, "obridge version test\n", stdout)
}

func TestToolsCommand(t *testing.T) {
	stdout, _, err := executeCommand(t, "", "tools", "--config", testConfig(t))
	require.NoError(t, err)

	var out struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	var names []string
	for _, tool := range out.Tools {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"echo", "calculate", "status", "info", "stream", "plan", "use"}, names)

	stdout, _, err = executeCommand(t, "", "tools", "--config", testConfig(t), "--tools", "calculate,echo")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.Len(t, out.Tools, 2)
	assert.Equal(t, "echo", out.Tools[0].Name)
}

func TestCallCommand(t *testing.T) {
	stdout, _, err := executeCommand(t, "", "call", "calculate", "--config", testConfig(t), "--args", `{"expression":"2*(3+4)"}`)
	require.NoError(t, err)
	assert.Contains(t, stdout, `"result": 14`)
}

func TestCallCommandFailures(t *testing.T) {
	cfg := testConfig(t)

	_, _, err := executeCommand(t, "", "call", "teleport", "--config", cfg)
	requireExitCode(t, err, exitToolFailed)
	assert.Contains(t, err.Error(), `unknown tool "teleport"`)

	_, _, err = executeCommand(t, "", "call", "echo", "--config", cfg, "--args", "{not json")
	requireExitCode(t, err, exitInputParse)

	_, _, err = executeCommand(t, "", "call", "echo", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	requireExitCode(t, err, exitFileNotFound)

	_, _, err = executeCommand(t, "", "call", "echo", "--config", cfg, "--log-format", "xml")
	requireExitCode(t, err, exitValidation)
}

func TestCallCommandStream(t *testing.T) {
	stdout, _, err := executeCommand(t, "", "call", "stream", "--stream", "--config", testConfig(t), "--args", `{"data":"a b"}`)
	require.NoError(t, err)

	var kinds []stream.Kind
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	for scanner.Scan() {
		var event stream.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		kinds = append(kinds, event.Kind)
	}
	assert.Equal(t, []stream.Kind{stream.KindStart, stream.KindChunk, stream.KindChunk, stream.KindEnd}, kinds)

	_, _, err = executeCommand(t, "", "call", "teleport", "--stream", "--config", testConfig(t))
	requireExitCode(t, err, exitToolFailed)
}

func TestStdioCommand(t *testing.T) {
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"test"}}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"calculate","arguments":{"expression":"1+1"}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"resources/list"}`,
	}, "\n") + "\n"

	stdout, _, err := executeCommand(t, input, "stdio", "--config", testConfig(t))
	require.NoError(t, err)

	var responses []mcp.Message
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	for scanner.Scan() {
		var message mcp.Message
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &message), "stdout must carry only protocol frames")
		responses = append(responses, message)
	}
	require.Len(t, responses, 3)
	assert.JSONEq(t, "1", string(responses[0].ID))
	assert.Nil(t, responses[0].Error)

	var result mcp.ToolsCallResult
	require.NoError(t, json.Unmarshal(responses[1].Result, &result))
	assert.False(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, `"result": 2`)

	require.NotNil(t, responses[2].Error)
	assert.Equal(t, mcp.CodeMethodNotFound, responses[2].Error.Code)
}

func newMCPEndpoint(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := daemon.Default()
	cfg.Stream.Delay = -1
	d, err := daemon.Build(cfg, daemon.Options{})
	require.NoError(t, err)
	ts := httptest.NewServer(d.HTTP.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestInspectCommandHTTP(t *testing.T) {
	ts := newMCPEndpoint(t)

	stdout, _, err := executeCommand(t, "", "inspect", "--url", ts.URL+"/mcp", "--call", "calculate", "--args", `{"expression":"6/3"}`)
	require.NoError(t, err)

	var report inspectReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, "obridge", report.Server.Name)
	assert.Equal(t, mcp.ProtocolVersion, report.ProtocolVersion)
	assert.Contains(t, report.Tools, "calculate")
	require.NotNil(t, report.Result)
	assert.False(t, report.Result.IsError)
	assert.Contains(t, report.Result.Content[0].Text, `"result": 2`)
}

func TestInspectCommandToolError(t *testing.T) {
	ts := newMCPEndpoint(t)

	stdout, _, err := executeCommand(t, "", "inspect", "--url", ts.URL+"/mcp", "--call", "teleport")
	requireExitCode(t, err, exitToolFailed)
	assert.Contains(t, stdout, `"isError": true`)
}

func TestInspectCommandValidation(t *testing.T) {
	_, _, err := executeCommand(t, "", "inspect")
	requireExitCode(t, err, exitValidation)

	_, _, err = executeCommand(t, "", "inspect", "--url", "http://x", "--command", "obridge")
	requireExitCode(t, err, exitValidation)

	_, _, err = executeCommand(t, "", "inspect", "--url", "http://x", "--args", "[")
	requireExitCode(t, err, exitInputParse)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestServeCommandShutsDownOnCancel(t *testing.T) {
	port := freePort(t)
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, _, err := executeCommandContext(ctx, t, "", "serve", "--config", cfg, "--host", "127.0.0.1", "--port", fmt.Sprint(port))
		done <- err
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}
