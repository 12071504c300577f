package mcp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamTransportFraming(t *testing.T) {
	input := strings.NewReader("\n" +
		`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n" +
		"   \n" +
		"{broken\n" +
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	var out strings.Builder
	transport := NewStreamTransport(input, &out)
	ctx := context.Background()

	first, err := transport.Receive(ctx)
	require.NoError(t, err)
	assert.True(t, first.IsRequest())
	assert.Equal(t, "1", string(first.ID))

	_, err = transport.Receive(ctx)
	var frameErr *FrameError
	require.ErrorAs(t, err, &frameErr)
	assert.Equal(t, "{broken", string(frameErr.Line))

	last, err := transport.Receive(ctx)
	require.NoError(t, err)
	assert.True(t, last.IsNotification())

	_, err = transport.Receive(ctx)
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, transport.Send(ctx, NewErrorResponse(nil, CodeParseError, "bad")))
	assert.Equal(t, `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"bad"}}`+"\n", out.String())
}

func TestStreamTransportOversizedFrame(t *testing.T) {
	input := strings.NewReader(strings.Repeat("x", MaxFrameSize+1) + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"ping"}` + "\n")
	transport := NewStreamTransport(input, io.Discard)
	ctx := context.Background()

	_, err := transport.Receive(ctx)
	var frameErr *FrameError
	require.ErrorAs(t, err, &frameErr)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Empty(t, frameErr.Line)

	next, err := transport.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", string(next.ID))
}

func TestStreamTransportClose(t *testing.T) {
	reader, writer := io.Pipe()
	defer writer.Close()
	transport := NewStreamTransport(reader, io.Discard)

	require.NoError(t, transport.Close(context.Background()))
	_, err := transport.Receive(context.Background())
	assert.ErrorIs(t, err, ErrTransportClosed)
	assert.ErrorIs(t, transport.Send(context.Background(), Message{}), ErrTransportClosed)
}

func TestCommandTransportAgainstServerProcess(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	transport, err := NewCommandTransport(ctx, CommandConfig{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestMCPServerHelperProcess", "--"},
		Env:     map[string]string{"GO_WANT_MCP_SERVER_HELPER": "1"},
	})
	require.NoError(t, err)

	client := NewClient(transport, Options{})
	_, err = client.Initialize(ctx)
	require.NoError(t, err)

	result, err := client.CallTool(ctx, ToolsCallParams{Name: "calculate", Arguments: map[string]any{"expression": "6*7"}})
	require.NoError(t, err)
	assert.Contains(t, result.Content[0].Text, `"result": 42`)

	require.NoError(t, client.Close(ctx))
	require.NoError(t, transport.Close(ctx))
}

func TestMCPServerHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_MCP_SERVER_HELPER") != "1" {
		return
	}
	srv := newTestServer(t)
	if err := srv.Serve(context.Background(), NewStreamTransport(os.Stdin, os.Stdout), "helper"); err != nil {
		os.Exit(2)
	}
	os.Exit(0)
}

func TestHTTPTransportSendReceive(t *testing.T) {
	srv := newTestServer(t)
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Test"))
		var message Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&message))
		response, ok := srv.Handle(r.Context(), Session{ID: "http"}, message)
		if !ok {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer endpoint.Close()

	transport, err := NewHTTPTransport(HTTPTransportConfig{
		Endpoint: endpoint.URL,
		Headers:  map[string]string{"X-Test": "secret"},
	})
	require.NoError(t, err)

	client := NewClient(transport, Options{})
	_, err = client.Initialize(context.Background())
	require.NoError(t, err)

	list, err := client.ListTools(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, list.Tools)

	require.NoError(t, client.Close(context.Background()))
	assert.ErrorIs(t, transport.Send(context.Background(), Message{}), ErrTransportClosed)
}

func TestHTTPTransportRejectsErrorStatus(t *testing.T) {
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer endpoint.Close()

	transport, err := NewHTTPTransport(HTTPTransportConfig{Endpoint: endpoint.URL})
	require.NoError(t, err)
	err = transport.Send(context.Background(), Message{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: MethodPing})
	require.ErrorContains(t, err, "status 403")

	_, err = NewHTTPTransport(HTTPTransportConfig{})
	require.Error(t, err)
}
