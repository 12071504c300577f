package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
)

// CommandConfig configures a subprocess MCP transport.
type CommandConfig struct {
	Command string
	Args    []string
	Env     map[string]string
	// Stderr receives the subprocess's stderr. Nil discards it.
	Stderr io.Writer
}

// CommandTransport runs an MCP server as a subprocess and talks to it over
// its stdin and stdout.
type CommandTransport struct {
	*StreamTransport

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	closed bool
}

// NewCommandTransport starts the subprocess.
func NewCommandTransport(ctx context.Context, cfg CommandConfig) (*CommandTransport, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("mcp: command is required")
	}

	// #nosec G204 -- command/args come from the operator's own invocation.
	cmd := exec.CommandContext(ctx, cfg.Command, slices.Clone(cfg.Args)...)
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), flattenEnv(cfg.Env)...)
	}
	cmd.Stderr = cfg.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: command open stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: command open stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcp: command start: %w", err)
	}

	return &CommandTransport{
		// Close owns stdin and Wait owns stdout, so the stream closes neither.
		StreamTransport: NewStreamTransport(struct{ io.Reader }{stdout}, struct{ io.Writer }{stdin}),
		cmd:             cmd,
		stdin:           stdin,
	}, nil
}

// Close closes the subprocess's stdin and waits for it to exit, killing it
// if ctx expires first.
func (t *CommandTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	_ = t.stdin.Close()
	waitCh := make(chan error, 1)
	go func() { waitCh <- t.cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-ctx.Done():
		if t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
		<-waitCh
		waitErr = ctx.Err()
	}
	return errors.Join(waitErr, t.StreamTransport.Close(ctx))
}

func flattenEnv(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	out := make([]string, 0, len(values))
	for _, key := range keys {
		out = append(out, key+"="+values[key])
	}
	return out
}

var _ Transport = (*CommandTransport)(nil)
