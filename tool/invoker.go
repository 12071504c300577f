package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// InvokerConfig configures an Invoker.
type InvokerConfig struct {
	Registry *Registry
	Observer Observer
	Logger   *slog.Logger
}

// Invoker validates, executes, and normalizes tool invocations. It never lets
// a handler failure escape: every outcome is an Envelope.
type Invoker struct {
	registry *Registry
	observer Observer
	logger   *slog.Logger
}

// NewInvoker creates an Invoker over a registry.
func NewInvoker(cfg InvokerConfig) (*Invoker, error) {
	if cfg.Registry == nil {
		return nil, errors.New("tool: invoker requires a registry")
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		registry: cfg.Registry,
		observer: observer,
		logger:   logger,
	}, nil
}

// Registry returns the catalog the invoker dispatches against.
func (i *Invoker) Registry() *Registry {
	return i.registry
}

// Bind resolves the requested tool and validates the arguments without
// running anything.
func (i *Invoker) Bind(req Request) (Call, error) {
	t, err := i.registry.Resolve(req.ToolName)
	if err != nil {
		return nil, err
	}
	call, err := t.Bind(req.Arguments)
	if err != nil {
		if _, ok := AsToolError(err); ok {
			return nil, err
		}
		return nil, ValidationError(req.ToolName, err)
	}
	return call, nil
}

// Invoke runs one synchronous invocation end to end.
func (i *Invoker) Invoke(ctx context.Context, req Request) Envelope {
	start := time.Now()
	call, err := i.Bind(req)
	if err != nil {
		i.observe(req, start, err)
		return ErrorEnvelope(err)
	}
	return i.execute(ctx, req, call, start)
}

// Execute runs a call previously returned by Bind.
func (i *Invoker) Execute(ctx context.Context, req Request, call Call) Envelope {
	return i.execute(ctx, req, call, time.Now())
}

func (i *Invoker) execute(ctx context.Context, req Request, call Call, start time.Time) Envelope {
	result, err := Run(ctx, req.ToolName, call)
	if err == nil {
		var text []byte
		text, err = json.MarshalIndent(result, "", "  ")
		if err == nil {
			i.observe(req, start, nil)
			return TextEnvelope(string(text))
		}
		err = HandlerFault(req.ToolName, fmt.Errorf("encode result: %w", err))
	}

	i.logger.Warn("tool handler failed",
		"tool", req.ToolName,
		"transport", req.Transport,
		"error", err,
	)
	i.observe(req, start, err)
	return ErrorEnvelope(err)
}

// Run executes call, converting returned errors and panics into *ToolError.
// Errors that already carry a dispatch code keep it.
func Run(ctx context.Context, toolName string, call Call) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = HandlerFault(toolName, fmt.Errorf("tool panicked: %v", r))
		}
	}()

	result, err = call.Run(ctx)
	if err != nil {
		if _, ok := AsToolError(err); ok {
			return nil, err
		}
		return nil, HandlerFault(toolName, err)
	}
	return result, nil
}

func (i *Invoker) observe(req Request, start time.Time, err error) {
	i.observer.ObserveInvoke(InvokeObservation{
		ToolName:   req.ToolName,
		Transport:  req.Transport,
		DurationMS: time.Since(start).Milliseconds(),
		Success:    err == nil,
		ErrorCode:  ErrorCode(err),
	})
}
