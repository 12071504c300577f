// Package daemon assembles the dispatcher from configuration: the tool
// catalog, the invoker, the stream coordinator, and both transports.
package daemon

import (
	"fmt"
	"log/slog"

	"github.com/petal-labs/obridge/mcp"
	"github.com/petal-labs/obridge/server"
	"github.com/petal-labs/obridge/status"
	"github.com/petal-labs/obridge/stream"
	"github.com/petal-labs/obridge/tool"
	"github.com/petal-labs/obridge/tool/builtins"
)

// Options carries runtime dependencies that do not come from the file.
type Options struct {
	Logger *slog.Logger
	// Status overrides the runtime status provider.
	Status status.Provider
	// InvokeObservers and StreamObservers receive observations in addition
	// to the structured log observers.
	InvokeObservers []tool.Observer
	StreamObservers []stream.Observer
}

// Daemon is a fully wired dispatcher.
type Daemon struct {
	Config      Config
	Status      status.Provider
	Registry    *tool.Registry
	Invoker     *tool.Invoker
	Coordinator *stream.Coordinator
	MCP         *mcp.Server
	HTTP        *server.Server
}

// Build validates cfg and wires every component.
func Build(cfg Config, opts Options) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	provider := opts.Status
	if provider == nil {
		provider = status.NewRuntimeProvider(nil)
	}

	registry, err := builtins.Catalog(builtins.Options{
		ServerName: cfg.Server.Name,
		Version:    cfg.Server.Version,
		Status:     provider,
		Enabled:    cfg.Tools.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("daemon: build catalog: %w", err)
	}

	invokeObservers := append(tool.Observers{tool.LogObserver{Logger: logger}}, opts.InvokeObservers...)
	invoker, err := tool.NewInvoker(tool.InvokerConfig{
		Registry: registry,
		Observer: invokeObservers,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("daemon: build invoker: %w", err)
	}

	streamObservers := append(stream.Observers{stream.LogObserver{Logger: logger}}, opts.StreamObservers...)
	coordinator, err := stream.NewCoordinator(stream.Config{
		Invoker:  invoker,
		Delay:    cfg.Stream.Delay,
		Observer: streamObservers,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("daemon: build coordinator: %w", err)
	}

	mcpServer, err := mcp.NewServer(mcp.ServerConfig{
		Name:         cfg.Server.Name,
		Version:      cfg.Server.Version,
		Instructions: cfg.Server.Instructions,
		Invoker:      invoker,
		Coordinator:  coordinator,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("daemon: build mcp server: %w", err)
	}

	httpServer, err := server.NewServer(server.ServerConfig{
		Name:           cfg.Server.Name,
		Version:        cfg.Server.Version,
		Invoker:        invoker,
		Coordinator:    coordinator,
		MCP:            mcpServer,
		Status:         provider,
		StatusSchedule: cfg.Stream.StatusSchedule,
		Heartbeat:      cfg.Stream.Heartbeat,
		CORSOrigin:     cfg.Server.CORSOrigin,
		MaxBody:        cfg.Server.MaxBody,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("daemon: build http server: %w", err)
	}

	return &Daemon{
		Config:      cfg,
		Status:      provider,
		Registry:    registry,
		Invoker:     invoker,
		Coordinator: coordinator,
		MCP:         mcpServer,
		HTTP:        httpServer,
	}, nil
}
