// Package server exposes the tool dispatcher over HTTP: discovery,
// synchronous invocation, SSE streaming, status streaming, and MCP
// JSON-RPC on a single endpoint.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/petal-labs/obridge/mcp"
	"github.com/petal-labs/obridge/sse"
	"github.com/petal-labs/obridge/status"
	"github.com/petal-labs/obridge/stream"
	"github.com/petal-labs/obridge/tool"
)

// DefaultStatusSchedule is how often GET /status/stream pushes a snapshot.
const DefaultStatusSchedule = "@every 5s"

// ConnectionHeader lets a client name its connection. Requests that share a
// name share the one-active-stream limit.
const ConnectionHeader = "X-Connection-ID"

// ServerConfig configures a Server instance.
type ServerConfig struct {
	Name        string
	Version     string
	Invoker     *tool.Invoker
	Coordinator *stream.Coordinator
	// MCP serves POST /mcp when set.
	MCP    *mcp.Server
	Status status.Provider
	// StatusSchedule is a cron spec such as "@every 5s".
	StatusSchedule string
	Heartbeat      time.Duration
	CORSOrigin     string
	MaxBody        int64
	NewConnID      func() string
	Logger         *slog.Logger
}

// Server is the obridge HTTP API server.
type Server struct {
	name           string
	version        string
	invoker        *tool.Invoker
	coordinator    *stream.Coordinator
	mcp            *mcp.Server
	status         status.Provider
	statusSchedule cron.Schedule
	heartbeat      time.Duration
	corsOrigin     string
	maxBody        int64
	newConnID      func() string
	logger         *slog.Logger
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Invoker == nil {
		return nil, errors.New("server: invoker is required")
	}
	if cfg.Coordinator == nil {
		return nil, errors.New("server: stream coordinator is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.Name
	if name == "" {
		name = "obridge"
	}
	provider := cfg.Status
	if provider == nil {
		provider = status.NewRuntimeProvider(nil)
	}
	spec := cfg.StatusSchedule
	if spec == "" {
		spec = DefaultStatusSchedule
	}
	schedule, err := parseSchedule(spec)
	if err != nil {
		return nil, err
	}
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = sse.HeartbeatInterval
	}
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1 MB default
	}
	newConnID := cfg.NewConnID
	if newConnID == nil {
		newConnID = uuid.NewString
	}
	return &Server{
		name:           name,
		version:        cfg.Version,
		invoker:        cfg.Invoker,
		coordinator:    cfg.Coordinator,
		mcp:            cfg.MCP,
		status:         provider,
		statusSchedule: schedule,
		heartbeat:      heartbeat,
		corsOrigin:     corsOrigin,
		maxBody:        maxBody,
		newConnID:      newConnID,
		logger:         logger,
	}, nil
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.maxBodyMiddleware(handler)

	return handler
}

// RegisterRoutes mounts the API routes onto an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /tools", s.handleListTools)
	mux.HandleFunc("POST /tools/call", s.handleCallTool)
	mux.HandleFunc("POST /tools/call/stream", s.handleStreamTool)
	mux.HandleFunc("GET /status/stream", s.handleStatusStream)
	if s.mcp != nil {
		mux.HandleFunc("POST /mcp", s.handleMCP)
	}
}

// connID returns the caller-supplied connection name, or a fresh one.
func (s *Server) connID(r *http.Request) string {
	if id := r.Header.Get(ConnectionHeader); id != "" {
		return id
	}
	return s.newConnID()
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Cache-Control, "+ConnectionHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// apiError is the error body for failures outside tool dispatch.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, details ...string) {
	body := apiError{
		Error: apiErrorBody{
			Code:    code,
			Message: message,
		},
	}
	if len(details) > 0 {
		body.Error.Details = details
	}
	writeJSON(w, status, body)
}
