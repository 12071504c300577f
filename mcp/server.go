package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/petal-labs/obridge/stream"
	"github.com/petal-labs/obridge/tool"
)

var supportedProtocolVersions = []string{ProtocolVersion, "2025-03-26", "2024-11-05"}

// ServerConfig configures a Server.
type ServerConfig struct {
	Name         string
	Version      string
	Instructions string
	Invoker      *tool.Invoker
	// Coordinator, when set, delivers chunked tools as progress notifications
	// for tools/call requests that carry a progress token.
	Coordinator *stream.Coordinator
	Logger      *slog.Logger
}

// Server answers MCP requests from the tool dispatcher.
type Server struct {
	info         Implementation
	instructions string
	invoker      *tool.Invoker
	coordinator  *stream.Coordinator
	logger       *slog.Logger
}

// Session describes the connection a message arrived on.
type Session struct {
	ID        string
	Transport tool.TransportType
	// Notify sends a notification on the same connection. Nil disables
	// progress delivery.
	Notify func(ctx context.Context, message Message) error
}

// NewServer creates a Server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Invoker == nil {
		return nil, errors.New("mcp: server requires an invoker")
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "obridge"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		info:         Implementation{Name: name, Version: cfg.Version},
		instructions: cfg.Instructions,
		invoker:      cfg.Invoker,
		coordinator:  cfg.Coordinator,
		logger:       logger,
	}, nil
}

// Serve answers requests from transport one at a time until the peer closes
// its side or ctx is cancelled. A clean end of input returns nil.
func (s *Server) Serve(ctx context.Context, transport Transport, sessionID string) error {
	session := Session{ID: sessionID, Transport: tool.TransportStdio, Notify: transport.Send}
	for {
		message, err := transport.Receive(ctx)
		if err != nil {
			var frameErr *FrameError
			switch {
			case errors.As(err, &frameErr):
				s.logger.Warn("mcp: dropping undecodable frame", "session", sessionID, "error", frameErr.Err)
				reply := NewErrorResponse(nil, CodeParseError, "parse error: "+frameErr.Err.Error())
				if err := transport.Send(ctx, reply); err != nil {
					return fmt.Errorf("mcp: send response: %w", err)
				}
				continue
			case errors.Is(err, io.EOF):
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				return fmt.Errorf("mcp: receive: %w", err)
			}
		}

		response, ok := s.Handle(ctx, session, message)
		if !ok {
			continue
		}
		if err := transport.Send(ctx, response); err != nil {
			return fmt.Errorf("mcp: send response: %w", err)
		}
	}
}

// Handle processes one inbound message. The second return value is false
// when nothing must be sent back.
func (s *Server) Handle(ctx context.Context, session Session, message Message) (Message, bool) {
	if message.Method == "" {
		if message.Result != nil || message.Error != nil {
			return Message{}, false
		}
		return NewErrorResponse(message.ID, CodeInvalidRequest, "invalid request: method is required"), true
	}
	if message.IsNotification() {
		s.handleNotification(session, message)
		return Message{}, false
	}
	if message.JSONRPC != jsonRPCVersion {
		return NewErrorResponse(message.ID, CodeInvalidRequest, fmt.Sprintf("invalid request: unsupported jsonrpc version %q", message.JSONRPC)), true
	}

	result, rpcErr := s.dispatch(ctx, session, message)
	if rpcErr != nil {
		return NewErrorResponse(message.ID, rpcErr.Code, rpcErr.Message), true
	}
	response, err := NewResponse(message.ID, result)
	if err != nil {
		return NewErrorResponse(message.ID, CodeInternalError, err.Error()), true
	}
	return response, true
}

func (s *Server) handleNotification(session Session, message Message) {
	switch message.Method {
	case MethodInitialized:
		s.logger.Debug("mcp: session initialized", "session", session.ID)
	case MethodCancelled:
		var params CancelledParams
		_ = json.Unmarshal(message.Params, &params)
		s.logger.Debug("mcp: cancellation ignored", "session", session.ID, "request_id", string(params.RequestID), "reason", params.Reason)
	default:
		s.logger.Debug("mcp: ignoring notification", "session", session.ID, "method", message.Method)
	}
}

func (s *Server) dispatch(ctx context.Context, session Session, message Message) (any, *RPCError) {
	switch message.Method {
	case MethodInitialize:
		var params InitializeParams
		if err := decodeParams(message.Params, &params); err != nil {
			return nil, err
		}
		s.logger.Info("mcp: initialize",
			"session", session.ID,
			"client", params.ClientInfo.Name,
			"client_version", params.ClientInfo.Version,
			"protocol_version", params.ProtocolVersion,
		)
		return InitializeResult{
			ProtocolVersion: negotiateVersion(params.ProtocolVersion),
			Capabilities:    map[string]any{"tools": map[string]any{"listChanged": false}},
			ServerInfo:      s.info,
			Instructions:    s.instructions,
		}, nil

	case MethodPing:
		return map[string]any{}, nil

	case MethodToolsList:
		tools, err := NewAdapter(s.invoker, session.Transport).Tools()
		if err != nil {
			return nil, &RPCError{Code: CodeInternalError, Message: err.Error()}
		}
		return mcpgo.ListToolsResult{Tools: tools}, nil

	case MethodToolsCall:
		req, rpcErr := decodeCallRequest(message.Params)
		if rpcErr != nil {
			return nil, rpcErr
		}
		return s.callTool(ctx, session, req), nil

	default:
		return nil, &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + message.Method}
	}
}

func (s *Server) callTool(ctx context.Context, session Session, call mcpgo.CallToolRequest) *mcpgo.CallToolResult {
	adapter := NewAdapter(s.invoker, session.Transport)
	token := progressToken(call)
	if token == nil || session.Notify == nil || s.coordinator == nil {
		result, _ := adapter.ToolAdapter(ctx, call)
		return result
	}

	req := adapter.request(call)
	bound, err := s.invoker.Bind(req)
	if err != nil {
		return CallResult(s.invoker.Invoke(ctx, req))
	}
	if _, chunked := bound.(tool.ChunkedCall); !chunked {
		return CallResult(s.invoker.Execute(ctx, req, bound))
	}
	return CallResult(s.callWithProgress(ctx, session, req, token))
}

type chunkedResult struct {
	Chunks      []string `json:"chunks"`
	TotalChunks int      `json:"totalChunks"`
}

// callWithProgress streams a chunked tool, sending each chunk as a progress
// notification, and answers with the collected chunks.
func (s *Server) callWithProgress(ctx context.Context, session Session, req tool.Request, token json.RawMessage) tool.Envelope {
	var chunks []string
	for event := range s.coordinator.Open(ctx, session.ID, req) {
		switch event.Kind {
		case stream.KindChunk:
			chunks = append(chunks, event.Payload)
			note, err := NewNotification(MethodProgress, ProgressParams{
				ProgressToken: token,
				Progress:      float64(event.Index + 1),
				Message:       event.Payload,
			})
			if err == nil {
				err = session.Notify(ctx, note)
			}
			if err != nil {
				s.logger.Warn("mcp: progress notification failed", "session", session.ID, "error", err)
				return tool.ErrorEnvelope(&tool.ToolError{Code: tool.ErrorCodeTransportFault, Message: "progress delivery failed", Cause: err})
			}
		case stream.KindEnd:
			text, err := json.MarshalIndent(chunkedResult{Chunks: chunks, TotalChunks: event.TotalChunks}, "", "  ")
			if err != nil {
				return tool.ErrorEnvelope(err)
			}
			return tool.TextEnvelope(string(text))
		case stream.KindError:
			return tool.ErrorEnvelope(errors.New(event.Message))
		}
	}
	return tool.ErrorEnvelope(&tool.ToolError{Code: tool.ErrorCodeTransportFault, Message: "stream interrupted"})
}

func decodeParams(raw json.RawMessage, out any) *RPCError {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &RPCError{Code: CodeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	return nil
}

func negotiateVersion(requested string) string {
	if slices.Contains(supportedProtocolVersions, requested) {
		return requested
	}
	return ProtocolVersion
}
