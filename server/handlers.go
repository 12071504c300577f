package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/petal-labs/obridge/mcp"
	"github.com/petal-labs/obridge/tool"
)

// callRequest is the body of POST /tools/call and /tools/call/stream. The
// tool may be named by either "name" or "toolName".
type callRequest struct {
	Name      string         `json:"name"`
	ToolName  string         `json:"toolName"`
	Arguments map[string]any `json:"arguments"`
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   s.name,
		"version":   s.version,
		"timestamp": s.status.Now(),
	})
}

// handleListTools returns the catalog in registration order.
func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": s.invoker.Registry().List(),
	})
}

// handleCallTool runs one synchronous invocation. Every dispatch outcome is
// an envelope with status 200; only unreadable requests get another status.
func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeCall(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.invoker.Invoke(r.Context(), req))
}

// decodeCall reads a call body. On failure it writes the response itself.
func (s *Server) decodeCall(w http.ResponseWriter, r *http.Request) (tool.Request, bool) {
	var body callRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body too large")
			return tool.Request{}, false
		}
		writeJSON(w, http.StatusBadRequest, tool.ErrorEnvelope(
			&tool.ToolError{Code: tool.ErrorCodeValidation, Message: "invalid request body: " + err.Error()},
		))
		return tool.Request{}, false
	}

	name := strings.TrimSpace(body.Name)
	if name == "" {
		name = strings.TrimSpace(body.ToolName)
	}
	if name == "" {
		writeJSON(w, http.StatusBadRequest, tool.ErrorEnvelope(
			&tool.ToolError{Code: tool.ErrorCodeValidation, Message: "tool name is required"},
		))
		return tool.Request{}, false
	}

	return tool.Request{
		ToolName:  name,
		Arguments: body.Arguments,
		Transport: tool.TransportHTTP,
	}, true
}

// handleMCP answers one JSON-RPC message. Notifications get 202 and no body.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	var message mcp.Message
	if err := json.NewDecoder(r.Body).Decode(&message); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body too large")
			return
		}
		writeJSON(w, http.StatusBadRequest, mcp.NewErrorResponse(nil, mcp.CodeParseError, "parse error: "+err.Error()))
		return
	}

	session := mcp.Session{ID: s.connID(r), Transport: tool.TransportHTTP}
	response, ok := s.mcp.Handle(r.Context(), session, message)
	if !ok {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, response)
}
