package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/petal-labs/obridge/tool"
)

// ToolHandler answers one tools/call request.
type ToolHandler func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error)

// ToolEntry pairs an advertised tool with the handler that runs it.
type ToolEntry struct {
	Tool    mcpgo.Tool
	Handler ToolHandler
}

// Adapter exposes the dispatcher's tools in MCP form for one transport.
type Adapter struct {
	invoker   *tool.Invoker
	transport tool.TransportType
}

// NewAdapter creates an Adapter that tags requests with transport.
func NewAdapter(inv *tool.Invoker, transport tool.TransportType) *Adapter {
	return &Adapter{invoker: inv, transport: transport}
}

// Tools returns the registry's tools in catalog order.
func (a *Adapter) Tools() ([]mcpgo.Tool, error) {
	descriptors := a.invoker.Registry().List()
	tools := make([]mcpgo.Tool, 0, len(descriptors))
	for _, desc := range descriptors {
		schema, err := json.Marshal(desc.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("mcp: encode schema for %q: %w", desc.Name, err)
		}
		tools = append(tools, mcpgo.NewToolWithRawSchema(desc.Name, desc.Description, schema))
	}
	return tools, nil
}

// Entries pairs each tool with ToolAdapter.
func (a *Adapter) Entries() ([]ToolEntry, error) {
	tools, err := a.Tools()
	if err != nil {
		return nil, err
	}
	entries := make([]ToolEntry, 0, len(tools))
	for _, tl := range tools {
		entries = append(entries, ToolEntry{Tool: tl, Handler: a.ToolAdapter})
	}
	return entries, nil
}

// ToolAdapter runs the named tool. Dispatch failures come back as a result
// with IsError set, never as an error.
func (a *Adapter) ToolAdapter(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return CallResult(a.invoker.Invoke(ctx, a.request(req))), nil
}

func (a *Adapter) request(req mcpgo.CallToolRequest) tool.Request {
	return tool.Request{
		ToolName:  req.Params.Name,
		Arguments: req.GetArguments(),
		Transport: a.transport,
	}
}

// CallResult converts a dispatcher envelope into a tools/call result.
func CallResult(env tool.Envelope) *mcpgo.CallToolResult {
	content := make([]mcpgo.Content, 0, len(env.Content))
	for _, item := range env.Content {
		content = append(content, mcpgo.NewTextContent(item.Text))
	}
	return &mcpgo.CallToolResult{Content: content, IsError: env.IsError}
}

// decodeCallRequest reads tools/call params. Arguments, when present, must
// be a JSON object.
func decodeCallRequest(raw json.RawMessage) (mcpgo.CallToolRequest, *RPCError) {
	var req mcpgo.CallToolRequest
	req.Method = MethodToolsCall
	if err := decodeParams(raw, &req.Params); err != nil {
		return req, err
	}
	if strings.TrimSpace(req.Params.Name) == "" {
		return req, &RPCError{Code: CodeInvalidParams, Message: "invalid params: tool name is required"}
	}
	if req.Params.Arguments != nil {
		if _, ok := req.Params.Arguments.(map[string]any); !ok {
			return req, &RPCError{Code: CodeInvalidParams, Message: "invalid params: arguments must be an object"}
		}
	}
	return req, nil
}

// progressToken returns the request's progress token as raw JSON, or nil
// when the caller did not ask for progress.
func progressToken(req mcpgo.CallToolRequest) json.RawMessage {
	if req.Params.Meta == nil || req.Params.Meta.ProgressToken == nil {
		return nil
	}
	raw, err := json.Marshal(req.Params.Meta.ProgressToken)
	if err != nil {
		return nil
	}
	return raw
}
