package builtins

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/petal-labs/obridge/tool"
)

const resourceHelp = "help"

type useArgs struct {
	Resource   string         `json:"resource" jsonschema:"required,description=The resource or action to use" validate:"required"`
	Parameters map[string]any `json:"parameters,omitempty" jsonschema:"description=Optional parameters for the resource"`
	Context    string         `json:"context,omitempty" jsonschema:"description=Optional context or additional information"`
}

// useTool routes a resource name to another catalog tool. Bind returns the
// target's own call, so a chunked target stays chunked when streamed through
// use.
type useTool struct {
	registry *tool.Registry
}

func (u *useTool) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:        NameUse,
		Description: "Use a resource, command, or perform an action. Call with resource \"help\" to list resources.",
		InputSchema: tool.SchemaFor[useArgs](),
	}
}

func (u *useTool) Bind(raw map[string]any) (tool.Call, error) {
	args, err := tool.BindArguments[useArgs](raw)
	if err != nil {
		return nil, tool.ValidationError(NameUse, err)
	}

	resource := strings.ToLower(strings.TrimSpace(args.Resource))
	if resource == resourceHelp {
		return helpCall{resources: u.resources()}, nil
	}

	if resource == NameUse || u.registry == nil {
		return nil, u.unknownResource(args.Resource)
	}
	target, err := u.registry.Resolve(resource)
	if err != nil {
		return nil, u.unknownResource(args.Resource)
	}

	targetArgs := make(map[string]any, len(args.Parameters)+1)
	maps.Copy(targetArgs, args.Parameters)
	if _, ok := targetArgs["context"]; !ok && args.Context != "" {
		targetArgs["context"] = args.Context
	}
	return target.Bind(targetArgs)
}

func (u *useTool) resources() []string {
	out := []string{resourceHelp}
	for _, name := range u.registry.Names() {
		if name != NameUse {
			out = append(out, name)
		}
	}
	return out
}

func (u *useTool) unknownResource(resource string) *tool.ToolError {
	available := u.resources()
	return &tool.ToolError{
		Code:    tool.ErrorCodeUnknownTool,
		Message: fmt.Sprintf("unknown resource %q; available resources: %s", resource, strings.Join(available, ", ")),
		Details: map[string]any{
			"providedResource":   resource,
			"availableResources": available,
		},
	}
}

type helpCall struct {
	resources []string
}

func (c helpCall) Run(context.Context) (any, error) {
	return map[string]any{
		"message":            "Available resources: " + strings.Join(c.resources, ", "),
		"availableResources": c.resources,
	}, nil
}

var _ tool.Tool = (*useTool)(nil)
