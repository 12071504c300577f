// Package builtins provides the tool catalog served by obridge.
package builtins

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/petal-labs/obridge/calc"
	"github.com/petal-labs/obridge/status"
	"github.com/petal-labs/obridge/tool"
)

// Tool names in registration order.
const (
	NameEcho      = "echo"
	NameCalculate = "calculate"
	NameStatus    = "status"
	NameInfo      = "info"
	NameStream    = "stream"
	NamePlan      = "plan"
	NameUse       = "use"
)

const (
	defaultContext    = "No context provided"
	defaultInput      = "No input provided"
	defaultStreamData = "Default streaming data"
	samplePlan        = "This is a sample plan for the requested goal."
)

// Options configures the catalog.
type Options struct {
	ServerName string
	Version    string
	// Status supplies uptime and memory data. Nil uses a runtime provider.
	Status status.Provider
	// Enabled restricts the catalog to the named tools, keeping registration
	// order. Empty enables everything.
	Enabled []string
}

// Names returns every built-in tool name in registration order.
func Names() []string {
	return []string{NameEcho, NameCalculate, NameStatus, NameInfo, NameStream, NamePlan, NameUse}
}

// Catalog builds the registry of built-in tools.
func Catalog(opts Options) (*tool.Registry, error) {
	if opts.Status == nil {
		opts.Status = status.NewRuntimeProvider(nil)
	}
	if strings.TrimSpace(opts.ServerName) == "" {
		opts.ServerName = "obridge"
	}

	all := Names()
	for _, name := range opts.Enabled {
		if !slices.Contains(all, name) {
			return nil, fmt.Errorf("builtins: unknown tool %q in enabled list", name)
		}
	}

	use := &useTool{}
	constructors := map[string]func() tool.Tool{
		NameEcho:      echoTool,
		NameCalculate: calculateTool,
		NameStatus:    func() tool.Tool { return statusTool(opts.Status) },
		NameInfo:      func() tool.Tool { return infoTool(opts) },
		NameStream:    streamTool,
		NamePlan:      planTool,
		NameUse:       func() tool.Tool { return use },
	}

	tools := make([]tool.Tool, 0, len(all))
	for _, name := range all {
		if len(opts.Enabled) > 0 && !slices.Contains(opts.Enabled, name) {
			continue
		}
		tools = append(tools, constructors[name]())
	}

	registry, err := tool.NewRegistry(tools...)
	if err != nil {
		return nil, err
	}
	use.registry = registry
	return registry, nil
}

type echoArgs struct {
	Input   string `json:"input,omitempty" jsonschema:"description=Text to echo back"`
	Context string `json:"context,omitempty" jsonschema:"description=Optional context or additional information"`
}

func echoTool() tool.Tool {
	return tool.New(NameEcho, "Echo the provided input back to the caller.",
		func(_ context.Context, args echoArgs) (any, error) {
			return map[string]any{
				"message": "Echo response",
				"input":   orDefault(args.Input, defaultInput),
				"context": orDefault(args.Context, defaultContext),
			}, nil
		})
}

type calculateArgs struct {
	Expression string `json:"expression" jsonschema:"required,maxLength=4096,description=Arithmetic expression using numbers and + - * / ( )" validate:"required,max=4096"`
}

func calculateTool() tool.Tool {
	return tool.New(NameCalculate, "Evaluate an arithmetic expression.",
		func(_ context.Context, args calculateArgs) (any, error) {
			result, err := calc.Evaluate(args.Expression)
			if err != nil {
				return nil, fmt.Errorf("calculation failed: %w", err)
			}
			return map[string]any{
				"message":    "Calculation result",
				"expression": args.Expression,
				"result":     result,
			}, nil
		})
}

type statusResult struct {
	Message string `json:"message"`
	status.Snapshot
}

type statusArgs struct{}

func statusTool(provider status.Provider) tool.Tool {
	return tool.New(NameStatus, "Report server uptime, memory usage, and goroutine count.",
		func(context.Context, statusArgs) (any, error) {
			return statusResult{Message: "Server status", Snapshot: provider.Snapshot()}, nil
		})
}

type infoArgs struct {
	Parameters map[string]any `json:"parameters,omitempty" jsonschema:"description=Optional parameters echoed in the response"`
	Context    string         `json:"context,omitempty" jsonschema:"description=Optional context or additional information"`
}

func infoTool(opts Options) tool.Tool {
	return tool.New(NameInfo, "Describe the running server.",
		func(_ context.Context, args infoArgs) (any, error) {
			params := args.Parameters
			if params == nil {
				params = map[string]any{}
			}
			return map[string]any{
				"message":    opts.ServerName + " server is running",
				"version":    opts.Version,
				"timestamp":  opts.Status.Now(),
				"parameters": params,
				"context":    orDefault(args.Context, defaultContext),
			}, nil
		})
}

type streamArgs struct {
	Data string `json:"data,omitempty" jsonschema:"description=Whitespace separated text delivered one word per chunk"`
}

func (a streamArgs) words() []string {
	return strings.Fields(orDefault(a.Data, defaultStreamData))
}

func streamTool() tool.Tool {
	return tool.NewChunked(NameStream, "Stream the provided data back one word at a time.",
		func(_ context.Context, args streamArgs) (any, error) {
			return map[string]any{
				"message": "Streaming response",
				"type":    "stream",
				"data":    orDefault(args.Data, defaultStreamData),
				"chunks":  args.words(),
			}, nil
		},
		func(ctx context.Context, args streamArgs) iter.Seq2[string, error] {
			return func(yield func(string, error) bool) {
				for _, word := range args.words() {
					if err := ctx.Err(); err != nil {
						yield("", err)
						return
					}
					if !yield(word, nil) {
						return
					}
				}
			}
		})
}

type planArgs struct {
	Goal string `json:"goal,omitempty" jsonschema:"description=The goal to plan for"`
}

func planTool() tool.Tool {
	return tool.New(NamePlan, "Create a plan to achieve a goal.",
		func(_ context.Context, args planArgs) (any, error) {
			result := map[string]any{
				"message": "Plan created",
				"plan":    samplePlan,
			}
			if args.Goal != "" {
				result["goal"] = args.Goal
			}
			return result, nil
		})
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
