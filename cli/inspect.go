package cli

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/obridge/mcp"
)

// NewInspectCmd creates the "inspect" subcommand.
func NewInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Connect to an MCP server, list its tools, and optionally call one",
		Example: `  obridge inspect --command obridge --arg stdio
  obridge inspect --url http://localhost:3003/mcp --call calculate --args '{"expression":"2*(3+4)"}'`,
		Args: cobra.NoArgs,
		RunE: runInspect,
	}
	cmd.Flags().String("command", "", "Server command to launch over stdio")
	cmd.Flags().StringArray("arg", nil, "Server command argument (repeatable)")
	cmd.Flags().String("url", "", "MCP HTTP endpoint")
	cmd.Flags().String("call", "", "Tool to call after listing")
	cmd.Flags().String("args", "", "Arguments for --call as a JSON object")
	cmd.Flags().Bool("progress", false, "Request progress notifications for --call")
	cmd.Flags().Duration("timeout", 30*time.Second, "Overall inspect timeout")
	return cmd
}

// inspectReport is the JSON printed by inspect.
type inspectReport struct {
	Server          mcp.Implementation   `json:"server"`
	ProtocolVersion string               `json:"protocolVersion"`
	Tools           []string             `json:"tools"`
	Progress        []string             `json:"progress,omitempty"`
	Result          *mcp.ToolsCallResult `json:"result,omitempty"`
}

func runInspect(cmd *cobra.Command, _ []string) error {
	command, _ := cmd.Flags().GetString("command")
	commandArgs, _ := cmd.Flags().GetStringArray("arg")
	url, _ := cmd.Flags().GetString("url")
	callName, _ := cmd.Flags().GetString("call")
	rawArgs, _ := cmd.Flags().GetString("args")
	progress, _ := cmd.Flags().GetBool("progress")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	command, url = strings.TrimSpace(command), strings.TrimSpace(url)
	if (command == "") == (url == "") {
		return exitError(exitValidation, "exactly one of --command or --url is required")
	}
	var arguments map[string]any
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &arguments); err != nil {
			return exitError(exitInputParse, "parsing --args: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	var transport mcp.Transport
	if command != "" {
		transport, err = mcp.NewCommandTransport(ctx, mcp.CommandConfig{
			Command: command,
			Args:    commandArgs,
			Stderr:  cmd.ErrOrStderr(),
		})
	} else {
		transport, err = mcp.NewHTTPTransport(mcp.HTTPTransportConfig{Endpoint: url})
	}
	if err != nil {
		return exitError(exitRuntime, "connecting: %v", err)
	}

	report := inspectReport{}
	client := mcp.NewClient(transport, mcp.Options{
		OnProgress: func(p mcp.ProgressParams) {
			report.Progress = append(report.Progress, p.Message)
		},
	})
	defer func() {
		if err := client.Close(context.Background()); err != nil {
			logger.Warn("closing connection failed", "error", err)
		}
	}()

	initResult, err := client.Initialize(ctx)
	if err != nil {
		return exitError(exitRuntime, "initialize: %v", err)
	}
	report.Server = initResult.ServerInfo
	report.ProtocolVersion = initResult.ProtocolVersion

	list, err := client.ListTools(ctx)
	if err != nil {
		return exitError(exitRuntime, "tools/list: %v", err)
	}
	report.Tools = make([]string, 0, len(list.Tools))
	for _, t := range list.Tools {
		report.Tools = append(report.Tools, t.Name)
	}

	if name := strings.TrimSpace(callName); name != "" {
		params := mcp.ToolsCallParams{Name: name, Arguments: arguments}
		if progress {
			params.Meta = &mcp.RequestMeta{ProgressToken: json.RawMessage(`"inspect"`)}
		}
		result, err := client.CallTool(ctx, params)
		if err != nil {
			return exitError(exitRuntime, "tools/call: %v", err)
		}
		report.Result = &result
	}

	if err := writeJSON(cmd, report); err != nil {
		return err
	}
	if report.Result != nil && report.Result.IsError {
		return exitError(exitToolFailed, "tool %s returned an error", callName)
	}
	return nil
}
