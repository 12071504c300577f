package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/obridge/daemon"
	"github.com/petal-labs/obridge/stream"
	"github.com/petal-labs/obridge/tool"
)

// NewToolsCmd creates the "tools" subcommand.
func NewToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Print the tool catalog as JSON",
		Args:  cobra.NoArgs,
		RunE:  runTools,
	}
	cmd.Flags().StringSlice("tools", nil, "Tools to enable (default: all)")
	return cmd
}

func runTools(cmd *cobra.Command, _ []string) error {
	logger, cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	d, err := buildDaemon(cfg, daemon.Options{Logger: logger})
	if err != nil {
		return err
	}
	return writeJSON(cmd, map[string]any{"tools": d.Registry.List()})
}

// NewCallCmd creates the "call" subcommand.
func NewCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Invoke a tool locally and print its result",
		Args:  cobra.ExactArgs(1),
		RunE:  runCall,
	}
	cmd.Flags().String("args", "", `Tool arguments as a JSON object, e.g. '{"expression":"2+2"}'`)
	cmd.Flags().Bool("stream", false, "Deliver the result as stream events, one JSON object per line")
	addCatalogFlags(cmd)
	return cmd
}

func runCall(cmd *cobra.Command, args []string) error {
	rawArgs, _ := cmd.Flags().GetString("args")
	streamed, _ := cmd.Flags().GetBool("stream")

	arguments := map[string]any{}
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &arguments); err != nil {
			return exitError(exitInputParse, "parsing --args: %v", err)
		}
	}

	logger, cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	d, err := buildDaemon(cfg, daemon.Options{Logger: logger})
	if err != nil {
		return err
	}

	req := tool.Request{
		ToolName:  strings.TrimSpace(args[0]),
		Arguments: arguments,
		Transport: tool.TransportLocal,
	}

	if streamed {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		failed := ""
		for event := range d.Coordinator.Open(cmd.Context(), "cli", req) {
			if err := encoder.Encode(event); err != nil {
				return exitError(exitRuntime, "writing event: %v", err)
			}
			if event.Kind == stream.KindError {
				failed = event.Message
			}
		}
		if failed != "" {
			return exitError(exitToolFailed, "%s", failed)
		}
		return nil
	}

	env := d.Invoker.Invoke(cmd.Context(), req)
	if env.IsError {
		return exitError(exitToolFailed, "%s", env.Text())
	}
	fmt.Fprintln(cmd.OutOrStdout(), env.Text())
	return nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return exitError(exitRuntime, "encoding output: %v", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
