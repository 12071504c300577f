package cli

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/petal-labs/obridge/daemon"
	"github.com/petal-labs/obridge/mcp"
)

// NewStdioCmd creates the "stdio" subcommand.
func NewStdioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stdio",
		Short: "Serve MCP over stdin and stdout",
		Long:  "Serve MCP JSON-RPC over stdin/stdout, one request at a time, until stdin closes. Logs go to stderr.",
		RunE:  runStdio,
	}
	addCatalogFlags(cmd)
	return cmd
}

func runStdio(cmd *cobra.Command, _ []string) error {
	logger, cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	d, err := buildDaemon(cfg, daemon.Options{Logger: logger})
	if err != nil {
		return err
	}

	sessionID := uuid.NewString()
	transport := mcp.NewStreamTransport(cmd.InOrStdin(), cmd.OutOrStdout())
	defer transport.Close(cmd.Context())

	logger.Info("obridge stdio session started", "session", sessionID, "tools", d.Registry.Names())
	if err := d.MCP.Serve(cmd.Context(), transport, sessionID); err != nil {
		if cmd.Context().Err() != nil {
			return nil
		}
		return exitError(exitRuntime, "stdio session: %v", err)
	}
	logger.Info("obridge stdio session ended", "session", sessionID)
	return nil
}
