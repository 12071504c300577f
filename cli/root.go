// Package cli implements the obridge command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/obridge/daemon"
)

// NewRootCmd builds the obridge command tree.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "obridge",
		Short: "Tool dispatch server for MCP and HTTP clients",
		Long:  "obridge exposes a catalog of tools over MCP stdio, HTTP, and server-sent events.",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
	}

	root.PersistentFlags().Bool("verbose", false, "Enable verbose/debug logging")
	root.PersistentFlags().Bool("quiet", false, "Suppress all logging except errors")
	root.PersistentFlags().String("log-format", "text", "Log format: text | json")
	root.PersistentFlags().String("config", "", "Path to obridge.yaml (default: ./obridge.yaml, then ~/.obridge/config.yaml)")

	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("obridge version %s\n", version))

	root.AddCommand(NewServeCmd())
	root.AddCommand(NewStdioCmd())
	root.AddCommand(NewToolsCmd())
	root.AddCommand(NewCallCmd())
	root.AddCommand(NewInspectCmd())
	return root
}

// newLogger builds the process logger from the persistent flags. Logs always
// go to stderr so stdout stays free for protocol traffic and command output.
func newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")
	format, _ := cmd.Flags().GetString("log-format")

	level := slog.LevelInfo
	switch {
	case quiet:
		level = slog.LevelError
	case verbose:
		level = slog.LevelDebug
	}
	return buildLogger(cmd.ErrOrStderr(), format, level)
}

func buildLogger(w io.Writer, format string, level slog.Level) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, exitError(exitValidation, "unknown log format %q (want text or json)", format)
	}
}

// loadConfig resolves, reads, and validates the config file, then applies
// the environment.
func loadConfig(cmd *cobra.Command, logger *slog.Logger) (daemon.Config, error) {
	explicit, _ := cmd.Flags().GetString("config")
	path, found, err := daemon.DiscoverConfigPath(explicit)
	if err != nil {
		return daemon.Config{}, exitError(exitFileNotFound, "%v", err)
	}
	if found {
		logger.Debug("loading config", "path", path)
	}

	cfg, err := daemon.Load(path)
	if err != nil {
		return daemon.Config{}, exitError(exitValidation, "%v", err)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return daemon.Config{}, exitError(exitValidation, "%v", err)
	}
	return cfg, nil
}

// overridesFromFlags collects the override flags the user actually set.
// Commands register only the flags that apply to them.
func overridesFromFlags(cmd *cobra.Command) daemon.Overrides {
	var o daemon.Overrides
	flags := cmd.Flags()
	if flags.Changed("host") {
		o.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		o.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("cors-origin") {
		o.CORSOrigin, _ = flags.GetString("cors-origin")
	}
	if flags.Changed("stream-delay") {
		o.StreamDelay, _ = flags.GetDuration("stream-delay")
	}
	if flags.Changed("otlp-endpoint") {
		o.OTLPEndpoint, _ = flags.GetString("otlp-endpoint")
	}
	if flags.Changed("otlp-metrics-endpoint") {
		o.OTLPMetricsEndpoint, _ = flags.GetString("otlp-metrics-endpoint")
	}
	if flags.Changed("tools") {
		o.Enabled, _ = flags.GetStringSlice("tools")
	}
	return o
}

// resolveConfig loads the config file and applies command-line overrides.
func resolveConfig(cmd *cobra.Command, logger *slog.Logger) (daemon.Config, error) {
	cfg, err := loadConfig(cmd, logger)
	if err != nil {
		return daemon.Config{}, err
	}
	cfg.Apply(overridesFromFlags(cmd))
	return cfg, nil
}

func buildDaemon(cfg daemon.Config, opts daemon.Options) (*daemon.Daemon, error) {
	d, err := daemon.Build(cfg, opts)
	if err != nil {
		return nil, exitError(exitValidation, "%v", err)
	}
	return d, nil
}

// setup is the common preamble of commands that run the dispatcher.
func setup(cmd *cobra.Command) (*slog.Logger, daemon.Config, error) {
	logger, err := newLogger(cmd)
	if err != nil {
		return nil, daemon.Config{}, err
	}
	cfg, err := resolveConfig(cmd, logger)
	if err != nil {
		return nil, daemon.Config{}, err
	}
	return logger, cfg, nil
}

func addCatalogFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("tools", nil, "Tools to enable (default: all)")
	cmd.Flags().Duration("stream-delay", 0, "Pause before each stream chunk (negative disables)")
}
