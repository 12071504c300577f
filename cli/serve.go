package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/obridge/daemon"
	obridgeotel "github.com/petal-labs/obridge/otel"
	"github.com/petal-labs/obridge/stream"
	"github.com/petal-labs/obridge/tool"
)

const shutdownTimeout = 30 * time.Second

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and SSE endpoint",
		RunE:  runServe,
	}

	cmd.Flags().IntP("port", "p", daemon.DefaultPort, "Listen port (env: OBRIDGE_PORT, PORT)")
	cmd.Flags().String("host", daemon.DefaultHost, "Listen host")
	cmd.Flags().String("cors-origin", "*", "Allowed CORS origin")
	cmd.Flags().String("otlp-endpoint", "", "OTLP/HTTP traces URL")
	cmd.Flags().String("otlp-metrics-endpoint", "", "OTLP/HTTP metrics URL")
	addCatalogFlags(cmd)

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger, cfg, err := setup(cmd)
	if err != nil {
		return err
	}

	telemetry, err := obridgeotel.Setup(cmd.Context(), obridgeotel.Config{
		ServiceName:         cfg.Server.Name,
		ServiceVersion:      cfg.Server.Version,
		OTLPEndpoint:        cfg.Telemetry.OTLPEndpoint,
		OTLPMetricsEndpoint: cfg.Telemetry.OTLPMetricsEndpoint,
		MetricsInterval:     cfg.Telemetry.MetricsInterval,
		Global:              true,
		Logger:              logger,
	})
	if err != nil {
		return exitError(exitRuntime, "initializing telemetry: %v", err)
	}

	d, err := buildDaemon(cfg, daemon.Options{
		Logger:          logger,
		InvokeObservers: []tool.Observer{telemetry.Observer},
		StreamObservers: []stream.Observer{telemetry.Observer},
	})
	if err != nil {
		_ = telemetry.Shutdown(context.Background())
		return err
	}

	listener, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		_ = telemetry.Shutdown(context.Background())
		return exitError(exitRuntime, "listen on %s: %v", cfg.Addr(), err)
	}

	httpServer := &http.Server{
		Handler:      d.HTTP.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Signal handling
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("obridge listening",
			"addr", listener.Addr().String(),
			"tools", d.Registry.Names(),
			"version", cfg.Server.Version,
		)
		errCh <- httpServer.Serve(listener)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		d.Coordinator.CancelAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			serveErr = exitError(exitRuntime, "shutdown error: %v", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = exitError(exitRuntime, "server error: %v", err)
		}
	}

	if totals, err := telemetry.Totals(context.Background()); err == nil {
		logger.Info("served",
			"invocations", totals[obridgeotel.MetricInvocations],
			"streams", totals[obridgeotel.MetricStreams],
			"chunks", totals[obridgeotel.MetricStreamChunks],
		)
	}
	if err := telemetry.Shutdown(context.Background()); err != nil {
		logger.Warn("telemetry shutdown failed", "error", err)
	}
	return serveErr
}
