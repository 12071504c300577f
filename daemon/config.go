package daemon

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/petal-labs/obridge/server"
	"github.com/petal-labs/obridge/stream"
)

const (
	projectConfigName = "obridge.yaml"
	homeConfigName    = "config.yaml"
	homeConfigDir     = ".obridge"
)

// Defaults.
const (
	DefaultName    = "obridge"
	DefaultVersion = "1.0.0"
	DefaultHost    = "0.0.0.0"
	DefaultPort    = 3003
	DefaultMaxBody = 1 << 20
)

// Config is the obridge.yaml file shape.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Stream    StreamConfig    `yaml:"stream"`
	Tools     ToolsConfig     `yaml:"tools"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig describes the process identity and the HTTP listener.
type ServerConfig struct {
	Name         string        `yaml:"name" validate:"required"`
	Version      string        `yaml:"version"`
	Instructions string        `yaml:"instructions,omitempty"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port" validate:"min=1,max=65535"`
	CORSOrigin   string        `yaml:"cors_origin"`
	MaxBody      int64         `yaml:"max_body" validate:"min=1"`
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"min=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"min=0"`
}

// StreamConfig tunes SSE delivery.
type StreamConfig struct {
	// Delay is the pause before each chunk. Negative disables pacing.
	Delay          time.Duration `yaml:"delay"`
	Heartbeat      time.Duration `yaml:"heartbeat" validate:"min=0"`
	StatusSchedule string        `yaml:"status_schedule" validate:"required"`
}

// ToolsConfig selects the catalog.
type ToolsConfig struct {
	// Enabled lists the tools to register. Empty registers all of them.
	Enabled []string `yaml:"enabled,omitempty"`
}

// TelemetryConfig points spans and metrics at a collector.
type TelemetryConfig struct {
	OTLPEndpoint        string        `yaml:"otlp_endpoint,omitempty"`
	OTLPMetricsEndpoint string        `yaml:"otlp_metrics_endpoint,omitempty"`
	MetricsInterval     time.Duration `yaml:"metrics_interval,omitempty" validate:"min=0"`
}

// Default returns the configuration used when no file is found.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Name:       DefaultName,
			Version:    DefaultVersion,
			Host:       DefaultHost,
			Port:       DefaultPort,
			CORSOrigin: "*",
			MaxBody:    DefaultMaxBody,
		},
		Stream: StreamConfig{
			Delay:          stream.DefaultDelay,
			Heartbeat:      15 * time.Second,
			StatusSchedule: server.DefaultStatusSchedule,
		},
	}
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges.
func (c Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("daemon: validate config: %w", err)
		}
		problems := make([]string, 0, len(fieldErrs))
		for _, fieldErr := range fieldErrs {
			problems = append(problems, fmt.Sprintf("%s failed %q", fieldErr.Namespace(), fieldErr.Tag()))
		}
		return fmt.Errorf("daemon: invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// DiscoverConfigPath resolves the config file with first-match semantics:
// explicitPath, then ./obridge.yaml, then ~/.obridge/config.yaml.
func DiscoverConfigPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverConfigPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverConfigPathFrom is DiscoverConfigPath with explicit directories.
func DiscoverConfigPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	explicit := strings.TrimSpace(explicitPath)
	var candidates []string
	if explicit != "" {
		candidates = []string{filepath.Clean(explicit)}
	} else {
		candidates = []string{
			filepath.Join(cwd, projectConfigName),
			filepath.Join(homeDir, homeConfigDir, homeConfigName),
		}
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		switch {
		case err == nil && !info.IsDir():
			return candidate, true, nil
		case err == nil:
			continue
		case errors.Is(err, os.ErrNotExist):
			if explicit != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
		default:
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// Load reads path over the defaults. An empty path returns the defaults.
// Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	clean := strings.TrimSpace(path)
	if clean == "" {
		return cfg, nil
	}

	// #nosec G304 -- path resolved from explicit local config discovery.
	f, err := os.Open(clean)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", clean, err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parsing config %q: %w", clean, err)
	}
	return cfg, nil
}

// Overrides are command-line values applied over the loaded file. Zero
// values leave the file's setting alone.
type Overrides struct {
	Host         string
	Port         int
	CORSOrigin   string
	StreamDelay  time.Duration
	OTLPEndpoint string
	// OTLPMetricsEndpoint sets the metrics collector URL.
	OTLPMetricsEndpoint string
	Enabled             []string
}

// ApplyEnv applies OBRIDGE_PORT, or PORT when that is unset.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	for _, key := range []string{"OBRIDGE_PORT", "PORT"} {
		raw := strings.TrimSpace(getenv(key))
		if raw == "" {
			continue
		}
		port, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("daemon: %s=%q is not a port number", key, raw)
		}
		c.Server.Port = port
		return nil
	}
	return nil
}

// Apply copies the set fields of o into c.
func (c *Config) Apply(o Overrides) {
	if o.Host != "" {
		c.Server.Host = o.Host
	}
	if o.Port != 0 {
		c.Server.Port = o.Port
	}
	if o.CORSOrigin != "" {
		c.Server.CORSOrigin = o.CORSOrigin
	}
	if o.StreamDelay != 0 {
		c.Stream.Delay = o.StreamDelay
	}
	if o.OTLPEndpoint != "" {
		c.Telemetry.OTLPEndpoint = o.OTLPEndpoint
	}
	if o.OTLPMetricsEndpoint != "" {
		c.Telemetry.OTLPMetricsEndpoint = o.OTLPMetricsEndpoint
	}
	if len(o.Enabled) > 0 {
		c.Tools.Enabled = append([]string(nil), o.Enabled...)
	}
}
