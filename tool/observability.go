package tool

import "log/slog"

// TransportType names the surface an invocation arrived through.
type TransportType string

const (
	TransportStdio TransportType = "stdio"
	TransportHTTP  TransportType = "http"
	TransportLocal TransportType = "local"
)

// InvokeObservation captures one invocation outcome.
type InvokeObservation struct {
	ToolName   string
	Transport  TransportType
	DurationMS int64
	Success    bool
	ErrorCode  string
}

// Observer receives invocation observations.
type Observer interface {
	ObserveInvoke(observation InvokeObservation)
}

type noopObserver struct{}

func (noopObserver) ObserveInvoke(InvokeObservation) {}

// LogObserver writes invocation observations to a structured logger.
type LogObserver struct {
	Logger *slog.Logger
}

// ObserveInvoke logs one invocation at debug level, or warn for failures.
func (o LogObserver) ObserveInvoke(observation InvokeObservation) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"tool", observation.ToolName,
		"transport", observation.Transport,
		"duration_ms", observation.DurationMS,
	}
	if observation.Success {
		logger.Debug("tool invoked", attrs...)
		return
	}
	logger.Warn("tool invocation failed", append(attrs, "error_code", observation.ErrorCode)...)
}

// Observers fans one observation out to several observers.
type Observers []Observer

// ObserveInvoke forwards the observation to every non-nil observer.
func (o Observers) ObserveInvoke(observation InvokeObservation) {
	for _, observer := range o {
		if observer != nil {
			observer.ObserveInvoke(observation)
		}
	}
}

var (
	_ Observer = noopObserver{}
	_ Observer = LogObserver{}
	_ Observer = Observers(nil)
)
