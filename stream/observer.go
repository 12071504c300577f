package stream

import "log/slog"

// Outcome is how a stream ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	// OutcomeCancelled means the consumer went away before a terminal event.
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeRejected means the connection already had an active stream.
	OutcomeRejected Outcome = "rejected"
)

// Observation summarizes one finished stream.
type Observation struct {
	ToolName   string
	ConnID     string
	StreamID   string
	Chunks     int
	DurationMS int64
	Outcome    Outcome
	ErrorCode  string
}

// Observer receives stream observations.
type Observer interface {
	ObserveStream(observation Observation)
}

type noopObserver struct{}

func (noopObserver) ObserveStream(Observation) {}

// LogObserver writes stream observations to a structured logger.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) ObserveStream(observation Observation) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"tool", observation.ToolName,
		"conn_id", observation.ConnID,
		"stream_id", observation.StreamID,
		"chunks", observation.Chunks,
		"duration_ms", observation.DurationMS,
		"outcome", observation.Outcome,
	}
	if observation.Outcome == OutcomeCompleted {
		logger.Debug("stream finished", attrs...)
		return
	}
	logger.Info("stream finished", append(attrs, "error_code", observation.ErrorCode)...)
}

// Observers fans one observation out to several observers.
type Observers []Observer

func (o Observers) ObserveStream(observation Observation) {
	for _, observer := range o {
		if observer != nil {
			observer.ObserveStream(observation)
		}
	}
}

var (
	_ Observer = noopObserver{}
	_ Observer = LogObserver{}
	_ Observer = Observers(nil)
)
