// Package otel records tool invocations and streams as OpenTelemetry metrics
// and spans.
package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/obridge/stream"
	"github.com/petal-labs/obridge/tool"
)

// Instrument names.
const (
	MetricInvocations    = "obridge.tool.invocations"
	MetricLatency        = "obridge.tool.latency"
	MetricStreams        = "obridge.stream.streams"
	MetricStreamChunks   = "obridge.stream.chunks"
	MetricStreamDuration = "obridge.stream.duration"
)

// InvocationObserver implements tool.Observer and stream.Observer.
type InvocationObserver struct {
	tracer trace.Tracer

	invocations    metric.Int64Counter
	latency        metric.Float64Histogram
	streams        metric.Int64Counter
	chunks         metric.Int64Counter
	streamDuration metric.Float64Histogram
}

// NewInvocationObserver creates an observer bound to meter. tracer may be nil
// to record metrics only.
func NewInvocationObserver(meter metric.Meter, tracer trace.Tracer) (*InvocationObserver, error) {
	invocations, err := meter.Int64Counter(MetricInvocations,
		metric.WithDescription("Number of tool invocations"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(MetricLatency,
		metric.WithDescription("Tool invocation latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	streams, err := meter.Int64Counter(MetricStreams,
		metric.WithDescription("Number of streamed invocations by outcome"),
	)
	if err != nil {
		return nil, err
	}
	chunks, err := meter.Int64Counter(MetricStreamChunks,
		metric.WithDescription("Number of stream chunks delivered"),
	)
	if err != nil {
		return nil, err
	}
	streamDuration, err := meter.Float64Histogram(MetricStreamDuration,
		metric.WithDescription("Stream lifetime in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &InvocationObserver{
		tracer:         tracer,
		invocations:    invocations,
		latency:        latency,
		streams:        streams,
		chunks:         chunks,
		streamDuration: streamDuration,
	}, nil
}

// ObserveInvoke records one synchronous invocation.
func (o *InvocationObserver) ObserveInvoke(observation tool.InvokeObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool_name", observation.ToolName),
		attribute.String("transport", string(observation.Transport)),
		attribute.Bool("success", observation.Success),
	}
	if observation.ErrorCode != "" {
		attrs = append(attrs, attribute.String("error_code", observation.ErrorCode))
	}

	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.invocations.Add(ctx, 1, options)
	o.latency.Record(ctx, seconds(observation.DurationMS), options)

	o.span("tool.invoke", observation.DurationMS, attrs, observation.Success, observation.ErrorCode)
}

// ObserveStream records one finished stream.
func (o *InvocationObserver) ObserveStream(observation stream.Observation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool_name", observation.ToolName),
		attribute.String("outcome", string(observation.Outcome)),
	}
	if observation.ErrorCode != "" {
		attrs = append(attrs, attribute.String("error_code", observation.ErrorCode))
	}

	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.streams.Add(ctx, 1, options)
	o.chunks.Add(ctx, int64(observation.Chunks), metric.WithAttributes(attrs[0]))
	o.streamDuration.Record(ctx, seconds(observation.DurationMS), options)

	spanAttrs := append(attrs,
		attribute.String("stream_id", observation.StreamID),
		attribute.String("conn_id", observation.ConnID),
		attribute.Int("chunks", observation.Chunks),
	)
	o.span("tool.stream", observation.DurationMS, spanAttrs, observation.Outcome == stream.OutcomeCompleted, observation.ErrorCode)
}

// span records a finished operation backdated by its duration.
func (o *InvocationObserver) span(name string, durationMS int64, attrs []attribute.KeyValue, ok bool, code string) {
	if o.tracer == nil {
		return
	}
	end := time.Now()
	start := end.Add(-time.Duration(durationMS) * time.Millisecond)
	_, span := o.tracer.Start(context.Background(), name,
		trace.WithAttributes(attrs...),
		trace.WithTimestamp(start),
	)
	if ok {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, code)
	}
	span.End(trace.WithTimestamp(end))
}

func seconds(ms int64) float64 {
	return float64(time.Duration(ms)*time.Millisecond) / float64(time.Second)
}

var (
	_ tool.Observer   = (*InvocationObserver)(nil)
	_ stream.Observer = (*InvocationObserver)(nil)
)
