package otel_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	obridgeotel "github.com/petal-labs/obridge/otel"
	"github.com/petal-labs/obridge/stream"
	"github.com/petal-labs/obridge/tool"
)

func newTestObserver(t *testing.T) (*obridgeotel.InvocationObserver, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	observer, err := obridgeotel.NewInvocationObserver(mp.Meter("test"), tp.Tracer("test"))
	require.NoError(t, err)
	return observer, reader, exporter
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, scope := range rm.ScopeMetrics {
		for i := range scope.Metrics {
			if scope.Metrics[i].Name == name {
				return &scope.Metrics[i]
			}
		}
	}
	return nil
}

func sumOf(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()
	require.NotNil(t, m)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is %T", m.Name, m.Data)
	var total int64
	for _, point := range sum.DataPoints {
		total += point.Value
	}
	return total
}

func TestInvocationObserverInvocations(t *testing.T) {
	observer, reader, exporter := newTestObserver(t)

	observer.ObserveInvoke(tool.InvokeObservation{ToolName: "echo", Transport: tool.TransportHTTP, DurationMS: 3, Success: true})
	observer.ObserveInvoke(tool.InvokeObservation{
		ToolName:   "calculate",
		Transport:  tool.TransportStdio,
		DurationMS: 7,
		ErrorCode:  tool.ErrorCodeHandlerFault,
	})

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(2), sumOf(t, findMetric(rm, obridgeotel.MetricInvocations)))

	latency := findMetric(rm, obridgeotel.MetricLatency)
	require.NotNil(t, latency)
	hist, ok := latency.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.Len(t, hist.DataPoints, 2)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "tool.invoke", spans[0].Name)
	assert.Equal(t, otelcodes.Ok, spans[0].Status.Code)
	assert.Equal(t, otelcodes.Error, spans[1].Status.Code)
	assert.Equal(t, tool.ErrorCodeHandlerFault, spans[1].Status.Description)
}

func TestInvocationObserverStreams(t *testing.T) {
	observer, reader, exporter := newTestObserver(t)

	observer.ObserveStream(stream.Observation{ToolName: "stream", StreamID: "s1", ConnID: "c1", Chunks: 3, DurationMS: 1500, Outcome: stream.OutcomeCompleted})
	observer.ObserveStream(stream.Observation{
		ToolName:  "stream",
		StreamID:  "s2",
		ConnID:    "c1",
		Chunks:    1,
		Outcome:   stream.OutcomeCancelled,
		ErrorCode: tool.ErrorCodeTransportFault,
	})

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(2), sumOf(t, findMetric(rm, obridgeotel.MetricStreams)))
	assert.Equal(t, int64(4), sumOf(t, findMetric(rm, obridgeotel.MetricStreamChunks)))
	assert.NotNil(t, findMetric(rm, obridgeotel.MetricStreamDuration))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "tool.stream", spans[0].Name)
	assert.Equal(t, otelcodes.Ok, spans[0].Status.Code)
	assert.Equal(t, 1500, int(spans[0].EndTime.Sub(spans[0].StartTime).Milliseconds()))
	assert.Equal(t, otelcodes.Error, spans[1].Status.Code)
}

func TestInvocationObserverNil(t *testing.T) {
	var observer *obridgeotel.InvocationObserver
	assert.NotPanics(t, func() {
		observer.ObserveInvoke(tool.InvokeObservation{ToolName: "echo"})
		observer.ObserveStream(stream.Observation{ToolName: "stream"})
	})
}

func TestSetupWithoutExporter(t *testing.T) {
	telemetry, err := obridgeotel.Setup(context.Background(), obridgeotel.Config{ServiceName: "obridge-test", ServiceVersion: "0.0.1"})
	require.NoError(t, err)
	defer func() { require.NoError(t, telemetry.Shutdown(context.Background())) }()

	telemetry.Observer.ObserveInvoke(tool.InvokeObservation{ToolName: "echo", Success: true})
	telemetry.Observer.ObserveStream(stream.Observation{ToolName: "stream", Chunks: 2, Outcome: stream.OutcomeCompleted})

	totals, err := telemetry.Totals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), totals[obridgeotel.MetricInvocations])
	assert.Equal(t, int64(1), totals[obridgeotel.MetricStreams])
	assert.Equal(t, int64(2), totals[obridgeotel.MetricStreamChunks])
}

func TestSetupPushesMetricsToCollector(t *testing.T) {
	var exports atomic.Int32
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/v1/metrics" {
			exports.Add(1)
		}
		w.Header().Set("Content-Type", "application/x-protobuf")
		w.WriteHeader(http.StatusOK)
	}))
	defer collector.Close()

	telemetry, err := obridgeotel.Setup(context.Background(), obridgeotel.Config{
		ServiceName:         "obridge-test",
		OTLPMetricsEndpoint: collector.URL + "/v1/metrics",
		MetricsInterval:     time.Hour,
	})
	require.NoError(t, err)

	telemetry.Observer.ObserveInvoke(tool.InvokeObservation{ToolName: "echo", Success: true})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, telemetry.Shutdown(ctx))
	assert.GreaterOrEqual(t, exports.Load(), int32(1))
}
