// Package observe holds the OpenTelemetry instruments for gostt-stream.
//
// Instruments are created through the OpenTelemetry Metrics API. [InitProvider]
// installs an SDK provider with a Prometheus exporter so the server can expose
// them on /metrics. Tests should build their own [Metrics] with [NewMetrics]
// and a ManualReader instead of touching the global provider.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for every instrument in this module.
const meterName = "github.com/chaz8081/gostt-stream"

// Metrics holds the instruments recorded by the coordinator and its sinks.
// All fields are safe for concurrent use.
type Metrics struct {
	// InferenceDuration tracks wall-clock time of one engine call.
	// Attributes: mode ("slice" or "oneshot"), status.
	InferenceDuration metric.Float64Histogram

	// Inferences counts engine calls by mode and status ("ok", "aborted", "error").
	Inferences metric.Int64Counter

	// ActiveSessions tracks streaming jobs that have not reached their
	// terminal event yet.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveContexts tracks loaded model contexts held by the registry.
	ActiveContexts metric.Int64UpDownCounter

	// CapturedSamples counts PCM samples pushed into slices.
	CapturedSamples metric.Int64Counter

	// SliceRolls counts slice boundaries crossed during capture.
	SliceRolls metric.Int64Counter

	// ReadErrors counts failed device reads that the capture loop skipped.
	ReadErrors metric.Int64Counter

	// Events counts emitted session events by type.
	Events metric.Int64Counter
}

// latencyBuckets are histogram boundaries in seconds sized for whisper runs
// on 0.5s to 30s windows.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32,
}

// NewMetrics creates all instruments from the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.InferenceDuration, err = m.Float64Histogram("gostt.inference.duration",
		metric.WithDescription("Latency of one whisper inference call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Inferences, err = m.Int64Counter("gostt.inference.count",
		metric.WithDescription("Inference calls by mode and status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("gostt.active_sessions",
		metric.WithDescription("Streaming jobs currently running."),
	); err != nil {
		return nil, err
	}
	if met.ActiveContexts, err = m.Int64UpDownCounter("gostt.active_contexts",
		metric.WithDescription("Model contexts currently loaded."),
	); err != nil {
		return nil, err
	}
	if met.CapturedSamples, err = m.Int64Counter("gostt.capture.samples",
		metric.WithDescription("PCM samples captured into slices."),
	); err != nil {
		return nil, err
	}
	if met.SliceRolls, err = m.Int64Counter("gostt.capture.slice_rolls",
		metric.WithDescription("Slice boundaries crossed during capture."),
	); err != nil {
		return nil, err
	}
	if met.ReadErrors, err = m.Int64Counter("gostt.capture.read_errors",
		metric.WithDescription("Device reads that failed and were skipped."),
	); err != nil {
		return nil, err
	}
	if met.Events, err = m.Int64Counter("gostt.events",
		metric.WithDescription("Session events emitted by type."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance built on
// otel.GetMeterProvider. Instruments created before [InitProvider] runs are
// forwarded once the SDK provider is installed.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordInference records the duration and outcome of one engine call.
func (m *Metrics) RecordInference(ctx context.Context, mode, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", status),
	)
	m.InferenceDuration.Record(ctx, d.Seconds(), attrs)
	m.Inferences.Add(ctx, 1, attrs)
}

// RecordEvent counts one emitted session event.
func (m *Metrics) RecordEvent(ctx context.Context, eventType string) {
	m.Events.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}
