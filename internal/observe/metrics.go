// Package observe provides application-wide observability primitives for
// voiceloop: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voiceloop metrics.
const meterName = "github.com/MrWong99/voiceloop"

// Turn outcomes used as the "outcome" attribute of [Metrics.Turns].
const (
	OutcomeOK       = "ok"
	OutcomeSilence  = "silence"
	OutcomeError    = "error"
	OutcomeCanceled = "canceled"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks agent invocation latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks the time spent streaming synthesized audio.
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks the wall clock of a whole voice turn.
	TurnDuration metric.Float64Histogram

	// TimeToFirstToken tracks the delay before the first streamed text chunk
	// of a relay request.
	TimeToFirstToken metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts finished voice turns. Use with attribute:
	//   attribute.String("outcome", ...)
	Turns metric.Int64Counter

	// Frames counts synthesized audio frames delivered to clients.
	Frames metric.Int64Counter

	// STTFailures counts transcriptions that were downgraded to silence. Use
	// with attribute:
	//   attribute.String("reason", ...)
	STTFailures metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of sessions with a turn in progress.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	// Histograms.
	if met.STTDuration, err = histogram("voiceloop.stt.duration",
		"Latency of speech-to-text transcription."); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = histogram("voiceloop.llm.duration",
		"Latency of agent invocation."); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = histogram("voiceloop.tts.duration",
		"Time spent streaming synthesized audio."); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = histogram("voiceloop.turn.duration",
		"Wall clock of a complete voice turn."); err != nil {
		return nil, err
	}
	if met.TimeToFirstToken, err = histogram("voiceloop.relay.ttft",
		"Time to the first streamed text chunk."); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = histogram("voiceloop.tool_execution.duration",
		"Latency of MCP tool execution."); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("voiceloop.turns",
		metric.WithDescription("Total voice turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Frames, err = m.Int64Counter("voiceloop.frames",
		metric.WithDescription("Total synthesized audio frames delivered."),
	); err != nil {
		return nil, err
	}
	if met.STTFailures, err = m.Int64Counter("voiceloop.stt.failures",
		metric.WithDescription("Transcriptions downgraded to silence by reason."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("voiceloop.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("voiceloop.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("voiceloop.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voiceloop.active_sessions",
		metric.WithDescription("Number of sessions with a turn in progress."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voiceloop.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTurn increments the turn counter for the given outcome.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordSTTFailure increments the transcription failure counter.
func (m *Metrics) RecordSTTFailure(ctx context.Context, reason string) {
	m.STTFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
