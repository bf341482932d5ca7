// Package telemetry provides the OpenTelemetry metric instruments for a
// running agent session: reply latency, token usage, and TTS first-byte
// latency, all recorded in-process with no exporter wiring required.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for every instrument this
// package creates.
const meterName = "github.com/lokutor-ai/lokutor-orchestrator"

// latencyBuckets bounds the histogram buckets (seconds) for reply and TTS
// latency, tuned for conversational turn-taking rather than batch workloads.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16}

// Metrics holds the OpenTelemetry instruments a session emits into. All
// fields are safe for concurrent use.
type Metrics struct {
	ReplyLatency     metric.Float64Histogram
	TTSFirstByte     metric.Float64Histogram
	PromptTokens     metric.Int64Counter
	CompletionTokens metric.Int64Counter
	RepliesCompleted metric.Int64Counter
}

// NewMetrics creates a Metrics instance bound to mp. Returns an error if any
// instrument fails to register.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.ReplyLatency, err = m.Float64Histogram("lokutor.reply.latency",
		metric.WithDescription("Time from turn commit to reply completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSFirstByte, err = m.Float64Histogram("lokutor.tts.first_byte.latency",
		metric.WithDescription("Time from reply start to the first synthesized audio frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PromptTokens, err = m.Int64Counter("lokutor.llm.prompt_tokens",
		metric.WithDescription("Total prompt tokens consumed across replies."),
	); err != nil {
		return nil, err
	}
	if met.CompletionTokens, err = m.Int64Counter("lokutor.llm.completion_tokens",
		metric.WithDescription("Total completion tokens produced across replies."),
	); err != nil {
		return nil, err
	}
	if met.RepliesCompleted, err = m.Int64Counter("lokutor.replies.completed",
		metric.WithDescription("Total replies that reached completion."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
	defaultErr         error
)

// Default returns the package-level Metrics instance, created on first call
// from otel.GetMeterProvider(). When no SDK MeterProvider has been
// registered this resolves to OTel's no-op implementation, so recording
// stays cheap and safe even with no collector configured.
func Default() (*Metrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultErr = NewMetrics(otel.GetMeterProvider())
	})
	return defaultMetrics, defaultErr
}

// RecordReply records one completed reply's latency, TTS first-byte delay,
// and token usage in a single call, matching the shape of session.Metrics.
func (m *Metrics) RecordReply(ctx context.Context, agentName string, replyLatencySeconds, ttsFirstByteSeconds float64, promptTokens, completionTokens int) {
	attrs := metric.WithAttributes(attribute.String("agent", agentName))
	m.ReplyLatency.Record(ctx, replyLatencySeconds, attrs)
	if ttsFirstByteSeconds > 0 {
		m.TTSFirstByte.Record(ctx, ttsFirstByteSeconds, attrs)
	}
	if promptTokens > 0 {
		m.PromptTokens.Add(ctx, int64(promptTokens), attrs)
	}
	if completionTokens > 0 {
		m.CompletionTokens.Add(ctx, int64(completionTokens), attrs)
	}
	m.RepliesCompleted.Add(ctx, 1, attrs)
}
