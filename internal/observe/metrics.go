// Package observe provides the observability primitives of the voicecard
// server: OpenTelemetry metrics and tracing, trace-aware logging and the HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// Prometheus scraping by the handler returned from [InitProvider]. Tests
// should build their own [Metrics] with [NewMetrics] and a ManualReader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of all voicecard metrics.
const meterName = "github.com/MrWong99/voicecard"

// Metrics holds all metric instruments. The OTel instruments handle their
// own synchronisation.
type Metrics struct {
	// TurnDuration is the time the enrollment machine spends on one user
	// turn, commit included.
	TurnDuration metric.Float64Histogram

	// STTDuration is the time from opening a recognition stream to its
	// first final transcript.
	STTDuration metric.Float64Histogram

	// TTSDuration is the time from requesting a prompt to its first audio
	// chunk.
	TTSDuration metric.Float64Histogram

	// Turns counts handled turns by resulting phase.
	Turns metric.Int64Counter

	// Outcomes counts finished enrollment attempts by outcome.
	Outcomes metric.Int64Counter

	// FieldMisses counts turns that did not capture the pending field.
	FieldMisses metric.Int64Counter

	// DroppedTranscripts counts transcripts discarded because a prompt was
	// still playing.
	DroppedTranscripts metric.Int64Counter

	// ProviderRequests and ProviderErrors count speech provider calls.
	ProviderRequests metric.Int64Counter
	ProviderErrors   metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes.
	BreakerTransitions metric.Int64Counter

	// ActiveSessions is the number of live enrollment sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveVoiceConnections is the number of open voice WebSockets.
	ActiveVoiceConnections metric.Int64UpDownCounter

	// HTTPRequestDuration is HTTP request latency by method and route.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds for dialogue latencies.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) metric.Float64Histogram {
		if err != nil {
			return nil
		}
		var h metric.Float64Histogram
		h, err = m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = m.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	gauge := func(name, desc string) metric.Int64UpDownCounter {
		if err != nil {
			return nil
		}
		var g metric.Int64UpDownCounter
		g, err = m.Int64UpDownCounter(name, metric.WithDescription(desc))
		return g
	}

	met.TurnDuration = histogram("voicecard.turn.duration", "Latency of one enrollment turn.")
	met.STTDuration = histogram("voicecard.stt.duration", "Latency until the first final transcript.")
	met.TTSDuration = histogram("voicecard.tts.duration", "Latency until the first synthesised audio chunk.")
	met.HTTPRequestDuration = histogram("voicecard.http.request.duration", "HTTP request latency by method and route.")

	met.Turns = counter("voicecard.turns", "Enrollment turns by resulting phase.")
	met.Outcomes = counter("voicecard.enrollment.outcomes", "Finished enrollment attempts by outcome.")
	met.FieldMisses = counter("voicecard.field.misses", "Turns that did not capture the pending field.")
	met.DroppedTranscripts = counter("voicecard.transcripts.dropped", "Transcripts discarded during prompt playback.")
	met.ProviderRequests = counter("voicecard.provider.requests", "Speech provider requests by provider, kind and status.")
	met.ProviderErrors = counter("voicecard.provider.errors", "Speech provider errors by provider and kind.")
	met.BreakerTransitions = counter("voicecard.breaker.transitions", "Circuit breaker state changes.")

	met.ActiveSessions = gauge("voicecard.active_sessions", "Number of live enrollment sessions.")
	met.ActiveVoiceConnections = gauge("voicecard.active_voice_connections", "Number of open voice connections.")

	if err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a package-level [Metrics] created on first use from
// the global meter provider. Call it after [InitProvider].
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTurn records one handled turn. outcome is empty for turns that did
// not finish the attempt; field is the pending field when the turn missed.
func (m *Metrics) RecordTurn(ctx context.Context, seconds float64, phase, outcome, missedField string) {
	m.TurnDuration.Record(ctx, seconds, metric.WithAttributes(Attr("phase", phase)))
	m.Turns.Add(ctx, 1, metric.WithAttributes(Attr("phase", phase)))
	if outcome != "" {
		m.Outcomes.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
	}
	if missedField != "" {
		m.FieldMisses.Add(ctx, 1, metric.WithAttributes(Attr("field", missedField)))
	}
}

// RecordProviderRequest records a speech provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
		Attr("status", status),
	))
}

// RecordProviderError records a failed speech provider call.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
	))
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, from, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		Attr("breaker", name),
		Attr("from", from),
		Attr("to", to),
	))
}
