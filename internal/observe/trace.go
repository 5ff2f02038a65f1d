package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/voicecard"

// Span attribute keys of a dialogue turn.
const (
	AttrSessionID   = "voicecard.session.id"
	AttrPhaseBefore = "voicecard.phase.before"
	AttrPhaseAfter  = "voicecard.phase.after"
	AttrOutcome     = "voicecard.outcome"
	AttrMissedField = "voicecard.missed_field"
)

type sessionKey struct{}

// Tracer returns the voicecard tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span. The caller must call span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// WithSession tags ctx with an enrollment session ID. Loggers and turn spans
// derived from the returned context carry it.
func WithSession(ctx context.Context, sessionID string) context.Context {
	if sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionID returns the session ID stored by [WithSession], or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// StartTurn starts the span of one dialogue turn in the given phase.
// Finish it with [EndTurn].
func StartTurn(ctx context.Context, phase string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String(AttrPhaseBefore, phase)}
	if id := SessionID(ctx); id != "" {
		attrs = append(attrs, attribute.String(AttrSessionID, id))
	}
	return StartSpan(ctx, "session.turn", trace.WithAttributes(attrs...))
}

// EndTurn records where the turn left the dialogue and ends span. A non-nil
// err marks the span as failed. Empty outcome and missedField are omitted.
func EndTurn(span trace.Span, phase, outcome, missedField string, err error) {
	span.SetAttributes(attribute.String(AttrPhaseAfter, phase))
	if outcome != "" {
		span.SetAttributes(attribute.String(AttrOutcome, outcome))
	}
	if missedField != "" {
		span.SetAttributes(attribute.String(AttrMissedField, missedField))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enrollment aborted")
	}
	span.End()
}

// CorrelationID returns the trace ID of the span in ctx, or "" when there is
// none. It is echoed to clients as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger enriched with the session ID and the
// trace and span IDs of ctx, if any.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := SessionID(ctx); id != "" {
		l = l.With(slog.String("session_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
