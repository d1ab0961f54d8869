package logger

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "statetrail"

// SpanContext pairs a started span with the context that carries it.
type SpanContext struct {
	ctx  context.Context
	span trace.Span
}

// StartSpan starts a child of whatever span ctx carries. The caller must End it.
//
//	sc := logger.StartSpan(ctx, "ingest.apply_event")
//	defer sc.End()
//	ctx = sc.Context()
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) *SpanContext {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, opts...)
	return &SpanContext{ctx: ctx, span: span}
}

// StartSpanFromTraceID starts a span under a caller supplied trace id, for
// senders that forward a correlation header instead of traceparent. A W3C
// parent already on ctx wins. Hyphenated UUIDs are accepted. Anything that
// does not decode to a 128-bit id starts a fresh root.
func StartSpanFromTraceID(ctx context.Context, traceIDStr string, name string, opts ...trace.SpanStartOption) *SpanContext {
	if trace.SpanContextFromContext(ctx).IsValid() {
		return StartSpan(ctx, name, opts...)
	}

	traceID, ok := parseTraceID(traceIDStr)
	if !ok {
		return StartSpan(ctx, name, opts...)
	}

	remote := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	opts = append(opts, trace.WithLinks(trace.Link{SpanContext: remote}))
	return StartSpan(trace.ContextWithRemoteSpanContext(ctx, remote), name, opts...)
}

func parseTraceID(s string) (trace.TraceID, bool) {
	s = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", ""))
	if s == "" {
		return trace.TraceID{}, false
	}
	id, err := trace.TraceIDFromHex(s)
	if err != nil {
		return trace.TraceID{}, false
	}
	return id, true
}

func (sc *SpanContext) Context() context.Context {
	return sc.ctx
}

// End completes the span. Safe to call more than once.
func (sc *SpanContext) End() {
	if sc.span != nil {
		sc.span.End()
	}
}

// RecordError records err on the span and marks it failed.
func (sc *SpanContext) RecordError(err error) {
	if sc.span != nil && err != nil {
		sc.span.RecordError(err)
		sc.span.SetStatus(codes.Error, err.Error())
	}
}

func (sc *SpanContext) SetAttributes(attrs ...attribute.KeyValue) {
	if sc.span != nil {
		sc.span.SetAttributes(attrs...)
	}
}

// TraceID returns the hex trace id, or "" when the span carries none.
func (sc *SpanContext) TraceID() string {
	if sc.span == nil {
		return ""
	}
	if spanCtx := sc.span.SpanContext(); spanCtx.HasTraceID() {
		return spanCtx.TraceID().String()
	}
	return ""
}
