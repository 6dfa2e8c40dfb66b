// Package tracing wires OpenTelemetry spans around RPC calls and carries
// W3C trace context across the wire on Request/Response envelopes.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config selects whether/how spans are exported.
type Config struct {
	Enabled     bool
	Endpoint    string // e.g. localhost:4318, for the OTLP/HTTP exporter
	ServiceName string
	SampleRate  float64 // 0.0–1.0; ignored (always-sample) when >= 1
}

// Provider wraps the process-wide TracerProvider used to start call spans.
type Provider struct {
	tp      *sdktrace.TracerProvider
	tracer  trace.Tracer
	enabled bool
}

var global = &Provider{enabled: false, tracer: trace.NewNoopTracerProvider().Tracer("")}

// Init installs the global tracing provider. Call once at process startup
// (parent or worker); Shutdown flushes and tears it down.
func Init(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		global = &Provider{enabled: false, tracer: trace.NewNoopTracerProvider().Tracer("")}
		return nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return fmt.Errorf("rpc: build trace resource: %w", err)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("rpc: create OTLP exporter: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate < 1.0 && cfg.SampleRate >= 0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	global = &Provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName), enabled: true}
	return nil
}

// Shutdown flushes any buffered spans. Safe to call even when Init was
// never called or tracing is disabled.
func Shutdown(ctx context.Context) error {
	if global.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return global.tp.Shutdown(ctx)
}

// Enabled reports whether spans are actually being exported.
func Enabled() bool { return global.enabled }

// StartCall opens a span around one RPC call. Callers must end the
// returned span when the call settles.
func StartCall(ctx context.Context, method string) (context.Context, trace.Span) {
	return global.tracer.Start(ctx, "rpc.call:"+method, trace.WithSpanKind(trace.SpanKindClient))
}

// StartDispatch opens a span on the worker side around one method
// dispatch, as the server-side counterpart of StartCall.
func StartDispatch(ctx context.Context, method string) (context.Context, trace.Span) {
	return global.tracer.Start(ctx, "rpc.dispatch:"+method, trace.WithSpanKind(trace.SpanKindServer))
}

// Extract reads the current context's trace state into wire-ready
// traceparent/tracestate strings, for stamping onto a Request/Response.
func Extract(ctx context.Context) (traceParent, traceState string) {
	if !global.enabled {
		return "", ""
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier.Get("traceparent"), carrier.Get("tracestate")
}

// Inject rehydrates a context's trace state from traceparent/tracestate
// fields that arrived on a Request/Response.
func Inject(ctx context.Context, traceParent, traceState string) context.Context {
	if traceParent == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{"traceparent": traceParent, "tracestate": traceState}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// TraceIDs reports the current span's trace and span IDs, for correlating
// log lines with the span that covers the call they belong to. Returns
// empty strings when ctx carries no valid span context.
func TraceIDs(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}
