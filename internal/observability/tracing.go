package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TraceManager starts spans for turn processing.
type TraceManager struct {
	tracer trace.Tracer
}

// NewTraceManager returns a manager using the global tracer provider.
func NewTraceManager(serviceName string) *TraceManager {
	return &TraceManager{
		tracer: otel.Tracer(serviceName),
	}
}

// NewTraceManagerWithProvider returns a manager bound to tp.
func NewTraceManagerWithProvider(tp trace.TracerProvider, serviceName string) *TraceManager {
	return &TraceManager{tracer: tp.Tracer(serviceName)}
}

// StartSpan starts a span named operationName.
func (tm *TraceManager) StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, operationName, trace.WithAttributes(attrs...))
}

// StartTurnSpan starts the root span of a turn.
func (tm *TraceManager) StartTurnSpan(ctx context.Context, sessionKey, responderID string) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, "turn", trace.WithAttributes(
		attribute.String("myaa.session_key", sessionKey),
		attribute.String("myaa.responder_id", responderID),
	))
}

// StartStageSpan starts a child span for one pipeline stage.
func (tm *TraceManager) StartStageSpan(ctx context.Context, stage, stateID string) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, "turn."+stage, trace.WithAttributes(
		attribute.String("myaa.stage", stage),
		attribute.String("myaa.state_id", stateID),
	))
}

// RecordError marks span as failed.
func (tm *TraceManager) RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks span as OK.
func (tm *TraceManager) SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// TracingConfig configures span export.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint is a host:port for an OTLP/gRPC collector. Empty disables
	// export and leaves the global no-op provider in place.
	OTLPEndpoint string
}

// SetupTracing installs a global tracer provider exporting over OTLP/gRPC.
// The returned function flushes and stops the exporter.
func SetupTracing(ctx context.Context, cfg TracingConfig, logger *slog.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	noop := func(context.Context) error { return nil }
	if cfg.OTLPEndpoint == "" {
		logger.Info("Tracing export disabled")
		return noop, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return noop, fmt.Errorf("create trace resource: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return noop, fmt.Errorf("create OTLP trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("Tracing export enabled", "endpoint", cfg.OTLPEndpoint)
	return tp.Shutdown, nil
}
