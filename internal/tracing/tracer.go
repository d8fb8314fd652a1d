package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Span is the scoped handle returned by Tracer.StartSpan.
type Span interface {
	SetAttributes(attrs ...attribute.KeyValue)
	RecordError(err error)
	End()
}

// Tracer starts spans. Components receive a Tracer at construction time
// instead of reaching for a process-wide tracer; tests pass NewNoop().
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, Span)
}

var (
	providerOnce sync.Once
	providerMu   sync.RWMutex
	provider     *sdktrace.TracerProvider
	providerErr  error
)

// InitOpenTelemetry initializes the process-wide OpenTelemetry tracer
// provider backing tracers returned by NewOTel. Safe to call multiple times.
func InitOpenTelemetry(serviceName string) error {
	providerOnce.Do(func() {
		res, err := resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(serviceName),
			),
		)
		if err != nil {
			providerErr = err
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(1))),
			sdktrace.WithResource(res),
		)

		providerMu.Lock()
		provider = tp
		providerMu.Unlock()

		otel.SetTracerProvider(tp)
	})

	return providerErr
}

// ShutdownOpenTelemetry flushes and shuts down the global tracer provider.
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.RLock()
	tp := provider
	providerMu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

type otelTracer struct {
	name string
}

// NewOTel returns a Tracer backed by the global OpenTelemetry provider.
func NewOTel(name string) Tracer {
	return otelTracer{name: name}
}

func (t otelTracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	tracer := otel.Tracer(t.name)
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		sc := span.SpanContext()
		if sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) SetAttributes(attrs ...attribute.KeyValue) {
	s.span.SetAttributes(attrs...)
}

func (s otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func (s otelSpan) End() {
	s.span.End()
}

type noopTracer struct{}

type noopSpan struct{}

// NewNoop returns a Tracer that records nothing.
func NewNoop() Tracer {
	return noopTracer{}
}

func (noopTracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx, noopSpan{}
}

func (noopSpan) SetAttributes(attrs ...attribute.KeyValue) {}

func (noopSpan) RecordError(err error) {}

func (noopSpan) End() {}
