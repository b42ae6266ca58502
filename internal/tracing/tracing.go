// Package tracing provides OpenTelemetry tracing for connpool processes.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/actual-software/connpool/internal/constants"
	"github.com/actual-software/connpool/pkg/common/config"
)

const instrumentationName = "github.com/actual-software/connpool"

// Exporter types.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

// Tracer wraps an OpenTelemetry tracer provider and its configuration.
type Tracer struct {
	provider trace.TracerProvider
	tracer   trace.Tracer
	config   config.TracingConfig
	logger   *zap.Logger

	shutdownFn func(context.Context) error
}

// Init initializes tracing and installs the provider globally. When tracing is
// disabled the returned Tracer hands out no-op spans.
func Init(cfg config.TracingConfig, logger *zap.Logger) (*Tracer, error) {
	if !cfg.Enabled {
		logger.Info("OpenTelemetry tracing disabled")

		provider := noop.NewTracerProvider()

		return &Tracer{
			provider:   provider,
			tracer:     provider.Tracer(instrumentationName),
			config:     cfg,
			logger:     logger,
			shutdownFn: func(context.Context) error { return nil },
		}, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(createSampler(cfg)),
	}

	if cfg.ExporterType != ExporterNone {
		exporter, err := createExporter(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create exporter: %w", err)
		}

		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("OpenTelemetry tracing initialized",
		zap.String("service", cfg.ServiceName),
		zap.String("version", cfg.ServiceVersion),
		zap.String("environment", cfg.Environment),
		zap.String("exporter", cfg.ExporterType),
		zap.String("sampler", cfg.SamplerType),
	)

	return &Tracer{
		provider:   tp,
		tracer:     tp.Tracer(instrumentationName),
		config:     cfg,
		logger:     logger,
		shutdownFn: tp.Shutdown,
	}, nil
}

func createExporter(cfg config.TracingConfig, logger *zap.Logger) (sdktrace.SpanExporter, error) {
	switch cfg.ExporterType {
	case ExporterOTLP, "":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}

		return otlptracegrpc.New(context.Background(), opts...)

	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())

	default:
		logger.Warn("Unknown exporter type, falling back to stdout", zap.String("type", cfg.ExporterType))

		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
}

func createSampler(cfg config.TracingConfig) sdktrace.Sampler {
	switch cfg.SamplerType {
	case "always_off":
		return sdktrace.NeverSample()
	case "traceidratio":
		return sdktrace.TraceIDRatioBased(cfg.SamplerParam)
	default:
		return sdktrace.AlwaysSample()
	}
}

// Provider returns the tracer provider, for handing to pools via pool.WithTracer.
func (t *Tracer) Provider() trace.TracerProvider {
	return t.provider
}

// StartSpan starts a new span.
func (t *Tracer) StartSpan(ctx context.Context, name string,
	opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// RecordError records err on the span in ctx and marks it failed.
func (t *Tracer) RecordError(ctx context.Context, err error, opts ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	if err == nil || !span.IsRecording() {
		return
	}

	span.RecordError(err, opts...)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanAttributes sets attributes on the span in ctx.
func (t *Tracer) SetSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.SetAttributes(attrs...)
}

// TraceID returns the trace ID of the span in ctx, or "" if there is none.
func (t *Tracer) TraceID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return ""
	}

	return spanCtx.TraceID().String()
}

// IsEnabled returns whether tracing is enabled.
func (t *Tracer) IsEnabled() bool {
	return t.config.Enabled
}

// Shutdown flushes and stops the tracer provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
	defer cancel()

	t.logger.Info("Shutting down OpenTelemetry tracer")

	return t.shutdownFn(shutdownCtx)
}

// DefaultConfig returns the default tracing configuration.
func DefaultConfig() config.TracingConfig {
	return config.TracingConfig{
		Enabled:        false,
		ServiceName:    "connpool",
		ServiceVersion: "dev",
		Environment:    "development",
		SamplerType:    "always_on",
		SamplerParam:   1.0,
		ExporterType:   ExporterStdout,
		OTLPEndpoint:   "localhost:4317",
		OTLPInsecure:   true,
	}
}
