// Package tracing configures OpenTelemetry for the webhook and offers span
// helpers. With tracing disabled the global no-op provider stays in place,
// so StartSpan is always safe to call.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "sms-inbound"

// Exporter names.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Config controls span export.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	Exporter       string
	OTLPEndpoint   string
	SampleRate     float64
}

// DefaultConfig returns tracing disabled with stdout export when enabled.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "sms-inbound",
		ServiceVersion: "dev",
		Environment:    "development",
		Exporter:       ExporterStdout,
		OTLPEndpoint:   "http://localhost:4318/v1/traces",
		SampleRate:     1.0,
	}
}

// Validate checks an enabled config. Disabled configs always pass.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ServiceName == "" {
		return errors.New("tracing.service_name is required")
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1, got %v", c.SampleRate)
	}
	switch c.Exporter {
	case ExporterStdout:
	case ExporterOTLP:
		if c.OTLPEndpoint == "" {
			return errors.New("tracing.otlp_endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("tracing.exporter must be %q or %q, got %q", ExporterStdout, ExporterOTLP, c.Exporter)
	}
	return nil
}

// Manager owns the tracer provider lifecycle.
type Manager struct {
	config   Config
	logger   *slog.Logger
	provider *sdktrace.TracerProvider
}

func NewManager(config Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{config: config, logger: logger}
}

// Enabled reports whether Initialize installed a provider.
func (m *Manager) Enabled() bool {
	return m.provider != nil
}

// Initialize installs the global tracer provider and propagator.
func (m *Manager) Initialize(ctx context.Context) error {
	if !m.config.Enabled {
		m.logger.Debug("tracing disabled")
		return nil
	}
	if err := m.config.Validate(); err != nil {
		return err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(m.config.ServiceName),
			semconv.ServiceVersionKey.String(m.config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(m.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch m.config.Exporter {
	case ExporterOTLP:
		exporter, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(m.config.OTLPEndpoint))
		if err != nil {
			return fmt.Errorf("create otlp exporter: %w", err)
		}
	default:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("create stdout exporter: %w", err)
		}
	}

	m.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(m.config.SampleRate))),
	)
	otel.SetTracerProvider(m.provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	m.logger.Info("tracing initialized",
		"exporter", m.config.Exporter,
		"service", m.config.ServiceName,
		"sample_rate", m.config.SampleRate,
	)
	return nil
}

// Shutdown flushes pending spans.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.provider.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}

// StartSpan starts a span on the global provider.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// RecordError marks the span in ctx as failed.
func RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	span := oteltrace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err, oteltrace.WithAttributes(attrs...))
		span.SetStatus(codes.Error, err.Error())
	}
}

// TraceID returns the trace id in ctx, or "" when there is none.
func TraceID(ctx context.Context) string {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
