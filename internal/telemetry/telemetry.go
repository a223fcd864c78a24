// Package telemetry installs the process-wide OpenTelemetry tracer provider
// and exposes the Prometheus metrics handler.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ErrUnknownExporter is returned for an unsupported trace exporter name.
var ErrUnknownExporter = errors.New("unknown trace exporter")

// Config controls tracing.
type Config struct {
	// ServiceName identifies this process in spans.
	ServiceName string

	// ServiceVersion is reported alongside ServiceName.
	ServiceVersion string

	// TraceExporter selects the exporter: "stdout" or "none".
	TraceExporter string

	// Writer receives stdout-exported spans. Default: os.Stderr, so spans
	// never mix with command output.
	Writer io.Writer

	// PrettyPrint indents exported spans.
	PrettyPrint bool
}

// DefaultConfig returns a Config with tracing disabled.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "evactor",
		ServiceVersion: "dev",
		TraceExporter:  "none",
	}
}

// Setup installs the global tracer provider described by cfg. The returned
// shutdown flushes pending spans and must be called on exit. With tracing
// disabled shutdown is a no-op and the global no-op provider stays in place.
func Setup(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	switch cfg.TraceExporter {
	case "", "none":
		return noop, nil
	case "stdout":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.TraceExporter)
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	opts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
	if cfg.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// MetricsHandler returns the HTTP handler serving the default Prometheus
// registry, where every runtime counter and histogram is registered.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
