// Package observability wires OpenTelemetry tracing for the gateway.
package observability

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingConfig selects the trace exporter.
type TracingConfig struct {
	// Enabled turns span export on. When false Tracer() returns a noop
	// tracer and invocations still get generated trace IDs.
	Enabled bool
	// PrettyPrint renders exported spans as indented JSON.
	PrettyPrint bool
}

// Tracing owns the tracer provider lifecycle.
type Tracing struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// Setup builds a tracer provider writing spans to w. With tracing disabled
// it returns a noop setup whose Shutdown is a no-op.
func Setup(cfg TracingConfig, w io.Writer) (*Tracing, error) {
	if !cfg.Enabled {
		return &Tracing{tracer: noop.NewTracerProvider().Tracer("toolgate")}, nil
	}

	var opts []stdouttrace.Option
	opts = append(opts, stdouttrace.WithWriter(w))
	if cfg.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}

	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)

	return &Tracing{
		provider: provider,
		tracer:   provider.Tracer("toolgate"),
	}, nil
}

// Tracer returns the tracer for pipeline spans.
func (t *Tracing) Tracer() trace.Tracer {
	return t.tracer
}

// Shutdown flushes pending spans.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
