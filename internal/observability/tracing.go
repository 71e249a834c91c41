// Package observability wires OpenTelemetry tracing. The agent emits one
// span per turn, reasoning step and tool execution; this package decides
// where they go.
package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/config"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultServiceName = "chat2purchase"
	instrumentation    = "github.com/Arize-ai/chat-to-purchase-router-agent"
	batchTimeout       = 5 * time.Second
)

// Provider owns the process tracer provider.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Setup installs a global tracer provider exporting over OTLP/gRPC. With
// tracing disabled it returns a Provider backed by the no-op global tracer.
func Setup(ctx context.Context, cfg config.TracingConfig, serviceVersion string, log *logging.Logger) (*Provider, error) {
	log = log.Sub("tracing")
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		log.Debug().Msg("tracing disabled")
		return &Provider{tracer: otel.Tracer(instrumentation)}, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	name := cfg.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", name),
		attribute.String("service.version", serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("building trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batchTimeout)),
		sdktrace.WithSampler(Sampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)

	log.Info().
		Str("endpoint", cfg.Endpoint).
		Float64("sampleRate", cfg.SampleRate).
		Bool("insecure", cfg.Insecure).
		Msg("tracing enabled")

	return &Provider{
		tp:     tp,
		tracer: tp.Tracer(instrumentation, trace.WithInstrumentationVersion(serviceVersion)),
	}, nil
}

// Tracer returns the tracer agent components should use.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Sampler maps a sample rate onto a parent-based sampler. Rates at or above
// one sample everything; at or below zero, nothing.
func Sampler(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case rate >= 1:
		root = sdktrace.AlwaysSample()
	case rate <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}
