package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"streamfilter/internal/config"
)

// Resource attribute keys describing how this instance filters messages, so
// traces from native and CEL deployments can be told apart.
const (
	EngineKey          = attribute.Key("streamfilter.engine")
	PayloadEncodingKey = attribute.Key("streamfilter.payload_encoding")
)

type TracerProvider struct {
	tp *sdktrace.TracerProvider
}

func (tp *TracerProvider) Tracer(name string) trace.Tracer {
	return tp.tp.Tracer(name)
}

func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	return tp.tp.Shutdown(ctx)
}

// Init installs the global tracer provider. With tracing disabled the
// provider has no exporter and spans are dropped.
func Init(cfg config.TracingConfig, filtering config.FilteringConfig) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{tp: sdktrace.NewTracerProvider()}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(ResourceAttributes(cfg.ServiceName, filtering)...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLP.Endpoint)}
	if cfg.OTLP.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(NewSampler(cfg.Sampler)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{tp: tp}, nil
}

// ResourceAttributes names the service and records the filtering engine and
// payload encoding it runs with. Empty settings fall back to the defaults the
// pipeline itself uses.
func ResourceAttributes(serviceName string, filtering config.FilteringConfig) []attribute.KeyValue {
	if serviceName == "" {
		serviceName = "stream-filter"
	}
	engine := filtering.Engine
	if engine == "" {
		engine = "native"
	}
	encoding := filtering.PayloadEncoding
	if encoding == "" {
		encoding = "base64"
	}
	return []attribute.KeyValue{
		semconv.ServiceNameKey.String(serviceName),
		EngineKey.String(engine),
		PayloadEncodingKey.String(encoding),
	}
}

// NewSampler follows the producer's sampling decision when a message carries
// trace context and applies cfg to root spans. Unknown types sample
// everything.
func NewSampler(cfg config.SamplerConfig) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch cfg.Type {
	case "never":
		root = sdktrace.NeverSample()
	case "ratio":
		root = sdktrace.TraceIDRatioBased(cfg.Param)
	default:
		root = sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(root)
}

func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
