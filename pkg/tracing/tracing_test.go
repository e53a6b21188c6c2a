package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"streamfilter/internal/config"
)

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(config.TracingConfig{Enabled: false}, config.FilteringConfig{Engine: "cel"})
	require.NoError(t, err)
	assert.NotNil(t, tp.Tracer("x"))
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestResourceAttributes(t *testing.T) {
	attrs := ResourceAttributes("edge-filter", config.FilteringConfig{Engine: "cel", PayloadEncoding: "raw"})
	set := attribute.NewSet(attrs...)

	engine, ok := set.Value(EngineKey)
	require.True(t, ok)
	assert.Equal(t, "cel", engine.AsString())

	encoding, ok := set.Value(PayloadEncodingKey)
	require.True(t, ok)
	assert.Equal(t, "raw", encoding.AsString())

	service, ok := set.Value(attribute.Key("service.name"))
	require.True(t, ok)
	assert.Equal(t, "edge-filter", service.AsString())
}

func TestResourceAttributes_Defaults(t *testing.T) {
	set := attribute.NewSet(ResourceAttributes("", config.FilteringConfig{})...)

	service, _ := set.Value(attribute.Key("service.name"))
	engine, _ := set.Value(EngineKey)
	encoding, _ := set.Value(PayloadEncodingKey)
	assert.Equal(t, "stream-filter", service.AsString())
	assert.Equal(t, "native", engine.AsString())
	assert.Equal(t, "base64", encoding.AsString())
}

func TestNewSampler(t *testing.T) {
	traceID := trace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	root := sdktrace.SamplingParameters{ParentContext: context.Background(), TraceID: traceID, Name: "filtering.decide"}

	sampledParent := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}))
	child := sdktrace.SamplingParameters{ParentContext: sampledParent, TraceID: traceID, Name: "filtering.decide"}

	tests := []struct {
		name      string
		cfg       config.SamplerConfig
		wantRoot  sdktrace.SamplingDecision
		wantChild sdktrace.SamplingDecision
	}{
		{"default samples", config.SamplerConfig{}, sdktrace.RecordAndSample, sdktrace.RecordAndSample},
		{"never drops roots but follows a sampled producer", config.SamplerConfig{Type: "never"}, sdktrace.Drop, sdktrace.RecordAndSample},
		{"zero ratio drops roots", config.SamplerConfig{Type: "ratio", Param: 0}, sdktrace.Drop, sdktrace.RecordAndSample},
		{"full ratio samples roots", config.SamplerConfig{Type: "ratio", Param: 1}, sdktrace.RecordAndSample, sdktrace.RecordAndSample},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sampler := NewSampler(tt.cfg)
			assert.Equal(t, tt.wantRoot, sampler.ShouldSample(root).Decision)
			assert.Equal(t, tt.wantChild, sampler.ShouldSample(child).Decision)
		})
	}
}
