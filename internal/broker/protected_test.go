package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"streamfilter/internal/config"
	"streamfilter/internal/logger"
	"streamfilter/pkg/retry"
)

type recordingSink struct {
	mu       sync.Mutex
	err      error
	messages []Message
}

func (s *recordingSink) Publish(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *recordingSink) Close() error   { return nil }
func (s *recordingSink) Kind() string   { return "recording" }
func (s *recordingSink) Target() string { return "out" }

func TestNewCircuitBreakerSink_DisabledReturnsSink(t *testing.T) {
	inner := &recordingSink{}
	assert.Same(t, inner, NewCircuitBreakerSink(inner, config.CircuitBreakerConfig{}))
}

func TestCircuitBreakerSink_OpensAfterFailures(t *testing.T) {
	inner := &recordingSink{err: errors.New("broker down")}
	sink := NewCircuitBreakerSink(inner, config.CircuitBreakerConfig{
		Enabled:      true,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  2,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := sink.Publish(ctx, Message{Value: []byte("x")})
		require.Error(t, err)
		var fatal retry.FatalError
		assert.False(t, errors.As(err, &fatal), "closed breaker errors stay retryable")
	}

	err := sink.Publish(ctx, Message{Value: []byte("x")})
	require.Error(t, err)
	var fatal retry.FatalError
	assert.True(t, errors.As(err, &fatal))
	assert.Contains(t, err.Error(), "circuit breaker is open")
	assert.Equal(t, "open", sink.(*CircuitBreakerSink).State())
}

func TestCircuitBreakerSink_Publishes(t *testing.T) {
	inner := &recordingSink{}
	sink := NewCircuitBreakerSink(inner, config.CircuitBreakerConfig{Enabled: true})

	require.NoError(t, sink.Publish(context.Background(), Message{Value: []byte("hello")}))
	require.Len(t, inner.messages, 1)
	assert.Equal(t, "hello", string(inner.messages[0].Value))
	assert.Equal(t, "recording", sink.Kind())
	assert.Equal(t, "out", sink.Target())
}

func TestLogSink_Publish(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink("adults", logger.FromZap(zap.New(core)))

	require.NoError(t, sink.Publish(context.Background(), Message{Key: []byte("k"), Value: []byte(`{"payload":"e30="}`)}))

	entries := logs.FilterMessage("Delivered message").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "adults", fields["sink"])
	assert.Equal(t, `{"payload":"e30="}`, fields["message"])
}

func TestFactory(t *testing.T) {
	cfg := &config.Config{
		Broker:         config.BrokerConfig{Kafka: config.KafkaConfig{Brokers: []string{"localhost:9092"}, GroupID: "g"}},
		WebSocket:      config.WebSocketConfig{URL: "ws://localhost:8080"},
		CircuitBreaker: config.CircuitBreakerConfig{Enabled: true},
	}
	f := NewFactory(cfg, nil, logger.NopLogger())

	sources := []struct {
		src      config.SourceConfig
		wantKind string
		wantErr  bool
	}{
		{src: config.SourceConfig{Type: "kafka", Topic: "in"}, wantKind: "kafka"},
		{src: config.SourceConfig{Type: "websocket", Stream: "users"}, wantKind: "websocket"},
		{src: config.SourceConfig{Type: "redis", Channel: "in"}, wantErr: true},
		{src: config.SourceConfig{Type: "nats"}, wantErr: true},
	}
	for _, tt := range sources {
		s, err := f.NewSource(tt.src)
		if tt.wantErr {
			assert.Error(t, err, tt.src.Type)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.wantKind, s.Kind())
	}

	kafkaSink, err := f.NewSink("s", config.SinkConfig{Type: "kafka", Topic: "out"})
	require.NoError(t, err)
	assert.IsType(t, &CircuitBreakerSink{}, kafkaSink)
	assert.Equal(t, "out", kafkaSink.Target())

	logSink, err := f.NewSink("s", config.SinkConfig{Type: "log"})
	require.NoError(t, err)
	assert.IsType(t, &LogSink{}, logSink)

	_, err = f.NewSink("s", config.SinkConfig{Type: "redis", Channel: "out"})
	assert.Error(t, err)
}

type flakySink struct {
	recordingSink
	failures int
	calls    int
}

func (s *flakySink) Publish(ctx context.Context, msg Message) error {
	s.calls++
	if s.calls <= s.failures {
		return errors.New("transient")
	}
	return s.recordingSink.Publish(ctx, msg)
}

func TestRetryingSink(t *testing.T) {
	policy := retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1}

	tests := []struct {
		name      string
		failures  int
		wantErr   bool
		wantCalls int
	}{
		{name: "first try", failures: 0, wantCalls: 1},
		{name: "recovers", failures: 2, wantCalls: 3},
		{name: "exhausted", failures: 5, wantErr: true, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &flakySink{failures: tt.failures}
			sink := NewRetryingSink(inner, policy, logger.NopLogger())

			err := sink.Publish(context.Background(), Message{Value: []byte("x")})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, inner.calls)
		})
	}
}
