package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"streamfilter/internal/config"
	"streamfilter/internal/constants"
	"streamfilter/internal/logger"
	"streamfilter/pkg/circuitbreaker"
	"streamfilter/pkg/metrics"
	"streamfilter/pkg/retry"
)

// CircuitBreakerSink guards a sink with a circuit breaker. While the breaker
// is open publishes fail fast and are not retried.
type CircuitBreakerSink struct {
	sink Sink
	cb   *circuitbreaker.Wrapper
}

func NewCircuitBreakerSink(sink Sink, cfg config.CircuitBreakerConfig) Sink {
	if !cfg.Enabled {
		return sink
	}
	name := fmt.Sprintf("%s-sink-%s", sink.Kind(), sink.Target())
	return &CircuitBreakerSink{
		sink: sink,
		cb:   circuitbreaker.NewWrapper(circuitbreaker.FromConfig(name, cfg)),
	}
}

func (s *CircuitBreakerSink) Kind() string { return s.sink.Kind() }

func (s *CircuitBreakerSink) Target() string { return s.sink.Target() }

func (s *CircuitBreakerSink) Publish(ctx context.Context, msg Message) error {
	err := s.cb.Run(ctx, func() error {
		return s.sink.Publish(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return retry.NewFatalError(fmt.Errorf("circuit breaker is open for %s sink %s: %w", s.Kind(), s.Target(), err))
	}
	return err
}

func (s *CircuitBreakerSink) State() string {
	return s.cb.State().String()
}

func (s *CircuitBreakerSink) Close() error {
	return s.sink.Close()
}

// RetryingSink retries failed publishes with backoff. Sources without
// redelivery use it so a transient sink failure does not drop a message.
type RetryingSink struct {
	sink   Sink
	policy retry.Policy
	logger logger.Logger
}

func NewRetryingSink(sink Sink, policy retry.Policy, log logger.Logger) *RetryingSink {
	return &RetryingSink{sink: sink, policy: policy, logger: log}
}

func (s *RetryingSink) Kind() string { return s.sink.Kind() }

func (s *RetryingSink) Target() string { return s.sink.Target() }

func (s *RetryingSink) Publish(ctx context.Context, msg Message) error {
	return retry.RetryWithCallback(ctx, s.policy, func() error {
		return s.sink.Publish(ctx, msg)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(constants.ServiceName, s.Target()).Inc()
		s.logger.WarnwCtx(ctx, "Retrying publish",
			"sink", s.Kind(),
			"target", s.Target(),
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", err,
		)
	})
}

func (s *RetryingSink) Close() error {
	return s.sink.Close()
}
