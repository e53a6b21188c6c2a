package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamfilter/internal/config"
	"streamfilter/pkg/metrics"
)

func TestWrapper_TripsOnFailureRatio(t *testing.T) {
	w := NewWrapper(FromConfig("sink-trip", config.CircuitBreakerConfig{
		MinRequests:  2,
		FailureRatio: 0.5,
		Timeout:      time.Minute,
	}))
	require.True(t, w.IsClosed())

	boom := errors.New("broker down")
	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, w.Run(context.Background(), func() error { return boom }), boom)
	}

	assert.True(t, w.IsOpen())
	err := w.Run(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("sink-trip")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.CircuitBreakerFailures.WithLabelValues("sink-trip")))
}

func TestWrapper_CanceledContextDoesNotCount(t *testing.T) {
	w := NewWrapper(DefaultConfig("sink-ctx"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := w.Run(ctx, func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assert.Equal(t, uint32(0), w.Counts().Requests)
}

func TestFromConfig_Defaults(t *testing.T) {
	cfg := FromConfig("x", config.CircuitBreakerConfig{})
	def := DefaultConfig("x")
	assert.Equal(t, def.MaxRequests, cfg.MaxRequests)
	assert.Equal(t, def.Timeout, cfg.Timeout)
	assert.False(t, cfg.ReadyToTrip(gobreaker.Counts{Requests: 2, TotalFailures: 2}))
	assert.True(t, cfg.ReadyToTrip(gobreaker.Counts{Requests: 4, TotalFailures: 2}))
}
