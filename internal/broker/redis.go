package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"streamfilter/internal/constants"
	"streamfilter/internal/logger"
	"streamfilter/pkg/errors"
	"streamfilter/pkg/metrics"
)

// RedisSource reads a pub/sub channel. Pub/sub has no redelivery, so a
// handler error is logged and the message is dropped.
type RedisSource struct {
	client  *redis.Client
	channel string
	logger  logger.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	closed bool
}

func NewRedisSource(client *redis.Client, channel string, log logger.Logger) *RedisSource {
	return &RedisSource{client: client, channel: channel, logger: log}
}

func (s *RedisSource) Kind() string { return constants.SourceTypeRedis }

func (s *RedisSource) Target() string { return s.channel }

func (s *RedisSource) Consume(ctx context.Context, handler HandlerFunc) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to redis channel %s: %w", s.channel, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		pubsub.Close()
		return nil
	}
	s.pubsub = pubsub
	s.mu.Unlock()

	s.logger.InfowCtx(ctx, "Started consuming", "channel", s.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			data := []byte(m.Payload)
			metrics.IncBrokerMessagesRead(s.Kind(), s.channel)
			metrics.ObserveBrokerMessageSize(s.Kind(), s.channel, "in", len(data))
			s.dispatch(ctx, Message{Value: data}, handler)
		}
	}
}

func (s *RedisSource) dispatch(ctx context.Context, msg Message, handler HandlerFunc) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorwCtx(ctx, "Panic recovered during message processing",
				"error", errors.RecoverPanic(r),
				"channel", s.channel,
			)
		}
	}()

	if err := handler(ctx, msg); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to process redis message",
			"error", err,
			"channel", s.channel,
		)
	}
}

func (s *RedisSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.pubsub != nil {
		return s.pubsub.Close()
	}
	return nil
}

type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Kind() string { return constants.SinkTypeRedis }

func (s *RedisSink) Target() string { return s.channel }

func (s *RedisSink) Publish(ctx context.Context, msg Message) error {
	start := time.Now()
	if err := s.client.Publish(ctx, s.channel, msg.Value).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis channel %s: %w", s.channel, err)
	}

	metrics.IncBrokerMessagesWritten(s.Kind(), s.channel)
	metrics.ObserveBrokerMessageSize(s.Kind(), s.channel, "out", len(msg.Value))
	metrics.ObserveBrokerWriteDuration(s.Kind(), s.channel, time.Since(start))
	return nil
}

// Close is a no-op; the client is shared and owned by the caller.
func (s *RedisSink) Close() error { return nil }
