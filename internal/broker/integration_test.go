//go:build integration

package broker

import (
	"context"
	"os"
	"testing"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"
	redismodule "github.com/testcontainers/testcontainers-go/modules/redis"

	"streamfilter/internal/config"
	"streamfilter/internal/logger"
)

func disableRyuk() {
	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	}
}

func setupRedis(t *testing.T) *redisclient.Client {
	t.Helper()
	disableRyuk()
	ctx := context.Background()

	container, err := redismodule.Run(ctx, "redis:8.4.0-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		container.Terminate(context.Background())
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis uri: %v", err)
	}
	opt, err := redisclient.ParseURL(uri)
	if err != nil {
		t.Fatalf("failed to parse redis URL: %v", err)
	}

	client := redisclient.NewClient(opt)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedis_PublishSubscribe(t *testing.T) {
	client := setupRedis(t)
	log := logger.NopLogger()

	source := NewRedisSource(client, "users", log)
	sink := NewRedisSink(client, "users")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	received := make(chan string, 1)
	go source.Consume(ctx, func(_ context.Context, msg Message) error {
		received <- string(msg.Value)
		return nil
	})

	// Publishing before the subscription is live drops the message.
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, "users").Result()
		return err == nil && n["users"] > 0
	}, 10*time.Second, 50*time.Millisecond)

	require.NoError(t, sink.Publish(ctx, Message{Value: []byte(`{"payload":"e30="}`)}))

	select {
	case got := <-received:
		assert.Equal(t, `{"payload":"e30="}`, got)
	case <-ctx.Done():
		t.Fatal("timed out waiting for redis message")
	}
	require.NoError(t, source.Close())
}

func TestKafka_PublishConsume(t *testing.T) {
	disableRyuk()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0",
		kafkamodule.WithClusterID("stream-filter"),
	)
	if err != nil {
		t.Fatalf("failed to start kafka container: %v", err)
	}
	t.Cleanup(func() {
		container.Terminate(context.Background())
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	cfg := config.KafkaConfig{
		Brokers: brokers,
		GroupID: "stream-filter-test",
		Retry:   config.RetryConfig{MaxAttempts: 1},
	}
	log := logger.NopLogger()

	sink := NewKafkaSink(cfg, "users", log)
	defer sink.Close()
	require.Eventually(t, func() bool {
		return sink.Publish(ctx, Message{Key: []byte("k"), Value: []byte(`{"payload":"e30="}`)}) == nil
	}, time.Minute, time.Second)

	source := NewKafkaSource(cfg, "users", log)
	received := make(chan Message, 1)
	go source.Consume(ctx, func(_ context.Context, msg Message) error {
		received <- msg
		return nil
	})

	select {
	case msg := <-received:
		assert.Equal(t, "k", string(msg.Key))
		assert.Equal(t, `{"payload":"e30="}`, string(msg.Value))
	case <-ctx.Done():
		t.Fatal("timed out waiting for kafka message")
	}
	require.NoError(t, source.Close())
}
