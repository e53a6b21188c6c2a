package broker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"streamfilter/internal/config"
	"streamfilter/internal/constants"
	"streamfilter/internal/logger"
	"streamfilter/pkg/errors"
	"streamfilter/pkg/logging"
	"streamfilter/pkg/metrics"
	"streamfilter/pkg/retry"
	"streamfilter/pkg/tracing"
)

type KafkaSink struct {
	writer *kafka.Writer
	topic  string
	logger logger.Logger
}

func NewKafkaSink(cfg config.KafkaConfig, topic string, log logger.Logger) *KafkaSink {
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = constants.KafkaWriteTimeout
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: writeTimeout,
		Async:        false,

		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{writer: w, topic: topic, logger: log}
}

func (s *KafkaSink) Kind() string { return constants.SinkTypeKafka }

func (s *KafkaSink) Target() string { return s.topic }

func (s *KafkaSink) Publish(ctx context.Context, msg Message) error {
	headers := tracing.InjectTraceContext(ctx, nil)

	start := time.Now()
	err := s.writer.WriteMessages(ctx,
		kafka.Message{
			Key:     msg.Key,
			Value:   msg.Value,
			Headers: headers,
			Time:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	metrics.IncBrokerMessagesWritten(s.Kind(), s.topic)
	metrics.ObserveBrokerMessageSize(s.Kind(), s.topic, "out", len(msg.Value))
	metrics.ObserveBrokerWriteDuration(s.Kind(), s.topic, time.Since(start))
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// KafkaSource reads one topic in a consumer group. A message is committed
// after the handler succeeds, after it is parked on the DLQ, or when it cannot
// be processed at all.
type KafkaSource struct {
	cfg    config.KafkaConfig
	topic  string
	wg     sync.WaitGroup
	mu     sync.Mutex
	reader *kafka.Reader
	closed bool
	logger logger.Logger
	dlq    Sink
	policy retry.Policy
}

func NewKafkaSource(cfg config.KafkaConfig, topic string, log logger.Logger) *KafkaSource {
	source := &KafkaSource{
		cfg:    cfg,
		topic:  topic,
		logger: log,
		policy: retry.FromConfig(cfg.Retry),
	}

	if cfg.DLQTopic != "" {
		source.dlq = NewKafkaSink(cfg, cfg.DLQTopic, log)
	}

	return source
}

func (c *KafkaSource) Kind() string { return constants.SourceTypeKafka }

func (c *KafkaSource) Target() string { return c.topic }

func (c *KafkaSource) Consume(ctx context.Context, handler HandlerFunc) error {
	c.logger.Infow("Creating Kafka reader",
		"topic", c.topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
	)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    c.topic,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	c.mu.Lock()
	c.reader = reader
	c.mu.Unlock()

	c.wg.Add(1)
	defer c.wg.Done()

	consumeCtx := logging.WithServiceName(ctx, constants.ServiceName)
	c.logger.InfowCtx(consumeCtx, "Started consuming", "topic", c.topic)

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.InfowCtx(consumeCtx, "Stopped consuming",
					"topic", c.topic,
					"reason", "context canceled",
				)
				return ctx.Err()
			}
			if c.isClosed() {
				return nil
			}
			c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message",
				"error", err,
				"topic", c.topic,
			)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		c.handle(ctx, reader, m, handler)
	}
}

func (c *KafkaSource) handle(ctx context.Context, reader *kafka.Reader, m kafka.Message, handler HandlerFunc) {
	msgCtx, span := tracing.StartSpanFromKafkaMessage(ctx, "kafka.consume", m.Headers)
	defer span.End()

	msgCtx = logging.WithMessageID(msgCtx, m.Topic+"/"+strconv.Itoa(m.Partition)+"/"+strconv.FormatInt(m.Offset, 10))

	metrics.IncBrokerMessagesRead(c.Kind(), c.topic)
	metrics.ObserveBrokerMessageSize(c.Kind(), c.topic, "in", len(m.Value))
	if lag := m.HighWaterMark - m.Offset - 1; lag >= 0 {
		metrics.SetKafkaConsumerLag(c.topic, m.Partition, lag)
	}

	msg := Message{Key: m.Key, Value: m.Value}
	if err := c.processWithRetry(msgCtx, msg, handler); err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to process message after retries",
			"error", err,
			"topic", c.topic,
		)
		if c.dlq != nil {
			if dlqErr := c.sendToDLQ(msgCtx, msg, err); dlqErr != nil {
				c.logger.ErrorwCtx(msgCtx, "Failed to send message to DLQ",
					"error", dlqErr,
					"topic", c.topic,
				)
			}
		} else {
			c.logger.WarnwCtx(msgCtx, "No DLQ configured, committing message to avoid blocking",
				"topic", c.topic,
			)
		}
	}

	if err := reader.CommitMessages(ctx, m); err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to commit message",
			"error", err,
			"topic", c.topic,
		)
	}
}

func (c *KafkaSource) processWithRetry(ctx context.Context, msg Message, handler HandlerFunc) error {
	return retry.RetryWithCallback(ctx, c.policy, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.RecoverPanic(r)
				c.logger.ErrorwCtx(ctx, "Panic recovered during message processing",
					"error", err,
					"topic", c.topic,
				)
			}
		}()
		return handler(ctx, msg)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(constants.ServiceName, c.topic).Inc()
		c.logger.WarnwCtx(ctx, "Retrying message processing",
			"attempt", attempt,
			"max_attempts", c.policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
			"topic", c.topic,
		)
	})
}

// sendToDLQ parks the original bytes unchanged; the envelope is never
// rewritten for the DLQ.
func (c *KafkaSource) sendToDLQ(ctx context.Context, msg Message, originalErr error) error {
	if err := c.dlq.Publish(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	metrics.DLQMessagesTotal.WithLabelValues(constants.ServiceName, c.topic, "max_retries_exceeded").Inc()
	c.logger.InfowCtx(ctx, "Message sent to DLQ",
		"source_topic", c.topic,
		"dlq_topic", c.cfg.DLQTopic,
		"reason", originalErr.Error(),
	)

	return nil
}

func (c *KafkaSource) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *KafkaSource) Close() error {
	var err error
	c.mu.Lock()
	c.closed = true
	if c.reader != nil {
		err = c.reader.Close()
	}
	c.mu.Unlock()
	if c.dlq != nil {
		if closeErr := c.dlq.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	c.wg.Wait()
	return err
}
