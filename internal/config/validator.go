package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"streamfilter/internal/constants"
	"streamfilter/pkg/codec"
	"streamfilter/pkg/filter"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateStatic checks everything that can be checked without touching the
// network. Filter specifications are decoded but not compiled here.
func ValidateStatic(cfg *Config) error {
	var errs []error

	appendErr := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	appendErr(validateServer(cfg.Server))
	appendErr(validateLogging(cfg.Logging))
	appendErr(validateFiltering(cfg.Filtering))
	appendErr(validateCircuitBreaker(cfg.CircuitBreaker))
	appendErr(validateRateLimit(cfg.RateLimit))

	uses := map[string]bool{}
	seen := map[string]bool{}
	for i, sub := range cfg.Subscriptions {
		appendErr(validateSubscription(i, sub, seen))
		uses["source."+strings.ToLower(sub.Source.Type)] = true
		uses["sink."+strings.ToLower(sub.Sink.Type)] = true
	}

	if uses["source."+constants.SourceTypeKafka] || uses["sink."+constants.SinkTypeKafka] {
		appendErr(validateKafka(cfg.Broker.Kafka, uses["source."+constants.SourceTypeKafka]))
	}
	if uses["source."+constants.SourceTypeRedis] || uses["sink."+constants.SinkTypeRedis] || cfg.Redis.Configured() {
		appendErr(validateRedis(cfg.Redis))
	}
	if uses["source."+constants.SourceTypeWebSocket] {
		appendErr(validateWebSocket(cfg.WebSocket))
	}

	return errors.Join(errs...)
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeout <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeout <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateLogging(cfg LoggingConfig) error {
	switch strings.ToLower(cfg.Format) {
	case "", "json", "console":
		return nil
	default:
		return &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown log format: %s (supported: json, console)", cfg.Format),
		}
	}
}

func validateFiltering(cfg FilteringConfig) error {
	switch strings.ToLower(cfg.Engine) {
	case "", constants.EngineNative, constants.EngineCEL:
	default:
		return &ValidationError{
			Field:   "filtering.engine",
			Message: fmt.Sprintf("unknown engine: %s (supported: native, cel)", cfg.Engine),
		}
	}

	if _, err := codec.EncodingByName(cfg.PayloadEncoding); err != nil {
		return &ValidationError{
			Field:   "filtering.payload_encoding",
			Message: err.Error(),
		}
	}

	return nil
}

func validateSubscription(i int, sub SubscriptionConfig, seen map[string]bool) error {
	prefix := fmt.Sprintf("subscriptions[%d]", i)

	if strings.TrimSpace(sub.Name) == "" {
		return &ValidationError{Field: prefix + ".name", Message: "subscription name is required"}
	}
	if seen[sub.Name] {
		return &ValidationError{Field: prefix + ".name", Message: fmt.Sprintf("duplicate subscription name %q", sub.Name)}
	}
	seen[sub.Name] = true

	switch strings.ToLower(sub.Source.Type) {
	case constants.SourceTypeKafka:
		if sub.Source.Topic == "" {
			return &ValidationError{Field: prefix + ".source.topic", Message: "kafka source requires a topic"}
		}
	case constants.SourceTypeRedis:
		if sub.Source.Channel == "" {
			return &ValidationError{Field: prefix + ".source.channel", Message: "redis source requires a channel"}
		}
	case constants.SourceTypeWebSocket:
		if sub.Source.Path == "" && sub.Source.Stream == "" {
			return &ValidationError{Field: prefix + ".source.path", Message: "websocket source requires a path or a stream"}
		}
	default:
		return &ValidationError{
			Field:   prefix + ".source.type",
			Message: fmt.Sprintf("unknown source type: %s (supported: kafka, redis, websocket)", sub.Source.Type),
		}
	}

	switch strings.ToLower(sub.Sink.Type) {
	case constants.SinkTypeKafka:
		if sub.Sink.Topic == "" {
			return &ValidationError{Field: prefix + ".sink.topic", Message: "kafka sink requires a topic"}
		}
	case constants.SinkTypeRedis:
		if sub.Sink.Channel == "" {
			return &ValidationError{Field: prefix + ".sink.channel", Message: "redis sink requires a channel"}
		}
	case constants.SinkTypeLog:
	default:
		return &ValidationError{
			Field:   prefix + ".sink.type",
			Message: fmt.Sprintf("unknown sink type: %s (supported: kafka, redis, log)", sub.Sink.Type),
		}
	}

	if len(sub.Filter) > 0 {
		if _, err := filter.DecodeSpecification(sub.Filter); err != nil {
			return &ValidationError{Field: prefix + ".filter", Message: err.Error()}
		}
	}

	return nil
}

func validateKafka(cfg KafkaConfig, consuming bool) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if consuming && cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	return validateRetry("broker.kafka.retry", cfg.Retry)
}

func validateRetry(field string, cfg RetryConfig) error {
	if cfg.MaxAttempts < 0 {
		return &ValidationError{
			Field:   field + ".max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.InitialInterval < 0 {
		return &ValidationError{
			Field:   field + ".initial_interval",
			Message: "initial_interval must be non-negative",
		}
	}

	if cfg.MaxInterval < 0 {
		return &ValidationError{
			Field:   field + ".max_interval",
			Message: "max_interval must be non-negative",
		}
	}

	if cfg.MaxInterval > 0 && cfg.InitialInterval > 0 && cfg.MaxInterval < cfg.InitialInterval {
		return &ValidationError{
			Field:   field + ".max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Multiplier <= 0 {
		return &ValidationError{
			Field:   field + ".multiplier",
			Message: "multiplier must be positive",
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateWebSocket(cfg WebSocketConfig) error {
	if cfg.URL == "" {
		return &ValidationError{
			Field:   "websocket.url",
			Message: "websocket URL is required",
		}
	}

	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return &ValidationError{
			Field:   "websocket.url",
			Message: "websocket URL must start with ws:// or wss://",
		}
	}

	if cfg.HandshakeTimeout < 0 {
		return &ValidationError{
			Field:   "websocket.handshake_timeout",
			Message: "handshake timeout must be non-negative",
		}
	}

	return validateRetry("websocket.reconnect", cfg.Reconnect)
}

func validateCircuitBreaker(cfg CircuitBreakerConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.FailureRatio <= 0 || cfg.FailureRatio > 1 {
		return &ValidationError{
			Field:   "circuit_breaker.failure_ratio",
			Message: "failure ratio must be in (0, 1]",
		}
	}

	if cfg.Timeout <= 0 {
		return &ValidationError{
			Field:   "circuit_breaker.timeout",
			Message: "timeout must be positive",
		}
	}

	return nil
}

func validateRateLimit(cfg RateLimitConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.RPS <= 0 {
		return &ValidationError{
			Field:   "rate_limit.rps",
			Message: "rps must be positive",
		}
	}

	if cfg.Burst < 1 {
		return &ValidationError{
			Field:   "rate_limit.burst",
			Message: "burst must be at least 1",
		}
	}

	return nil
}
