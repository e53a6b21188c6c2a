package broker

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"streamfilter/internal/config"
	"streamfilter/internal/constants"
	"streamfilter/internal/logger"
)

// Factory builds the sources and sinks named by subscription configs. Redis
// may be nil when no subscription uses it.
type Factory struct {
	cfg    *config.Config
	redis  *redis.Client
	logger logger.Logger
}

func NewFactory(cfg *config.Config, rdb *redis.Client, log logger.Logger) *Factory {
	return &Factory{cfg: cfg, redis: rdb, logger: log}
}

func (f *Factory) NewSource(src config.SourceConfig) (Source, error) {
	switch strings.ToLower(src.Type) {
	case constants.SourceTypeKafka:
		return NewKafkaSource(f.cfg.Broker.Kafka, src.Topic, f.logger), nil
	case constants.SourceTypeWebSocket:
		return NewWebSocketSource(f.cfg.WebSocket, src, f.logger)
	case constants.SourceTypeRedis:
		if f.redis == nil {
			return nil, fmt.Errorf("redis source %s: redis is not configured", src.Channel)
		}
		return NewRedisSource(f.redis, src.Channel, f.logger), nil
	default:
		return nil, fmt.Errorf("unknown source type: %s", src.Type)
	}
}

// NewSink returns the sink for cfg, wrapped in a circuit breaker when one is
// enabled. The log sink is never wrapped.
func (f *Factory) NewSink(name string, cfg config.SinkConfig) (Sink, error) {
	switch strings.ToLower(cfg.Type) {
	case constants.SinkTypeKafka:
		return NewCircuitBreakerSink(NewKafkaSink(f.cfg.Broker.Kafka, cfg.Topic, f.logger), f.cfg.CircuitBreaker), nil
	case constants.SinkTypeRedis:
		if f.redis == nil {
			return nil, fmt.Errorf("redis sink %s: redis is not configured", cfg.Channel)
		}
		return NewCircuitBreakerSink(NewRedisSink(f.redis, cfg.Channel), f.cfg.CircuitBreaker), nil
	case constants.SinkTypeLog:
		return NewLogSink(name, f.logger), nil
	default:
		return nil, fmt.Errorf("unknown sink type: %s", cfg.Type)
	}
}
