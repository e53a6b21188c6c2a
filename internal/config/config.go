package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Filtering      FilteringConfig      `mapstructure:"filtering"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Redis          RedisConfig          `mapstructure:"redis"`
	WebSocket      WebSocketConfig      `mapstructure:"websocket"`
	Subscriptions  []SubscriptionConfig `mapstructure:"subscriptions"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type FilteringConfig struct {
	Engine          string `mapstructure:"engine"`           // "native" or "cel"
	PayloadEncoding string `mapstructure:"payload_encoding"` // "base64" or "raw"
}

type BrokerConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	GroupID      string        `mapstructure:"group_id"`
	DLQTopic     string        `mapstructure:"dlq_topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Retry        RetryConfig   `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c RedisConfig) Configured() bool {
	return c.Host != "" || c.Port > 0
}

// WebSocketConfig describes the reconnecting stream transport. URL is the
// service base (ws:// or wss://); each websocket source appends its path.
type WebSocketConfig struct {
	URL              string            `mapstructure:"url"`
	Headers          map[string]string `mapstructure:"headers"`
	HandshakeTimeout time.Duration     `mapstructure:"handshake_timeout"`
	Reconnect        RetryConfig       `mapstructure:"reconnect"`
}

type SubscriptionConfig struct {
	Name   string                 `mapstructure:"name"`
	Source SourceConfig           `mapstructure:"source"`
	Sink   SinkConfig             `mapstructure:"sink"`
	Filter map[string]interface{} `mapstructure:"filter"`
}

type SourceConfig struct {
	Type    string `mapstructure:"type" json:"type"`
	Topic   string `mapstructure:"topic" json:"topic,omitempty"`
	Channel string `mapstructure:"channel" json:"channel,omitempty"`
	Path    string `mapstructure:"path" json:"path,omitempty"`
	Stream  string `mapstructure:"stream" json:"stream,omitempty"`
	Extra   string `mapstructure:"extra" json:"extra,omitempty"`
}

// Target names what the source reads from, for logs and metric labels.
func (c SourceConfig) Target() string {
	switch {
	case c.Topic != "":
		return c.Topic
	case c.Channel != "":
		return c.Channel
	case c.Stream != "":
		return c.Stream + c.Extra
	default:
		return c.Path
	}
}

type SinkConfig struct {
	Type    string `mapstructure:"type" json:"type"`
	Topic   string `mapstructure:"topic" json:"topic,omitempty"`
	Channel string `mapstructure:"channel" json:"channel,omitempty"`
}

func (c SinkConfig) Target() string {
	if c.Topic != "" {
		return c.Topic
	}
	return c.Channel
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
