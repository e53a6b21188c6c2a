package constants

import "time"

const (
	ServiceName = "stream-filter"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout      = 10 * time.Second
	DefaultHandshakeTimeout = 4 * time.Second
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	EngineNative = "native"
	EngineCEL    = "cel"
)

const (
	SourceTypeKafka     = "kafka"
	SourceTypeWebSocket = "websocket"
	SourceTypeRedis     = "redis"
)

const (
	SinkTypeKafka = "kafka"
	SinkTypeRedis = "redis"
	SinkTypeLog   = "log"
)

// StreamPathPrefix is where the stream service exposes persistent streams
// over websocket.
const StreamPathPrefix = "/streams/persistent/stream/"

const (
	MaxRequestBodyBytes = 1 << 20
)
