package broker

import (
	"context"

	"streamfilter/internal/constants"
	"streamfilter/internal/logger"
	"streamfilter/pkg/metrics"
)

// LogSink writes delivered messages to the service log. Useful for dry runs
// of a filter against live traffic.
type LogSink struct {
	name   string
	logger logger.Logger
}

func NewLogSink(name string, log logger.Logger) *LogSink {
	return &LogSink{name: name, logger: log}
}

func (s *LogSink) Kind() string { return constants.SinkTypeLog }

func (s *LogSink) Target() string { return s.name }

func (s *LogSink) Publish(ctx context.Context, msg Message) error {
	s.logger.InfowCtx(ctx, "Delivered message",
		"sink", s.name,
		"key", string(msg.Key),
		"message", string(msg.Value),
	)
	metrics.IncBrokerMessagesWritten(s.Kind(), s.name)
	metrics.ObserveBrokerMessageSize(s.Kind(), s.name, "out", len(msg.Value))
	return nil
}

func (s *LogSink) Close() error { return nil }
