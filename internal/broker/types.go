package broker

import (
	"context"
)

// Message is one raw wire message. Value is the envelope exactly as received
// or as it is to be published.
type Message struct {
	Key   []byte
	Value []byte
}

// Source delivers raw messages to a handler until ctx is done. A handler
// error is retried by sources that support redelivery.
type Source interface {
	Consume(ctx context.Context, handler HandlerFunc) error
	Close() error
	Kind() string
	Target() string
}

type Sink interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
	Kind() string
	Target() string
}

type HandlerFunc func(ctx context.Context, msg Message) error
