package broker

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"streamfilter/internal/config"
	"streamfilter/internal/constants"
	"streamfilter/internal/logger"
	"streamfilter/pkg/errors"
	"streamfilter/pkg/metrics"
	"streamfilter/pkg/retry"
)

// StreamPath returns the websocket path of a persistent stream. extra is
// appended verbatim and may carry a subscription suffix or a query string.
func StreamPath(name, extra string) string {
	return constants.StreamPathPrefix + name + extra
}

// WebSocketSource reads frames from a stream endpoint and reconnects with
// exponential backoff whenever the connection drops, until ctx is done.
type WebSocketSource struct {
	url       string
	path      string
	header    http.Header
	dialer    *websocket.Dialer
	reconnect config.RetryConfig
	logger    logger.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func NewWebSocketSource(cfg config.WebSocketConfig, src config.SourceConfig, log logger.Logger) (*WebSocketSource, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("websocket source requires websocket.url")
	}

	path := src.Path
	if src.Stream != "" {
		path = StreamPath(src.Stream, src.Extra)
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	header := http.Header{}
	for k, v := range cfg.Headers {
		header.Set(k, v)
	}

	handshake := cfg.HandshakeTimeout
	if handshake <= 0 {
		handshake = constants.DefaultHandshakeTimeout
	}

	return &WebSocketSource{
		url:    strings.TrimRight(cfg.URL, "/") + path,
		path:   path,
		header: header,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshake,
		},
		reconnect: cfg.Reconnect,
		logger:    log,
	}, nil
}

func (s *WebSocketSource) Kind() string { return constants.SourceTypeWebSocket }

func (s *WebSocketSource) Target() string { return s.path }

func (s *WebSocketSource) URL() string { return s.url }

func (s *WebSocketSource) Consume(ctx context.Context, handler HandlerFunc) error {
	b := retry.ExponentialBackoffWithMaxElapsed(
		s.reconnect.InitialInterval,
		s.reconnect.MaxInterval,
		s.reconnect.MaxElapsedTime,
		s.reconnect.Multiplier,
	)
	attempts := 0

	for {
		conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if s.isClosed() {
				return nil
			}

			attempts++
			if s.reconnect.MaxAttempts > 0 && attempts >= s.reconnect.MaxAttempts {
				return fmt.Errorf("websocket %s: giving up after %d attempts: %w", s.path, attempts, err)
			}
			wait := b.NextBackOff()
			if wait == backoff.Stop {
				return fmt.Errorf("websocket %s: giving up reconnecting: %w", s.path, err)
			}

			metrics.IncWebSocketReconnect(s.path)
			s.logger.WarnwCtx(ctx, "Websocket dial failed, retrying",
				"path", s.path,
				"attempt", attempts,
				"next_delay", wait,
				"error", err,
			)

			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		b.Reset()
		attempts = 0
		if !s.setConn(conn) {
			conn.Close()
			return nil
		}

		s.logger.InfowCtx(ctx, "Websocket connected", "path", s.path)
		err = s.readLoop(ctx, conn, handler)
		s.setConn(nil)
		conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.isClosed() {
			return nil
		}
		s.logger.WarnwCtx(ctx, "Websocket connection lost, reconnecting",
			"path", s.path,
			"error", err,
		)
	}
}

func (s *WebSocketSource) readLoop(ctx context.Context, conn *websocket.Conn, handler HandlerFunc) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		metrics.IncBrokerMessagesRead(s.Kind(), s.path)
		metrics.ObserveBrokerMessageSize(s.Kind(), s.path, "in", len(data))
		s.dispatch(ctx, Message{Value: data}, handler)
	}
}

// dispatch hands one frame to the handler. Websocket frames cannot be
// redelivered, so handler failures are only logged.
func (s *WebSocketSource) dispatch(ctx context.Context, msg Message, handler HandlerFunc) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorwCtx(ctx, "Panic recovered during message processing",
				"error", errors.RecoverPanic(r),
				"path", s.path,
			)
		}
	}()

	if err := handler(ctx, msg); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to process websocket message",
			"error", err,
			"path", s.path,
		)
	}
}

func (s *WebSocketSource) setConn(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed && conn != nil {
		return false
	}
	s.conn = conn
	return true
}

func (s *WebSocketSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *WebSocketSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
