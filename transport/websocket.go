// Package transport adapts concrete byte transports to the endpoint's
// Sink interface. The core never dials or accepts a connection itself;
// this package is where a real socket gets wired to an
// *endpoint.Endpoint.
package transport

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/gosuda/hyperwire/endpoint"
)

// writeTimeout bounds a single outbound frame write so a stalled peer
// can't wedge the endpoint's cooperative single-threaded loop forever.
const writeTimeout = 10 * time.Second

// WebSocketSink adapts a coder/websocket connection into an
// endpoint.Sink and drives inbound bytes into the endpoint.
type WebSocketSink struct {
	conn   *websocket.Conn
	logger zerolog.Logger
}

// NewWebSocketSink wraps an already-accepted/dialed websocket
// connection. Pass the result as the Sink when constructing the
// Endpoint, then call Run to pump inbound bytes.
func NewWebSocketSink(conn *websocket.Conn, logger zerolog.Logger) *WebSocketSink {
	return &WebSocketSink{conn: conn, logger: logger}
}

// Push implements endpoint.Sink: one outbound frame becomes one binary
// websocket message.
func (s *WebSocketSink) Push(b []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.conn.Write(ctx, websocket.MessageBinary, b); err != nil {
		s.logger.Error().Err(err).Msg("transport: websocket write failed")
	}
}

// Run reads binary messages off the connection and feeds them to ep
// until the connection closes, ctx is cancelled, or ep is destroyed.
// onEvents, if non-nil, is handed every batch of events the endpoint
// queued as a result of processing one inbound message.
func (s *WebSocketSink) Run(ctx context.Context, ep *endpoint.Endpoint, onEvents func([]endpoint.Event)) error {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageBinary {
			s.logger.Warn().Int("type", int(typ)).Msg("transport: dropping non-binary websocket frame")
			continue
		}

		ep.Write(data)
		if evs := ep.Events(); len(evs) > 0 && onEvents != nil {
			onEvents(evs)
		}
		if ep.Destroyed() {
			return nil
		}
	}
}

// Close closes the underlying connection with a normal closure status.
func (s *WebSocketSink) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "endpoint destroyed")
}
