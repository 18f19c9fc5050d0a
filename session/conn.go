package session

import (
	"context"
	"fmt"

	"nhooyr.io/websocket"
)

// Conn is the subset of *websocket.Conn used by a Session.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a connection to a debugging endpoint.
type Dialer func(ctx context.Context, url string) (Conn, error)

func (s *Session) dialWebSocket(ctx context.Context, url string) (Conn, error) {
	s.log.Debugw("dialing WebSocket", "URL", url)
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient:      s.httpClient,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		s.log.Debugf("dial error: %s", err)
		return nil, fmt.Errorf("establishing WebSocket conn: %w", err)
	}
	conn.SetReadLimit(s.readLimit)
	return conn, nil
}

// payload normalizes a frame to raw bytes. Unknown frame types yield an empty payload.
func payload(typ websocket.MessageType, b []byte) []byte {
	switch typ {
	case websocket.MessageText, websocket.MessageBinary:
		return b
	default:
		return nil
	}
}
