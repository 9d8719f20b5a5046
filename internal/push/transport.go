package push

import (
	"context"
	"fmt"
	"net/url"

	"github.com/coder/websocket"
)

// maxFrameSize bounds inbound push frames. Push envelopes are small; the
// limit protects against a misbehaving server.
const maxFrameSize = 1 << 20

// WebSocketTransport dials the aggregator backend's push endpoint. The
// session key travels as a query parameter on the connection URL.
type WebSocketTransport struct {
	baseURL string
}

// NewWebSocketTransport creates a transport for the given push endpoint,
// e.g. "wss://api.example.com/push".
func NewWebSocketTransport(baseURL string) *WebSocketTransport {
	return &WebSocketTransport{baseURL: baseURL}
}

// Dial implements Transport.
func (t *WebSocketTransport) Dial(ctx context.Context, sessionKey string) (Socket, error) {
	u, err := url.Parse(t.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse push url: %w", err)
	}
	q := u.Query()
	q.Set("session_key", sessionKey)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial push channel: %w", err)
	}
	conn.SetReadLimit(maxFrameSize)
	return &wsSocket{conn: conn}, nil
}

type wsSocket struct {
	conn *websocket.Conn
}

func (s *wsSocket) Read(ctx context.Context) ([]byte, error) {
	_, data, err := s.conn.Read(ctx)
	return data, err
}

func (s *wsSocket) Write(ctx context.Context, data []byte) error {
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *wsSocket) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "client closing")
}
