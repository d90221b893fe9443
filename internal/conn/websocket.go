package conn

import (
	"context"
	"fmt"
	"net/http"

	"nhooyr.io/websocket"
)

// WebsocketTransport dials the controller over a websocket.
type WebsocketTransport struct {
	// ReadLimit caps a single inbound frame. Zero keeps the library default.
	ReadLimit int64
	Header    http.Header
}

func (t WebsocketTransport) Dial(ctx context.Context, endpoint string) (Socket, error) {
	c, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{HTTPHeader: t.Header})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	if t.ReadLimit > 0 {
		c.SetReadLimit(t.ReadLimit)
	}
	return &wsSocket{c: c}, nil
}

type wsSocket struct {
	c *websocket.Conn
}

func (s *wsSocket) Read(ctx context.Context) (string, error) {
	for {
		typ, data, err := s.c.Read(ctx)
		if err != nil {
			if code := websocket.CloseStatus(err); code != -1 {
				return "", &CloseError{Code: int(code), Reason: err.Error()}
			}
			return "", err
		}
		// The protocol is text only.
		if typ != websocket.MessageText {
			continue
		}
		return string(data), nil
	}
}

func (s *wsSocket) Write(ctx context.Context, text string) error {
	return s.c.Write(ctx, websocket.MessageText, []byte(text))
}

func (s *wsSocket) Close(code int, reason string) error {
	return s.c.Close(websocket.StatusCode(code), reason)
}
