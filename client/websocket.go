package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/goxfs/proto"
)

type WebSocketTransport struct {
	conn *websocket.Conn
	addr string
	wmu  sync.Mutex
}

// DialWebSocket is the default Dialer.
func DialWebSocket(ctx context.Context, addr string) (Transport, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid WebSocket URL: %w", err)
	}

	// If no scheme is provided, assume ws://
	if u.Scheme == "" {
		u.Scheme = "ws"
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, proto.Errorf(proto.KindConnectionRefused, err, "dial %s", u.String())
	}
	return &WebSocketTransport{conn: conn, addr: u.String()}, nil
}

func (t *WebSocketTransport) Send(data []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return proto.Errorf(proto.KindConnectionClosed, err, "send to %s", t.addr)
	}
	return nil
}

func (t *WebSocketTransport) Read() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, proto.Errorf(proto.KindConnectionClosed, err, "read from %s", t.addr)
	}
	return data, nil
}

func (t *WebSocketTransport) Close() error {
	t.wmu.Lock()
	// Best effort; the peer may already be gone
	t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.wmu.Unlock()
	return t.conn.Close()
}
