package server

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/goxfs/proto"
)

type WSClient struct {
	ConnectionMetadata
	conn *websocket.Conn
	wmu  sync.Mutex
	log  *slog.Logger
}

func NewWSClient(conn *websocket.Conn, path string, logger *slog.Logger) *WSClient {
	return &WSClient{
		conn: conn,
		log:  logger,
		ConnectionMetadata: ConnectionMetadata{
			Id:          generateClientId("ws"),
			RemoteAddr:  conn.RemoteAddr().String(),
			Path:        path,
			ConnectedAt: time.Now(),
		},
	}
}

// Send writes one text frame. Writes are serialized because handlers for
// different commands run concurrently on the same connection.
func (c *WSClient) Send(msg proto.Message) error {
	data, err := proto.Serialize(msg)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.wmu.Unlock()
	if err != nil {
		return proto.Errorf(proto.KindConnectionClosed, err, "send %s to %s", msg.Header.Name, c.Id)
	}

	c.log.Debug("Sent WebSocket message", "to", c.Id, "type", msg.Header.Type, "name", msg.Header.Name, "size", len(data))
	return nil
}

func (c *WSClient) Meta() *ConnectionMetadata {
	return &c.ConnectionMetadata
}

func (c *WSClient) close() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if cerr := c.conn.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", c.Id, cerr)
	}
	return err
}
