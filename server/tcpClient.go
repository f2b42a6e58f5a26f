package server

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mbocsi/goxfs/proto"
)

type TCPClient struct {
	ConnectionMetadata
	conn net.Conn
	wmu  sync.Mutex
	log  *slog.Logger
}

func NewTCPClient(conn net.Conn, logger *slog.Logger) *TCPClient {
	return &TCPClient{
		conn: conn,
		log:  logger,
		ConnectionMetadata: ConnectionMetadata{
			Id:          generateClientId("tcp"),
			RemoteAddr:  conn.RemoteAddr().String(),
			ConnectedAt: time.Now(),
		},
	}
}

func (c *TCPClient) Send(msg proto.Message) error {
	data, err := proto.Serialize(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	c.wmu.Lock()
	_, err = c.conn.Write(data)
	c.wmu.Unlock()
	if err != nil {
		return proto.Errorf(proto.KindConnectionClosed, err, "send %s to %s", msg.Header.Name, c.Id)
	}
	c.log.Debug("Sent Message", "to", c.Id, "type", msg.Header.Type, "name", msg.Header.Name, "size", len(data))
	return nil
}

func (c *TCPClient) close() error {
	return c.conn.Close()
}

func (c *TCPClient) Meta() *ConnectionMetadata {
	return &c.ConnectionMetadata
}
