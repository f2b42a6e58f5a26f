package client

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"

	"github.com/mbocsi/goxfs/proto"
)

// TCPTransport carries one JSON document per line.
type TCPTransport struct {
	conn   net.Conn
	reader *bufio.Reader
	wmu    sync.Mutex
}

// DialTCP accepts "host:port" or "tcp://host:port".
func DialTCP(ctx context.Context, addr string) (Transport, error) {
	addr = strings.TrimPrefix(addr, "tcp://")
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, proto.Errorf(proto.KindConnectionRefused, err, "dial %s", addr)
	}
	return &TCPTransport{conn: conn, reader: bufio.NewReader(conn)}, nil
}

func (t *TCPTransport) Send(data []byte) error {
	frame := make([]byte, 0, len(data)+1)
	frame = append(frame, data...)
	frame = append(frame, '\n')

	t.wmu.Lock()
	defer t.wmu.Unlock()
	if _, err := t.conn.Write(frame); err != nil {
		return proto.Errorf(proto.KindConnectionClosed, err, "send to %s", t.conn.RemoteAddr())
	}
	return nil
}

func (t *TCPTransport) Read() ([]byte, error) {
	for {
		line, err := t.reader.ReadBytes('\n')
		if err != nil {
			return nil, proto.Errorf(proto.KindConnectionClosed, err, "read from %s", t.conn.RemoteAddr())
		}
		line = []byte(strings.TrimSpace(string(line)))
		if len(line) > 0 {
			return line, nil
		}
	}
}

func (t *TCPTransport) Close() error {
	return t.conn.Close()
}
