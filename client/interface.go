package client

import "context"

// Transport is one established connection to a device service or publisher.
// Read blocks until a complete frame arrives.
type Transport interface {
	Send(data []byte) error
	Read() ([]byte, error)
	Close() error
}

// Dialer opens a Transport to addr. Unreachable endpoints fail with a
// proto.ErrConnectionRefused kind error.
type Dialer func(ctx context.Context, addr string) (Transport, error)
