package server

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mbocsi/goxfs/proto"
)

// Transport accepts connections and hands their frames to mounted endpoints.
type Transport interface {
	Start() error
	Shutdown() error
	Meta() TransportMetadata
	SetName(name string)
	SetDescription(description string)
}

type TransportMetadata struct {
	ID          string
	Name        string // Human-friendly name, e.g. "Device WebSocket host"
	Protocol    string // "websocket" or "tcp"
	Address     string // Bind address, e.g. "0.0.0.0:5846"
	Description string

	Clients    int  // Current active connections
	MaxClients int  // 0 means unlimited
	Connected  bool // Whether the transport is currently bound
}

// Sink is the write side of a connection.
type Sink interface {
	Send(proto.Message) error
}

type ConnectionMetadata struct {
	Id          string
	RemoteAddr  string
	Path        string
	ConnectedAt time.Time
}

// Client is one accepted connection.
type Client interface {
	Sink
	Meta() *ConnectionMetadata
}

// Endpoint is a protocol handler mounted on a transport (a device service or a publisher).
type Endpoint interface {
	HandleMessage(ctx context.Context, c Client, msg proto.Message)
	OnConnect(c Client)
	OnDisconnect(c Client)
}

func generateClientId(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

type clientKey struct{}

func withClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, clientKey{}, c)
}

// ClientFromContext returns the connection a command arrived on.
func ClientFromContext(ctx context.Context) (Client, bool) {
	c, ok := ctx.Value(clientKey{}).(Client)
	return c, ok
}
