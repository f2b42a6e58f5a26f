package server

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/mbocsi/goxfs/proto"
)

// TCPTransport serves a single endpoint over newline-delimited JSON.
type TCPTransport struct {
	Addr     string
	listener net.Listener
	endpoint Endpoint
	log      *slog.Logger

	name        string
	description string
	clients     map[string]*TCPClient
	cmu         sync.RWMutex

	maxClients int
	connected  atomic.Bool
	ready      chan struct{}
	lmu        sync.Mutex
	stopped    bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewTCPTransport(addr string, e Endpoint, logger *slog.Logger) *TCPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TCPTransport{
		Addr:       addr,
		endpoint:   e,
		log:        logger,
		maxClients: 16,
		clients:    make(map[string]*TCPClient),
		ready:      make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (t *TCPTransport) Start() error {
	t.log.Info("Starting tcp server", "addr", t.Addr)

	if t.endpoint == nil {
		return fmt.Errorf("tcp transport %s has no endpoint", t.Addr)
	}

	l, err := net.Listen("tcp", t.Addr)
	if err != nil {
		return err
	}
	t.lmu.Lock()
	if t.stopped {
		t.lmu.Unlock()
		l.Close()
		return nil
	}
	t.listener = l
	t.lmu.Unlock()
	t.connected.Store(true)
	close(t.ready)
	defer func() {
		l.Close()
		t.connected.Store(false)
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			return nil // listener closed
		}

		t.cmu.RLock()
		clientCount := len(t.clients)
		t.cmu.RUnlock()

		if clientCount >= t.maxClients {
			t.log.Warn("Max clients reached, rejecting connection", "remote_addr", conn.RemoteAddr())
			conn.Close()
			continue
		}

		go t.handleConnection(conn)
	}
}

// ListenAddr blocks until the listener is bound and returns its address.
func (t *TCPTransport) ListenAddr() string {
	<-t.ready
	return t.listener.Addr().String()
}

func (t *TCPTransport) handleConnection(c net.Conn) {
	client := NewTCPClient(c, t.log)
	ctx, cancel := context.WithCancel(t.ctx)
	ctx = withClient(ctx, client)

	t.log.Info("Device client connected", "addr", client.RemoteAddr, "id", client.Id)
	t.cmu.Lock()
	if t.ctx.Err() != nil {
		t.cmu.Unlock()
		cancel()
		c.Close()
		return
	}
	t.clients[client.Id] = client
	t.cmu.Unlock()

	defer func() {
		cancel()
		t.cmu.Lock()
		delete(t.clients, client.Id)
		t.cmu.Unlock()

		t.endpoint.OnDisconnect(client)
		c.Close()
		t.log.Info("Device client disconnected", "addr", client.RemoteAddr, "id", client.Id)
	}()

	t.endpoint.OnConnect(client)

	reader := bufio.NewScanner(c)
	reader.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for reader.Scan() {
		line := reader.Bytes()
		msg, err := proto.Parse(line)
		if err != nil {
			t.log.Warn("Discarding malformed message", "id", client.Id, "error", err, "data", string(line))
			continue
		}
		t.log.Debug("Message received", "id", client.Id, "type", msg.Header.Type, "name", msg.Header.Name, "size", len(line))
		t.endpoint.HandleMessage(ctx, client, msg)
	}

	if err := reader.Err(); err != nil {
		t.log.Warn("Connection error", "addr", client.RemoteAddr, "error", err)
	}
}

func (t *TCPTransport) Shutdown() error {
	t.log.Info("Shutting down tcp server", "addr", t.Addr)
	t.lmu.Lock()
	t.stopped = true
	l := t.listener
	t.lmu.Unlock()

	var err error
	if l != nil {
		err = l.Close()
	}

	t.cmu.Lock()
	t.cancel()
	clients := make([]*TCPClient, 0, len(t.clients))
	for _, c := range t.clients {
		clients = append(clients, c)
	}
	t.cmu.Unlock()
	for _, c := range clients {
		if cerr := c.close(); cerr != nil {
			t.log.Debug("Error closing client", "id", c.Id, "error", cerr)
		}
	}
	return err
}

func (t *TCPTransport) Meta() TransportMetadata {
	t.cmu.RLock()
	clients := len(t.clients)
	t.cmu.RUnlock()
	return TransportMetadata{
		ID:          "tcp-" + t.Addr,
		Name:        t.name,
		Description: t.description,
		Protocol:    "tcp",
		Address:     t.Addr,
		Clients:     clients,
		MaxClients:  t.maxClients,
		Connected:   t.connected.Load(),
	}
}

func (t *TCPTransport) SetName(name string) {
	t.name = name
}

func (t *TCPTransport) SetMaxClients(n int) {
	t.maxClients = n
}

func (t *TCPTransport) SetDescription(description string) {
	t.description = description
}
