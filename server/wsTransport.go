package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/goxfs/proto"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Terminals connect from arbitrary origins
	},
}

// WSTransport hosts endpoints on WebSocket paths of a single HTTP listener.
type WSTransport struct {
	Addr   string
	server *http.Server
	log    *slog.Logger

	emu       sync.RWMutex
	endpoints map[string]Endpoint

	name        string
	description string
	clients     map[string]*WSClient
	cmu         sync.RWMutex

	maxClients int
	connected  atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewWSTransport(addr string, logger *slog.Logger) *WSTransport {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &WSTransport{
		Addr:       addr,
		log:        logger,
		endpoints:  make(map[string]Endpoint),
		clients:    make(map[string]*WSClient),
		maxClients: 64,
		ctx:        ctx,
		cancel:     cancel,
	}
	t.server = &http.Server{Addr: addr, Handler: t}
	return t
}

// Mount routes connections on path to e. Mounting twice replaces the endpoint.
func (t *WSTransport) Mount(path string, e Endpoint) {
	t.emu.Lock()
	defer t.emu.Unlock()
	t.endpoints[path] = e
}

func (t *WSTransport) endpoint(path string) (Endpoint, bool) {
	t.emu.RLock()
	defer t.emu.RUnlock()
	e, ok := t.endpoints[path]
	return e, ok
}

func (t *WSTransport) Start() error {
	t.log.Info("Starting WebSocket server", "addr", t.Addr)

	t.connected.Store(true)
	err := t.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		t.connected.Store(false)
		return fmt.Errorf("websocket transport %s: %w", t.Addr, err)
	}
	return nil
}

// ServeHTTP upgrades requests for mounted paths.
func (t *WSTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e, ok := t.endpoint(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	t.cmu.RLock()
	clientCount := len(t.clients)
	t.cmu.RUnlock()
	if t.maxClients > 0 && clientCount >= t.maxClients {
		t.log.Warn("Max clients reached, rejecting connection", "remote_addr", r.RemoteAddr)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	go t.handleConnection(conn, r.URL.Path, e)
}

func (t *WSTransport) handleConnection(conn *websocket.Conn, path string, e Endpoint) {
	client := NewWSClient(conn, path, t.log)
	ctx, cancel := context.WithCancel(t.ctx)
	ctx = withClient(ctx, client)

	t.log.Info("WebSocket client connected", "addr", client.RemoteAddr, "path", path, "id", client.Id)

	t.cmu.Lock()
	if t.ctx.Err() != nil {
		t.cmu.Unlock()
		cancel()
		conn.Close()
		return
	}
	t.clients[client.Id] = client
	t.cmu.Unlock()

	defer func() {
		cancel()
		t.cmu.Lock()
		delete(t.clients, client.Id)
		t.cmu.Unlock()

		e.OnDisconnect(client)
		conn.Close()
		t.log.Info("WebSocket client disconnected", "addr", client.RemoteAddr, "id", client.Id)
	}()

	e.OnConnect(client)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.log.Warn("WebSocket connection error", "addr", client.RemoteAddr, "error", err)
			}
			return
		}

		msg, err := proto.Parse(data)
		if err != nil {
			t.log.Warn("Discarding malformed message", "id", client.Id, "error", err, "data", string(data))
			continue
		}
		t.log.Debug("WebSocket message received", "id", client.Id, "type", msg.Header.Type, "name", msg.Header.Name, "size", len(data))
		e.HandleMessage(ctx, client, msg)
	}
}

func (t *WSTransport) Shutdown() error {
	t.log.Info("Shutting down WebSocket server", "addr", t.Addr)
	t.connected.Store(false)

	t.cmu.Lock()
	t.cancel()
	clients := make([]*WSClient, 0, len(t.clients))
	for _, c := range t.clients {
		clients = append(clients, c)
	}
	t.cmu.Unlock()
	for _, c := range clients {
		if err := c.close(); err != nil {
			t.log.Debug("Error closing client", "id", c.Id, "error", err)
		}
	}

	return t.server.Close()
}

func (t *WSTransport) Meta() TransportMetadata {
	t.cmu.RLock()
	clients := len(t.clients)
	t.cmu.RUnlock()
	return TransportMetadata{
		ID:          "ws-" + t.Addr,
		Name:        t.name,
		Description: t.description,
		Protocol:    "websocket",
		Address:     t.Addr,
		Clients:     clients,
		MaxClients:  t.maxClients,
		Connected:   t.connected.Load(),
	}
}

func (t *WSTransport) SetName(name string) {
	t.name = name
}

func (t *WSTransport) SetMaxClients(n int) {
	t.maxClients = n
}

func (t *WSTransport) SetDescription(description string) {
	t.description = description
}
