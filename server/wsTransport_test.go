package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/goxfs/proto"
)

func TestNewWSTransport(t *testing.T) {
	transport := NewWSTransport("localhost:0", quietLogger())

	if transport.Addr != "localhost:0" {
		t.Errorf("Expected addr localhost:0, got %s", transport.Addr)
	}
	if transport.maxClients != 64 {
		t.Errorf("Expected maxClients 64, got %d", transport.maxClients)
	}
	if transport.clients == nil || transport.endpoints == nil {
		t.Error("Expected maps to be initialized")
	}
}

func TestWSTransport_SetMethods(t *testing.T) {
	transport := NewWSTransport("localhost:0", quietLogger())

	transport.SetName("test-ws-transport")
	transport.SetMaxClients(10)
	transport.SetDescription("Test WebSocket transport")

	meta := transport.Meta()
	if meta.Name != "test-ws-transport" {
		t.Errorf("Expected name 'test-ws-transport', got %s", meta.Name)
	}
	if meta.MaxClients != 10 {
		t.Errorf("Expected maxClients 10, got %d", meta.MaxClients)
	}
	if meta.Description != "Test WebSocket transport" {
		t.Errorf("Expected description 'Test WebSocket transport', got %s", meta.Description)
	}
	if meta.Protocol != "websocket" {
		t.Errorf("Expected protocol websocket, got %s", meta.Protocol)
	}
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func readMessage(t *testing.T, conn *websocket.Conn) proto.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	msg, err := proto.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return msg
}

func writeCommand(t *testing.T, conn *websocket.Conn, name string, id int) {
	t.Helper()
	cmd, _ := proto.NewCommand(name, id, 0, nil)
	data, _ := proto.Serialize(cmd)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
}

func TestWSTransport_UnmountedPath(t *testing.T) {
	transport := NewWSTransport("", quietLogger())
	transport.Mount(BasePath, &MockEndpoint{})
	srv := httptest.NewServer(transport)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/nowhere"), nil)
	if err == nil {
		t.Fatal("Expected dial to an unmounted path to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %+v", resp)
	}
}

func TestWSTransport_MaxClients(t *testing.T) {
	transport := NewWSTransport("", quietLogger())
	transport.SetMaxClients(1)
	e := &MockEndpoint{}
	transport.Mount(BasePath, e)
	srv := httptest.NewServer(transport)
	defer srv.Close()

	first, _, err := websocket.DefaultDialer.Dial(wsURL(srv, BasePath), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer first.Close()

	deadline := time.Now().Add(time.Second)
	for transport.Meta().Clients < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, BasePath), nil)
	if err == nil {
		t.Fatal("Expected second connection to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %+v", resp)
	}
}

func TestWSTransport_ServiceRoundTrip(t *testing.T) {
	transport := NewWSTransport("", quietLogger())
	svc := NewDeviceService("CardReader", nil, quietLogger())
	svc.Dispatcher().Register(proto.CommonStatus, completeOK)
	transport.Mount(BasePath+"/CardReader", svc)
	srv := httptest.NewServer(transport)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, BasePath+"/CardReader"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// malformed frames are skipped, not fatal
	conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	writeCommand(t, conn, proto.CommonStatus, 1)

	ack := readMessage(t, conn)
	if ack.Header.Type != proto.TypeAcknowledge {
		t.Fatalf("Expected acknowledge, got %s", ack.Header.Type)
	}
	completion := readMessage(t, conn)
	if !completion.IsCompletion() || completion.Header.Status != proto.StatusSuccess {
		t.Errorf("Expected success completion, got %+v", completion.Header)
	}
}

func TestWSTransport_ShutdownClosesClients(t *testing.T) {
	transport := NewWSTransport("", quietLogger())
	e := &MockEndpoint{}
	transport.Mount(BasePath, e)
	srv := httptest.NewServer(transport)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, BasePath), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for transport.Meta().Clients < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := transport.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected connection to be closed after shutdown")
	}

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		e.mu.Lock()
		n := len(e.disconnected)
		e.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("Expected endpoint to observe the disconnect")
}

func TestServer_PublisherListsHostedServices(t *testing.T) {
	s := NewServer(Options{Host: "atm.local", Port: 5846, VendorName: "Acme", Logger: quietLogger()})
	uri := s.Host(NewDeviceService("CardReader", nil, quietLogger()))
	if uri != "ws://atm.local:5846/xfs4iot/v1.0/CardReader" {
		t.Errorf("Unexpected service uri %s", uri)
	}
	if s.PublisherURI() != "ws://atm.local:5846/xfs4iot/v1.0" {
		t.Errorf("Unexpected publisher uri %s", s.PublisherURI())
	}

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, BasePath), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	writeCommand(t, conn, proto.GetServices, 1)
	readMessage(t, conn)
	completion := readMessage(t, conn)

	services, ok := proto.GetPayloadValue[[]proto.ServiceEntry](completion, "services")
	if !ok || len(services) != 1 || services[0].ServiceURI != uri {
		t.Errorf("Expected hosted service in GetServices, got %+v", services)
	}
}

func TestServer_StartStopsOnCancel(t *testing.T) {
	s := NewServer(Options{Port: 0, Logger: quietLogger()})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Server did not stop after cancel")
	}
}
