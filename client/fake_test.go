package client

import (
	"context"
	"sync"
	"testing"

	"github.com/mbocsi/goxfs/logging"
	"github.com/mbocsi/goxfs/proto"
)

// fakeConn is an in-memory Transport; the test plays the device side.
type fakeConn struct {
	toClient   chan []byte
	fromClient chan []byte
	closed     chan struct{}
	once       sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		toClient:   make(chan []byte, 64),
		fromClient: make(chan []byte, 64),
		closed:     make(chan struct{}),
	}
}

func (f *fakeConn) Send(data []byte) error {
	select {
	case <-f.closed:
		return proto.Errorf(proto.KindConnectionClosed, nil, "fake closed")
	case f.fromClient <- data:
		return nil
	}
}

func (f *fakeConn) Read() ([]byte, error) {
	select {
	case data := <-f.toClient:
		return data, nil
	case <-f.closed:
		return nil, proto.Errorf(proto.KindConnectionClosed, nil, "fake closed")
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) push(msg proto.Message) {
	data, _ := proto.Serialize(msg)
	select {
	case f.toClient <- data:
	case <-f.closed:
	}
}

// responder answers one command with the messages to send back.
type responder func(cmd proto.Message) []proto.Message

func (f *fakeConn) serve(r responder) {
	go func() {
		for {
			select {
			case data := <-f.fromClient:
				cmd, err := proto.Parse(data)
				if err != nil {
					continue
				}
				for _, m := range r(cmd) {
					f.push(m)
				}
			case <-f.closed:
				return
			}
		}
	}()
}

func ack(cmd proto.Message) proto.Message {
	return proto.NewAcknowledge(cmd, "")
}

func event(cmd proto.Message, name string, payload any) proto.Message {
	m, _ := proto.NewEvent(cmd, name, payload)
	return m
}

func completion(cmd proto.Message, payload any) proto.Message {
	m, _ := proto.NewCompletion(cmd, proto.StatusSuccess, payload)
	return m
}

func ackOnly(cmd proto.Message) []proto.Message {
	return []proto.Message{ack(cmd)}
}

func ackAndComplete(cmd proto.Message) []proto.Message {
	return []proto.Message{ack(cmd), completion(cmd, nil)}
}

func testOptions() Options {
	return Options{Logger: logging.Suppressed()}
}

func startSession(t *testing.T, r responder, opts Options) (*DeviceSession, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	conn.serve(r)
	opts.Dialer = func(ctx context.Context, addr string) (Transport, error) {
		return conn, nil
	}
	if opts.Logger == nil {
		opts.Logger = logging.Suppressed()
	}
	s := NewDeviceSession("ws://device:5846/xfs4iot/v1.0/CardReader", opts)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, conn
}
