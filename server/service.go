package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/mbocsi/goxfs/proto"
)

// DeviceService hosts one device interface behind a dispatcher. Each command
// runs in its own goroutine so Common.Cancel can reach in-flight handlers.
type DeviceService struct {
	name       string
	dispatcher *Dispatcher
	broker     *Broker
	log        *slog.Logger

	mu       sync.Mutex
	inflight map[string]map[int]context.CancelFunc // connection id -> request id -> cancel
	wg       sync.WaitGroup
}

func NewDeviceService(name string, d *Dispatcher, logger *slog.Logger) *DeviceService {
	if logger == nil {
		logger = slog.Default()
	}
	if d == nil {
		d = NewDispatcher(logger)
	}
	s := &DeviceService{
		name:       name,
		dispatcher: d,
		broker:     NewBroker(logger),
		log:        logger.With("service", name),
		inflight:   make(map[string]map[int]context.CancelFunc),
	}
	d.Register(proto.CommonCancel, s.handleCancel)
	return s
}

func (s *DeviceService) Name() string {
	return s.name
}

func (s *DeviceService) Dispatcher() *Dispatcher {
	return s.dispatcher
}

func (s *DeviceService) HandleMessage(ctx context.Context, c Client, msg proto.Message) {
	id, hasID := msg.ID()
	if msg.Header.Type != proto.TypeCommand || !hasID || id < 0 || msg.Header.Name == proto.CommonCancel {
		if err := s.dispatcher.Dispatch(ctx, msg, c); err != nil {
			s.log.Warn("Dispatch failed", "name", msg.Header.Name, "error", err)
		}
		return
	}

	cctx, ok := s.track(ctx, c.Meta().Id, id)
	if !ok {
		s.log.Warn("Duplicate outstanding request id", "requestId", id, "clientId", c.Meta().Id)
		if err := c.Send(proto.NewAcknowledge(msg, proto.StatusInvalidRequestID)); err != nil {
			s.log.Warn("Failed to reject duplicate request", "error", err)
		}
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.untrack(c.Meta().Id, id)
		if err := s.dispatcher.Dispatch(cctx, msg, c); err != nil {
			s.log.Warn("Dispatch failed", "name", msg.Header.Name, "requestId", id, "error", err)
		}
	}()
}

func (s *DeviceService) track(ctx context.Context, clientID string, id int) (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reqs := s.inflight[clientID]
	if reqs == nil {
		reqs = make(map[int]context.CancelFunc)
		s.inflight[clientID] = reqs
	}
	if _, exists := reqs[id]; exists {
		return nil, false
	}
	cctx, cancel := context.WithCancel(ctx)
	reqs[id] = cancel
	return cctx, true
}

func (s *DeviceService) untrack(clientID string, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.inflight[clientID][id]; ok {
		cancel()
		delete(s.inflight[clientID], id)
	}
}

// cancelRequests cancels the listed requests of one connection, or all of
// them when ids is empty. It returns how many were signalled.
func (s *DeviceService) cancelRequests(clientID string, ids []int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	reqs := s.inflight[clientID]
	n := 0
	if len(ids) == 0 {
		for _, cancel := range reqs {
			cancel()
			n++
		}
		return n
	}
	for _, id := range ids {
		if cancel, ok := reqs[id]; ok {
			cancel()
			n++
		}
	}
	return n
}

func (s *DeviceService) handleCancel(ctx context.Context, cmd proto.Message, sink Sink) error {
	var payload proto.CancelPayload
	if len(cmd.Payload) > 0 {
		if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
			c := proto.NewErrorCompletion(cmd, proto.StatusInvalidCommand, "invalid cancel payload: "+err.Error())
			return sink.Send(c)
		}
	}

	n := 0
	if c, ok := ClientFromContext(ctx); ok {
		n = s.cancelRequests(c.Meta().Id, payload.RequestIDs)
	}
	s.log.Info("Cancel requested", "requestIds", payload.RequestIDs, "signalled", n)

	completion, err := proto.NewCompletion(cmd, proto.StatusSuccess, nil)
	if err != nil {
		return err
	}
	return sink.Send(completion)
}

func (s *DeviceService) OnConnect(c Client) {
	s.broker.Subscribe(c)
}

func (s *DeviceService) OnDisconnect(c Client) {
	s.broker.Unsubscribe(c)
	s.cancelRequests(c.Meta().Id, nil)
	s.mu.Lock()
	delete(s.inflight, c.Meta().Id)
	s.mu.Unlock()
}

// Broadcast sends an unsolicited event to every connection of this service.
func (s *DeviceService) Broadcast(name string, payload any) (int, error) {
	msg, err := proto.NewUnsolicited(name, payload)
	if err != nil {
		return 0, err
	}
	return s.broker.Publish(msg), nil
}

func (s *DeviceService) Connections() int {
	return s.broker.Count()
}

// Wait blocks until every in-flight handler has returned.
func (s *DeviceService) Wait() {
	s.wg.Wait()
}
