package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbocsi/goxfs/proto"
)

const (
	DefaultAcknowledgeTimeout = 5 * time.Second
	DefaultCancelDrainTimeout = 1 * time.Second
	DefaultCommandTimeout     = 30 * time.Second
)

type Options struct {
	Dialer             Dialer        // Defaults to DialWebSocket
	AcknowledgeTimeout time.Duration // Protocol wait for the Acknowledge of each command
	CancelDrainTimeout time.Duration // How long Cancel waits for its own completion
	CommandTimeout     time.Duration // Used by RefreshStatus and RefreshCapabilities
	Logger             *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Dialer == nil {
		o.Dialer = DialWebSocket
	}
	if o.AcknowledgeTimeout <= 0 {
		o.AcknowledgeTimeout = DefaultAcknowledgeTimeout
	}
	if o.CancelDrainTimeout <= 0 {
		o.CancelDrainTimeout = DefaultCancelDrainTimeout
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type ackWaiter struct {
	id int
	ch chan proto.Message
}

// DeviceSession is the client side of one connection to a device service.
// Events and completions of commands sent with SendCommand, together with
// unsolicited events, land on a shared FIFO read through GetEvent.
type DeviceSession struct {
	URI  string
	opts Options
	log  *slog.Logger

	transport Transport
	nextID    atomic.Int64

	ackMu sync.Mutex // one assign-send-wait at a time

	pmu         sync.Mutex
	waiter      *ackWaiter
	outstanding map[int]*eventQueue // request id -> destination queue

	queue *eventQueue

	obsMu     sync.RWMutex
	observers []func(proto.Message)

	stMu   sync.RWMutex
	status DeviceStatus
	caps   DeviceCapabilities

	started   atomic.Bool
	connected atomic.Bool
	done      chan struct{}
	stopOnce  sync.Once
}

func NewDeviceSession(uri string, opts Options) *DeviceSession {
	opts = opts.withDefaults()
	return &DeviceSession{
		URI:         uri,
		opts:        opts,
		log:         opts.Logger.With("uri", uri),
		outstanding: make(map[int]*eventQueue),
		queue:       newEventQueue(),
		done:        make(chan struct{}),
	}
}

// Start connects and runs the receive loop until the connection drops or
// Close is called.
func (s *DeviceSession) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("session %s already started", s.URI)
	}
	t, err := s.opts.Dialer(ctx, s.URI)
	if err != nil {
		s.stop()
		return err
	}
	s.transport = t
	s.connected.Store(true)
	s.log.Info("Connected to device service")
	go s.readLoop()
	return nil
}

func (s *DeviceSession) readLoop() {
	defer s.stop()
	for {
		data, err := s.transport.Read()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.log.Warn("Device connection lost", "error", err)
			}
			return
		}

		msg, err := proto.Parse(data)
		if err != nil {
			s.log.Warn("Discarding malformed message", "error", err, "size", len(data))
			continue
		}
		s.log.Debug("Message received", "type", msg.Header.Type, "name", msg.Header.Name, "size", len(data))

		s.notify(msg)
		s.route(msg)
	}
}

func (s *DeviceSession) route(msg proto.Message) {
	id, hasID := msg.ID()
	if !hasID || msg.Header.Type == proto.TypeUnsolicited {
		s.queue.push(msg)
		return
	}

	s.pmu.Lock()
	if w := s.waiter; w != nil && w.id == id {
		s.waiter = nil
		w.ch <- msg
		if msg.Header.Type != proto.TypeAcknowledge {
			// The sender fails the request, so nothing more is delivered for it.
			delete(s.outstanding, id)
		}
		s.pmu.Unlock()
		return
	}
	dest, ok := s.outstanding[id]
	if !ok {
		s.pmu.Unlock()
		s.log.Debug("Dropping message for request that is not outstanding", "requestId", id, "type", msg.Header.Type, "name", msg.Header.Name)
		return
	}
	if msg.Header.Type == proto.TypeAcknowledge {
		s.pmu.Unlock()
		s.log.Warn("Discarding unexpected acknowledge", "requestId", id, "name", msg.Header.Name)
		return
	}
	if msg.IsCompletion() {
		delete(s.outstanding, id)
	}
	s.pmu.Unlock()

	dest.push(msg)
}

// OnMessage registers fn to observe every parsed inbound message. fn runs on
// the receive goroutine and must not block.
func (s *DeviceSession) OnMessage(fn func(proto.Message)) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *DeviceSession) notify(msg proto.Message) {
	s.obsMu.RLock()
	observers := s.observers
	s.obsMu.RUnlock()
	for _, fn := range observers {
		fn(msg)
	}
}

// SendCommand assigns the next request id, transmits the command and waits
// for its Acknowledge. Events and the Completion are delivered through GetEvent.
func (s *DeviceSession) SendCommand(ctx context.Context, name string, payload any, timeout time.Duration) (int, error) {
	return s.send(ctx, name, payload, timeout, s.queue)
}

func (s *DeviceSession) send(ctx context.Context, name string, payload any, timeout time.Duration, dest *eventQueue) (int, error) {
	if !s.Connected() {
		return 0, proto.Errorf(proto.KindConnectionClosed, nil, "session %s is not connected", s.URI)
	}

	s.ackMu.Lock()
	defer s.ackMu.Unlock()

	id := int(s.nextID.Add(1))
	cmd, err := proto.NewCommand(name, id, int(timeout/time.Millisecond), payload)
	if err != nil {
		return id, err
	}
	data, err := proto.Serialize(cmd)
	if err != nil {
		return id, err
	}

	w := &ackWaiter{id: id, ch: make(chan proto.Message, 1)}
	s.pmu.Lock()
	s.waiter = w
	s.outstanding[id] = dest
	s.pmu.Unlock()

	if err := s.transport.Send(data); err != nil {
		s.forget(id)
		return id, err
	}
	s.log.Debug("Command sent", "name", name, "requestId", id, "size", len(data))

	timer := time.NewTimer(s.opts.AcknowledgeTimeout)
	defer timer.Stop()

	select {
	case msg := <-w.ch:
		if msg.Header.Type != proto.TypeAcknowledge {
			s.forget(id)
			return id, proto.Errorf(proto.KindInvalidAcknowledge, nil, "%s request %d: expected acknowledge, got %s %s", name, id, msg.Header.Type, msg.Header.Status)
		}
		if msg.Header.Status != "" {
			s.forget(id)
			return id, proto.Errorf(proto.KindInvalidAcknowledge, nil, "%s request %d rejected with status %s %s", name, id, msg.Header.Status, msg.Header.ErrorDescription)
		}
		return id, nil
	case <-timer.C:
		s.forget(id)
		return id, proto.Errorf(proto.KindNoAcknowledgeReceived, nil, "%s request %d: no acknowledge within %s", name, id, s.opts.AcknowledgeTimeout)
	case <-ctx.Done():
		s.forget(id)
		return id, ctx.Err()
	case <-s.done:
		s.forget(id)
		return id, proto.Errorf(proto.KindConnectionClosed, nil, "%s request %d: connection closed", name, id)
	}
}

func (s *DeviceSession) forget(id int) {
	s.pmu.Lock()
	defer s.pmu.Unlock()
	delete(s.outstanding, id)
	if s.waiter != nil && s.waiter.id == id {
		s.waiter = nil
	}
}

// GetEvent dequeues the oldest queued message, waiting up to timeout.
// A timeout of zero or less never blocks.
func (s *DeviceSession) GetEvent(timeout time.Duration) (proto.Message, bool) {
	if timeout <= 0 {
		return s.queue.tryPop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	msg, err := s.queue.pop(ctx)
	return msg, err == nil
}

// NextEvent is GetEvent bounded by ctx instead of a timeout.
func (s *DeviceSession) NextEvent(ctx context.Context) (proto.Message, error) {
	msg, err := s.queue.pop(ctx)
	if errors.Is(err, errQueueClosed) {
		return msg, proto.Errorf(proto.KindConnectionClosed, nil, "session %s closed", s.URI)
	}
	return msg, err
}

// Pending is the number of queued messages not yet consumed.
func (s *DeviceSession) Pending() int {
	return s.queue.len()
}

// Stream sends a command on a private route. fn sees each Event in arrival
// order; an error from fn abandons the request. The Completion is returned.
// A positive timeout bounds the wait for the Completion.
func (s *DeviceSession) Stream(ctx context.Context, name string, payload any, timeout time.Duration, fn func(proto.Message) error) (int, proto.Message, error) {
	q := newEventQueue()
	id, err := s.send(ctx, name, payload, timeout, q)
	if err != nil {
		s.forget(id)
		return id, proto.Message{}, err
	}

	wait := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for {
		msg, err := q.pop(wait)
		switch {
		case errors.Is(err, errQueueClosed):
			return id, proto.Message{}, proto.Errorf(proto.KindConnectionClosed, nil, "%s request %d: connection closed", name, id)
		case errors.Is(err, context.DeadlineExceeded):
			s.forget(id)
			return id, proto.Message{}, proto.Errorf(proto.KindCommandTimedOut, err, "%s request %d: no completion", name, id)
		case err != nil:
			s.forget(id)
			return id, proto.Message{}, err
		}

		if msg.IsCompletion() {
			return id, msg, nil
		}
		if fn != nil {
			if err := fn(msg); err != nil {
				s.forget(id)
				return id, proto.Message{}, err
			}
		}
	}
}

// Execute runs a command to completion and returns its Events and Completion.
func (s *DeviceSession) Execute(ctx context.Context, name string, payload any, timeout time.Duration) (*Result, error) {
	res := &Result{}
	id, completion, err := s.Stream(ctx, name, payload, timeout, func(msg proto.Message) error {
		res.Events = append(res.Events, msg)
		return nil
	})
	res.RequestID = id
	if err != nil {
		return res, err
	}
	res.Completion = completion
	return res, nil
}

// Cancel asks the device to stop the given requests, or all requests of this
// connection when none are given. Cancellation is advisory.
func (s *DeviceSession) Cancel(ctx context.Context, requestIDs ...int) error {
	q := newEventQueue()
	id, err := s.send(ctx, proto.CommonCancel, proto.CancelPayload{RequestIDs: requestIDs}, 0, q)
	if err != nil {
		return err
	}

	dctx, cancel := context.WithTimeout(ctx, s.opts.CancelDrainTimeout)
	defer cancel()
	msg, err := q.pop(dctx)
	if err != nil {
		s.forget(id)
		s.log.Debug("No confirmation for cancel", "requestId", id, "error", err)
		return nil
	}
	if msg.IsCompletion() && !proto.IsSuccess(msg.Header.Status) {
		s.log.Warn("Cancel refused", "requestId", id, "status", msg.Header.Status, "description", msg.Header.ErrorDescription)
	}
	if !msg.IsCompletion() {
		s.forget(id)
	}
	return nil
}

// RefreshStatus sends Common.Status and updates the status snapshot. Fields
// missing from the answer keep their previous value.
func (s *DeviceSession) RefreshStatus(ctx context.Context) (DeviceStatus, error) {
	res, err := s.Execute(ctx, proto.CommonStatus, nil, s.opts.CommandTimeout)
	if err != nil {
		return s.Status(), err
	}
	if err := completionError(res); err != nil {
		return s.Status(), err
	}
	s.applyStatus(res.Completion)
	return s.Status(), nil
}

func (s *DeviceSession) applyStatus(msg proto.Message) {
	s.stMu.Lock()
	defer s.stMu.Unlock()
	st := &s.status

	if v, ok := proto.GetPayloadValue[string](msg, "common.device"); ok {
		st.Device = v
	}
	if v, ok := proto.GetPayloadValue[string](msg, "common.devicePosition"); ok {
		st.DevicePosition = v
	}
	if v, ok := proto.GetPayloadValue[string](msg, "common.antiFraudModule"); ok {
		st.AntiFraudModule = v
	}
	if v, ok := proto.GetPayloadValue[int](msg, "common.powerSaveRecoveryTime"); ok {
		st.PowerSaveRecoveryTime = v
	}
	if v, ok := proto.GetPayloadValue[string](msg, "common.exchange"); ok {
		st.Exchange = v
	}
	if v, ok := proto.GetPayloadValue[string](msg, "common.endToEndSecurity"); ok {
		st.EndToEndSecurity = v
	}
	if blocks, ok := proto.GetPayloadValue[map[string]any](msg, ""); ok {
		ifaces := make([]string, 0, len(blocks))
		for name := range blocks {
			if name != "common" {
				ifaces = append(ifaces, name)
			}
		}
		slices.Sort(ifaces)
		st.Interfaces = ifaces
	}
	st.UpdatedAt = time.Now()
}

// RefreshCapabilities sends Common.Capabilities and updates the capability
// snapshot field by field.
func (s *DeviceSession) RefreshCapabilities(ctx context.Context) (DeviceCapabilities, error) {
	res, err := s.Execute(ctx, proto.CommonCapabilities, nil, s.opts.CommandTimeout)
	if err != nil {
		return s.Capabilities(), err
	}
	if err := completionError(res); err != nil {
		return s.Capabilities(), err
	}
	s.applyCapabilities(res.Completion)
	return s.Capabilities(), nil
}

func (s *DeviceSession) applyCapabilities(msg proto.Message) {
	s.stMu.Lock()
	defer s.stMu.Unlock()
	c := &s.caps

	if v, ok := proto.GetPayloadValue[string](msg, "common.serviceVersion"); ok {
		c.ServiceVersion = v
	}
	if v, ok := proto.GetPayloadValue[string](msg, "common.deviceInformation[0].modelName"); ok {
		c.ModelName = v
	}
	if v, ok := proto.GetPayloadValue[string](msg, "common.deviceInformation[0].serialNumber"); ok {
		c.SerialNumber = v
	}
	if v, ok := proto.GetPayloadValue[[]proto.InterfaceCapability](msg, "interfaces"); ok {
		c.Interfaces = v
	}
	if v, ok := proto.GetPayloadValue[[]string](msg, "common.endToEndSecurity.commandsRequiringToken"); ok {
		c.SecureCommands = v
	}
	c.UpdatedAt = time.Now()
}

func (s *DeviceSession) Status() DeviceStatus {
	s.stMu.RLock()
	defer s.stMu.RUnlock()
	return s.status.clone()
}

func (s *DeviceSession) Capabilities() DeviceCapabilities {
	s.stMu.RLock()
	defer s.stMu.RUnlock()
	return s.caps.clone()
}

func (s *DeviceSession) Connected() bool {
	if !s.connected.Load() {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Done is closed once the session has stopped.
func (s *DeviceSession) Done() <-chan struct{} {
	return s.done
}

// Close disconnects and releases every waiter.
func (s *DeviceSession) Close() error {
	var err error
	if s.Connected() {
		err = s.transport.Close()
	}
	s.stop()
	return err
}

func (s *DeviceSession) stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.pmu.Lock()
		routes := make([]*eventQueue, 0, len(s.outstanding))
		for id, q := range s.outstanding {
			if q != s.queue {
				routes = append(routes, q)
			}
			delete(s.outstanding, id)
		}
		s.waiter = nil
		s.pmu.Unlock()

		for _, q := range routes {
			q.close()
		}
		s.queue.close()
		s.log.Info("Device session closed")
	})
}
