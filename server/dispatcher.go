package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/mbocsi/goxfs/proto"
)

// Handler processes one accepted command. It sends zero or more events and
// exactly one completion through sink before returning.
type Handler func(ctx context.Context, cmd proto.Message, sink Sink) error

var errAlreadyCompleted = errors.New("request already completed")

// Dispatcher routes commands by name to registered handlers.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	log      *slog.Logger
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{handlers: make(map[string]Handler), log: logger}
}

// Register binds name to h. The last registration for a name wins.
func (d *Dispatcher) Register(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = h
}

func (d *Dispatcher) Has(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[name]
	return ok
}

// Names returns the registered command names in sorted order.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Dispatch validates msg and runs its handler. Faults are always answered
// with a completion; only sink failures are returned.
func (d *Dispatcher) Dispatch(ctx context.Context, msg proto.Message, sink Sink) error {
	if msg.Header.Type != proto.TypeCommand {
		d.log.Warn("Dropping non-command message", "type", msg.Header.Type, "name", msg.Header.Name)
		return nil
	}

	id, ok := msg.ID()
	if !ok || id < 0 {
		d.log.Warn("Rejecting command with invalid request id", "name", msg.Header.Name)
		return sink.Send(proto.NewErrorCompletion(msg, proto.StatusInvalidRequestID, "requestId must be a non-negative integer"))
	}

	d.mu.RLock()
	handler, ok := d.handlers[msg.Header.Name]
	d.mu.RUnlock()
	if !ok {
		d.log.Warn("Unsupported command", "name", msg.Header.Name, "requestId", id)
		return sink.Send(proto.NewErrorCompletion(msg, proto.StatusUnsupportedCommand, fmt.Sprintf("command %s is not supported", msg.Header.Name)))
	}

	if err := sink.Send(proto.NewAcknowledge(msg, "")); err != nil {
		return err
	}

	ts := &trackingSink{sink: sink}
	herr := runHandler(ctx, handler, msg, ts)

	switch {
	case ts.sendErr != nil:
		return ts.sendErr
	case herr != nil && ts.isCompleted():
		d.log.Warn("Handler failed after completing", "name", msg.Header.Name, "requestId", id, "error", herr)
		return nil
	case herr != nil:
		d.log.Error("Handler failed", "name", msg.Header.Name, "requestId", id, "error", herr)
		return sink.Send(proto.NewErrorCompletion(msg, proto.StatusInternalError, herr.Error()))
	case !ts.isCompleted():
		d.log.Error("Handler returned without completion", "name", msg.Header.Name, "requestId", id)
		return sink.Send(proto.NewErrorCompletion(msg, proto.StatusInternalError, "handler returned without a completion"))
	}
	return nil
}

func runHandler(ctx context.Context, h Handler, msg proto.Message, sink Sink) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, msg, sink)
}

// trackingSink rejects anything sent after the completion.
type trackingSink struct {
	sink      Sink
	mu        sync.Mutex
	completed bool
	sendErr   error
}

func (s *trackingSink) Send(msg proto.Message) error {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return fmt.Errorf("send %s: %w", msg.Header.Name, errAlreadyCompleted)
	}
	if msg.IsCompletion() {
		s.completed = true
	}
	s.mu.Unlock()

	err := s.sink.Send(msg)
	if err != nil {
		s.mu.Lock()
		if s.sendErr == nil {
			s.sendErr = err
		}
		s.mu.Unlock()
	}
	return err
}

func (s *trackingSink) isCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}
