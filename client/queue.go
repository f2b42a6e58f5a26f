package client

import (
	"context"
	"errors"
	"sync"

	"github.com/mbocsi/goxfs/proto"
)

var errQueueClosed = errors.New("event queue closed")

// eventQueue is an unbounded FIFO. wake holds at most one pending signal;
// a consumer that leaves items behind re-arms it for the next waiter.
type eventQueue struct {
	mu     sync.Mutex
	items  []proto.Message
	closed bool
	wake   chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{wake: make(chan struct{}, 1)}
}

func (q *eventQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// push appends msg. It reports false once the queue is closed.
func (q *eventQueue) push(msg proto.Message) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *eventQueue) tryPop() (proto.Message, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return proto.Message{}, false
	}
	msg := q.items[0]
	q.items[0] = proto.Message{}
	q.items = q.items[1:]
	more := len(q.items) > 0 || q.closed
	q.mu.Unlock()

	if more {
		q.signal()
	}
	return msg, true
}

// pop waits for the oldest message. A closed queue still hands out what it
// holds before failing with errQueueClosed.
func (q *eventQueue) pop(ctx context.Context) (proto.Message, error) {
	for {
		if msg, ok := q.tryPop(); ok {
			return msg, nil
		}
		if q.isClosed() {
			q.signal()
			return proto.Message{}, errQueueClosed
		}
		select {
		case <-q.wake:
		case <-ctx.Done():
			return proto.Message{}, ctx.Err()
		}
	}
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *eventQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
