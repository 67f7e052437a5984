package session

import (
	"sync"

	"github.com/beyermatthias/muchsyncd/pkg/muchsync/protocol"
)

// sendRequest is one Payload queued for the send task, paired with the
// channel its caller blocks on for the write's outcome.
type sendRequest struct {
	payload protocol.Payload
	result  chan error
}

// sendBuffer is the FIFO queue a Session's dedicated send task drains.
// Every request is peeked before its send is attempted and only
// popped once that attempt has completed — nothing is ever retried,
// so popping an item is the point at which it is considered sent,
// successfully or not. That at-most-once shape, not a retry
// mechanism, is the reason peek and pop stay separate calls instead of
// one combined dequeue.
type sendBuffer struct {
	mu       sync.Mutex
	items    []*sendRequest
	ready    chan struct{}
	closed   bool
	closeErr error
}

func newSendBuffer() *sendBuffer {
	return &sendBuffer{ready: make(chan struct{}, 1)}
}

// push enqueues req, or fails it immediately with the buffer's close
// error if the send task has already shut down — so a caller racing
// session teardown is never left blocked forever waiting on a result
// nobody will ever produce.
func (b *sendBuffer) push(req *sendRequest) {
	b.mu.Lock()
	if b.closed {
		err := b.closeErr
		b.mu.Unlock()
		req.result <- err
		return
	}
	b.items = append(b.items, req)
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// peek returns the head of the queue without removing it.
func (b *sendBuffer) peek() (*sendRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return nil, false
	}
	return b.items[0], true
}

// pop removes the head of the queue once its send attempt has
// completed.
func (b *sendBuffer) pop() {
	b.mu.Lock()
	if len(b.items) > 0 {
		b.items = b.items[1:]
	}
	b.mu.Unlock()
}

// close marks the buffer closed, failing every still-queued request
// and every future push with err.
func (b *sendBuffer) close(err error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.closeErr = err
	pending := b.items
	b.items = nil
	b.mu.Unlock()

	for _, req := range pending {
		req.result <- err
	}
}
