// Package session multiplexes many concurrent flows over one
// Transporter, keyed by op_id: a mutex-guarded table generalized from
// "request ID waiting for its one response" to "op_id waiting for
// whatever message its flow expects next".
package session

import (
	"sync"

	"github.com/beyermatthias/muchsyncd/pkg/muchsync/protocol"
)

// WaitingState records what kind of message an op_id's registrant
// expects next. It is carried only for diagnostics: PendingTable
// itself delivers whatever arrives and leaves validating it against
// the expected tag to the caller (the router's state machine, or
// Session.StartOperation).
type WaitingState int

const (
	WaitingForResponse WaitingState = iota
	WaitingForCompletion
	WaitingForErrorAck
)

func (w WaitingState) String() string {
	switch w {
	case WaitingForResponse:
		return "response"
	case WaitingForCompletion:
		return "completion"
	case WaitingForErrorAck:
		return "errorAck"
	default:
		return "unknown"
	}
}

type pendingEntry struct {
	state WaitingState
	sink  chan protocol.Operation
}

// PendingTable tracks, for every op_id with an outstanding flow on
// either side of the connection, the channel that the next message
// addressed to that op_id must be delivered to.
type PendingTable struct {
	mu      sync.Mutex
	entries map[uint64]*pendingEntry
}

func NewPendingTable() *PendingTable {
	return &PendingTable{entries: make(map[uint64]*pendingEntry)}
}

// Register records that opID now expects a message in the given
// state and returns the channel it will arrive on. Registering an
// opID that already has an entry replaces it — this is how a flow
// moves from awaiting a response to awaiting a completion.
func (p *PendingTable) Register(opID uint64, state WaitingState) <-chan protocol.Operation {
	sink := make(chan protocol.Operation, 1)
	p.mu.Lock()
	p.entries[opID] = &pendingEntry{state: state, sink: sink}
	p.mu.Unlock()
	return sink
}

// Resolve delivers op to whoever is registered for opID and reports
// whether anyone was. A false return means opID is either a brand new
// remotely-initiated flow (the caller should consult the Router) or a
// completion/response for an op_id nobody is tracking, which is the
// caller's responsibility to classify.
func (p *PendingTable) Resolve(opID uint64, op protocol.Operation) bool {
	p.mu.Lock()
	entry, ok := p.entries[opID]
	if ok {
		delete(p.entries, opID)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	entry.sink <- op
	return true
}

// Forget removes opID's entry without delivering anything, used when
// a waiter gives up (context cancellation) before a message arrives.
func (p *PendingTable) Forget(opID uint64) {
	p.mu.Lock()
	delete(p.entries, opID)
	p.mu.Unlock()
}

// Len reports the number of currently outstanding op_ids, for tests
// and idle-session diagnostics.
func (p *PendingTable) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
