// Package router drives one RPC flow from its start message through to
// completion (or error), and dispatches an incoming start message to
// the right flow's handlers. It is the Go reshaping of the state
// machine and handler registry that together decide what a server
// does in response to a client-initiated operation.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/beyermatthias/muchsyncd/pkg/muchsync/protocol"
)

// ServiceCenterContext supplies the facts a built-in handler needs
// about the process hosting the Router, decoupled from any concrete
// clock or process-start bookkeeping so handlers stay trivially
// testable.
type ServiceCenterContext interface {
	NowUTC() time.Time
	SystemUptime() time.Duration
}

// OperationContext is the per-invocation channel a ServerOperationHandler
// uses to talk back to the owning session: sending the operation's
// response/completion/error out over the wire, and waiting for the
// peer's next message in this flow.
type OperationContext interface {
	// PrepareNextWait registers this flow's interest in its next
	// message before the response/error that triggers that next
	// message is sent. Callers must invoke this before SendOperation
	// whenever a WaitForOperation will follow, so a fast peer's reply
	// can never arrive and be dropped in the window between sending
	// and registering.
	PrepareNextWait()
	// SendOperation writes op to the peer as part of this flow.
	SendOperation(ctx context.Context, op protocol.Operation) error
	// WaitForOperation blocks until the peer sends the next message
	// belonging to this flow (keyed by op_id upstream of the Router).
	WaitForOperation(ctx context.Context) (protocol.Operation, error)
}

// StartHandler answers a flow's start message with either a response
// message to send back, or an OperationError.
type StartHandler func(ctx context.Context, start protocol.Operation) (protocol.Operation, *OperationError)

// CompleteHandler validates a flow's completion message. A nil return
// means the flow finished cleanly.
type CompleteHandler func(ctx context.Context, complete protocol.Operation) *OperationError

// ErrorHandler answers a flow's error message with an acknowledgement
// operation, or an OperationError if the acknowledgement itself can't
// be produced.
type ErrorHandler func(ctx context.Context, errMsg protocol.Operation) (protocol.Operation, *OperationError)

// HandlerSet is what one flow registration contributes to the Router.
// Each field is a maker, invoked once per operation so a handler can
// close over per-operation state (e.g. a Status handler closing over
// the ServiceCenterContext it was built with) without sharing mutable
// state across concurrent operations.
type HandlerSet struct {
	NewStartHandler    func() StartHandler
	NewCompleteHandler func() CompleteHandler
	// NewErrorHandler is only consulted for flows that can still be
	// running when the peer sends an out-of-band `error`; built-in
	// flows all share the default error handler (see DefaultErrorHandler).
	NewErrorHandler func() ErrorHandler
}

type registeredFlow struct {
	flow    protocol.Flow
	handler HandlerSet
}

// RouterBuilder accumulates flow registrations before a single
// immutable Router is built from them.
type RouterBuilder struct {
	flows map[string]registeredFlow
}

func NewBuilder() *RouterBuilder {
	return &RouterBuilder{flows: make(map[string]registeredFlow)}
}

// WithFlow registers a flow and its handlers, keyed by the flow's
// start message tag. Registering two flows under the same start tag
// is a startup-time programmer error: it panics rather than silently
// shadowing one of them, the same way protocol.register does for
// duplicate message kinds.
func (b *RouterBuilder) WithFlow(flow protocol.Flow, handler HandlerSet) *RouterBuilder {
	if _, exists := b.flows[flow.StartName]; exists {
		panic(fmt.Sprintf("router: flow already registered for start tag %q", flow.StartName))
	}
	if handler.NewStartHandler == nil {
		panic(fmt.Sprintf("router: flow %q registered without a start handler", flow.Name))
	}
	if flow.HasCompletion() && handler.NewCompleteHandler == nil {
		panic(fmt.Sprintf("router: flow %q expects a completion message but has no complete handler", flow.Name))
	}
	b.flows[flow.StartName] = registeredFlow{flow: flow, handler: handler}
	return b
}

func (b *RouterBuilder) Build() *Router {
	flows := make(map[string]registeredFlow, len(b.flows))
	for k, v := range b.flows {
		flows[k] = v
	}
	return &Router{flows: flows}
}

// Router is an immutable table from a flow's start tag to the
// handlers that drive it.
type Router struct {
	flows map[string]registeredFlow
}

// CanHandle reports whether name is a registered flow's start tag.
// The session consults this before calling HandleOperation so an
// unregistered start message never even reaches the state machine —
// it is logged and dropped rather than tearing down the connection.
func (r *Router) CanHandle(name string) bool {
	_, ok := r.flows[name]
	return ok
}

// HandleOperation drives start's flow to completion. It always
// returns an OperationStatus describing how each side of the flow
// concluded. It returns a non-nil error for a ProtocolViolation, which
// is fatal to the whole connection and must propagate past this call
// all the way to session teardown, and also when sending to the peer
// fails or ctx ends while the flow is waiting for the peer.
func (r *Router) HandleOperation(ctx context.Context, opCtx OperationContext, start protocol.Operation) (OperationStatus, error) {
	rf, ok := r.flows[start.Name()]
	if !ok {
		return OperationStatus{}, &ProtocolViolation{Reason: fmt.Sprintf("HandleOperation called with unregistered start tag %q", start.Name())}
	}

	h := &serverOperationHandler{
		flow:         rf.flow,
		startHandler: rf.handler.NewStartHandler(),
		opCtx:        opCtx,
	}
	if rf.flow.HasCompletion() {
		h.completeHandler = rf.handler.NewCompleteHandler()
	}
	if rf.handler.NewErrorHandler != nil {
		h.errorHandler = rf.handler.NewErrorHandler()
	} else {
		h.errorHandler = DefaultErrorHandler()
	}
	return h.drive(ctx, start)
}

// DefaultErrorHandler acknowledges an error message unconditionally.
// Every built-in flow uses this; a flow only needs its own error
// handler if acknowledging an error requires side effects.
func DefaultErrorHandler() ErrorHandler {
	return func(_ context.Context, _ protocol.Operation) (protocol.Operation, *OperationError) {
		return protocol.Operation{Message: protocol.ErrorAck{}}, nil
	}
}
