package router

import (
	"context"
	"fmt"

	"github.com/beyermatthias/muchsyncd/pkg/muchsync/protocol"
)

// stateKind names the three places a flow invocation can be in. Every
// call into drive's loop body must leave the handler in a different
// stateKind than it found it in — an invocation that doesn't advance
// is a bug in this package, not a recoverable runtime condition, so
// that invariant is checked with a panic rather than an error return.
type stateKind int

const (
	stateAwaitingCompletion stateKind = iota
	stateAwaitingErrorAck
	stateDone
)

// Outcome records how one side of a flow concluded: nil means it
// concluded without error.
type Outcome struct {
	Err *OperationError
}

func ok() *Outcome  { return &Outcome{} }
func errd(e *OperationError) *Outcome { return &Outcome{Err: e} }

// OperationStatus reports how each side of a flow concluded. Either
// field is nil when that side never got to report an outcome at all
// (for example, the server side of a flow with no completion message
// never has a "client" outcome to report).
type OperationStatus struct {
	Client *Outcome
	Server *Outcome
}

// serverOperationHandler drives a single flow invocation from its
// start message to a terminal state.
type serverOperationHandler struct {
	flow            protocol.Flow
	startHandler    StartHandler
	completeHandler CompleteHandler
	errorHandler    ErrorHandler
	opCtx           OperationContext
}

func (h *serverOperationHandler) drive(ctx context.Context, start protocol.Operation) (OperationStatus, error) {
	var status OperationStatus

	response, startErr := h.startHandler(ctx, start)
	if startErr != nil {
		return h.driveError(ctx, status, startErr)
	}

	if !h.flow.HasCompletion() {
		if err := h.opCtx.SendOperation(ctx, response); err != nil {
			return status, err
		}
		status.Server = ok()
		return status, nil
	}

	// Register interest in the completion before sending the response
	// that prompts it, so a fast peer's completion can never arrive
	// before anyone is listening for it.
	h.opCtx.PrepareNextWait()
	if err := h.opCtx.SendOperation(ctx, response); err != nil {
		return status, err
	}

	state := stateAwaitingCompletion
	for state != stateDone {
		prev := state
		next, err := h.opCtx.WaitForOperation(ctx)
		if err != nil {
			return status, err
		}

		switch state {
		case stateAwaitingCompletion:
			switch next.Name() {
			case h.flow.CompleteName:
				// A completion-handler error is the server failing to
				// accept a well-formed completion, not the client
				// misbehaving, so it is recorded on the server side;
				// the client sent exactly what was expected.
				status.Server = errd(h.completeHandler(ctx, next))
				status.Client = ok()
				state = stateDone
			case protocol.NameError:
				ack, ackErr := h.errorHandler(ctx, next)
				if ackErr != nil {
					status.Server = errd(ackErr)
				}
				if err := h.opCtx.SendOperation(ctx, ack); err != nil {
					return status, err
				}
				status.Client = errd(NewClientSentUnexpectedMessage(next.Name(), h.flow.CompleteName))
				state = stateDone
			default:
				status.Client = errd(NewClientSentUnexpectedMessage(next.Name(), h.flow.CompleteName))
				state = stateDone
			}
		case stateAwaitingErrorAck:
			if next.Name() != protocol.NameErrorAck {
				return status, &ProtocolViolation{
					Reason: fmt.Sprintf("expected %q after an error message, got %q", protocol.NameErrorAck, next.Name()),
				}
			}
			status.Client = ok()
			state = stateDone
		}
		if state == prev {
			panic(fmt.Sprintf("router: flow %q did not advance from state %d", h.flow.Name, prev))
		}
	}
	return status, nil
}

// driveError handles a failed start handler: a ServerError is
// reported to the peer as a wire `error` message and the flow waits
// for the errorAck; any other kind (a ClientSentUnexpectedMessage,
// reported when the start message is not the flow's start variant)
// is folded straight into a terminal, unacknowledged Server outcome,
// with nothing sent to the peer.
func (h *serverOperationHandler) driveError(ctx context.Context, status OperationStatus, startErr *OperationError) (OperationStatus, error) {
	if startErr.Kind != KindServerError {
		status.Server = errd(startErr)
		return status, nil
	}

	h.opCtx.PrepareNextWait()
	errOp := protocol.Operation{Message: protocol.ErrorMessage{Message: startErr.ToProtocolErrorMessage()}}
	if err := h.opCtx.SendOperation(ctx, errOp); err != nil {
		return status, err
	}
	status.Server = errd(startErr)

	state := stateAwaitingErrorAck
	for state != stateDone {
		next, err := h.opCtx.WaitForOperation(ctx)
		if err != nil {
			return status, err
		}
		if next.Name() != protocol.NameErrorAck {
			return status, &ProtocolViolation{
				Reason: fmt.Sprintf("expected %q after an error message, got %q", protocol.NameErrorAck, next.Name()),
			}
		}
		status.Client = ok()
		state = stateDone
	}
	return status, nil
}
