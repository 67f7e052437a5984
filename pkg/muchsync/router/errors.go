package router

import (
	"errors"
	"fmt"
)

// OperationErrorKind distinguishes the two ways a flow's handler
// invocation can fail from the server's side.
type OperationErrorKind int

const (
	// KindClientSentUnexpectedMessage means the peer sent a correct
	// command, just the wrong one for the current state. No protocol
	// error is sent back for this kind (the peer is already
	// malformed; echoing an error risks a loop).
	KindClientSentUnexpectedMessage OperationErrorKind = iota
	// KindServerError means a user-supplied handler returned an
	// error. It is converted into a wire `error` message.
	KindServerError
)

// OperationError is the flow-level error type threaded through
// ServerOperationHandler. It is never a transport or protocol
// violation — those terminate the whole connection, not just one
// flow.
type OperationError struct {
	Kind     OperationErrorKind
	Received string // only set for KindClientSentUnexpectedMessage
	Expected string // only set for KindClientSentUnexpectedMessage
	Cause    error  // only set for KindServerError
}

func NewClientSentUnexpectedMessage(received, expected string) *OperationError {
	return &OperationError{Kind: KindClientSentUnexpectedMessage, Received: received, Expected: expected}
}

func NewServerError(cause error) *OperationError {
	return &OperationError{Kind: KindServerError, Cause: cause}
}

func (e *OperationError) Error() string {
	switch e.Kind {
	case KindClientSentUnexpectedMessage:
		return fmt.Sprintf("the client sent an unexpected message: %q, expected %q", e.Received, e.Expected)
	case KindServerError:
		return fmt.Sprintf("server errored: %v", e.Cause)
	default:
		return "operation error"
	}
}

func (e *OperationError) Unwrap() error { return e.Cause }

// ToProtocolErrorMessage converts a server-side OperationError into
// the wire `error` message sent to the peer. Only ever called for
// KindServerError; ClientSentUnexpectedMessage never produces wire
// traffic (see KindClientSentUnexpectedMessage).
func (e *OperationError) ToProtocolErrorMessage() string {
	return e.Error()
}

// ProtocolViolation reports a condition a flow cannot recover from.
// Returned by HandleOperation (any message other than errorAck
// following an ErrorResponse, or an unregistered start tag), it is
// fatal to the whole connection: the session closes the transport,
// which ends both the Send and Recv tasks. A completion or response
// whose op_id has no pending entry is not reported as one; the session
// logs and drops it like any other unregistered command.
type ProtocolViolation struct {
	Reason string
}

func (e *ProtocolViolation) Error() string { return "protocol violation: " + e.Reason }

// ErrOpIDExhausted is a ProtocolViolation raised by the session when
// the uint32 op-id space is exhausted.
var ErrOpIDExhausted = &ProtocolViolation{Reason: "op-id space exhausted"}

// IsProtocolViolation reports whether err is (or wraps) a
// ProtocolViolation.
func IsProtocolViolation(err error) bool {
	var pv *ProtocolViolation
	return errors.As(err, &pv)
}
