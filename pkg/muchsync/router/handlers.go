package router

import (
	"context"

	"github.com/beyermatthias/muchsyncd/pkg/muchsync/protocol"
)

// PingHandlers builds the HandlerSet for protocol.PingFlow: the
// response carries no data, and any completion message is accepted
// unconditionally since PingFin carries no fields to validate.
func PingHandlers() HandlerSet {
	return HandlerSet{
		NewStartHandler: func() StartHandler {
			return func(_ context.Context, start protocol.Operation) (protocol.Operation, *OperationError) {
				if _, err := protocol.As[protocol.Ping](start); err != nil {
					return protocol.Operation{}, NewClientSentUnexpectedMessage(start.Name(), protocol.NamePing)
				}
				return protocol.Operation{Message: protocol.PingReply{}}, nil
			}
		},
		NewCompleteHandler: func() CompleteHandler {
			return func(_ context.Context, complete protocol.Operation) *OperationError {
				if _, err := protocol.As[protocol.PingFin](complete); err != nil {
					return NewClientSentUnexpectedMessage(complete.Name(), protocol.NamePingFin)
				}
				return nil
			}
		},
	}
}

// StatusHandlers builds the HandlerSet for protocol.StatusFlow. The
// response reports the host process's current wall-clock time via
// center; uptime is not part of the reply.
func StatusHandlers(center ServiceCenterContext) HandlerSet {
	return HandlerSet{
		NewStartHandler: func() StartHandler {
			return func(_ context.Context, start protocol.Operation) (protocol.Operation, *OperationError) {
				if _, err := protocol.As[protocol.Status](start); err != nil {
					return protocol.Operation{}, NewClientSentUnexpectedMessage(start.Name(), protocol.NameStatus)
				}
				reply := protocol.StatusReply{
					Code:    0,
					Message: "ok",
					Time:    uint64(center.NowUTC().UnixNano()),
				}
				return protocol.Operation{Message: reply}, nil
			}
		},
		NewCompleteHandler: func() CompleteHandler {
			return func(_ context.Context, complete protocol.Operation) *OperationError {
				if _, err := protocol.As[protocol.StatusFin](complete); err != nil {
					return NewClientSentUnexpectedMessage(complete.Name(), protocol.NameStatusFin)
				}
				return nil
			}
		},
	}
}
