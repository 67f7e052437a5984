package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/beyermatthias/muchsyncd/pkg/muchsync/protocol"
	"github.com/beyermatthias/muchsyncd/pkg/muchsync/router"
	"github.com/beyermatthias/muchsyncd/pkg/muchsync/transport"
)

// maxConcurrentRemoteFlows bounds how many peer-initiated flows this
// Session drives at once. A start that arrives while every slot is
// taken waits for one in its own goroutine, so the receive loop keeps
// reading and can still deliver completions to the flows holding the
// slots.
const maxConcurrentRemoteFlows = 3

// Transporter is the subset of *transport.Transport a Session needs.
// Narrowing it to an interface lets tests drive a Session with an
// in-memory double instead of real pipes.
type Transporter interface {
	Send(protocol.Payload) error
	Recv() (protocol.Payload, error)
	Close() error
}

var _ Transporter = (*transport.Transport)(nil)

// Session multiplexes every concurrent flow — whichever side started
// it — over one Transporter. Locally-initiated operations register in
// the pending table under an op_id this Session allocated; remotely
// -initiated ones register under whatever op_id the peer chose. Both
// share the same table because op_id is unique per flow instance
// regardless of who started it.
type Session struct {
	ID     string
	logger *zap.Logger

	transport Transporter
	router    *router.Router

	pending   *PendingTable
	allocator opIDAllocator
	sendBuf   *sendBuffer

	// pendingMu guards prepared, the set of completion sinks that a
	// ServerOperationHandler has registered via PrepareNextWait ahead
	// of sending the message that will prompt them, so WaitForOperation
	// can pick up the same sink instead of registering again too late.
	pendingMu sync.Mutex
	prepared  map[uint64]<-chan protocol.Operation

	remoteSlots  chan struct{}
	lastActivity atomic.Value // time.Time
}

// New creates a Session identified by id, or a random one if id is
// empty.
func New(logger *zap.Logger, id string, t Transporter, r *router.Router) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	s := &Session{
		ID:          id,
		logger:      logger.With(zap.String("session_id", id)),
		transport:   t,
		router:      r,
		pending:     NewPendingTable(),
		sendBuf:     newSendBuffer(),
		remoteSlots: make(chan struct{}, maxConcurrentRemoteFlows),
	}
	s.touch()
	return s
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now())
}

// LastActivity reports when this Session last sent or received a
// Payload, for idle-session cleanup.
func (s *Session) LastActivity() time.Time {
	return s.lastActivity.Load().(time.Time)
}

// Run launches the Send task and the receive loop side by side and
// blocks until the transport closes cleanly, ctx is cancelled, or a
// router.ProtocolViolation is raised by a misbehaving peer. A clean
// shutdown (peer closed the stream, or ctx cancellation) returns nil;
// any other condition is returned as an error.
//
// A clean receive-side EOF does not by itself cancel gctx under
// errgroup's own rules (only a non-nil return or Wait itself does),
// so Run cancels explicitly on the way out of the receive loop —
// otherwise the Send task and the close-on-cancel goroutine would
// both sit blocked on gctx.Done() forever after a peer hangs up
// cleanly.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return s.transport.Close()
	})

	g.Go(func() error {
		return s.sendLoop(gctx)
	})

	g.Go(func() error {
		err := s.recvLoop(gctx)
		cancel()
		return err
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// sendLoop is the Send task: the single goroutine that actually
// writes to the transport, draining sendBuf in FIFO order so
// concurrent callers of StartOperation/Complete/SendError never
// interleave their writes.
func (s *Session) sendLoop(ctx context.Context) error {
	for {
		req, ok := s.sendBuf.peek()
		if !ok {
			select {
			case <-s.sendBuf.ready:
				continue
			case <-ctx.Done():
				s.sendBuf.close(ctx.Err())
				return nil
			}
		}

		err := s.transport.Send(req.payload)
		s.sendBuf.pop()
		if err == nil {
			s.touch()
		}
		req.result <- err
		if err != nil {
			s.sendBuf.close(err)
			return err
		}
	}
}

// enqueueSend hands payload to the Send task and blocks for the
// outcome of its write, preserving the synchronous contract every
// caller already has while funneling the actual I/O through one
// goroutine.
func (s *Session) enqueueSend(payload protocol.Payload) error {
	req := &sendRequest{payload: payload, result: make(chan error, 1)}
	s.sendBuf.push(req)
	return <-req.result
}

func (s *Session) recvLoop(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	// Runs before wg.Wait, releasing flows still waiting on the peer.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		payload, err := s.transport.Recv()
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownCommand) {
				s.logger.Warn("dropping operation with an unknown command", zap.Error(err))
				continue
			}
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.touch()

		if s.pending.Resolve(payload.OpID, payload.Operation) {
			continue
		}

		name := payload.Operation.Name()
		if !s.router.CanHandle(name) {
			s.logger.Warn("dropping operation for an unregistered command",
				zap.String("command", name), zap.Uint64("op_id", payload.OpID))
			continue
		}

		wg.Add(1)
		go func(opID uint64, start protocol.Operation) {
			defer wg.Done()
			select {
			case s.remoteSlots <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-s.remoteSlots }()
			s.driveRemoteFlow(ctx, opID, start)
		}(payload.OpID, payload.Operation)
	}
}

func (s *Session) driveRemoteFlow(ctx context.Context, opID uint64, start protocol.Operation) {
	opCtx := &operationContext{session: s, opID: opID}
	status, err := s.router.HandleOperation(ctx, opCtx, start)
	if err != nil {
		s.logger.Error("flow ended in a protocol violation", zap.Uint64("op_id", opID), zap.Error(err))
		_ = s.transport.Close()
		return
	}
	logFlowOutcome(s.logger, opID, status)
}

func logFlowOutcome(logger *zap.Logger, opID uint64, status router.OperationStatus) {
	fields := []zap.Field{zap.Uint64("op_id", opID)}
	if status.Server != nil && status.Server.Err != nil {
		fields = append(fields, zap.NamedError("server_err", status.Server.Err))
	}
	if status.Client != nil && status.Client.Err != nil {
		fields = append(fields, zap.NamedError("client_err", status.Client.Err))
	}
	logger.Debug("flow concluded", fields...)
}

// StartOperation sends start as a new locally-initiated operation and
// blocks for its response. If flow has a completion message, the
// caller must follow up with Complete using the returned opID.
func (s *Session) StartOperation(ctx context.Context, flow protocol.Flow, start protocol.Message) (uint64, protocol.Operation, error) {
	opID, err := s.allocator.allocate()
	if err != nil {
		return 0, protocol.Operation{}, err
	}

	sink := s.pending.Register(opID, WaitingForResponse)
	if err := s.enqueueSend(protocol.Payload{OpID: opID, Operation: protocol.Operation{Message: start}}); err != nil {
		s.pending.Forget(opID)
		return 0, protocol.Operation{}, err
	}

	select {
	case op := <-sink:
		if op.Name() != flow.ResponseName {
			return opID, op, router.NewClientSentUnexpectedMessage(op.Name(), flow.ResponseName)
		}
		return opID, op, nil
	case <-ctx.Done():
		s.pending.Forget(opID)
		return opID, protocol.Operation{}, ctx.Err()
	}
}

// Complete sends complete to close out opID's flow, previously opened
// with StartOperation.
func (s *Session) Complete(opID uint64, complete protocol.Message) error {
	return s.enqueueSend(protocol.Payload{OpID: opID, Operation: protocol.Operation{Message: complete}})
}

// SendError aborts opID's flow instead of completing it normally: it
// sends an `error` Payload reusing the flow's op-id, waits for the
// peer's `errorAck`, and reports the flow closed. This is the
// initiator-side counterpart of the responder-side error path a
// ServerOperationHandler already takes when its start handler fails
// (see router.driveError).
func (s *Session) SendError(ctx context.Context, opID uint64, reason string) error {
	sink := s.pending.Register(opID, WaitingForErrorAck)
	if err := s.enqueueSend(protocol.Payload{OpID: opID, Operation: protocol.Operation{Message: protocol.ErrorMessage{Message: reason}}}); err != nil {
		s.pending.Forget(opID)
		return err
	}

	select {
	case op := <-sink:
		if op.Name() != protocol.NameErrorAck {
			return router.NewClientSentUnexpectedMessage(op.Name(), protocol.NameErrorAck)
		}
		return nil
	case <-ctx.Done():
		s.pending.Forget(opID)
		return ctx.Err()
	}
}

// Close tears down the underlying transport, unblocking Run.
func (s *Session) Close() error {
	return s.transport.Close()
}

// operationContext adapts a Session and a single op_id into the
// router.OperationContext a driven flow needs.
type operationContext struct {
	session *Session
	opID    uint64
}

// PrepareNextWait registers this flow's interest in its next message
// before the caller sends the Payload that prompts it, so a fast
// peer's reply can never arrive in the window between the send and a
// later WaitForOperation call. It is safe to call at most once per
// sent message; WaitForOperation reuses the sink it installs here if
// present, and falls back to registering lazily itself otherwise.
func (c *operationContext) PrepareNextWait() {
	c.session.pendingMu.Lock()
	defer c.session.pendingMu.Unlock()
	if c.session.prepared == nil {
		c.session.prepared = make(map[uint64]<-chan protocol.Operation)
	}
	c.session.prepared[c.opID] = c.session.pending.Register(c.opID, WaitingForCompletion)
}

func (c *operationContext) SendOperation(_ context.Context, op protocol.Operation) error {
	return c.session.enqueueSend(protocol.Payload{OpID: c.opID, Operation: op})
}

func (c *operationContext) WaitForOperation(ctx context.Context) (protocol.Operation, error) {
	c.session.pendingMu.Lock()
	sink, ok := c.session.prepared[c.opID]
	if ok {
		delete(c.session.prepared, c.opID)
	}
	c.session.pendingMu.Unlock()
	if !ok {
		sink = c.session.pending.Register(c.opID, WaitingForCompletion)
	}

	select {
	case op := <-sink:
		return op, nil
	case <-ctx.Done():
		c.session.pending.Forget(c.opID)
		return protocol.Operation{}, ctx.Err()
	}
}
