// Package client is the initiator-side convenience wrapper around a
// session.Session: the built-in Ping and Status flows exposed as
// plain method calls, plus a cenkalti/backoff-driven retry of the
// initial dial for the Unix-socket transport mode. A connection that
// drops later is not redialed.
package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/beyermatthias/muchsyncd/pkg/muchsync/protocol"
	"github.com/beyermatthias/muchsyncd/pkg/muchsync/router"
	"github.com/beyermatthias/muchsyncd/pkg/muchsync/session"
	"github.com/beyermatthias/muchsyncd/pkg/muchsync/transport"
	"github.com/beyermatthias/muchsyncd/pkg/muchsyncio"
)

// Client drives a single Session as the initiating peer.
type Client struct {
	session *session.Session
	logger  *zap.Logger
	cancel  context.CancelFunc
	done    chan error
}

// emptyRouter answers no remotely-initiated flows; a Client only
// ever starts flows, it never serves them.
func emptyRouter() *router.Router {
	return router.NewBuilder().Build()
}

// Wrap builds a Client, and the Session it drives, around an
// already-connected transport.
func Wrap(logger *zap.Logger, t session.Transporter) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	s := session.New(logger, "", t, emptyRouter())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return &Client{session: s, logger: logger, cancel: cancel, done: done}
}

// DialUnixSocket connects to path with exponential backoff retry,
// wrapping the resulting connection as a Client.
func DialUnixSocket(ctx context.Context, logger *zap.Logger, path string) (*Client, error) {
	var conn net.Conn
	operation := func() error {
		var err error
		conn, err = muchsyncio.DialUnixSocket(path)
		return err
	}

	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, fmt.Errorf("client: dialing %s: %w", path, err)
	}

	t := transport.New(logger, conn, conn)
	return Wrap(logger, t), nil
}

// Close stops the Client's Session and waits for its receive loop to
// exit.
func (c *Client) Close() error {
	c.cancel()
	return <-c.done
}

// Ping exercises the ping flow: send ping, expect pingRsp, send
// pingCmp.
func (c *Client) Ping(ctx context.Context) error {
	opID, resp, err := c.session.StartOperation(ctx, protocol.PingFlow, protocol.Ping{})
	if err != nil {
		return fmt.Errorf("client: ping: %w", err)
	}
	if _, err := protocol.As[protocol.PingReply](resp); err != nil {
		return fmt.Errorf("client: ping: %w", err)
	}
	return c.session.Complete(opID, protocol.PingFin{})
}

// Abort gives up on a flow this Client started, identified by the
// op_id StartOperation returned, instead of sending its normal
// completion message.
func (c *Client) Abort(ctx context.Context, opID uint64, reason string) error {
	if err := c.session.SendError(ctx, opID, reason); err != nil {
		return fmt.Errorf("client: abort: %w", err)
	}
	return nil
}

// StatusResult is the decoded reply to a Status call.
type StatusResult struct {
	Code    int32
	Message string
	Time    time.Time
}

// Status exercises the status flow and decodes its reply.
func (c *Client) Status(ctx context.Context) (StatusResult, error) {
	opID, resp, err := c.session.StartOperation(ctx, protocol.StatusFlow, protocol.Status{})
	if err != nil {
		return StatusResult{}, fmt.Errorf("client: status: %w", err)
	}
	reply, err := protocol.As[protocol.StatusReply](resp)
	if err != nil {
		return StatusResult{}, fmt.Errorf("client: status: %w", err)
	}
	if err := c.session.Complete(opID, protocol.StatusFin{}); err != nil {
		return StatusResult{}, fmt.Errorf("client: status: %w", err)
	}
	return StatusResult{
		Code:    reply.Code,
		Message: reply.Message,
		Time:    time.Unix(0, int64(reply.Time)),
	}, nil
}
