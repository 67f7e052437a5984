package server_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beyermatthias/muchsyncd/pkg/client"
	"github.com/beyermatthias/muchsyncd/pkg/muchsync/protocol"
	"github.com/beyermatthias/muchsyncd/pkg/muchsync/router"
	"github.com/beyermatthias/muchsyncd/pkg/muchsyncio"
	"github.com/beyermatthias/muchsyncd/pkg/server"
)

func pingRouter() *router.Router {
	return router.NewBuilder().WithFlow(protocol.PingFlow, router.PingHandlers()).Build()
}

func TestServeAcceptsAndRunsSessions(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "test.sock")

	l, err := muchsyncio.ListenUnixSocket(sockPath)
	require.NoError(t, err)
	defer l.Close()

	logger := zap.NewNop()
	m := server.New(logger, pingRouter(), 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Serve(ctx, l) }()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dialCancel()
	c, err := client.DialUnixSocket(dialCtx, logger, sockPath)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Ping(dialCtx))
	assert.Eventually(t, func() bool { return m.SessionCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestServeReturnsNilWhenContextCancelled(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "test.sock")
	l, err := muchsyncio.ListenUnixSocket(sockPath)
	require.NoError(t, err)

	m := server.New(zap.NewNop(), pingRouter(), 0, 0)
	ctx, cancel := context.WithCancel(context.Background())

	serveErr := make(chan error, 1)
	go func() { serveErr <- m.Serve(ctx, l) }()

	cancel()
	select {
	case err := <-serveErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}
