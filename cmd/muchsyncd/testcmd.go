package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/beyermatthias/muchsyncd/internal/logging"
	"github.com/beyermatthias/muchsyncd/pkg/client"
	"github.com/beyermatthias/muchsyncd/pkg/muchsync/session"
	"github.com/beyermatthias/muchsyncd/pkg/muchsync/transport"
)

func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "run a one-shot Ping and Status round trip against an in-process peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(cmd.Context())
		},
	}
}

func runTest(ctx context.Context) error {
	logger, err := logging.New(true)
	if err != nil {
		return fmt.Errorf("test: building logger: %w", err)
	}
	defer logger.Sync()

	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()

	serverTransport := transport.New(logger, serverReader, serverWriter)
	serverSession := session.New(logger, "test-server", serverTransport, builtinRouter())

	serverCtx, cancelServer := context.WithCancel(ctx)
	defer cancelServer()
	go func() { _ = serverSession.Run(serverCtx) }()

	c := client.Wrap(logger, transport.New(logger, clientReader, clientWriter))
	defer c.Close()

	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.Ping(runCtx); err != nil {
		return fmt.Errorf("test: ping: %w", err)
	}
	fmt.Println("ping: ok")

	status, err := c.Status(runCtx)
	if err != nil {
		return fmt.Errorf("test: status: %w", err)
	}
	fmt.Printf("status: code=%d message=%q time=%s\n", status.Code, status.Message, status.Time.Format(time.RFC3339))
	return nil
}
