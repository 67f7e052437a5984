package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/beyermatthias/muchsyncd/internal/logging"
	"github.com/beyermatthias/muchsyncd/pkg/muchsync/session"
	"github.com/beyermatthias/muchsyncd/pkg/muchsync/transport"
	"github.com/beyermatthias/muchsyncd/pkg/muchsyncio"
)

func newPipeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pipe",
		Short: "speak the protocol over this process's own stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipe(cmd)
		},
	}
}

func runPipe(cmd *cobra.Command) error {
	logger, err := logging.New(false)
	if err != nil {
		return fmt.Errorf("pipe: building logger: %w", err)
	}
	defer logger.Sync()

	stdin, stdout := muchsyncio.Stdio()
	t := transport.New(logger, stdin, stdout)
	s := session.New(logger, "", t, builtinRouter())
	return s.Run(cmd.Context())
}
