package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/beyermatthias/muchsyncd/internal/config"
	"github.com/beyermatthias/muchsyncd/internal/logging"
	"github.com/beyermatthias/muchsyncd/pkg/muchsync/protocol"
	"github.com/beyermatthias/muchsyncd/pkg/muchsync/router"
	"github.com/beyermatthias/muchsyncd/pkg/muchsyncio"
	"github.com/beyermatthias/muchsyncd/pkg/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "listen on a Unix domain socket and serve sessions to connecting peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	logger, err := logging.New(false)
	if err != nil {
		return fmt.Errorf("serve: building logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := loadConfigOrDefault(logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	l, err := muchsyncio.ListenUnixSocket(cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer l.Close()

	m := server.New(logger, builtinRouter(), cfg.AcceptRatePerSecond, time.Duration(cfg.IdleTimeoutSeconds)*time.Second)
	logger.Info("serving", zap.String("socket_path", cfg.SocketPath))
	return m.Serve(ctx, l)
}

func loadConfigOrDefault(logger *zap.Logger) (config.Config, error) {
	path, err := config.DiscoverPath(configPathFlag)
	if err != nil {
		return config.Config{}, fmt.Errorf("serve: %w", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		var cfgErr *config.Error
		if errors.As(err, &cfgErr) && cfgErr.Kind == config.ErrDoesNotExist {
			logger.Info("no config file found, using defaults", zap.String("path", path))
			return config.Default(), nil
		}
		return config.Config{}, fmt.Errorf("serve: loading config: %w", err)
	}
	return cfg, nil
}

func builtinRouter() *router.Router {
	return router.NewBuilder().
		WithFlow(protocol.PingFlow, router.PingHandlers()).
		WithFlow(protocol.StatusFlow, router.StatusHandlers(processServiceCenter{})).
		Build()
}
