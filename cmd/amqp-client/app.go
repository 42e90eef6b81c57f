package main

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/nyczol/rabbitmq-amqp1.0-client/pkg/client"
	"github.com/nyczol/rabbitmq-amqp1.0-client/pkg/config"
	"github.com/nyczol/rabbitmq-amqp1.0-client/pkg/observability"
)

// run is the main entry point after CLI parsing: open a connection, begin the
// requested sessions, then close cooperatively.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	c, err := client.Open(ctx, opts.Address, opts.Port, cfg)
	if err != nil {
		zap.L().Error("open failed", zap.Error(err))
		return 1
	}

	for i := 0; i < opts.Sessions; i++ {
		sctx, cancel := context.WithTimeout(ctx, opts.Timeout)
		sess, err := c.BeginSession(sctx)
		cancel()
		if err != nil {
			zap.L().Error("begin session failed", zap.Error(err))
			c.Close()
			<-c.Done()
			return 1
		}
		zap.L().Info("session begun", zap.Uint16("channel", sess.Channel()))
	}

	if opts.HoldOpen > 0 {
		time.Sleep(opts.HoldOpen)
	}

	c.Close()
	select {
	case <-c.Done():
	case <-time.After(opts.Timeout):
		zap.L().Warn("close handshake timed out")
		return 1
	}
	if err := c.Err(); err != nil {
		zap.L().Error("connection ended with error", zap.Error(err))
		return 1
	}
	zap.L().Info("connection closed cleanly")
	return 0
}
