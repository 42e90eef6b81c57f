// Package client provisions a connection's supervision subtree: it dials the
// transport, starts the reader and connection actors plus the session
// supervisor, and wires them together.
package client

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/nyczol/rabbitmq-amqp1.0-client/pkg/config"
	"github.com/nyczol/rabbitmq-amqp1.0-client/pkg/conn"
	"github.com/nyczol/rabbitmq-amqp1.0-client/pkg/session"
	"github.com/nyczol/rabbitmq-amqp1.0-client/pkg/transport"
	"github.com/nyczol/rabbitmq-amqp1.0-client/pkg/transport/quic"
	"github.com/nyczol/rabbitmq-amqp1.0-client/pkg/transport/tcp"
)

// Open dials address:port and returns the connection handle once its
// companion reader and session supervisor are wired together. The handshake
// proceeds in the background; BeginSession blocks until it completes.
func Open(ctx context.Context, address string, port int, cfg *config.Config) (*conn.Connection, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	dialer, err := dialerFor(cfg.Transport)
	if err != nil {
		return nil, err
	}

	dctx := ctx
	if cfg.Transport.DialTimeoutMS > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Transport.DialTimeoutMS)*time.Millisecond)
		defer cancel()
	}
	sock, err := dialer.Dial(dctx, net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("dial %s:%d: %w", address, port, err)
	}

	log := zap.L().Named("amqp")
	c := conn.New(OpenOptions(address, cfg), log)
	rd := conn.NewReader(sock, log.Named("reader"))
	sup := session.NewSupervisor(0, log.Named("session"))

	go c.Run()
	go rd.Run()
	c.Bind(sup, rd)
	return c, nil
}

// OpenOptions maps the static configuration onto the connection's Open-frame
// values, generating a container id when none is configured.
func OpenOptions(address string, cfg *config.Config) conn.Options {
	containerID := cfg.ContainerID
	if containerID == "" {
		containerID = "client-" + randomSuffix()
	}
	hostname := cfg.Hostname
	if hostname == "" {
		hostname = address
	}
	return conn.Options{
		ContainerID:  containerID,
		Hostname:     hostname,
		MaxFrameSize: cfg.MaxFrameSize,
		ChannelMax:   cfg.ChannelMax,
		IdleTimeout:  cfg.IdleTimeoutMS,
		Properties: map[string]any{
			"product":  cfg.Properties.Product,
			"version":  cfg.Properties.Version,
			"platform": cfg.Properties.Platform,
		},
	}
}

func dialerFor(tc config.TransportConfig) (transport.Dialer, error) {
	switch tc.Kind {
	case "", "tcp":
		return tcp.New(), nil
	case "quic":
		d := quic.New()
		d.InsecureSkipVerify = tc.InsecureSkipVerify
		return d, nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", tc.Kind)
	}
}

func randomSuffix() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(b[:])
}
