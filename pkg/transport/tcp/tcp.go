package tcp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/nyczol/rabbitmq-amqp1.0-client/pkg/transport"
)

// Dialer is the default transport: plain TCP with native half-close.
type Dialer struct {
	Timeout time.Duration
}

func New() *Dialer { return &Dialer{} }

func (d *Dialer) Kind() transport.Kind { return transport.KindTCP }

func (d *Dialer) Dial(ctx context.Context, address string) (transport.Conn, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	c, err := nd.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	tc, ok := c.(*net.TCPConn)
	if !ok {
		_ = c.Close()
		return nil, fmt.Errorf("unexpected connection type %T", c)
	}
	return tc, nil
}
