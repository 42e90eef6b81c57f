package quic

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"github.com/nyczol/rabbitmq-amqp1.0-client/pkg/transport"
)

const alpnAMQP = "amqp"

// Dialer carries AMQP frames over a single bidirectional QUIC stream. QUIC
// streams give the same reliable, half-closable byte pipe as TCP, so the
// connection core runs over them unchanged.
type Dialer struct {
	// TLS overrides the default client TLS config (TLS 1.3, ALPN "amqp").
	TLS *tls.Config
	// InsecureSkipVerify disables certificate verification, for test brokers
	// with self-signed certificates.
	InsecureSkipVerify bool
}

func New() *Dialer { return &Dialer{} }

func (d *Dialer) Kind() transport.Kind { return transport.KindQUIC }

func (d *Dialer) Dial(ctx context.Context, address string) (transport.Conn, error) {
	tlsConf := d.TLS
	if tlsConf == nil {
		tlsConf = &tls.Config{
			MinVersion:         tls.VersionTLS13,
			NextProtos:         []string{alpnAMQP},
			InsecureSkipVerify: d.InsecureSkipVerify,
		}
	}
	qc, err := quicgo.DialAddr(ctx, address, tlsConf, &quicgo.Config{})
	if err != nil {
		return nil, err
	}
	st, err := qc.OpenStreamSync(ctx)
	if err != nil {
		_ = qc.CloseWithError(0, "open stream failed")
		return nil, err
	}
	return &conn{qc: qc, st: st}, nil
}

// conn adapts one QUIC stream to transport.Conn. Closing the stream's send
// side is the half-close; the receive side stays readable.
type conn struct {
	qc quicgo.Connection
	st quicgo.Stream
}

func (c *conn) Read(p []byte) (int, error)  { return c.st.Read(p) }
func (c *conn) Write(p []byte) (int, error) { return c.st.Write(p) }

func (c *conn) CloseWrite() error { return c.st.Close() }

func (c *conn) Close() error {
	_ = c.st.Close()
	return c.qc.CloseWithError(0, "")
}

func (c *conn) LocalAddr() net.Addr  { return c.qc.LocalAddr() }
func (c *conn) RemoteAddr() net.Addr { return c.qc.RemoteAddr() }

func (c *conn) SetDeadline(t time.Time) error      { return c.st.SetDeadline(t) }
func (c *conn) SetReadDeadline(t time.Time) error  { return c.st.SetReadDeadline(t) }
func (c *conn) SetWriteDeadline(t time.Time) error { return c.st.SetWriteDeadline(t) }
