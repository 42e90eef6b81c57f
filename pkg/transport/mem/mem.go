package mem

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/nyczol/rabbitmq-amqp1.0-client/pkg/transport"
)

// Transport is an in-process transport over io.Pipe pairs. Used by tests that
// need a scripted peer; half-close behaves like TCP (the peer reads EOF).
type Transport struct {
	mu        sync.Mutex
	listeners map[string]*Listener
}

func New() *Transport { return &Transport{listeners: make(map[string]*Listener)} }

func (t *Transport) Kind() transport.Kind { return transport.KindMem }

// Listen registers a named endpoint that Dial can connect to.
func (t *Transport) Listen(name string) (*Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.listeners[name]; ok {
		return nil, errors.New("mem: listener already exists")
	}
	l := &Listener{name: name, newCh: make(chan transport.Conn, 8), closeCh: make(chan struct{})}
	t.listeners[name] = l
	return l, nil
}

func (t *Transport) Dial(ctx context.Context, name string) (transport.Conn, error) {
	t.mu.Lock()
	l := t.listeners[name]
	t.mu.Unlock()
	if l == nil {
		return nil, errors.New("mem: no such listener")
	}
	cli, srv := Pipe(name)
	select {
	case l.newCh <- srv:
	case <-l.closeCh:
		_ = srv.Close()
		return nil, errors.New("mem: listener closed")
	case <-ctx.Done():
		_ = srv.Close()
		return nil, ctx.Err()
	}
	return cli, nil
}

// Listener hands out the server side of dialed pipe pairs.
type Listener struct {
	name    string
	newCh   chan transport.Conn
	closeCh chan struct{}
}

func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, errors.New("mem: listener closed")
	case c := <-l.newCh:
		return c, nil
	}
}

func (l *Listener) Close() error {
	select {
	case <-l.closeCh:
	default:
		close(l.closeCh)
	}
	return nil
}

// Pipe returns two connected Conns. Each direction is an independent io.Pipe,
// so CloseWrite on one side surfaces as io.EOF on the other.
func Pipe(name string) (transport.Conn, transport.Conn) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	a := &conn{name: name, r: ar, w: aw}
	b := &conn{name: name, r: br, w: bw}
	return a, b
}

type conn struct {
	name string
	r    *io.PipeReader
	w    *io.PipeWriter

	closeOnce sync.Once
}

func (c *conn) Read(p []byte) (int, error)  { return c.r.Read(p) }
func (c *conn) Write(p []byte) (int, error) { return c.w.Write(p) }

func (c *conn) CloseWrite() error { return c.w.Close() }

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.w.Close()
		_ = c.r.Close()
	})
	return nil
}

func (c *conn) LocalAddr() net.Addr  { return addr(c.name) }
func (c *conn) RemoteAddr() net.Addr { return addr(c.name) }

// Pipes carry no deadlines; tests wrap calls in contexts instead.
func (c *conn) SetDeadline(time.Time) error      { return nil }
func (c *conn) SetReadDeadline(time.Time) error  { return nil }
func (c *conn) SetWriteDeadline(time.Time) error { return nil }

type addr string

func (a addr) Network() string { return "mem" }
func (a addr) String() string  { return string(a) }
