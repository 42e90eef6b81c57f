// Package conn implements the connection-establishment and lifecycle state
// machine: one actor per connection, driven by an ordered event inbox, owning
// the write half of the transport and the admission of sessions onto channels.
package conn

import (
	"context"
	"errors"
	"io"
	"net"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/nyczol/rabbitmq-amqp1.0-client/pkg/protocol"
	"github.com/nyczol/rabbitmq-amqp1.0-client/pkg/session"
	"github.com/nyczol/rabbitmq-amqp1.0-client/pkg/transport"
)

// State is the connection lifecycle position, readable from any goroutine.
type State int32

const (
	StateExpectingSocket State = iota
	StateExpectingProtocolHeader
	StateExpectingOpenFrame
	StateOpened
	StateExpectingCloseFrame
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateExpectingSocket:
		return "expecting_socket"
	case StateExpectingProtocolHeader:
		return "expecting_protocol_header"
	case StateExpectingOpenFrame:
		return "expecting_open_frame"
	case StateOpened:
		return "opened"
	case StateExpectingCloseFrame:
		return "expecting_close_frame"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrConnectionClosed answers any begin-session request that can no
	// longer be admitted because the connection is closing or closed.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrChannelMaxReached is returned once the advertised channel-max is
	// exhausted; channel numbers are never reused, so the connection is full.
	ErrChannelMaxReached = errors.New("channel-max reached")
	// ErrNotBound means admission ran before companion actors were wired.
	ErrNotBound = errors.New("companion actors not bound")
)

// Options are the static Open-frame values, supplied at construction instead
// of read from ambient application metadata.
type Options struct {
	ContainerID  string
	Hostname     string
	MaxFrameSize uint32
	ChannelMax   uint16
	IdleTimeout  uint32
	Properties   map[string]any
}

// Connection is the per-connection actor. All fields below the inbox are
// owned exclusively by the Run loop; external goroutines interact only
// through events and the atomics.
type Connection struct {
	opts Options
	log  *zap.Logger

	events chan event
	done   chan struct{}

	st      atomic.Int32
	termErr atomic.Error

	// actor-owned state
	sock        transport.Conn
	rd          *Reader
	sup         *session.Supervisor
	nextChannel uint32 // wider than the wire type so channel-max 65535 cannot wrap
	pending     []*beginRequest
}

// New constructs a connection actor in expecting_socket. Call Run to start it.
func New(opts Options, log *zap.Logger) *Connection {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Connection{
		opts:        opts,
		log:         log,
		events:      make(chan event, 16),
		done:        make(chan struct{}),
		nextChannel: 1,
	}
	c.st.Store(int32(StateExpectingSocket))
	return c
}

// State returns the current lifecycle state.
func (c *Connection) State() State { return State(c.st.Load()) }

// Done is closed when the actor has terminated, normally or not.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Err returns the abnormal termination reason, or nil after a normal close.
func (c *Connection) Err() error { return c.termErr.Load() }

// Bind supplies the companion actors. Must happen before any admission can
// succeed; requests arriving earlier are queued, not rejected.
func (c *Connection) Bind(sup *session.Supervisor, rd *Reader) {
	c.deliver(bindCompanions{sup: sup, rd: rd})
}

// Close requests a graceful shutdown. Fire-and-forget.
func (c *Connection) Close() {
	c.deliver(closeRequested{})
}

// BeginSession blocks until the connection admits a session or is confirmed
// closed. Cancelling ctx stops the wait only; the state machine itself is
// unaffected and will still resolve the request internally.
func (c *Connection) BeginSession(ctx context.Context) (*session.Session, error) {
	req := &beginRequest{reply: make(chan beginResult, 1)}
	if !c.deliver(beginSessionRequested{req: req}) {
		return nil, ErrConnectionClosed
	}
	select {
	case res := <-req.reply:
		return res.sess, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		// The actor resolves every request it saw before terminating, so a
		// reply produced before shutdown is already buffered here.
		select {
		case res := <-req.reply:
			return res.sess, res.err
		default:
			return nil, ErrConnectionClosed
		}
	}
}

// deliver enqueues an event, reporting false if the actor already terminated.
func (c *Connection) deliver(ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// Run processes events one at a time to completion until termination. It must
// run in its own goroutine; nothing else may touch actor-owned state.
func (c *Connection) Run() {
	for ev := range c.events {
		if stop := c.handle(ev); stop {
			return
		}
	}
}

func (c *Connection) handle(ev event) (stop bool) {
	switch ev := ev.(type) {
	case bindCompanions:
		c.sup = ev.sup
		c.rd = ev.rd
		c.rd.bind(c)
		return false

	case beginSessionRequested:
		return c.handleBegin(ev.req)

	case closeRequested:
		return c.handleLocalClose()

	case socketDelivered:
		return c.handleSocket(ev.sock)

	case headerReceived:
		return c.handleHeader(ev.hdr)

	case frameDelivered:
		return c.handleFrame(ev.frame)

	case transportFailed:
		if c.State() == StateExpectingCloseFrame {
			// Peer dropped instead of replying Close; the connection was
			// going away anyway.
			return c.terminateNormal()
		}
		return c.terminateAbnormal(ev.err)

	default:
		c.log.Warn("unhandled event", zap.Any("event", ev))
		return false
	}
}

func (c *Connection) handleBegin(req *beginRequest) (stop bool) {
	switch c.State() {
	case StateOpened:
		sess, err := c.admit()
		req.reply <- beginResult{sess: sess, err: err}
	case StateExpectingSocket, StateExpectingProtocolHeader, StateExpectingOpenFrame:
		c.pending = append(c.pending, req)
	default:
		req.reply <- beginResult{err: ErrConnectionClosed}
	}
	return false
}

// admit allocates the next channel and asks the supervisor for a session
// actor. On failure the channel counter is untouched and the reason goes back
// to the caller verbatim.
func (c *Connection) admit() (*session.Session, error) {
	if c.sup == nil || c.rd == nil {
		return nil, ErrNotBound
	}
	if c.nextChannel > uint32(c.opts.ChannelMax) {
		return nil, ErrChannelMaxReached
	}
	sess, err := c.sup.Start(uint16(c.nextChannel), c.rd)
	if err != nil {
		return nil, err
	}
	c.nextChannel++
	return sess, nil
}

func (c *Connection) handleLocalClose() (stop bool) {
	switch c.State() {
	case StateOpened:
		if err := c.sendFrame(0, &protocol.Close{}); err != nil {
			if isClosedTransport(err) {
				// Transport already gone; nothing left to hand-shake.
				return c.terminateNormal()
			}
			return c.terminateAbnormal(err)
		}
		// Half-close: done writing, still reading the peer's Close.
		if err := c.sock.CloseWrite(); err != nil {
			c.log.Debug("close write", zap.Error(err))
		}
		c.setState(StateExpectingCloseFrame)
		return false
	case StateExpectingCloseFrame, StateClosed:
		return false
	default:
		// Never opened; nothing to hand-shake with the peer.
		return c.terminateNormal()
	}
}

func (c *Connection) handleSocket(sock transport.Conn) (stop bool) {
	if c.State() != StateExpectingSocket {
		c.log.Warn("socket delivered twice", zap.Stringer("state", c.State()))
		return false
	}
	c.sock = sock
	hdr := protocol.LocalProtoHeader()
	if _, err := c.sock.Write(hdr[:]); err != nil {
		return c.terminateAbnormal(err)
	}
	c.setState(StateExpectingProtocolHeader)
	return false
}

func (c *Connection) handleHeader(hdr protocol.ProtoHeader) (stop bool) {
	if c.State() != StateExpectingProtocolHeader {
		c.log.Debug("stray protocol header", zap.Stringer("state", c.State()))
		return false
	}
	if !hdr.Supported() {
		// Version negotiation is not re-attempted.
		c.log.Info("unsupported protocol version", zap.Stringer("version", hdr))
		return c.terminateNormal()
	}
	open := &protocol.Open{
		ContainerID:  c.opts.ContainerID,
		Hostname:     c.opts.Hostname,
		MaxFrameSize: c.opts.MaxFrameSize,
		ChannelMax:   c.opts.ChannelMax,
		IdleTimeout:  c.opts.IdleTimeout,
		Properties:   c.opts.Properties,
	}
	if err := c.sendFrame(0, open); err != nil {
		return c.terminateAbnormal(err)
	}
	c.setState(StateExpectingOpenFrame)
	return false
}

func (c *Connection) handleFrame(f *protocol.Frame) (stop bool) {
	switch c.State() {
	case StateExpectingOpenFrame:
		if open, ok := f.Body.(*protocol.Open); ok {
			c.log.Info("connection opened",
				zap.String("container_id", open.ContainerID),
				zap.Uint16("channel_max", open.ChannelMax))
			c.setState(StateOpened)
			c.drainPending()
			return false
		}
		c.log.Debug("frame before open ignored", zap.Any("body", f.Body))
		return false

	case StateOpened:
		switch f.Body.(type) {
		case *protocol.Close:
			// Reply Close is best-effort; the peer may already be gone.
			if err := c.sendFrame(0, &protocol.Close{}); err != nil {
				c.log.Debug("close reply", zap.Error(err))
			}
			return c.terminateNormal()
		default:
			// Content-level frames are not this layer's business.
			c.log.Debug("frame ignored", zap.Uint16("channel", f.Channel), zap.Any("body", f.Body))
			return false
		}

	case StateExpectingCloseFrame:
		if _, ok := f.Body.(*protocol.Close); ok {
			return c.terminateNormal()
		}
		c.log.Debug("frame while closing ignored", zap.Any("body", f.Body))
		return false

	default:
		c.log.Debug("frame in unexpected state ignored", zap.Stringer("state", c.State()))
		return false
	}
}

// drainPending replays queued begin-session requests in arrival order,
// answering each with its own admission result.
func (c *Connection) drainPending() {
	for _, req := range c.pending {
		sess, err := c.admit()
		req.reply <- beginResult{sess: sess, err: err}
	}
	c.pending = nil
}

func (c *Connection) sendFrame(channel uint16, p protocol.Performative) error {
	buf, err := protocol.EncodeFrame(channel, p)
	if err != nil {
		return err
	}
	_, err = c.sock.Write(buf)
	return err
}

func (c *Connection) setState(s State) {
	c.st.Store(int32(s))
	c.log.Debug("state", zap.Stringer("state", s))
}

// terminateNormal ends the actor and tears down the owned subtree: the
// supervisor stops its sessions and the reader releases the socket.
func (c *Connection) terminateNormal() bool {
	c.log.Info("connection closed")
	if c.sup != nil {
		c.sup.Shutdown()
	}
	if c.rd != nil {
		c.rd.Stop()
	}
	c.finish(nil)
	return true
}

// terminateAbnormal ends the actor without touching the subtree; what happens
// to reader and sessions after a protocol error is the outer supervisor's
// policy.
func (c *Connection) terminateAbnormal(err error) bool {
	c.log.Error("connection failed", zap.Error(err))
	c.finish(err)
	return true
}

func (c *Connection) finish(err error) {
	c.setState(StateClosed)
	if err != nil {
		c.termErr.Store(err)
	}
	for _, req := range c.pending {
		req.reply <- beginResult{err: ErrConnectionClosed}
	}
	c.pending = nil
	// Answer requests still sitting in the inbox before anyone can block on
	// them.
	for {
		select {
		case ev := <-c.events:
			if b, ok := ev.(beginSessionRequested); ok {
				b.req.reply <- beginResult{err: ErrConnectionClosed}
			}
		default:
			close(c.done)
			return
		}
	}
}

// isClosedTransport matches "already closed" write failures, which end the
// connection normally rather than as a protocol error.
func isClosedTransport(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
