package conn

import (
	"bufio"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/nyczol/rabbitmq-amqp1.0-client/pkg/protocol"
	"github.com/nyczol/rabbitmq-amqp1.0-client/pkg/transport"
)

// sessionQueueSize bounds each session's inbound frame queue; the reader
// never blocks on a slow session.
const sessionQueueSize = 16

// Reader owns the read half of the transport: it blocks on the socket,
// decodes, and forwards everything to the connection actor's inbox. Frames
// for channels with a live session are routed to that session instead.
type Reader struct {
	sock transport.Conn
	log  *zap.Logger

	bindOnce sync.Once
	bound    chan struct{}
	conn     *Connection

	mu   sync.Mutex
	subs map[uint16]chan *protocol.Frame

	stopOnce sync.Once
}

// NewReader wraps the freshly dialed socket. The reader holds it until the
// connection is bound, then hands over the write half and keeps reading.
func NewReader(sock transport.Conn, log *zap.Logger) *Reader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reader{
		sock:  sock,
		log:   log,
		bound: make(chan struct{}),
		subs:  make(map[uint16]chan *protocol.Frame),
	}
}

// bind is the one-time "this is your owning connection" call, made by the
// connection actor while processing its bind event.
func (r *Reader) bind(c *Connection) {
	r.bindOnce.Do(func() {
		r.conn = c
		close(r.bound)
	})
}

// Stop closes the socket, unblocking the read loop. Called by the connection
// on normal teardown.
func (r *Reader) Stop() {
	r.stopOnce.Do(func() {
		_ = r.sock.Close()
	})
}

// Run blocks on socket reads until the transport fails or is closed. It never
// mutates connection state directly; everything goes through the inbox.
func (r *Reader) Run() {
	<-r.bound
	c := r.conn
	defer r.closeSubs()

	c.deliver(socketDelivered{sock: r.sock})

	br := bufio.NewReader(r.sock)
	var hb [8]byte
	if _, err := io.ReadFull(br, hb[:]); err != nil {
		c.deliver(transportFailed{err: err})
		return
	}
	var hdr protocol.ProtoHeader
	if err := hdr.UnmarshalBinary(hb[:]); err != nil {
		c.deliver(transportFailed{err: err})
		return
	}
	c.deliver(headerReceived{hdr: hdr})

	for {
		f, err := protocol.ReadFrame(br)
		if err != nil {
			c.deliver(transportFailed{err: err})
			return
		}
		if r.routeToSession(f) {
			continue
		}
		c.deliver(frameDelivered{frame: f})
	}
}

// routeToSession hands content frames to the session registered on their
// channel. Open and Close always go to the connection, whatever the channel.
func (r *Reader) routeToSession(f *protocol.Frame) bool {
	switch f.Body.(type) {
	case *protocol.Open, *protocol.Close:
		return false
	}
	// The send stays under the lock so an unregister cannot close the queue
	// mid-send; it never blocks, so the lock is held only briefly.
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.subs[f.Channel]
	if !ok {
		return false
	}
	select {
	case ch <- f:
	default:
		r.log.Warn("session queue full, frame dropped", zap.Uint16("channel", f.Channel))
	}
	return true
}

// RegisterChannel implements session.FrameRouter.
func (r *Reader) RegisterChannel(channel uint16) <-chan *protocol.Frame {
	ch := make(chan *protocol.Frame, sessionQueueSize)
	r.mu.Lock()
	r.subs[channel] = ch
	r.mu.Unlock()
	return ch
}

// UnregisterChannel implements session.FrameRouter.
func (r *Reader) UnregisterChannel(channel uint16) {
	r.mu.Lock()
	ch, ok := r.subs[channel]
	if ok {
		delete(r.subs, channel)
	}
	r.mu.Unlock()
	if ok {
		close(ch)
	}
}

// closeSubs ends every session's frame queue once the read loop exits.
func (r *Reader) closeSubs() {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[uint16]chan *protocol.Frame)
	r.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
}
