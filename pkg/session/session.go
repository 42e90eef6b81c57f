// Package session holds the session supervisor and the session actors it
// starts on behalf of a connection. Everything past "a session exists on a
// channel" (links, transfers, flow control) lives above this package.
package session

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/nyczol/rabbitmq-amqp1.0-client/pkg/protocol"
)

var (
	// ErrSupervisorClosed is returned when admission is attempted after the
	// supervision subtree was torn down.
	ErrSupervisorClosed = errors.New("session supervisor closed")
	// ErrSessionLimit is returned when the supervisor's active-session limit
	// is reached.
	ErrSessionLimit = errors.New("session limit reached")
	// ErrChannelInUse guards against a channel number being started twice.
	ErrChannelInUse = errors.New("channel already in use")
)

// FrameRouter is the inbound side a session binds to: the connection's reader.
// Frames arriving for a registered channel are delivered to that session
// instead of the connection state machine.
type FrameRouter interface {
	// RegisterChannel routes inbound frames for channel to the returned
	// queue until UnregisterChannel is called.
	RegisterChannel(channel uint16) <-chan *protocol.Frame
	UnregisterChannel(channel uint16)
}

// Supervisor starts and owns session actors, keyed by channel number. It is
// the subtree the connection tears down on normal termination.
type Supervisor struct {
	mu       sync.Mutex
	sessions map[uint16]*Session
	limit    int // 0 means unlimited
	closed   bool
	log      *zap.Logger
}

// NewSupervisor returns a supervisor that refuses to start more than limit
// concurrent sessions; limit 0 means unlimited.
func NewSupervisor(limit int, log *zap.Logger) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{sessions: make(map[uint16]*Session), limit: limit, log: log}
}

// Start launches a session actor bound to channel, receiving its frames from
// r. The failure reason is returned verbatim to the admission caller.
func (s *Supervisor) Start(channel uint16, r FrameRouter) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSupervisorClosed
	}
	if s.limit > 0 && len(s.sessions) >= s.limit {
		return nil, ErrSessionLimit
	}
	if _, ok := s.sessions[channel]; ok {
		return nil, ErrChannelInUse
	}

	sess := &Session{
		channel: channel,
		router:  r,
		log:     s.log.With(zap.Uint16("channel", channel)),
		done:    make(chan struct{}),
		release: func() { s.remove(channel) },
	}
	sess.in = r.RegisterChannel(channel)
	s.sessions[channel] = sess
	go sess.run()
	s.log.Debug("session started", zap.Uint16("channel", channel))
	return sess, nil
}

func (s *Supervisor) remove(channel uint16) {
	s.mu.Lock()
	delete(s.sessions, channel)
	s.mu.Unlock()
}

// Active returns the number of live sessions.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown closes every session and refuses further starts. Called by the
// connection on normal termination.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
}

// Session is one admitted channel: an independent actor draining the frames
// the reader routes to it. Its protocol behavior is out of scope here.
type Session struct {
	channel uint16
	router  FrameRouter
	in      <-chan *protocol.Frame
	log     *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
	release   func()
}

// Channel returns the channel number assigned at admission. Channel numbers
// are never reused within a connection's lifetime.
func (s *Session) Channel() uint16 { return s.channel }

// Done is closed once the session actor has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) run() {
	defer close(s.done)
	for f := range s.in {
		// Session-level performatives are not handled at this layer yet.
		s.log.Debug("session frame", zap.Any("body", f.Body))
	}
}

// Close detaches the session from the reader and stops its actor.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.router.UnregisterChannel(s.channel)
		s.release()
		s.log.Debug("session closed")
	})
}
