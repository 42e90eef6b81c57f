package session_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nyczol/rabbitmq-amqp1.0-client/pkg/protocol"
	"github.com/nyczol/rabbitmq-amqp1.0-client/pkg/session"
)

// fakeRouter records channel registrations the way the connection's reader
// would serve them.
type fakeRouter struct {
	mu     sync.Mutex
	queues map[uint16]chan *protocol.Frame
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{queues: make(map[uint16]chan *protocol.Frame)}
}

func (r *fakeRouter) RegisterChannel(channel uint16) <-chan *protocol.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan *protocol.Frame, 4)
	r.queues[channel] = ch
	return ch
}

func (r *fakeRouter) UnregisterChannel(channel uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.queues[channel]; ok {
		delete(r.queues, channel)
		close(ch)
	}
}

func (r *fakeRouter) registered(channel uint16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.queues[channel]
	return ok
}

func TestSupervisorStartAndClose(t *testing.T) {
	r := newFakeRouter()
	sup := session.NewSupervisor(0, zaptest.NewLogger(t))

	s, err := sup.Start(1, r)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), s.Channel())
	assert.True(t, r.registered(1))
	assert.Equal(t, 1, sup.Active())

	s.Close()
	assert.False(t, r.registered(1))
	assert.Equal(t, 0, sup.Active())
	<-s.Done()
}

func TestSupervisorRefusesDuplicateChannel(t *testing.T) {
	r := newFakeRouter()
	sup := session.NewSupervisor(0, zaptest.NewLogger(t))

	_, err := sup.Start(3, r)
	require.NoError(t, err)
	_, err = sup.Start(3, r)
	assert.ErrorIs(t, err, session.ErrChannelInUse)
}

func TestSupervisorLimit(t *testing.T) {
	r := newFakeRouter()
	sup := session.NewSupervisor(2, zaptest.NewLogger(t))

	s1, err := sup.Start(1, r)
	require.NoError(t, err)
	_, err = sup.Start(2, r)
	require.NoError(t, err)
	_, err = sup.Start(3, r)
	assert.ErrorIs(t, err, session.ErrSessionLimit)

	// Closing one frees a slot.
	s1.Close()
	_, err = sup.Start(3, r)
	assert.NoError(t, err)
}

func TestSupervisorShutdown(t *testing.T) {
	r := newFakeRouter()
	sup := session.NewSupervisor(0, zaptest.NewLogger(t))

	s1, err := sup.Start(1, r)
	require.NoError(t, err)
	s2, err := sup.Start(2, r)
	require.NoError(t, err)

	sup.Shutdown()
	sup.Shutdown() // idempotent
	<-s1.Done()
	<-s2.Done()
	assert.Equal(t, 0, sup.Active())

	_, err = sup.Start(3, r)
	assert.ErrorIs(t, err, session.ErrSupervisorClosed)
}

func TestSessionDrainsRoutedFrames(t *testing.T) {
	r := newFakeRouter()
	sup := session.NewSupervisor(0, zaptest.NewLogger(t))

	s, err := sup.Start(5, r)
	require.NoError(t, err)

	r.mu.Lock()
	q := r.queues[5]
	r.mu.Unlock()
	q <- &protocol.Frame{Channel: 5, Body: &protocol.Unknown{Descriptor: 0x14}}

	s.Close()
	<-s.Done()
}
