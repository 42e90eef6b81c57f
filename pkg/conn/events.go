package conn

import (
	"github.com/nyczol/rabbitmq-amqp1.0-client/pkg/protocol"
	"github.com/nyczol/rabbitmq-amqp1.0-client/pkg/session"
	"github.com/nyczol/rabbitmq-amqp1.0-client/pkg/transport"
)

// All connection state lives inside the actor loop; these events are the only
// way anything changes. The set is closed so the loop can match exhaustively.
type event interface {
	isEvent()
}

// socketDelivered is the reader handing over the write half of the transport.
// Sent exactly once, before any frame.
type socketDelivered struct {
	sock transport.Conn
}

// headerReceived is the peer's 8-byte protocol preamble.
type headerReceived struct {
	hdr protocol.ProtoHeader
}

// frameDelivered is one decoded inbound frame not claimed by a session.
type frameDelivered struct {
	frame *protocol.Frame
}

// transportFailed reports a read-side failure; the reader exits after it.
type transportFailed struct {
	err error
}

// bindCompanions wires the session supervisor and reader to the connection,
// once, and tells the reader which connection owns it.
type bindCompanions struct {
	sup *session.Supervisor
	rd  *Reader
}

// closeRequested is a local graceful-shutdown request.
type closeRequested struct{}

// beginSessionRequested asks for a new session; the request carries the means
// to answer its caller, possibly much later.
type beginSessionRequested struct {
	req *beginRequest
}

type beginRequest struct {
	reply chan beginResult
}

type beginResult struct {
	sess *session.Session
	err  error
}

func (socketDelivered) isEvent()       {}
func (headerReceived) isEvent()        {}
func (frameDelivered) isEvent()        {}
func (transportFailed) isEvent()       {}
func (bindCompanions) isEvent()        {}
func (closeRequested) isEvent()        {}
func (beginSessionRequested) isEvent() {}
