// Package transport abstracts the byte stream a connection runs over. The
// connection owns the write half exclusively; the reader owns the read half.
package transport

import (
	"context"
	"net"
)

// Kind identifies the link type carrying AMQP frames.
type Kind int

const (
	KindUnknown Kind = iota
	KindTCP
	KindQUIC
	KindMem
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindQUIC:
		return "quic"
	case KindMem:
		return "mem"
	default:
		return "unknown"
	}
}

// Conn is a reliable byte stream with an independent write half. CloseWrite
// signals end-of-output after the local Close frame while the read half stays
// open for the peer's reciprocal Close.
type Conn interface {
	net.Conn
	CloseWrite() error
}

// Dialer creates outbound connections for a specific link kind.
type Dialer interface {
	Kind() Kind
	Dial(ctx context.Context, address string) (Conn, error)
}
