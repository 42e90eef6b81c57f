package protocol

import (
	"fmt"
	"io"
)

// Descriptor codes for the performatives this core understands.
const (
	DescriptorOpen  uint64 = 0x10
	DescriptorClose uint64 = 0x18
	DescriptorError uint64 = 0x1d
)

// Performative is the closed set of frame bodies the connection state machine
// pattern-matches on. Anything that is not an Open or Close decodes to
// Unknown and is routed (or dropped) above this layer.
type Performative interface {
	performative()
}

// Open announces connection capabilities. Field order and meaning follow the
// AMQP 1.0 open list.
type Open struct {
	ContainerID  string
	Hostname     string
	MaxFrameSize uint32
	ChannelMax   uint16
	IdleTimeout  uint32
	Properties   map[string]any
}

// Close ends the connection. Error is nil for a clean close.
type Close struct {
	Error *Error
}

// Error is the amqp:error list carried by a non-clean Close.
type Error struct {
	Condition   string
	Description string
}

// Unknown carries any performative this core does not interpret, kept raw for
// layers above (sessions) or for debug logging.
type Unknown struct {
	Descriptor uint64
	Fields     []any
}

func (*Open) performative()    {}
func (*Close) performative()   {}
func (*Unknown) performative() {}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Condition
	}
	return e.Condition + ": " + e.Description
}

// Frame is one decoded protocol unit: a channel number plus its performative.
// Payload keeps any bytes following the performative (message sections);
// this core never interprets them.
type Frame struct {
	Channel uint16
	Body    Performative
	Payload []byte
}

// EncodeFrame renders a complete wire frame (header + encoded performative)
// for the given channel.
func EncodeFrame(channel uint16, p Performative) ([]byte, error) {
	body, err := encodePerformative(p)
	if err != nil {
		return nil, err
	}
	hdr := FrameHeader{
		Size:    uint32(frameHeaderSize + len(body)),
		DOFF:    minDOFF,
		Type:    frameTypeAMQP,
		Channel: channel,
	}
	hb, err := hdr.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(hb)+len(body))
	out = append(out, hb...)
	return append(out, body...), nil
}

// ReadFrame reads exactly one frame from r, blocking until it is complete.
// Frames whose announced size exceeds MaxInboundFrameSize are rejected before
// any body allocation; the size field is peer-controlled.
func ReadFrame(r io.Reader) (*Frame, error) {
	hb := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, hb); err != nil {
		return nil, err
	}
	var hdr FrameHeader
	if err := hdr.UnmarshalBinary(hb); err != nil {
		return nil, err
	}
	if hdr.Size > MaxInboundFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, hdr.Size)
	}
	rest := make([]byte, int(hdr.Size)-frameHeaderSize)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}
	return decodeFrameBody(hdr, rest)
}

// DecodeFrame parses one complete frame from buf.
func DecodeFrame(buf []byte) (*Frame, error) {
	var hdr FrameHeader
	if err := hdr.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	if int(hdr.Size) > len(buf) {
		return nil, ErrShortFrame
	}
	return decodeFrameBody(hdr, buf[frameHeaderSize:hdr.Size])
}

func decodeFrameBody(hdr FrameHeader, rest []byte) (*Frame, error) {
	if hdr.Type != frameTypeAMQP {
		return nil, fmt.Errorf("unsupported frame type %d", hdr.Type)
	}
	// Skip any extended header.
	ext := int(hdr.DOFF)*4 - frameHeaderSize
	if ext > len(rest) {
		return nil, ErrShortFrame
	}
	rest = rest[ext:]

	f := &Frame{Channel: hdr.Channel}
	if len(rest) == 0 {
		// Empty frame (heartbeat); no performative at all.
		f.Body = &Unknown{}
		return f, nil
	}
	body, payload, err := decodePerformative(rest)
	if err != nil {
		return nil, err
	}
	f.Body = body
	if len(payload) > 0 {
		f.Payload = payload
	}
	return f, nil
}
